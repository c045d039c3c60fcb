package boot

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embworks/fotaboot/flash"
	"github.com/embworks/fotaboot/image"
	"github.com/embworks/fotaboot/meta"
	"github.com/embworks/fotaboot/update"
)

type fakeHandoff struct {
	launched  bool
	vtor      uint32
	recovered bool
}

func (h *fakeHandoff) Launch(vtor uint32) {
	h.launched = true
	h.vtor = vtor
}

func (h *fakeHandoff) Recover() {
	h.recovered = true
}

type fakeWatchdog struct {
	armed bool
}

func (w *fakeWatchdog) Enable(uint32) {
	w.armed = true
}

type env struct {
	dev     *flash.MemDevice
	lay     flash.Layout
	store   *meta.Store
	handoff *fakeHandoff
}

func newEnv(t *testing.T) *env {
	lay := flash.NewLayout(flash.SECTOR_SIZE, 2*flash.SECTOR_SIZE)
	dev := flash.NewMemDevice(lay.TotalSize(), lay.SectorSize)

	store, err := meta.NewStore(dev, lay, nil, nil)
	require.NoError(t, err)

	return &env{
		dev:     dev,
		lay:     lay,
		store:   store,
		handoff: &fakeHandoff{},
	}
}

func (e *env) booter(t *testing.T) *Booter {
	b, err := New(Config{
		Device:  e.dev,
		Layout:  e.lay,
		Meta:    e.store,
		Handoff: e.handoff,
	})
	require.NoError(t, err)

	return b
}

func (e *env) updater(t *testing.T) *update.Updater {
	u, err := update.New(update.Config{
		Device:   e.dev,
		Layout:   e.lay,
		Meta:     e.store,
		Verifier: update.DigestVerifier{},
		Watchdog: &fakeWatchdog{},
		Halt:     func() {},
	})
	require.NoError(t, err)

	return u
}

// slotPattern builds one slot's worth of content with a valid-looking
// vector table (reset handler inside the flash window) so the booter hands
// off instead of entering recovery.
func (e *env) slotPattern(seed byte) []byte {
	buf := make([]byte, e.lay.SlotSize)
	for i := range buf {
		buf[i] = seed ^ byte(i)
	}
	binary.LittleEndian.PutUint32(buf[4:], e.lay.XIPBase+0x100)
	return buf
}

func (e *env) programSlot(t *testing.T, off int, content []byte) {
	require.NoError(t, e.dev.EraseSectors(off, e.lay.SlotSize))
	require.NoError(t, e.dev.Program(off, content))
}

func (e *env) readSlot(t *testing.T, off int) []byte {
	buf := make([]byte, e.lay.SlotSize)
	require.NoError(t, e.dev.ReadAt(buf, off))
	return buf
}

func (e *env) requireFlag(t *testing.T, f meta.Field, want meta.Flag) {
	t.Helper()

	have, err := e.store.ReadFlag(f)
	require.NoError(t, err)
	require.Equal(t, want, have, "field %s", f)
}

func TestSwapIsATrueExchange(t *testing.T) {
	e := newEnv(t)
	b := e.booter(t)

	appContent := e.slotPattern(0x11)
	dlContent := e.slotPattern(0x22)
	e.programSlot(t, e.lay.AppStart(), appContent)
	e.programSlot(t, e.lay.DownloadStart(), dlContent)

	require.NoError(t, b.SwapSlots())
	assert.Equal(t, dlContent, e.readSlot(t, e.lay.AppStart()))
	assert.Equal(t, appContent, e.readSlot(t, e.lay.DownloadStart()))

	// A second swap restores the original state.
	require.NoError(t, b.SwapSlots())
	assert.Equal(t, appContent, e.readSlot(t, e.lay.AppStart()))
	assert.Equal(t, dlContent, e.readSlot(t, e.lay.DownloadStart()))
}

func TestBootFreshDevice(t *testing.T) {
	// Scenario: first boot ever, nothing downloaded.  Branch 3 fires and
	// explicitly initializes every flag.
	e := newEnv(t)
	e.programSlot(t, e.lay.AppStart(), e.slotPattern(0x11))

	require.NoError(t, e.booter(t).Run())

	assert.True(t, e.handoff.launched)
	assert.False(t, e.handoff.recovered)
	assert.Equal(t, e.lay.AppAddr(), e.handoff.vtor)

	e.requireFlag(t, meta.FIELD_FIRMWARE_SWAPPED, meta.FLAG_CLEARED)
	e.requireFlag(t, meta.FIELD_SHOULD_ROLLBACK, meta.FLAG_CLEARED)
	e.requireFlag(t, meta.FIELD_DOWNLOAD_VALID, meta.FLAG_CLEARED)

	// Headers recorded on first boot.
	app, err := e.store.ReadWord(meta.FIELD_APP_HEADER)
	require.NoError(t, err)
	assert.Equal(t, e.lay.AppAddr(), app)

	u := e.updater(t)
	after, err := u.IsAfterFirmwareUpdate()
	require.NoError(t, err)
	assert.False(t, after)
}

func TestBootSwapInNewImage(t *testing.T) {
	// Scenario: download marked valid, no rollback pending.  Branch 2
	// swaps and arms the guard.
	e := newEnv(t)
	appContent := e.slotPattern(0x11)
	dlContent := e.slotPattern(0x22)
	e.programSlot(t, e.lay.AppStart(), appContent)
	e.programSlot(t, e.lay.DownloadStart(), dlContent)

	u := e.updater(t)
	require.NoError(t, u.MarkDownloadSlotValid())
	require.NoError(t, u.FirmwareCommit())

	require.NoError(t, e.booter(t).Run())

	assert.Equal(t, dlContent, e.readSlot(t, e.lay.AppStart()))
	e.requireFlag(t, meta.FIELD_FIRMWARE_SWAPPED, meta.FLAG_ASSERTED)
	e.requireFlag(t, meta.FIELD_SHOULD_ROLLBACK, meta.FLAG_ASSERTED)
	e.requireFlag(t, meta.FIELD_IS_AFTER_ROLLBACK, meta.FLAG_CLEARED)
	e.requireFlag(t, meta.FIELD_DOWNLOAD_VALID, meta.FLAG_CLEARED)

	after, err := u.IsAfterFirmwareUpdate()
	require.NoError(t, err)
	assert.True(t, after)
}

func TestBootRollbackWhenNotCommitted(t *testing.T) {
	// Scenario: the swapped-in firmware never committed; the next reset
	// takes branch 1 and reverts.
	e := newEnv(t)
	appContent := e.slotPattern(0x11)
	dlContent := e.slotPattern(0x22)
	e.programSlot(t, e.lay.AppStart(), appContent)
	e.programSlot(t, e.lay.DownloadStart(), dlContent)

	u := e.updater(t)
	require.NoError(t, u.MarkDownloadSlotValid())
	require.NoError(t, e.booter(t).Run())
	require.Equal(t, dlContent, e.readSlot(t, e.lay.AppStart()))

	// No commit happens; reset.
	e.handoff = &fakeHandoff{}
	require.NoError(t, e.booter(t).Run())

	assert.Equal(t, appContent, e.readSlot(t, e.lay.AppStart()))
	assert.Equal(t, dlContent, e.readSlot(t, e.lay.DownloadStart()))
	e.requireFlag(t, meta.FIELD_SHOULD_ROLLBACK, meta.FLAG_CLEARED)
	e.requireFlag(t, meta.FIELD_FIRMWARE_SWAPPED, meta.FLAG_CLEARED)
	e.requireFlag(t, meta.FIELD_IS_AFTER_ROLLBACK, meta.FLAG_ASSERTED)
	assert.True(t, e.handoff.launched)

	rolledBack, err := u.IsAfterRollback()
	require.NoError(t, err)
	assert.True(t, rolledBack)
}

func TestBootCommitPreventsRollback(t *testing.T) {
	// Scenario: the swapped-in firmware commits in time; the next reset
	// takes the normal branch and keeps it.
	e := newEnv(t)
	appContent := e.slotPattern(0x11)
	dlContent := e.slotPattern(0x22)
	e.programSlot(t, e.lay.AppStart(), appContent)
	e.programSlot(t, e.lay.DownloadStart(), dlContent)

	u := e.updater(t)
	require.NoError(t, u.MarkDownloadSlotValid())
	require.NoError(t, e.booter(t).Run())

	require.NoError(t, u.FirmwareCommit())

	e.handoff = &fakeHandoff{}
	require.NoError(t, e.booter(t).Run())

	assert.Equal(t, dlContent, e.readSlot(t, e.lay.AppStart()))
	e.requireFlag(t, meta.FIELD_SHOULD_ROLLBACK, meta.FLAG_CLEARED)
	e.requireFlag(t, meta.FIELD_FIRMWARE_SWAPPED, meta.FLAG_CLEARED)
	assert.True(t, e.handoff.launched)
}

func TestBootUnknownFlagsNeverTrigger(t *testing.T) {
	// Garbage in the flag words (e.g. a torn metadata write) must fall
	// through to the normal branch, not fire a swap or rollback.
	e := newEnv(t)
	appContent := e.slotPattern(0x11)
	e.programSlot(t, e.lay.AppStart(), appContent)

	require.NoError(t,
		e.store.WriteWord(meta.FIELD_SHOULD_ROLLBACK, 0x01020304))
	require.NoError(t,
		e.store.WriteWord(meta.FIELD_DOWNLOAD_VALID, 0xfffffffe))

	require.NoError(t, e.booter(t).Run())

	assert.Equal(t, appContent, e.readSlot(t, e.lay.AppStart()))
	e.requireFlag(t, meta.FIELD_SHOULD_ROLLBACK, meta.FLAG_CLEARED)
	assert.True(t, e.handoff.launched)
}

func TestBootEmptyAppSlotRecovers(t *testing.T) {
	e := newEnv(t)

	// Both slots erased: the reset vector reads 0xffffffff.
	require.NoError(t, e.booter(t).Run())

	assert.True(t, e.handoff.recovered)
	assert.False(t, e.handoff.launched)
}

func TestFullUpdateCycle(t *testing.T) {
	// End to end: ingest a digest-trailered image, verify, mark valid,
	// boot, commit, boot again.
	e := newEnv(t)
	appContent := e.slotPattern(0x11)
	e.programSlot(t, e.lay.AppStart(), appContent)

	body := make([]byte, 3*flash.PAGE_SIZE)
	for i := range body {
		body[i] = byte(i * 31)
	}
	binary.LittleEndian.PutUint32(body[4:], e.lay.XIPBase+0x200)

	img, err := image.Create(image.ImageCreateOpts{Body: body})
	require.NoError(t, err)

	u := e.updater(t)
	require.NoError(t, u.InitializeDownloadSlot())
	for off := 0; off < len(img); off += flash.PAGE_SIZE {
		require.NoError(t,
			u.WriteToDownloadSlot(img[off:off+flash.PAGE_SIZE], off))
	}

	require.NoError(t, u.VerifyDownloadSlot(len(img)))
	require.NoError(t, u.MarkDownloadSlotValid())

	require.NoError(t, e.booter(t).Run())
	assert.True(t, e.handoff.launched)

	// The new image now occupies the front of the application slot.
	have := e.readSlot(t, e.lay.AppStart())
	assert.Equal(t, img, have[:len(img)])

	after, err := u.IsAfterFirmwareUpdate()
	require.NoError(t, err)
	assert.True(t, after)

	require.NoError(t, u.FirmwareCommit())

	e.handoff = &fakeHandoff{}
	require.NoError(t, e.booter(t).Run())
	assert.Equal(t, img, e.readSlot(t, e.lay.AppStart())[:len(img)])
}
