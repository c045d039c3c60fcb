/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

// Package update is the application-facing half of the bootloader: it
// ingests firmware into the download slot, verifies it, manages the
// boot-decision flags, and requests the reset that lets the boot package
// act on them.
package update

import (
	"github.com/sirupsen/logrus"

	"github.com/embworks/fotaboot/errors"
	"github.com/embworks/fotaboot/flash"
	"github.com/embworks/fotaboot/meta"
	"github.com/embworks/fotaboot/sec"
)

// Watchdog forces a CPU reset some time after being armed.  Arming it and
// parking the CPU is the only way an update is ever applied; the boot
// decision always runs from a clean reset, never from a direct jump.
type Watchdog interface {
	// Enable arms the watchdog to reset the CPU after delayMs
	// milliseconds.
	Enable(delayMs uint32)
}

// Config is the build-time capability set for the updater.  Optional
// features (inline decryption, verification) are enabled by supplying the
// corresponding strategy and disabled by leaving it nil, mirroring the
// original compile-time toggles.
type Config struct {
	Device     flash.Device
	Layout     flash.Layout
	Interrupts flash.Interrupts

	// Meta is the shared metadata store.  Required.
	Meta *meta.Store

	// Cipher enables inline decryption of incoming chunks.
	Cipher sec.ChunkCipher

	// Verifier enables VerifyDownloadSlot.
	Verifier Verifier

	// Watchdog is required for PerformUpdate.
	Watchdog Watchdog

	// Halt parks the CPU after the watchdog is armed.  Defaults to an
	// infinite wait; hosted tests replace it with a hook that returns.
	Halt func()

	// Log may be nil for silent operation.
	Log logrus.FieldLogger
}

// Updater implements the download ingestion path and the boot-flag
// operations available to a running application.
type Updater struct {
	cfg Config
}

// New validates the configuration and builds an updater.
func New(cfg Config) (*Updater, error) {
	if cfg.Device == nil || cfg.Meta == nil {
		return nil, errors.New("updater requires a device and a metadata store")
	}

	if err := cfg.Layout.Validate(cfg.Device); err != nil {
		return nil, errors.Wrapf(err, "invalid partition layout")
	}

	if cfg.Interrupts == nil {
		cfg.Interrupts = flash.NopInterrupts{}
	}
	if cfg.Halt == nil {
		cfg.Halt = func() {
			select {}
		}
	}

	return &Updater{cfg: cfg}, nil
}

// InitializeDownloadSlot erases the whole download slot.  It also clears
// the rollback guard: starting a new download is an implicit commit of
// whatever is currently running, since any pending rollback window has
// been overtaken by events.
func (u *Updater) InitializeDownloadSlot() error {
	lay := u.cfg.Layout

	if u.cfg.Log != nil {
		u.cfg.Log.Infof("initializing download slot (%d bytes)", lay.SlotSize)
	}

	state := u.cfg.Interrupts.SaveAndDisable()
	err := u.cfg.Device.EraseSectors(lay.DownloadStart(), lay.SlotSize)
	u.cfg.Interrupts.Restore(state)
	if err != nil {
		return errors.Wrapf(err, "failed to erase download slot")
	}

	return u.FirmwareCommit()
}

// WriteToDownloadSlot programs len(src) bytes at the given offset inside
// the download slot, decrypting each aligned chunk first when a cipher is
// configured.  Offset and length must both be multiples of the write
// alignment and stay inside the slot; violations are reported without
// touching flash.
func (u *Updater) WriteToDownloadSlot(src []byte, offset int) error {
	lay := u.cfg.Layout

	if offset < 0 || offset%flash.PAGE_SIZE != 0 ||
		len(src)%flash.PAGE_SIZE != 0 ||
		offset+len(src) > lay.SlotSize {

		return errors.Errorf(
			"misaligned or overflowing write: offset=%d len=%d align=%d "+
				"slot=%d", offset, len(src), flash.PAGE_SIZE, lay.SlotSize)
	}

	if len(src) == 0 {
		return nil
	}

	data := src
	if u.cfg.Cipher != nil {
		data = make([]byte, len(src))
		for off := 0; off < len(src); off += flash.PAGE_SIZE {
			chunk := src[off : off+flash.PAGE_SIZE]
			if err := u.cfg.Cipher.Decrypt(
				data[off:off+flash.PAGE_SIZE], chunk); err != nil {

				return errors.Wrapf(err,
					"failed to decrypt chunk at offset %d", offset+off)
			}
		}
	}

	if u.cfg.Log != nil {
		u.cfg.Log.Debugf("download slot write: offset=%d len=%d",
			offset, len(src))
	}

	state := u.cfg.Interrupts.SaveAndDisable()
	err := u.cfg.Device.Program(lay.DownloadStart()+offset, data)
	u.cfg.Interrupts.Restore(state)
	if err != nil {
		return errors.Wrapf(err, "failed to program download slot")
	}

	return nil
}

// VerifyDownloadSlot checks the integrity of a completed download of
// imageSize bytes.  It never mutates any persisted state; the caller
// decides whether to mark the slot valid.
func (u *Updater) VerifyDownloadSlot(imageSize int) error {
	if u.cfg.Verifier == nil {
		return errors.New("image verification is not configured")
	}

	lay := u.cfg.Layout

	if imageSize < flash.PAGE_SIZE || imageSize%flash.PAGE_SIZE != 0 ||
		imageSize > lay.SlotSize {

		return errors.Errorf(
			"invalid image size %d: must be a multiple of %d, hold a "+
				"trailer block, and fit the slot (%d)",
			imageSize, flash.PAGE_SIZE, lay.SlotSize)
	}

	buf := make([]byte, imageSize)
	if err := u.cfg.Device.ReadAt(buf, lay.DownloadStart()); err != nil {
		return errors.Wrapf(err, "failed to read download slot")
	}

	return u.cfg.Verifier.Verify(buf)
}

// MarkDownloadSlotValid asserts that the download slot holds a complete,
// verified image ready to be swapped in on the next reset.
func (u *Updater) MarkDownloadSlotValid() error {
	return u.cfg.Meta.WriteFlag(meta.FIELD_DOWNLOAD_VALID, meta.FLAG_ASSERTED)
}

// MarkDownloadSlotInvalid withdraws that assertion.
func (u *Updater) MarkDownloadSlotInvalid() error {
	return u.cfg.Meta.WriteFlag(meta.FIELD_DOWNLOAD_VALID, meta.FLAG_CLEARED)
}

// IsAfterFirmwareUpdate indicates whether the running image was swapped in
// during the previous boot.
func (u *Updater) IsAfterFirmwareUpdate() (bool, error) {
	fl, err := u.cfg.Meta.ReadFlag(meta.FIELD_FIRMWARE_SWAPPED)
	if err != nil {
		return false, err
	}

	return fl == meta.FLAG_ASSERTED, nil
}

// IsAfterRollback indicates whether the previous boot reverted a swap.
func (u *Updater) IsAfterRollback() (bool, error) {
	fl, err := u.cfg.Meta.ReadFlag(meta.FIELD_IS_AFTER_ROLLBACK)
	if err != nil {
		return false, err
	}

	return fl == meta.FLAG_ASSERTED, nil
}

// FirmwareCommit disarms the rollback guard.  A freshly swapped-in
// application MUST call this after validating itself, before the next
// reset, or that reset rolls the swap back.
func (u *Updater) FirmwareCommit() error {
	return u.cfg.Meta.WriteFlag(meta.FIELD_SHOULD_ROLLBACK, meta.FLAG_CLEARED)
}

// PerformUpdate arms the watchdog and parks the CPU.  The forced reset
// reruns the boot decision, which applies whatever the flags call for.
// On hardware this never returns.
func (u *Updater) PerformUpdate() {
	if u.cfg.Log != nil {
		u.cfg.Log.Info("update requested; arming watchdog and halting")
	}

	u.cfg.Watchdog.Enable(1)
	u.cfg.Halt()
}
