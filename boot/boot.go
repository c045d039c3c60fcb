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

// Package boot implements the reset-time half of the bootloader: the slot
// swap engine and the three-branch decision that chooses between running
// the current firmware, swapping in a downloaded image, and rolling a
// failed update back.
package boot

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"

	"github.com/embworks/fotaboot/errors"
	"github.com/embworks/fotaboot/flash"
	"github.com/embworks/fotaboot/meta"
)

// Handoff transfers control out of the bootloader.  On hardware neither
// method returns: Launch disables interrupts, resets the peripheral
// blocks, relocates the vector table pointer to vtor, and jumps to the
// application's reset handler; Recover drops the device into its recovery
// path (USB mass-storage boot on the reference platform) when there is no
// runnable application.
type Handoff interface {
	Launch(vtor uint32)
	Recover()
}

// Config is the build-time capability set for the boot stage.
type Config struct {
	Device     flash.Device
	Layout     flash.Layout
	Interrupts flash.Interrupts
	Meta       *meta.Store
	Handoff    Handoff

	// Log may be nil for a silent boot.
	Log logrus.FieldLogger
}

// Booter runs the boot decision.  It is created and used exactly once per
// reset, before any application code.
type Booter struct {
	cfg Config
}

// New validates the configuration and builds a booter.
func New(cfg Config) (*Booter, error) {
	if cfg.Device == nil || cfg.Meta == nil || cfg.Handoff == nil {
		return nil, errors.New(
			"booter requires a device, a metadata store, and a handoff")
	}

	if err := cfg.Layout.Validate(cfg.Device); err != nil {
		return nil, errors.Wrapf(err, "invalid partition layout")
	}

	if cfg.Interrupts == nil {
		cfg.Interrupts = flash.NopInterrupts{}
	}

	return &Booter{cfg: cfg}, nil
}

func (b *Booter) logf(format string, args ...interface{}) {
	if b.cfg.Log != nil {
		b.cfg.Log.Infof(format, args...)
	}
}

// SwapSlots exchanges the full contents of the application and download
// slots, one sector pair at a time, using two sector-sized RAM buffers.
// The whole exchange runs with interrupts suppressed: the CPU must not
// fault back into this flash mid-erase.  An interruption partway through
// leaves the slots inconsistent; keeping the loop tight is the only
// mitigation.
func (b *Booter) SwapSlots() error {
	dev := b.cfg.Device
	lay := b.cfg.Layout

	appBuf := make([]byte, lay.SectorSize)
	dlBuf := make([]byte, lay.SectorSize)

	state := b.cfg.Interrupts.SaveAndDisable()
	defer b.cfg.Interrupts.Restore(state)

	for i := 0; i < lay.SwapSectors(); i++ {
		appOff := lay.AppStart() + i*lay.SectorSize
		dlOff := lay.DownloadStart() + i*lay.SectorSize

		if err := dev.ReadAt(appBuf, appOff); err != nil {
			return errors.Wrapf(err, "swap: failed to read app sector %d", i)
		}
		if err := dev.ReadAt(dlBuf, dlOff); err != nil {
			return errors.Wrapf(err,
				"swap: failed to read download sector %d", i)
		}

		if err := dev.EraseSectors(appOff, lay.SectorSize); err != nil {
			return errors.Wrapf(err, "swap: failed to erase app sector %d", i)
		}
		if err := dev.EraseSectors(dlOff, lay.SectorSize); err != nil {
			return errors.Wrapf(err,
				"swap: failed to erase download sector %d", i)
		}

		if err := dev.Program(appOff, dlBuf); err != nil {
			return errors.Wrapf(err,
				"swap: failed to program app sector %d", i)
		}
		if err := dev.Program(dlOff, appBuf); err != nil {
			return errors.Wrapf(err,
				"swap: failed to program download sector %d", i)
		}
	}

	return nil
}

// AppSlotEmpty reports whether the application slot holds anything
// runnable, by checking that its reset vector points back into the flash
// window.  Freshly erased flash reads 0xffffffff, which never does.
func (b *Booter) AppSlotEmpty() (bool, error) {
	var buf [4]byte

	// Word 1 of the vector table is the reset handler address.
	if err := b.cfg.Device.ReadAt(buf[:],
		b.cfg.Layout.AppStart()+4); err != nil {

		return false, errors.Wrapf(err, "failed to read app reset vector")
	}

	handler := binary.LittleEndian.Uint32(buf[:])
	lo := b.cfg.Layout.XIPBase
	hi := b.cfg.Layout.XIPBase + uint32(b.cfg.Device.Size())

	return handler < lo || handler >= hi, nil
}

// Run executes the boot decision and hands control to the application.
// On hardware it does not return; in hosted environments it returns after
// the handoff hook does, or with an error if a flash operation failed
// before the handoff.
func (b *Booter) Run() error {
	store := b.cfg.Meta

	// First boot after flashing: record the slot addresses while the
	// metadata sector is still in its erased state.
	appHdr, err := store.ReadWord(meta.FIELD_APP_HEADER)
	if err != nil {
		return err
	}
	if appHdr != b.cfg.Layout.AppAddr() {
		if err := store.InitHeaders(); err != nil {
			return err
		}
	}

	rollback, err := store.ReadFlag(meta.FIELD_SHOULD_ROLLBACK)
	if err != nil {
		return err
	}
	dlValid, err := store.ReadFlag(meta.FIELD_DOWNLOAD_VALID)
	if err != nil {
		return err
	}

	switch {
	case rollback == meta.FLAG_ASSERTED:
		// The previous swap was never committed; undo it.
		b.logf("rolling back to the previous firmware")
		if err := b.SwapSlots(); err != nil {
			return err
		}
		if err := store.WriteFlag(meta.FIELD_SHOULD_ROLLBACK,
			meta.FLAG_CLEARED); err != nil {
			return err
		}
		if err := store.WriteFlag(meta.FIELD_FIRMWARE_SWAPPED,
			meta.FLAG_CLEARED); err != nil {
			return err
		}
		if err := store.WriteFlag(meta.FIELD_IS_AFTER_ROLLBACK,
			meta.FLAG_ASSERTED); err != nil {
			return err
		}

	case dlValid == meta.FLAG_ASSERTED:
		// Swap the new image in and arm the rollback guard; the new
		// firmware has until the next reset to commit.
		b.logf("swapping in new firmware")
		if err := b.SwapSlots(); err != nil {
			return err
		}
		if err := store.WriteFlag(meta.FIELD_FIRMWARE_SWAPPED,
			meta.FLAG_ASSERTED); err != nil {
			return err
		}
		if err := store.WriteFlag(meta.FIELD_IS_AFTER_ROLLBACK,
			meta.FLAG_CLEARED); err != nil {
			return err
		}
		if err := store.WriteFlag(meta.FIELD_SHOULD_ROLLBACK,
			meta.FLAG_ASSERTED); err != nil {
			return err
		}

	default:
		b.logf("nothing to swap")
		if err := store.WriteFlag(meta.FIELD_SHOULD_ROLLBACK,
			meta.FLAG_CLEARED); err != nil {
			return err
		}
		if err := store.WriteFlag(meta.FIELD_FIRMWARE_SWAPPED,
			meta.FLAG_CLEARED); err != nil {
			return err
		}
	}

	// The slot's "ready" assertion is single use; this decision consumed
	// it whichever branch fired.
	if err := store.WriteFlag(meta.FIELD_DOWNLOAD_VALID,
		meta.FLAG_CLEARED); err != nil {
		return err
	}

	empty, err := b.AppSlotEmpty()
	if err != nil {
		return err
	}
	if empty {
		b.logf("application slot is empty, entering recovery")
		b.cfg.Handoff.Recover()
		return nil
	}

	b.logf("executing the application")
	b.cfg.Handoff.Launch(b.cfg.Layout.AppAddr())

	return nil
}
