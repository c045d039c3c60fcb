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

package flash

import (
	"github.com/embworks/fotaboot/errors"
)

// The device is divided into four fixed partitions:
//
//	+--------------------+  0
//	| bootloader         |
//	+--------------------+  BootloaderSize
//	| metadata (1 sector)|
//	+--------------------+  BootloaderSize + SectorSize
//	| application slot   |
//	+--------------------+  + SlotSize
//	| download slot      |
//	+--------------------+  + SlotSize
//
// The two slots are the same size and sector aligned; the swap engine
// depends on every offset in one slot having a mirror offset in the other.

// DEFAULT_XIP_BASE is where the flash window appears in the CPU address
// space on the reference platform (RP2040).
const DEFAULT_XIP_BASE = 0x10000000

// Layout is the build-time partition table.  It is immutable for the
// lifetime of a deployed bootloader version; all fields are byte counts
// except XIPBase, which is a CPU address.
type Layout struct {
	BootloaderSize int
	SlotSize       int
	SectorSize     int
	XIPBase        uint32
}

// NewLayout builds a layout with the default sector size and XIP base.
func NewLayout(bootloaderSize int, slotSize int) Layout {
	return Layout{
		BootloaderSize: bootloaderSize,
		SlotSize:       slotSize,
		SectorSize:     SECTOR_SIZE,
		XIPBase:        DEFAULT_XIP_BASE,
	}
}

// MetaStart returns the device offset of the metadata sector.
func (l Layout) MetaStart() int {
	return l.BootloaderSize
}

// AppStart returns the device offset of the application slot.
func (l Layout) AppStart() int {
	return l.BootloaderSize + l.SectorSize
}

// DownloadStart returns the device offset of the download slot.
func (l Layout) DownloadStart() int {
	return l.AppStart() + l.SlotSize
}

// TotalSize returns the number of device bytes the layout occupies.
func (l Layout) TotalSize() int {
	return l.DownloadStart() + l.SlotSize
}

// AppAddr returns the CPU address of the application slot.  This is the
// vector table address the bootloader hands control to, and the value
// recorded in the metadata app-header word.
func (l Layout) AppAddr() uint32 {
	return l.XIPBase + uint32(l.AppStart())
}

// DownloadAddr returns the CPU address of the download slot.
func (l Layout) DownloadAddr() uint32 {
	return l.XIPBase + uint32(l.DownloadStart())
}

// SwapSectors returns the number of sector exchanges one full slot swap
// performs.
func (l Layout) SwapSectors() int {
	return l.SlotSize / l.SectorSize
}

// Validate checks the layout invariants.  This runs once, when the
// bootloader configuration is assembled, never on a hot path.
func (l Layout) Validate(dev Device) error {
	if l.SectorSize <= 0 || l.SectorSize%PAGE_SIZE != 0 {
		return errors.Errorf(
			"invalid sector size: %d (must be a positive multiple of %d)",
			l.SectorSize, PAGE_SIZE)
	}

	if dev != nil && l.SectorSize != dev.SectorSize() {
		return errors.Errorf(
			"layout sector size differs from device: layout=%d device=%d",
			l.SectorSize, dev.SectorSize())
	}

	if l.BootloaderSize <= 0 || l.BootloaderSize%l.SectorSize != 0 {
		return errors.Errorf(
			"invalid bootloader size: %d (must be a positive multiple of "+
				"sector size %d)", l.BootloaderSize, l.SectorSize)
	}

	if l.SlotSize <= 0 || l.SlotSize%l.SectorSize != 0 {
		return errors.Errorf(
			"invalid slot size: %d (must be a positive multiple of "+
				"sector size %d)", l.SlotSize, l.SectorSize)
	}

	if dev != nil && l.TotalSize() > dev.Size() {
		return errors.Errorf(
			"layout exceeds device capacity: need=%d have=%d",
			l.TotalSize(), dev.Size())
	}

	return nil
}
