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

// Package flash models the NOR flash device a FOTA bootloader runs out of:
// erasure happens a sector at a time and sets every bit, programming happens
// a page at a time and can only clear bits.  The bootloader core is written
// against the Device interface so it can run against real hardware or
// against the in-memory implementation in this package.
package flash

const (
	// PAGE_SIZE is the minimum programmable unit, in bytes.  Every write
	// the ingestion path accepts is a multiple of this.
	PAGE_SIZE = 256

	// SECTOR_SIZE is the minimum erasable unit, in bytes.
	SECTOR_SIZE = 4096

	// ERASED_BYTE is the value every byte of a freshly erased sector reads
	// as.
	ERASED_BYTE = 0xff

	// ERASED_WORD is the value a 32-bit word inside an erased sector reads
	// as.  Metadata flag magics must never collide with it.
	ERASED_WORD = 0xffffffff
)

// Device is a NOR flash part.  Offsets are relative to the start of the
// device, not to the XIP window.  Implementations are not safe for
// concurrent use; the bootloader is single threaded by construction.
type Device interface {
	// Size returns the device capacity in bytes.
	Size() int

	// SectorSize returns the erase granularity in bytes.
	SectorSize() int

	// ReadAt copies len(p) bytes starting at off into p.  Reads never
	// have side effects.
	ReadAt(p []byte, off int) error

	// EraseSectors erases the range [off, off+length).  Both off and
	// length must be multiples of SectorSize.
	EraseSectors(off int, length int) error

	// Program writes p starting at off.  Both off and len(p) must be
	// multiples of PAGE_SIZE.  Programming can only clear bits; the
	// caller is responsible for erasing first.
	Program(off int, p []byte) error
}

// Interrupts is the interrupt masking capability.  Flash cannot be read
// while it is being erased or programmed, and the CPU executes out of that
// same flash, so every mutation runs between SaveAndDisable and Restore.
type Interrupts interface {
	SaveAndDisable() uint32
	Restore(state uint32)
}

// NopInterrupts is an Interrupts implementation for hosted environments
// (tests, simulators) where there is nothing to mask.
type NopInterrupts struct{}

func (NopInterrupts) SaveAndDisable() uint32 { return 0 }
func (NopInterrupts) Restore(uint32)         {}
