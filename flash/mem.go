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

// MemDevice is an in-memory Device that enforces real NOR constraints:
// a fresh or erased byte reads 0xff, and programming ANDs new data into
// place, so a sector that was not erased first keeps its stale zero bits.
// Bugs where a caller skips the erase step therefore corrupt data here the
// same way they would on hardware, instead of silently succeeding.
type MemDevice struct {
	data       []byte
	sectorSize int

	// EraseCount and ProgramCount record how many erase and program
	// operations ran; tests use them to bound critical section length.
	EraseCount   int
	ProgramCount int
}

// NewMemDevice creates an erased in-memory flash device.  size must be a
// multiple of sectorSize.
func NewMemDevice(size int, sectorSize int) *MemDevice {
	if sectorSize <= 0 || size <= 0 || size%sectorSize != 0 {
		panic("flash: bad MemDevice geometry")
	}

	data := make([]byte, size)
	for i := range data {
		data[i] = ERASED_BYTE
	}

	return &MemDevice{
		data:       data,
		sectorSize: sectorSize,
	}
}

func (d *MemDevice) Size() int {
	return len(d.data)
}

func (d *MemDevice) SectorSize() int {
	return d.sectorSize
}

func (d *MemDevice) checkRange(off int, length int) error {
	if off < 0 || length < 0 || off+length > len(d.data) {
		return errors.Errorf(
			"flash access out of range: off=%d len=%d size=%d",
			off, length, len(d.data))
	}
	return nil
}

func (d *MemDevice) ReadAt(p []byte, off int) error {
	if err := d.checkRange(off, len(p)); err != nil {
		return err
	}

	copy(p, d.data[off:])
	return nil
}

func (d *MemDevice) EraseSectors(off int, length int) error {
	if err := d.checkRange(off, length); err != nil {
		return err
	}
	if off%d.sectorSize != 0 || length%d.sectorSize != 0 {
		return errors.Errorf(
			"unaligned erase: off=%d len=%d sector=%d",
			off, length, d.sectorSize)
	}

	for i := off; i < off+length; i++ {
		d.data[i] = ERASED_BYTE
	}
	d.EraseCount++

	return nil
}

func (d *MemDevice) Program(off int, p []byte) error {
	if err := d.checkRange(off, len(p)); err != nil {
		return err
	}
	if off%PAGE_SIZE != 0 || len(p)%PAGE_SIZE != 0 {
		return errors.Errorf(
			"unaligned program: off=%d len=%d page=%d",
			off, len(p), PAGE_SIZE)
	}

	// NOR programming can only pull bits low.
	for i, b := range p {
		d.data[off+i] &= b
	}
	d.ProgramCount++

	return nil
}
