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

package meta

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"

	"github.com/embworks/fotaboot/errors"
	"github.com/embworks/fotaboot/flash"
)

// Store reads and writes the metadata record.  Reads are plain loads from
// the metadata sector.  Writes go through a copy-modify-erase-reprogram
// cycle over the whole sector: NOR flash can only clear bits inside an
// erased sector, so changing one field in place would destroy its
// neighbors.  The erase+program pair runs with interrupts suppressed; a
// power cut between the two still corrupts the sector, which is the
// documented residual risk of single-bank XIP flash.
type Store struct {
	dev  flash.Device
	lay  flash.Layout
	ints flash.Interrupts
	log  logrus.FieldLogger
}

// NewStore creates a metadata store over the given device and layout.  log
// may be nil for silent operation.
func NewStore(dev flash.Device, lay flash.Layout, ints flash.Interrupts,
	log logrus.FieldLogger) (*Store, error) {

	if RecordSize() > lay.SectorSize {
		return nil, errors.Errorf(
			"metadata record does not fit in one sector: need=%d have=%d",
			RecordSize(), lay.SectorSize)
	}

	if ints == nil {
		ints = flash.NopInterrupts{}
	}

	return &Store{
		dev:  dev,
		lay:  lay,
		ints: ints,
		log:  log,
	}, nil
}

// ReadWord returns a field's raw persisted word.
func (s *Store) ReadWord(f Field) (uint32, error) {
	var buf [WORD_SIZE]byte

	off := s.lay.MetaStart() + f.Offset()
	if err := s.dev.ReadAt(buf[:], off); err != nil {
		return 0, errors.Wrapf(err, "failed to read metadata field %s", f)
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

// ReadFlag returns a field's decoded flag state.  Anything that is not
// exactly one of the field's two magics decodes to unknown.
func (s *Store) ReadFlag(f Field) (Flag, error) {
	word, err := s.ReadWord(f)
	if err != nil {
		return FLAG_UNKNOWN, err
	}

	return DecodeFlag(f, word), nil
}

// WriteWord persists a field's raw word, preserving every other field.
func (s *Store) WriteWord(f Field, word uint32) error {
	return s.rewrite(map[Field]uint32{f: word})
}

// WriteFlag persists a flag state.  Only asserted and cleared are
// writable.
func (s *Store) WriteFlag(f Field, fl Flag) error {
	word, ok := EncodeFlag(f, fl)
	if !ok {
		return errors.Errorf(
			"cannot persist state %s for metadata field %s", fl, f)
	}

	if s.log != nil {
		s.log.Debugf("metadata: %s <- %s", f, fl)
	}

	return s.rewrite(map[Field]uint32{f: word})
}

// InitHeaders records the two slot base addresses in a single sector
// rewrite.
func (s *Store) InitHeaders() error {
	return s.rewrite(map[Field]uint32{
		FIELD_APP_HEADER:      s.lay.AppAddr(),
		FIELD_DOWNLOAD_HEADER: s.lay.DownloadAddr(),
	})
}

// rewrite is the single mutation path for the metadata sector: copy the
// sector to RAM, patch the requested field words, then erase and reprogram
// the sector under interrupt suppression.
func (s *Store) rewrite(words map[Field]uint32) error {
	start := s.lay.MetaStart()
	buf := make([]byte, s.lay.SectorSize)

	if err := s.dev.ReadAt(buf, start); err != nil {
		return errors.Wrapf(err, "failed to snapshot metadata sector")
	}

	for f, word := range words {
		binary.LittleEndian.PutUint32(buf[f.Offset():], word)
	}

	state := s.ints.SaveAndDisable()
	defer s.ints.Restore(state)

	if err := s.dev.EraseSectors(start, s.lay.SectorSize); err != nil {
		return errors.Wrapf(err, "failed to erase metadata sector")
	}

	if err := s.dev.Program(start, buf); err != nil {
		return errors.Wrapf(err, "failed to reprogram metadata sector")
	}

	return nil
}
