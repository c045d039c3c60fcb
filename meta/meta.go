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

// The metadata record occupies the single erase sector between the
// bootloader region and the application slot.  Each field reserves 256
// bytes; the field value is a little-endian 32-bit word at the start of the
// reservation and the rest of the reservation stays erased.
//
//	offset 0x000   app header        (CPU address of the application slot)
//	offset 0x100   download header   (CPU address of the download slot)
//	offset 0x200   download valid    (flag)
//	offset 0x300   firmware swapped  (flag)
//	offset 0x400   is after rollback (flag)
//	offset 0x500   should rollback   (flag)
//
// These offsets are a contract with any host tooling that inspects the
// sector directly; they never change within a deployed bootloader version.

// FIELD_RESERVATION is the number of bytes set aside per field.  One full
// program page, so rewriting a field can never clip a neighbor.
const FIELD_RESERVATION = 256

// WORD_SIZE is the size of a persisted field value.
const WORD_SIZE = 4

// Field identifies one slot in the metadata record.
type Field int

const (
	FIELD_APP_HEADER Field = iota
	FIELD_DOWNLOAD_HEADER
	FIELD_DOWNLOAD_VALID
	FIELD_FIRMWARE_SWAPPED
	FIELD_IS_AFTER_ROLLBACK
	FIELD_SHOULD_ROLLBACK

	NUM_FIELDS
)

var fieldNameMap = map[Field]string{
	FIELD_APP_HEADER:        "app_header",
	FIELD_DOWNLOAD_HEADER:   "download_header",
	FIELD_DOWNLOAD_VALID:    "download_valid",
	FIELD_FIRMWARE_SWAPPED:  "firmware_swapped",
	FIELD_IS_AFTER_ROLLBACK: "is_after_rollback",
	FIELD_SHOULD_ROLLBACK:   "should_rollback",
}

func (f Field) String() string {
	name := fieldNameMap[f]
	if name == "" {
		name = "???"
	}
	return name
}

// Offset returns the field's byte offset inside the metadata sector.
func (f Field) Offset() int {
	return int(f) * FIELD_RESERVATION
}

// Flag is the decoded state of a boolean-like field.  Unknown covers every
// word that is neither magic: erased flash, all zero, or garbage from a
// torn write.  Unknown is never persisted and never triggers a swap or a
// rollback.
type Flag int

const (
	FLAG_UNKNOWN Flag = iota
	FLAG_ASSERTED
	FLAG_CLEARED
)

func (fl Flag) String() string {
	switch fl {
	case FLAG_ASSERTED:
		return "asserted"
	case FLAG_CLEARED:
		return "cleared"
	default:
		return "unknown"
	}
}

// Per-field magic pairs.  Every constant is distinct from the erased word
// (0xffffffff), from zero, and from its partner, so a half-written or
// uninitialized field can never read as an affirmative trigger.
const (
	DOWNLOAD_VALID_MAGIC     = 0xabcdef12
	DOWNLOAD_INVALID_MAGIC   = 0x10fedcba
	HAS_NEW_FIRMWARE_MAGIC   = 0x12345678
	NO_NEW_FIRMWARE_MAGIC    = 0x87654321
	IS_AFTER_ROLLBACK_MAGIC  = 0xbeefbeef
	NOT_AFTER_ROLLBACK_MAGIC = 0xfacefeed
	SHOULD_ROLLBACK_MAGIC    = 0x0deadead
	NO_ROLLBACK_MAGIC        = 0x0defaced
)

type magicPair struct {
	asserted uint32
	cleared  uint32
}

var fieldMagicMap = map[Field]magicPair{
	FIELD_DOWNLOAD_VALID: {
		asserted: DOWNLOAD_VALID_MAGIC,
		cleared:  DOWNLOAD_INVALID_MAGIC,
	},
	FIELD_FIRMWARE_SWAPPED: {
		asserted: HAS_NEW_FIRMWARE_MAGIC,
		cleared:  NO_NEW_FIRMWARE_MAGIC,
	},
	FIELD_IS_AFTER_ROLLBACK: {
		asserted: IS_AFTER_ROLLBACK_MAGIC,
		cleared:  NOT_AFTER_ROLLBACK_MAGIC,
	},
	FIELD_SHOULD_ROLLBACK: {
		asserted: SHOULD_ROLLBACK_MAGIC,
		cleared:  NO_ROLLBACK_MAGIC,
	},
}

// FlagFields returns the boolean-like fields, i.e. those with a magic
// encoding.  Header fields hold raw address words and are excluded.
func FlagFields() []Field {
	return []Field{
		FIELD_DOWNLOAD_VALID,
		FIELD_FIRMWARE_SWAPPED,
		FIELD_IS_AFTER_ROLLBACK,
		FIELD_SHOULD_ROLLBACK,
	}
}

// IsFlagField indicates whether a field carries a magic-encoded flag.
func IsFlagField(f Field) bool {
	_, ok := fieldMagicMap[f]
	return ok
}

// EncodeFlag converts a flag state to its persisted word.  Only Asserted
// and Cleared have encodings; Unknown is a read-side state, not a value.
func EncodeFlag(f Field, fl Flag) (uint32, bool) {
	pair, ok := fieldMagicMap[f]
	if !ok {
		return 0, false
	}

	switch fl {
	case FLAG_ASSERTED:
		return pair.asserted, true
	case FLAG_CLEARED:
		return pair.cleared, true
	default:
		return 0, false
	}
}

// DecodeFlag converts a persisted word to a flag state.  Equality with the
// asserted magic is the only test that yields Asserted.
func DecodeFlag(f Field, word uint32) Flag {
	pair, ok := fieldMagicMap[f]
	if !ok {
		return FLAG_UNKNOWN
	}

	switch word {
	case pair.asserted:
		return FLAG_ASSERTED
	case pair.cleared:
		return FLAG_CLEARED
	default:
		return FLAG_UNKNOWN
	}
}

// RecordSize returns the number of metadata-sector bytes the record spans.
func RecordSize() int {
	return int(NUM_FIELDS) * FIELD_RESERVATION
}
