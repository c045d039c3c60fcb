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

// Package image implements the host-side FOTA image format.  An image is
// the firmware body padded to the write alignment, followed by one trailer
// block of the same alignment:
//
//	+------------------------+  0
//	| body                   |
//	| (0xff padded to align) |
//	+------------------------+  len - TRAILER_SIZE
//	| zero padding           |
//	+------------------------+  len - SIG_OFFSET_FROM_END
//	| Ed25519 sig (optional) |
//	+------------------------+  len - DIGEST_SIZE
//	| SHA256 of padded body  |
//	+------------------------+  len
//
// The device verifies the same layout in place inside the download slot
// after ingestion.
package image

import (
	"github.com/embworks/fotaboot/errors"
	"github.com/embworks/fotaboot/flash"
	"github.com/embworks/fotaboot/sec"
)

const (
	// TRAILER_SIZE is the size of the trailer block: one write-alignment
	// unit.
	TRAILER_SIZE = flash.PAGE_SIZE

	// SIG_OFFSET_FROM_END locates the optional signature, directly before
	// the digest.
	SIG_OFFSET_FROM_END = sec.DIGEST_SIZE + sec.SIG_SIZE
)

// Image is a parsed FOTA image.
type Image struct {
	// Body is the padded firmware body (everything before the trailer).
	Body []byte

	// Sig is the Ed25519 signature over the digest, or nil for unsigned
	// images.
	Sig []byte

	// Digest is the SHA256 stored in the trailer.
	Digest []byte
}

// TotalSize returns the serialized image size.
func (img *Image) TotalSize() int {
	return len(img.Body) + TRAILER_SIZE
}

// Parse splits a plaintext image into body and trailer components.  A
// trailer signature region of all zeros means the image is unsigned.
func Parse(data []byte) (Image, error) {
	if len(data) < 2*TRAILER_SIZE || len(data)%TRAILER_SIZE != 0 {
		return Image{}, errors.Errorf(
			"invalid image length %d: must be a multiple of %d and hold "+
				"at least one body block and one trailer block",
			len(data), TRAILER_SIZE)
	}

	img := Image{
		Body:   data[:len(data)-TRAILER_SIZE],
		Digest: data[len(data)-sec.DIGEST_SIZE:],
	}

	sig := data[len(data)-SIG_OFFSET_FROM_END : len(data)-sec.DIGEST_SIZE]
	for _, b := range sig {
		if b != 0 {
			img.Sig = sig
			break
		}
	}

	return img, nil
}

// Verify checks an image's digest and, when pub is non-nil, its signature.
func (img *Image) Verify(pub []byte) error {
	have := sec.CalcDigest(img.Body)
	if err := sec.CheckDigest(have, img.Digest); err != nil {
		return err
	}

	if pub != nil {
		if img.Sig == nil {
			return errors.New(
				"image is unsigned but a signing key was configured")
		}
		if err := sec.VerifyDigestSig(pub, img.Digest, img.Sig); err != nil {
			return err
		}
	}

	return nil
}
