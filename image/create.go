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

package image

import (
	"golang.org/x/crypto/ed25519"

	"github.com/embworks/fotaboot/errors"
	"github.com/embworks/fotaboot/flash"
	"github.com/embworks/fotaboot/sec"
)

// ImageCreateOpts describes how to build a FOTA image from a firmware
// binary.
type ImageCreateOpts struct {
	// Body is the raw firmware binary.
	Body []byte

	// SignKey, when non-nil, adds an Ed25519 signature over the digest to
	// the trailer.
	SignKey ed25519.PrivateKey

	// Cipher, when non-nil, encrypts the whole serialized image
	// (body and trailer) chunk by chunk.  The device decrypts each chunk
	// on ingestion, so the download slot holds the plaintext layout.
	Cipher sec.ChunkCipher
}

// Create serializes a FOTA image.  The result's length is always a
// multiple of the write alignment, ready to stream to the device in
// aligned chunks.
func Create(opts ImageCreateOpts) ([]byte, error) {
	if len(opts.Body) == 0 {
		return nil, errors.New("refusing to create an image with no body")
	}

	// Pad the body with the erased-flash value so the padded tail of the
	// final sector looks no different from untouched flash.
	bodyLen := len(opts.Body)
	if rem := bodyLen % TRAILER_SIZE; rem != 0 {
		bodyLen += TRAILER_SIZE - rem
	}

	data := make([]byte, bodyLen+TRAILER_SIZE)
	copy(data, opts.Body)
	for i := len(opts.Body); i < bodyLen; i++ {
		data[i] = flash.ERASED_BYTE
	}

	digest := sec.CalcDigest(data[:bodyLen])
	copy(data[len(data)-sec.DIGEST_SIZE:], digest)

	if opts.SignKey != nil {
		sig := sec.SignDigest(opts.SignKey, digest)
		copy(data[len(data)-SIG_OFFSET_FROM_END:], sig)
	}

	if opts.Cipher != nil {
		if err := opts.Cipher.Encrypt(data, data); err != nil {
			return nil, errors.Wrapf(err, "failed to encrypt image")
		}
	}

	return data, nil
}
