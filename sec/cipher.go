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

package sec

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/embworks/fotaboot/errors"
)

// ChunkCipher transforms aligned firmware chunks.  The ingestion path
// decrypts each chunk in place before programming it, so the download slot
// always holds plaintext at rest.
type ChunkCipher interface {
	// Decrypt decrypts src into dst.  dst and src may alias.  len(src)
	// must be a multiple of the cipher block size.
	Decrypt(dst []byte, src []byte) error

	// Encrypt is the inverse; host tooling uses it to produce encrypted
	// images.
	Encrypt(dst []byte, src []byte) error
}

// AesEcb applies AES in electronic-codebook mode, block by block across a
// chunk.  The key is fixed build-time material shared with the image
// tooling.
type AesEcb struct {
	blk cipher.Block
}

// NewAesEcb creates a chunk cipher from 16 or 32 bytes of AES key
// material.
func NewAesEcb(key []byte) (*AesEcb, error) {
	if len(key) != 16 && len(key) != 32 {
		return nil, errors.Errorf(
			"unexpected AES key size: %d != 16 or 32", len(key))
	}

	blk, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating AES cipher")
	}

	return &AesEcb{blk: blk}, nil
}

func (c *AesEcb) each(dst []byte, src []byte,
	op func(dst []byte, src []byte)) error {

	bs := c.blk.BlockSize()

	if len(src)%bs != 0 {
		return errors.Errorf(
			"chunk length not a multiple of the cipher block size: "+
				"len=%d block=%d", len(src), bs)
	}
	if len(dst) < len(src) {
		return errors.Errorf(
			"cipher destination too small: have=%d want=%d",
			len(dst), len(src))
	}

	for off := 0; off < len(src); off += bs {
		op(dst[off:off+bs], src[off:off+bs])
	}

	return nil
}

func (c *AesEcb) Decrypt(dst []byte, src []byte) error {
	return c.each(dst, src, c.blk.Decrypt)
}

func (c *AesEcb) Encrypt(dst []byte, src []byte) error {
	return c.each(dst, src, c.blk.Encrypt)
}
