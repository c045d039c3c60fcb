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
	"encoding/base64"
	"encoding/hex"

	keywrap "github.com/NickBall/go-aes-key-wrap"

	"github.com/embworks/fotaboot/errors"
)

// ParseImageKey interprets key material from a build configuration.  Raw 16
// or 32 byte values are used as-is; anything else is tried as hex and then
// as base64.
func ParseImageKey(data []byte) ([]byte, error) {
	if len(data) == 16 || len(data) == 32 {
		return data, nil
	}

	if b, err := hex.DecodeString(string(data)); err == nil {
		if len(b) == 16 || len(b) == 32 {
			return b, nil
		}
	}

	if b, err := base64.StdEncoding.DecodeString(string(data)); err == nil {
		if len(b) == 16 || len(b) == 32 {
			return b, nil
		}
	}

	return nil, errors.Errorf(
		"cannot interpret image key material (%d bytes); "+
			"expected 16 or 32 key bytes, raw, hex, or base64", len(data))
}

// WrapImageKey wraps an image key with a key-encryption key so the image
// key never appears in cleartext in a build configuration.
func WrapImageKey(kek []byte, key []byte) ([]byte, error) {
	c, err := aes.NewCipher(kek)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating keywrap cipher")
	}

	wrapped, err := keywrap.Wrap(c, key)
	if err != nil {
		return nil, errors.Wrapf(err, "error key-wrapping")
	}

	return wrapped, nil
}

// UnwrapImageKey recovers a wrapped image key.
func UnwrapImageKey(kek []byte, wrapped []byte) ([]byte, error) {
	c, err := aes.NewCipher(kek)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating keywrap cipher")
	}

	key, err := keywrap.Unwrap(c, wrapped)
	if err != nil {
		return nil, errors.Wrapf(err, "error unwrapping image key")
	}

	return key, nil
}
