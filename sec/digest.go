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
	"bytes"
	"crypto/rand"
	"crypto/sha256"

	"golang.org/x/crypto/ed25519"

	"github.com/embworks/fotaboot/errors"
)

const (
	// DIGEST_SIZE is the size of the SHA256 digest carried in an image
	// trailer.
	DIGEST_SIZE = sha256.Size

	// SIG_SIZE is the size of the optional Ed25519 signature over the
	// digest.
	SIG_SIZE = ed25519.SignatureSize
)

// CalcDigest computes the SHA256 of an image body.
func CalcDigest(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// CheckDigest compares a computed digest against the one stored in an
// image trailer.
func CheckDigest(have []byte, want []byte) error {
	if len(want) != DIGEST_SIZE {
		return errors.Errorf(
			"bad stored digest length: have=%d want=%d",
			len(want), DIGEST_SIZE)
	}

	if !bytes.Equal(have, want) {
		return errors.Errorf(
			"image digest mismatch: have=%x want=%x", have, want)
	}

	return nil
}

// GenerateSignKey creates a fresh Ed25519 key pair for image signing.
func GenerateSignKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "error generating sign key")
	}

	return pub, priv, nil
}

// SignDigest signs an image digest.
func SignDigest(priv ed25519.PrivateKey, digest []byte) []byte {
	return ed25519.Sign(priv, digest)
}

// VerifyDigestSig verifies a signature over an image digest.
func VerifyDigestSig(pub ed25519.PublicKey, digest []byte,
	sig []byte) error {

	if len(pub) != ed25519.PublicKeySize {
		return errors.Errorf(
			"bad Ed25519 public key length: have=%d want=%d",
			len(pub), ed25519.PublicKeySize)
	}
	if len(sig) != SIG_SIZE {
		return errors.Errorf(
			"bad signature length: have=%d want=%d", len(sig), SIG_SIZE)
	}

	if !ed25519.Verify(pub, digest, sig) {
		return errors.New("image signature verification failed")
	}

	return nil
}
