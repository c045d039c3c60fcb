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

package update

import (
	"golang.org/x/crypto/ed25519"

	"github.com/embworks/fotaboot/errors"
	"github.com/embworks/fotaboot/flash"
	"github.com/embworks/fotaboot/sec"
)

// Verifier checks a completed download.  img is the image-sized prefix of
// the download slot, already decrypted (the slot holds plaintext at rest).
// The final alignment-sized block is the trailer; its last bytes carry the
// digest.
type Verifier interface {
	Verify(img []byte) error
}

// DigestVerifier checks the trailing SHA256 against a digest computed over
// the body.
type DigestVerifier struct{}

func splitTrailer(img []byte) (body []byte, sig []byte, digest []byte) {
	body = img[:len(img)-flash.PAGE_SIZE]
	sig = img[len(img)-sec.DIGEST_SIZE-sec.SIG_SIZE : len(img)-sec.DIGEST_SIZE]
	digest = img[len(img)-sec.DIGEST_SIZE:]
	return
}

func (DigestVerifier) Verify(img []byte) error {
	body, _, digest := splitTrailer(img)
	return sec.CheckDigest(sec.CalcDigest(body), digest)
}

// SigVerifier checks the digest and additionally requires a valid Ed25519
// signature over it.
type SigVerifier struct {
	Pub ed25519.PublicKey
}

func (v SigVerifier) Verify(img []byte) error {
	body, sig, digest := splitTrailer(img)

	if err := sec.CheckDigest(sec.CalcDigest(body), digest); err != nil {
		return err
	}

	allZero := true
	for _, b := range sig {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return errors.New("image is unsigned but signature checking is " +
			"configured")
	}

	return sec.VerifyDigestSig(v.Pub, digest, sig)
}
