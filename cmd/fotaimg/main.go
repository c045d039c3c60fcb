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

// fotaimg prepares firmware binaries for the FOTA bootloader: it pads the
// body, appends the digest trailer, and optionally signs and encrypts the
// result.  It replaces the ad-hoc scripts that used to do this by hand.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ed25519"

	"github.com/embworks/fotaboot/image"
	"github.com/embworks/fotaboot/manifest"
	"github.com/embworks/fotaboot/sec"
)

var log = logrus.New()

var (
	optOutFile   string
	optManifest  string
	optVersion   string
	optEncKey    string
	optKek       string
	optSignKey   string
	optPubKey    string
	optDecrypt   bool
	optVerbosity int
)

func readKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Key files may carry a trailing newline.
	for len(data) > 0 &&
		(data[len(data)-1] == '\n' || data[len(data)-1] == '\r') {
		data = data[:len(data)-1]
	}

	return data, nil
}

// loadCipher resolves the encryption options into a chunk cipher: either a
// plain key file, or a keywrapped key plus the KEK that unwraps it.
func loadCipher() (sec.ChunkCipher, error) {
	if optEncKey == "" {
		return nil, nil
	}

	raw, err := readKeyFile(optEncKey)
	if err != nil {
		return nil, err
	}

	var key []byte
	if optKek != "" {
		kekRaw, err := readKeyFile(optKek)
		if err != nil {
			return nil, err
		}
		kek, err := sec.ParseImageKey(kekRaw)
		if err != nil {
			return nil, err
		}

		wrapped, err := hex.DecodeString(string(raw))
		if err != nil {
			wrapped = raw
		}
		key, err = sec.UnwrapImageKey(kek, wrapped)
		if err != nil {
			return nil, err
		}
	} else {
		key, err = sec.ParseImageKey(raw)
		if err != nil {
			return nil, err
		}
	}

	return sec.NewAesEcb(key)
}

func loadSignKey() (ed25519.PrivateKey, error) {
	if optSignKey == "" {
		return nil, nil
	}

	raw, err := readKeyFile(optSignKey)
	if err != nil {
		return nil, err
	}

	b, err := hex.DecodeString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("sign key file %s is not hex: %v",
			optSignKey, err)
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("sign key has wrong length: have=%d want=%d",
			len(b), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(b), nil
}

func loadPubKey() (ed25519.PublicKey, error) {
	if optPubKey == "" {
		return nil, nil
	}

	raw, err := readKeyFile(optPubKey)
	if err != nil {
		return nil, err
	}

	b, err := hex.DecodeString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("public key file %s is not hex: %v",
			optPubKey, err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has wrong length: have=%d want=%d",
			len(b), ed25519.PublicKeySize)
	}

	return ed25519.PublicKey(b), nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	body, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	cipher, err := loadCipher()
	if err != nil {
		return err
	}
	signKey, err := loadSignKey()
	if err != nil {
		return err
	}

	data, err := image.Create(image.ImageCreateOpts{
		Body:    body,
		SignKey: signKey,
		Cipher:  cipher,
	})
	if err != nil {
		return err
	}

	out := optOutFile
	if out == "" {
		out = args[0] + ".fota"
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return err
	}
	log.Infof("wrote %s (%d bytes)", out, len(data))

	if optManifest != "" {
		digest := sec.CalcDigest(data[:len(data)-image.TRAILER_SIZE])
		m := manifest.Manifest{
			Name:      args[0],
			Date:      time.Now().UTC().Format(time.RFC3339),
			Version:   optVersion,
			ImageSize: len(data),
			BodySize:  len(body),
			ImageHash: hex.EncodeToString(digest),
			Signed:    signKey != nil,
			Encrypted: cipher != nil,
		}
		if err := m.WriteFile(optManifest); err != nil {
			return err
		}
		log.Infof("wrote manifest %s", optManifest)
	}

	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	if optDecrypt {
		cipher, err := loadCipher()
		if err != nil {
			return err
		}
		if cipher == nil {
			return fmt.Errorf("--decrypt requires --enc-key")
		}
		if err := cipher.Decrypt(data, data); err != nil {
			return err
		}
	}

	img, err := image.Parse(data)
	if err != nil {
		return err
	}

	pub, err := loadPubKey()
	if err != nil {
		return err
	}

	if err := img.Verify(pub); err != nil {
		return err
	}

	log.Infof("%s: image OK", args[0])
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	img, err := image.Parse(data)
	if err != nil {
		return err
	}

	fmt.Printf("total size: %d\n", img.TotalSize())
	fmt.Printf("body size:  %d\n", len(img.Body))
	fmt.Printf("digest:     %s\n", hex.EncodeToString(img.Digest))
	fmt.Printf("signed:     %v\n", img.Sig != nil)
	if img.Sig != nil {
		fmt.Printf("signature:  %s\n", hex.EncodeToString(img.Sig))
	}

	digestErr := img.Verify(nil)
	fmt.Printf("digest ok:  %v\n", digestErr == nil)

	return nil
}

func runKeygen(cmd *cobra.Command, args []string) error {
	pub, priv, err := sec.GenerateSignKey()
	if err != nil {
		return err
	}

	base := args[0]
	if err := os.WriteFile(base+".key",
		[]byte(hex.EncodeToString(priv)+"\n"), 0600); err != nil {
		return err
	}
	if err := os.WriteFile(base+".pub",
		[]byte(hex.EncodeToString(pub)+"\n"), 0644); err != nil {
		return err
	}

	log.Infof("wrote %s.key and %s.pub", base, base)
	return nil
}

func main() {
	root := &cobra.Command{
		Use:           "fotaimg",
		Short:         "Prepare and inspect FOTA bootloader images",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if optVerbosity > 0 {
				log.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().CountVarP(&optVerbosity, "verbose", "v",
		"increase log verbosity")
	root.PersistentFlags().StringVarP(&optEncKey, "enc-key", "k", "",
		"AES key file (raw, hex, or base64; or keywrapped with --kek)")
	root.PersistentFlags().StringVar(&optKek, "kek", "",
		"key-encryption-key file used to unwrap --enc-key")

	create := &cobra.Command{
		Use:   "create <binary>",
		Short: "Build a FOTA image from a firmware binary",
		Args:  cobra.ExactArgs(1),
		RunE:  runCreate,
	}
	create.Flags().StringVarP(&optOutFile, "out", "o", "",
		"output path (default <binary>.fota)")
	create.Flags().StringVarP(&optManifest, "manifest", "m", "",
		"also write a JSON release manifest to this path")
	create.Flags().StringVar(&optVersion, "version", "",
		"build version recorded in the manifest")
	create.Flags().StringVarP(&optSignKey, "sign-key", "s", "",
		"hex Ed25519 private key file; signs the image digest")
	root.AddCommand(create)

	verify := &cobra.Command{
		Use:   "verify <image>",
		Short: "Verify a FOTA image digest (and signature, with --pub)",
		Args:  cobra.ExactArgs(1),
		RunE:  runVerify,
	}
	verify.Flags().StringVarP(&optPubKey, "pub", "p", "",
		"hex Ed25519 public key file; requires a valid signature")
	verify.Flags().BoolVar(&optDecrypt, "decrypt", false,
		"decrypt with --enc-key before verifying")
	root.AddCommand(verify)

	show := &cobra.Command{
		Use:   "show <image>",
		Short: "Print the structure of a FOTA image",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	root.AddCommand(show)

	keygen := &cobra.Command{
		Use:   "keygen <basename>",
		Short: "Generate an Ed25519 image signing key pair",
		Args:  cobra.ExactArgs(1),
		RunE:  runKeygen,
	}
	root.AddCommand(keygen)

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
