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

// Package manifest implements the JSON release manifest written next to a
// created FOTA image.  Upload tooling uses it to sanity check an image
// before streaming it to a device.
package manifest

import (
	"encoding/json"
	"io"
	"os"

	"github.com/embworks/fotaboot/errors"
)

type Manifest struct {
	Name      string `json:"name"`
	Date      string `json:"build_time"`
	Version   string `json:"build_version"`
	ImageSize int    `json:"image_size"`
	BodySize  int    `json:"body_size"`
	ImageHash string `json:"image_hash"`
	Signed    bool   `json:"signed"`
	Encrypted bool   `json:"encrypted"`
}

// ReadManifest parses a manifest file.
func ReadManifest(path string) (Manifest, error) {
	m := Manifest{}

	content, err := os.ReadFile(path)
	if err != nil {
		return m, errors.Wrapf(err, "failed to read manifest file")
	}

	if err := json.Unmarshal(content, &m); err != nil {
		return m, errors.Wrapf(
			err, "failure decoding manifest with path \"%s\"", path)
	}

	return m, nil
}

// MarshalJson serializes a manifest with the formatting the rest of the
// tooling expects.
func (m *Manifest) MarshalJson() ([]byte, error) {
	buffer, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, errors.Wrapf(err, "cannot encode manifest")
	}

	return buffer, nil
}

// Write serializes a manifest to the given writer.
func (m *Manifest) Write(w io.Writer) (int, error) {
	buffer, err := m.MarshalJson()
	if err != nil {
		return 0, err
	}

	cnt, err := w.Write(buffer)
	if err != nil {
		return 0, errors.Wrapf(err, "cannot write manifest")
	}

	return cnt, nil
}

// WriteFile writes a manifest next to its image.
func (m *Manifest) WriteFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return errors.Wrapf(err, "cannot open manifest file %s", path)
	}
	defer f.Close()

	if _, err := m.Write(f); err != nil {
		return err
	}

	return nil
}
