// SPDX-License-Identifier: Apache-2.0
/*
 * puzzlefs: a content-addressed, read-only container filesystem
 * Copyright (C) 2016-2025 SUSE LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package schema

import (
	"github.com/pkg/errors"

	puzzlefs "github.com/puzzlefs/puzzlefs"
	"github.com/puzzlefs/puzzlefs/inode"
)

// EncodeManifest produces the canonical byte encoding of a manifest blob
// (spec §4.2, §6): manifest_version, then the length-prefixed compression
// algorithm name, then the metadata blob-ref list
// (topmost layer first, order preserved as-is since it is already
// semantically ordered, not sorted), then the fs_verity_data table in the
// order it was recorded.
func EncodeManifest(m *inode.Manifest) ([]byte, error) {
	if m.ManifestVersion != inode.CurrentManifestVersion {
		return nil, errors.Wrapf(puzzlefs.ErrUnsupportedVersion, "cannot encode manifest_version %d", m.ManifestVersion)
	}

	e := &encoder{}
	e.u64(m.ManifestVersion)
	e.bytesWithLen([]byte(m.CompressionAlgorithm))

	e.u64(uint64(len(m.Metadatas)))
	for _, ref := range m.Metadatas {
		e.blobRef(ref)
	}

	e.u64(uint64(len(m.FsVerityData)))
	for _, entry := range m.FsVerityData {
		e.digest(entry.Digest)
		e.digest(entry.Measurement)
	}

	return e.buf.Bytes(), nil
}

// DecodeManifest parses a manifest blob produced by EncodeManifest.
//
// The manifest_version is validated before anything else is trusted: an
// unsupported version returns puzzlefs.ErrUnsupportedVersion rather than
// ErrInvalidFormat, so callers can distinguish "this is a newer format we
// don't understand" from "this blob is simply corrupt" (spec §6).
func DecodeManifest(b []byte) (*inode.Manifest, error) {
	d := newDecoder(b)

	version, err := d.u64()
	if err != nil {
		return nil, errors.Wrap(puzzlefs.ErrInvalidFormat, err.Error())
	}
	if version != inode.CurrentManifestVersion {
		return nil, errors.Wrapf(puzzlefs.ErrUnsupportedVersion, "manifest_version %d, want %d", version, inode.CurrentManifestVersion)
	}

	m := &inode.Manifest{ManifestVersion: version}

	algo, err := d.bytesWithLen()
	if err != nil {
		return nil, errors.Wrap(puzzlefs.ErrInvalidFormat, err.Error())
	}
	m.CompressionAlgorithm = string(algo)

	nMeta, err := d.u64()
	if err != nil {
		return nil, errors.Wrap(puzzlefs.ErrInvalidFormat, err.Error())
	}
	if nMeta > maxListLen {
		return nil, errors.Wrapf(puzzlefs.ErrInvalidFormat, "metadata list length %d exceeds sanity bound", nMeta)
	}
	m.Metadatas = make([]inode.BlobRef, 0, nMeta)
	for i := uint64(0); i < nMeta; i++ {
		ref, err := d.blobRef()
		if err != nil {
			return nil, errors.Wrap(puzzlefs.ErrInvalidFormat, err.Error())
		}
		m.Metadatas = append(m.Metadatas, ref)
	}

	nVerity, err := d.u64()
	if err != nil {
		return nil, errors.Wrap(puzzlefs.ErrInvalidFormat, err.Error())
	}
	if nVerity > maxListLen {
		return nil, errors.Wrapf(puzzlefs.ErrInvalidFormat, "fs_verity_data list length %d exceeds sanity bound", nVerity)
	}
	m.FsVerityData = make([]inode.FsVerityEntry, 0, nVerity)
	for i := uint64(0); i < nVerity; i++ {
		dg, err := d.digest()
		if err != nil {
			return nil, errors.Wrap(puzzlefs.ErrInvalidFormat, err.Error())
		}
		meas, err := d.digest()
		if err != nil {
			return nil, errors.Wrap(puzzlefs.ErrInvalidFormat, err.Error())
		}
		m.FsVerityData = append(m.FsVerityData, inode.FsVerityEntry{Digest: dg, Measurement: meas})
	}

	return m, nil
}
