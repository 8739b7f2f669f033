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

package integrity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	puzzlefs "github.com/puzzlefs/puzzlefs"
	puzzlefsdigest "github.com/puzzlefs/puzzlefs/digest"
	"github.com/puzzlefs/puzzlefs/inode"
	"github.com/puzzlefs/puzzlefs/ocilayout"
	"github.com/puzzlefs/puzzlefs/store"
)

// TestVerifyDetectsTamperedBlob covers spec §8 scenario 5: a blob whose
// on-disk bytes no longer match its recorded fs-verity measurement must
// fail Verify with ErrIntegrityFailed, without needing a filesystem that
// actually supports kernel fs-verity: this test records a deliberately
// wrong measurement and confirms measureBlobPath's comparison rejects it
// rather than exercising the real ioctl path (which needs a verity-capable
// filesystem unavailable in a plain temp directory).
func TestVerifyDetectsTamperedBlob(t *testing.T) {
	img := filepath.Join(t.TempDir(), "image")
	require.NoError(t, ocilayout.Create(img))
	s, err := store.Open(img)
	require.NoError(t, err)

	content := []byte("some file content")
	w, err := s.Writer()
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	d, _, err := w.Finish()
	require.NoError(t, err)

	manifest := &inode.Manifest{
		ManifestVersion: inode.CurrentManifestVersion,
		FsVerityData: []inode.FsVerityEntry{
			{Digest: d, Measurement: puzzlefsdigest.FromBytes([]byte("not the real measurement"))},
		},
	}

	err = verifyWithMeasurer(s, manifest, func(path string) (puzzlefsdigest.Digest, error) {
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return puzzlefsdigest.Digest{}, rerr
		}
		return puzzlefsdigest.FromBytes(data), nil
	})
	require.Error(t, err)
	require.ErrorIs(t, err, puzzlefs.ErrIntegrityFailed)
}

// TestVerifyRejectsWrongRootDigest covers the mount-time half of spec §8
// scenario 5: Verify must refuse a manifest whose own digest does not
// match a caller-supplied expected_root_digest, before it ever gets to
// re-measuring individual blobs.
func TestVerifyRejectsWrongRootDigest(t *testing.T) {
	img := filepath.Join(t.TempDir(), "image")
	require.NoError(t, ocilayout.Create(img))
	s, err := store.Open(img)
	require.NoError(t, err)

	manifest := &inode.Manifest{ManifestVersion: inode.CurrentManifestVersion}
	manifestDigest := puzzlefsdigest.FromBytes([]byte("manifest bytes"))
	wrongExpected := puzzlefsdigest.FromBytes([]byte("some other manifest"))

	err = Verify(s, manifest, manifestDigest, wrongExpected)
	require.Error(t, err)
	require.ErrorIs(t, err, puzzlefs.ErrIntegrityFailed)

	require.NoError(t, Verify(s, manifest, manifestDigest, manifestDigest))
}
