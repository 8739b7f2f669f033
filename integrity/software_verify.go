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
	"github.com/pkg/errors"

	puzzlefs "github.com/puzzlefs/puzzlefs"
	puzzlefsdigest "github.com/puzzlefs/puzzlefs/digest"
)

// VerifiedReader is the software content check the reader applies to each
// file-data chunk on first open whenever a mount supplies an expected root
// digest (Reader.verifyChunks), whether or not the image was armed with
// fs-verity: rather than trusting that a blob's on-disk name
// still matches its content (the threat fs-verity guards against is
// exactly silent corruption of bytes without a rename), it recomputes the
// blob's digest over the full mapped content and compares it to the
// digest the caller looked the blob up by.
//
// This is adapted from umoci's pkg/hardening.VerifiedReadCloser, which
// wraps an io.ReadCloser and checks the accumulated digest on EOF; since
// puzzlefs blobs are always read via a single memory-mapped []byte rather
// than a stream (store.MappedBlob.Bytes), there is no EOF event to hang
// the check on, so VerifiedReader instead checks the whole buffer in one
// call, in the same style chunkcompress.Algorithm uses for whole-slice
// compression.
type VerifiedReader struct {
	Expected puzzlefsdigest.Digest
}

// Verify recomputes the digest of data and compares it to Expected.
func (v VerifiedReader) Verify(data []byte) error {
	got := puzzlefsdigest.FromBytes(data)
	if got != v.Expected {
		return errors.Wrapf(puzzlefs.ErrIntegrityFailed, "blob %s: content digest mismatch, got %s", v.Expected, got)
	}
	return nil
}
