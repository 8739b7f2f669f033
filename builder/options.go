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

// Package builder implements the puzzlefs builder (spec §4.4): walking a
// source directory tree, producing the breadth-first/lexicographic content
// stream, driving the chunker, writing chunk and metadata blobs through the
// store, and updating an OCI-layout image directory's index.
//
// The tree-walk/xattr-collection/whiteout shape is grounded on umoci's
// oci/layer/tar_generate.go tarGenerator (AddFile, AddWhiteout, xattr
// collection via Llistxattr/Lgetxattr), adapted from "append a tar.Header
// and stream bytes into an archive/tar.Writer" to "assign an inode number,
// feed bytes into the CDC stream, and record a chunk list" since the target
// format here is puzzlefs's own metadata encoding rather than an OCI tar
// layer.
package builder

import puzzlefscompress "github.com/puzzlefs/puzzlefs/chunkcompress"

// Options configures a single call to Build.
type Options struct {
	// SourceDir is the filesystem tree to walk.
	SourceDir string

	// ImageDir is the target OCI-layout image directory (created if
	// absent).
	ImageDir string

	// Tag names the index.json entry this build will create or update.
	Tag string

	// BaseTag, if non-empty, names an existing tag in ImageDir whose
	// manifest becomes the base layer stack: the new metadata layer is
	// written on top of (prepended to) the base manifest's Metadatas list.
	BaseTag string

	// Compress selects the chunk compression algorithm. Nil means no
	// compression (chunkcompress.None).
	Compress puzzlefscompress.Algorithm
}

func (o Options) compress() puzzlefscompress.Algorithm {
	if o.Compress == nil {
		return puzzlefscompress.None
	}
	return o.Compress
}
