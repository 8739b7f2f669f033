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

// Package inode defines puzzlefs's in-memory data model (spec §3): the
// blob reference and chunk types that describe where file bytes live, the
// tagged-union inode record, directory entries and payloads, and the
// manifest that ties a stack of metadata layers together. These are plain
// structs with no behaviour beyond small helpers; the schema package
// encodes and decodes them, and the builder/reader packages are the ones
// that give them meaning.
//
// The tagged Mode union (rather than overloading mode_t bits the way a C
// implementation would) is grounded on umoci's own on-disk format structs
// in oci/layer/types.go, which likewise use explicit Go types instead of
// packed bitfields to represent file kinds.
package inode

import "github.com/puzzlefs/puzzlefs/digest"

// MaxSymlinkTarget is the upper bound on a symlink target's length in
// bytes. Spec §9 Open Question (iii) leaves this unstated upstream; this
// implementation pins it at 4096, matching the common PATH_MAX convention.
const MaxSymlinkTarget = 4096

// BlobRef identifies a byte range's home blob: the blob's digest, a byte
// offset inside that blob, and whether the bytes at that offset are
// compressed.
type BlobRef struct {
	Digest     digest.Digest
	Offset     uint64
	Compressed bool
}

// Chunk is a slice of length Length starting at Ref.Offset inside the blob
// Ref.Digest. A regular file's content is the concatenation of its chunk
// list in order.
type Chunk struct {
	Ref    BlobRef
	Length uint64
}

// Kind discriminates the tagged Mode union.
type Kind uint8

// Mode kinds, in the order fixed by the wire format (spec §3). The
// discriminant values are part of the canonical encoding and must never be
// renumbered.
const (
	KindUnknown Kind = iota
	KindFifo
	KindChr
	KindDir
	KindBlk
	KindFile
	KindSymlink
	KindSock
	KindWhiteout
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindFifo:
		return "fifo"
	case KindChr:
		return "chr"
	case KindDir:
		return "dir"
	case KindBlk:
		return "blk"
	case KindFile:
		return "file"
	case KindSymlink:
		return "symlink"
	case KindSock:
		return "sock"
	case KindWhiteout:
		return "whiteout"
	default:
		return "invalid"
	}
}

// Mode is the tagged union over an inode's file type and type-specific
// payload. Exactly one of the type-specific fields is meaningful,
// determined by Kind.
type Mode struct {
	Kind Kind

	// Major, Minor are populated for KindChr and KindBlk.
	Major, Minor uint32

	// Dir is populated for KindDir.
	Dir DirectoryPayload

	// Chunks is populated for KindFile. An empty (but non-nil semantically)
	// chunk list is valid (a zero-byte file).
	Chunks []Chunk
}

// DirEnt is a single directory entry: a name (raw bytes, not required to be
// UTF-8) mapping to an inode number.
type DirEnt struct {
	Ino  uint64
	Name []byte
}

// DirectoryPayload is a directory's entry list plus the look-below flag
// that controls layer merging (spec §3, §4.5).
type DirectoryPayload struct {
	Entries []DirEnt

	// LookBelow, when true, means this directory's entries are merged with
	// the same directory in the next lower metadata layer that contains it.
	// When false, Entries is authoritative and merging stops here.
	LookBelow bool
}

// Additional carries the optional extended fields an inode may have:
// extended attributes and (for symlinks) the raw target bytes.
type Additional struct {
	// Xattrs maps xattr key to value. Canonical encoding requires keys in
	// lexicographic byte order (spec §9 Open Question (iv)).
	Xattrs map[string][]byte

	// Symlink is the raw target bytes for a KindSymlink inode. Must be
	// <= MaxSymlinkTarget bytes.
	Symlink []byte
}

// Inode is a single filesystem object within one metadata layer.
type Inode struct {
	// Ino is this inode's number, unique and strictly increasing within its
	// metadata layer's inode vector.
	Ino uint64

	Mode Mode

	Uid, Gid    uint32
	Permissions uint16

	// Additional is nil when there are no xattrs and (for non-symlinks)
	// nothing else to carry.
	Additional *Additional
}

// Xattrs returns this inode's extended attributes, or nil if it has none.
func (i *Inode) Xattrs() map[string][]byte {
	if i.Additional == nil {
		return nil
	}
	return i.Additional.Xattrs
}

// SymlinkTarget returns the raw symlink target bytes, or nil if this is not
// a symlink or has no recorded target.
func (i *Inode) SymlinkTarget() []byte {
	if i.Additional == nil {
		return nil
	}
	return i.Additional.Symlink
}

// FsVerityEntry records one (digest, integrity measurement) pair recorded
// in a manifest once integrity has been armed (spec §4.6).
type FsVerityEntry struct {
	Digest      digest.Digest
	Measurement digest.Digest
}

// CurrentManifestVersion is the only manifest_version this implementation
// accepts, matching spec §6's statement that version 3 is current.
const CurrentManifestVersion uint64 = 3

// Manifest is the root blob: an ordered list of metadata-layer blob
// references (index 0 is the topmost layer) plus any recorded integrity
// measurements.
type Manifest struct {
	Metadatas    []BlobRef
	FsVerityData []FsVerityEntry

	// CompressionAlgorithm names the single algorithm (a
	// chunkcompress.Algorithm's Name(), e.g. "gzip", "zstd") used
	// for every chunk in this image whose BlobRef.Compressed is true. The
	// wire format records one algorithm per image rather than per chunk,
	// since a build never mixes algorithms (spec §4.3's chunker always
	// runs under one builder.Options selection). Empty means no chunk in
	// this image is compressed.
	CompressionAlgorithm string

	ManifestVersion uint64
}

// MeasurementFor looks up the recorded fs-verity measurement for a given
// file-data digest, if any was recorded.
func (m *Manifest) MeasurementFor(d digest.Digest) (digest.Digest, bool) {
	for _, e := range m.FsVerityData {
		if e.Digest == d {
			return e.Measurement, true
		}
	}
	return digest.Digest{}, false
}
