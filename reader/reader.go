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

// Package reader implements the puzzlefs reader (spec §4.5): mounting a
// manifest by loading its metadata layers into memory-mapped views and
// serving the read-only VFS operation contracts (lookup, getattr, readdir,
// open, read, readlink, getxattr, listxattr) against the layered,
// whiteout-aware directory and inode model.
//
// The layered-lookup and directory-merge shape mirrors, in spirit, umoci's
// own multi-layer rootfs assembly (oci/layer/utils_unix.go's handling of
// upper-shadows-lower semantics across OCI layers), adapted from
// "materialize a merged rootfs on disk" to "answer one VFS call at a time
// against mapped metadata, never materializing anything."
package reader

import (
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"

	puzzlefs "github.com/puzzlefs/puzzlefs"
	puzzlefsdigest "github.com/puzzlefs/puzzlefs/digest"
	"github.com/puzzlefs/puzzlefs/inode"
	"github.com/puzzlefs/puzzlefs/integrity"
	"github.com/puzzlefs/puzzlefs/ocilayout"
	"github.com/puzzlefs/puzzlefs/schema"
	"github.com/puzzlefs/puzzlefs/store"
)

// RootIno is the inode number of the filesystem root, fixed by the builder
// (builder/baseresolve.go assumes the same constant).
const RootIno = 1

// layer is one decoded metadata blob: its inode vector kept sorted by Ino
// (the encoder already enforces strictly increasing order, so lookup can
// binary-search the decoded slice by Ino directly).
type layer struct {
	blob   *store.MappedBlob
	inodes []*inode.Inode
}

func (l *layer) lookup(ino uint64) (*inode.Inode, bool) {
	i := sort.Search(len(l.inodes), func(i int) bool { return l.inodes[i].Ino >= ino })
	if i < len(l.inodes) && l.inodes[i].Ino == ino {
		return l.inodes[i], true
	}
	return nil, false
}

// Reader is a mounted puzzlefs image: an open store plus the decoded
// manifest and its memory-mapped, decoded metadata layers, topmost first.
type Reader struct {
	store    *store.Store
	manifest *inode.Manifest
	layers   []*layer

	// dirCache memoizes mergedEntries by ino. Directory entries never
	// change after mount, so cache entries are never invalidated, only
	// populated lazily and read repeatedly (spec §5's "no internal
	// mutable state beyond a digest-keyed cache").
	dirCache   map[uint64][]inode.DirEnt
	dirCacheMu sync.Mutex

	// verifyReads, when set (a non-zero MountOptions.ExpectedRootDigest
	// was supplied), makes OpenFile recompute and check each chunk
	// blob's content digest the first time that chunk is touched (spec
	// §4.6's "lazily verify each file-data digest on first open"),
	// rather than trusting the store's filename-as-digest invariant.
	verifyReads bool
	verified    map[puzzlefsdigest.Digest]bool
	verifiedMu  sync.Mutex
}

// MountOptions configures Open/OpenManifest.
type MountOptions struct {
	// Ready, if non-nil, receives a single byte ('s' or 'f') once mount
	// either succeeds or fails, then is closed: the host handshake spec §5
	// describes for gating dependent processes on a mount outcome.
	Ready *os.File

	// ExpectedRootDigest, if non-zero, is compared against the resolved
	// manifest digest and the manifest's own recorded fs-verity
	// measurement (spec §4.6's verify(manifest, expected_root_digest)).
	// A mismatch fails the mount: Open/OpenManifest return an error and
	// signal 'f' on Ready without exposing a mountpoint (spec §8
	// scenario 5).
	ExpectedRootDigest puzzlefsdigest.Digest
}

// Open mounts the manifest tagged tag in the OCI-layout image directory at
// imageDir: it opens the blob store, resolves the tag through index.json,
// reads and decodes the manifest, and memory-maps and decodes every
// metadata layer it references.
func Open(imageDir, tag string, opts MountOptions) (*Reader, error) {
	rp := &readyPipe{w: opts.Ready}

	s, err := store.Open(imageDir)
	if err != nil {
		rp.signal(false)
		return nil, errors.Wrap(err, "open store")
	}

	idx, err := ocilayout.ReadIndex(imageDir)
	if err != nil {
		rp.signal(false)
		return nil, errors.Wrap(err, "read index")
	}
	desc, ok := idx.FindTag(tag)
	if !ok {
		rp.signal(false)
		return nil, errors.Wrapf(puzzlefs.ErrNotFound, "tag %q", tag)
	}
	manifestDigest, err := puzzlefsdigest.FromHex(desc.Digest.Encoded())
	if err != nil {
		rp.signal(false)
		return nil, errors.Wrap(err, "parse manifest digest")
	}

	r, err := openManifest(s, manifestDigest, opts)
	rp.signal(err == nil)
	return r, err
}

// OpenManifest mounts a manifest directly by digest, bypassing index.json
// tag resolution, for callers that already know the digest they want.
func OpenManifest(s *store.Store, manifestDigest puzzlefsdigest.Digest, opts MountOptions) (*Reader, error) {
	rp := &readyPipe{w: opts.Ready}
	r, err := openManifest(s, manifestDigest, opts)
	rp.signal(err == nil)
	return r, err
}

func openManifest(s *store.Store, manifestDigest puzzlefsdigest.Digest, opts MountOptions) (*Reader, error) {
	manifestBlob, err := s.Read(manifestDigest)
	if err != nil {
		return nil, errors.Wrap(err, "read manifest blob")
	}
	defer manifestBlob.Close()

	manifest, err := schema.DecodeManifest(manifestBlob.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "decode manifest")
	}

	if !opts.ExpectedRootDigest.IsZero() {
		if err := integrity.Verify(s, manifest, manifestDigest, opts.ExpectedRootDigest); err != nil {
			return nil, err
		}
	}

	r := &Reader{
		store:       s,
		manifest:    manifest,
		dirCache:    make(map[uint64][]inode.DirEnt),
		verifyReads: !opts.ExpectedRootDigest.IsZero(),
		verified:    make(map[puzzlefsdigest.Digest]bool),
	}

	ok := false
	defer func() {
		if !ok {
			r.Close()
		}
	}()

	for _, ref := range manifest.Metadatas {
		blob, err := s.Read(ref.Digest)
		if err != nil {
			return nil, errors.Wrapf(err, "read metadata blob %s", ref.Digest)
		}
		inodes, err := schema.DecodeInodeVector(blob.Bytes())
		if err != nil {
			blob.Close()
			return nil, errors.Wrapf(err, "decode metadata blob %s", ref.Digest)
		}
		r.layers = append(r.layers, &layer{blob: blob, inodes: inodes})
	}

	ok = true
	return r, nil
}

// Close unmaps every metadata layer this Reader holds. Safe to call once
// after a failed Open/OpenManifest cleans up partially-mapped layers.
func (r *Reader) Close() error {
	var firstErr error
	for _, l := range r.layers {
		if err := l.blob.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Manifest returns the mounted manifest, for callers (the stat CLI, for
// instance) that need the raw Metadatas/FsVerityData.
func (r *Reader) Manifest() *inode.Manifest {
	return r.manifest
}

// resolveIno implements spec §4.5's layered inode resolution: scan layers
// top to bottom, binary search each one's inode vector, return the first
// hit.
func (r *Reader) resolveIno(ino uint64) (*inode.Inode, bool) {
	for _, l := range r.layers {
		if rec, ok := l.lookup(ino); ok {
			return rec, true
		}
	}
	return nil, false
}

// verifyChunks checks each chunk's stored bytes against its own
// content-addressed digest the first time that digest is seen by this
// Reader, caching the outcome so repeated reads of the same chunk (common
// across overlapping byte ranges) don't re-hash it. No-op unless
// verifyReads is set.
func (r *Reader) verifyChunks(chunks []inode.Chunk) error {
	if !r.verifyReads {
		return nil
	}

	r.verifiedMu.Lock()
	defer r.verifiedMu.Unlock()

	for _, c := range chunks {
		if r.verified[c.Ref.Digest] {
			continue
		}
		raw, err := r.store.Read(c.Ref.Digest)
		if err != nil {
			return errors.Wrapf(err, "read chunk blob %s", c.Ref.Digest)
		}
		verr := integrity.VerifiedReader{Expected: c.Ref.Digest}.Verify(raw.Bytes())
		raw.Close()
		if verr != nil {
			return verr
		}
		r.verified[c.Ref.Digest] = true
	}
	return nil
}

// readyPipe, if non-nil, is written to once by signalReady (spec §5's
// host handshake: 's' on successful mount, 'f' on failure).
type readyPipe struct {
	w *os.File
}

func (p *readyPipe) signal(ok bool) {
	if p == nil || p.w == nil {
		return
	}
	b := byte('f')
	if ok {
		b = 's'
	}
	_, _ = p.w.Write([]byte{b})
	_ = p.w.Close()
}
