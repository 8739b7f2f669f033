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

// Package store implements puzzlefs's content-addressed blob store (spec
// §4.1): a write-once "blobs/sha256/<hex>" directory with streaming,
// digest-accumulating writes that are promoted atomically via rename, and
// memory-mapped random-access reads.
//
// The write path is adapted directly from umoci's oci/cas dirEngine.PutBlob:
// write to a temp file in the same directory as the final blob tree (so the
// rename is atomic and same-filesystem), hash incrementally while copying,
// then rename into place by digest. Unlike umoci's CAS (which serves
// multiple OCI media types through a generic Engine interface), this store
// only ever holds raw, already-digest-named content and exposes a
// memory-mapped read path, since puzzlefs readers need efficient
// random-access byte-range reads over (possibly large) file-data blobs
// rather than a single streaming GetBlob.
package store

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	puzzlefs "github.com/puzzlefs/puzzlefs"
	"github.com/puzzlefs/puzzlefs/digest"
	"github.com/puzzlefs/puzzlefs/internal/funchelpers"
	internalsystem "github.com/puzzlefs/puzzlefs/internal/system"
	"github.com/puzzlefs/puzzlefs/ocilayout"
)

// Store is a content-addressed directory of blobs rooted at an OCI image
// layout directory (see the ocilayout package for index.json/oci-layout
// handling; Store only concerns itself with blobs/sha256/).
type Store struct {
	root string
}

// Open opens an existing OCI-layout image directory's blob store, creating
// blobs/sha256/ if it is somehow absent (mirroring umoci's tolerant
// newDirEngine, which only requires the layout file and blob/ref
// directories to validate).
func Open(root string) (*Store, error) {
	dir := filepath.Join(root, "blobs", ocilayout.BlobAlgorithm)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir blobdir")
	}
	return &Store{root: root}, nil
}

func (s *Store) blobPath(d digest.Digest) string {
	return filepath.Join(s.root, ocilayout.BlobPath(d))
}

// BlobFilePath returns the on-disk path of the blob named by d, for callers
// (the integrity package) that need a real file descriptor to issue
// whole-file operations like fs-verity ioctls against, rather than a
// memory-mapped view.
func (s *Store) BlobFilePath(d digest.Digest) string {
	return s.blobPath(d)
}

// Root returns the OCI-layout image directory this store is rooted at, for
// callers that also need to read or update index.json via the ocilayout
// package.
func (s *Store) Root() string {
	return s.root
}

// Has reports whether a blob with the given digest is already stored.
func (s *Store) Has(d digest.Digest) bool {
	_, err := os.Stat(s.blobPath(d))
	return err == nil
}

// Writer returns a new streaming blob writer. The caller must call Finish
// (or Abort) exactly once; an unfinished Writer that is simply dropped
// leaves its temporary "blob-*" file behind in blobs/sha256/, and nothing
// in this package removes it.
func (s *Store) Writer() (*Writer, error) {
	fh, err := os.CreateTemp(filepath.Join(s.root, "blobs", ocilayout.BlobAlgorithm), "blob-")
	if err != nil {
		return nil, errors.Wrap(err, "create temporary blob")
	}
	return &Writer{
		store:    s,
		f:        fh,
		digester: digest.NewDigester(),
	}, nil
}

// Writer is a streaming, digest-accumulating blob writer.
type Writer struct {
	store    *Store
	f        *os.File
	digester *digest.Digester
	size     int64
	closed   bool
}

// Write implements io.Writer, accumulating both the on-disk bytes and the
// running digest.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if n > 0 {
		w.digester.Write(p[:n])
		w.size += int64(n)
	}
	return n, errors.Wrap(err, "write temporary blob")
}

// ReadFrom streams from r into the writer, using an EINTR-resilient copy
// loop (source trees and network-backed stores can surface EINTR on a
// read) rather than bare io.Copy.
func (w *Writer) ReadFrom(r io.Reader) (int64, error) {
	return internalsystem.Copy(w, r)
}

// Finish computes the final digest, promotes the temp file into
// blobs/sha256/<hex> via rename, and returns the digest and size. If a blob
// with that digest already exists, the temp file is discarded instead
// (content-addressed dedup) and the existing blob is left untouched.
//
// Finish is idempotent with respect to content: concurrent writers of
// identical bytes race harmlessly, since the final rename target is
// determined purely by content.
func (w *Writer) Finish() (digest.Digest, int64, error) {
	return w.finish(digest.Digest{})
}

// FinishExpect is like Finish but additionally checks the computed digest
// against an expected value, returning an error wrapping ErrIntegrity
// (spec §4.1's validation-path Integrity failure) if they differ.
// The temp file is still cleaned up on mismatch.
func (w *Writer) FinishExpect(expected digest.Digest) (digest.Digest, int64, error) {
	return w.finish(expected)
}

func (w *Writer) finish(expected digest.Digest) (_ digest.Digest, _ int64, retErr error) {
	if w.closed {
		return digest.Digest{}, 0, errors.New("writer already finished")
	}
	w.closed = true
	tempPath := w.f.Name()
	defer funchelpers.VerifyClose(&retErr, w.f)

	got := w.digester.Digest()
	if !expected.IsZero() && got != expected {
		os.Remove(tempPath) //nolint:errcheck
		return digest.Digest{}, 0, errors.Wrapf(ErrIntegrity, "expected %s, got %s", expected, got)
	}

	finalPath := w.store.blobPath(got)
	if _, err := os.Stat(finalPath); err == nil {
		// Already materialized by us or a concurrent writer; discard ours.
		os.Remove(tempPath) //nolint:errcheck
		return got, w.size, nil
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		return digest.Digest{}, 0, errors.Wrap(err, "rename temporary blob")
	}
	return got, w.size, nil
}

// Abort discards an in-progress write without promoting it.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	tempPath := w.f.Name()
	err := w.f.Close()
	if rmErr := os.Remove(tempPath); err == nil {
		err = rmErr
	}
	return errors.Wrap(err, "abort blob writer")
}

// ErrIntegrity is returned, wrapped, by FinishExpect when the computed
// digest does not match the caller-supplied expected digest. It is the root
// package's integrity-failure kind.
var ErrIntegrity = puzzlefs.ErrIntegrityFailed
