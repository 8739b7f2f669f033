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

package reader

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	puzzlefs "github.com/puzzlefs/puzzlefs"
	"github.com/puzzlefs/puzzlefs/builder"
)

func mustWrite(t *testing.T, dir, rel string, content []byte) {
	t.Helper()
	full := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, content, 0o644))
}

// TestReaderLookupGetattrReaddir builds a single-layer image with a
// directory, a regular file, and a symlink, and reads it back through the
// VFS operation contracts.
func TestReaderLookupGetattrReaddir(t *testing.T) {
	src := t.TempDir()
	mustWrite(t, src, "dir/file.txt", []byte("contents"))
	require.NoError(t, os.Symlink("file.txt", filepath.Join(src, "dir/link")))

	img := filepath.Join(t.TempDir(), "image")
	_, err := builder.Build(builder.Options{SourceDir: src, ImageDir: img, Tag: "latest"})
	require.NoError(t, err)

	r, err := Open(img, "latest", MountOptions{})
	require.NoError(t, err)
	defer r.Close()

	dirIno, err := r.Lookup(RootIno, "dir")
	require.NoError(t, err)

	entries, err := r.Readdir(dirIno)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "file.txt", string(entries[0].Name))
	require.Equal(t, "link", string(entries[1].Name))

	fileIno, err := r.Lookup(dirIno, "file.txt")
	require.NoError(t, err)
	attr, err := r.Getattr(fileIno)
	require.NoError(t, err)
	require.Equal(t, uint16(0o644), attr.Permissions)

	linkIno, err := r.Lookup(dirIno, "link")
	require.NoError(t, err)
	target, err := r.Readlink(linkIno)
	require.NoError(t, err)
	require.Equal(t, "file.txt", string(target))

	_, err = r.Lookup(dirIno, "does-not-exist")
	require.ErrorIs(t, err, puzzlefs.ErrNotFound)
}

// TestReaderReadAcrossChunkBoundary covers spec §8 scenario 4: a read
// spanning a chunk boundary reassembles the correct bytes.
func TestReaderReadAcrossChunkBoundary(t *testing.T) {
	src := t.TempDir()
	// 320KiB of periodic content never matches a cut mask, so the chunker
	// cuts at MaxSize (256KiB) and leaves a 64KiB second chunk.
	content := bytes.Repeat([]byte("0123456789abcdef"), 20*1024)
	mustWrite(t, src, "big.bin", content)

	img := filepath.Join(t.TempDir(), "image")
	_, err := builder.Build(builder.Options{SourceDir: src, ImageDir: img, Tag: "latest"})
	require.NoError(t, err)

	r, err := Open(img, "latest", MountOptions{})
	require.NoError(t, err)
	defer r.Close()

	ino, err := r.Lookup(RootIno, "big.bin")
	require.NoError(t, err)
	h, err := r.OpenFile(ino)
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), h.Size())

	buf := make([]byte, 4096)
	n, err := h.Read(254*1024, buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, content[254*1024:254*1024+4096], buf)

	tail := make([]byte, 1024)
	n, err = h.Read(h.Size()-512, tail)
	require.NoError(t, err)
	require.Equal(t, 512, n, "short read at EOF")
	require.Equal(t, content[len(content)-512:], tail[:n])
}

// TestReaderDeltaDirectoryMergeAndWhiteout covers spec §8-style layered
// lookup: a delta build's directory merge combines an unchanged base entry
// with a file the delta adds and drops a whited-out one.
func TestReaderDeltaDirectoryMergeAndWhiteout(t *testing.T) {
	img := filepath.Join(t.TempDir(), "image")

	baseSrc := t.TempDir()
	mustWrite(t, baseSrc, "a.txt", []byte("base a"))
	mustWrite(t, baseSrc, "b.txt", []byte("base b"))
	_, err := builder.Build(builder.Options{SourceDir: baseSrc, ImageDir: img, Tag: "base"})
	require.NoError(t, err)

	deltaSrc := t.TempDir()
	mustWrite(t, deltaSrc, "a.txt", []byte("base a"))
	mustWrite(t, deltaSrc, ".wh.b.txt", nil)
	mustWrite(t, deltaSrc, "c.txt", []byte("new c"))
	_, err = builder.Build(builder.Options{SourceDir: deltaSrc, ImageDir: img, Tag: "delta", BaseTag: "base"})
	require.NoError(t, err)

	r, err := Open(img, "delta", MountOptions{})
	require.NoError(t, err)
	defer r.Close()

	entries, err := r.Readdir(RootIno)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, string(e.Name))
	}
	require.Equal(t, []string{"a.txt", "c.txt"}, names, "b.txt must be dropped by the whiteout")

	cIno, err := r.Lookup(RootIno, "c.txt")
	require.NoError(t, err)
	h, err := r.OpenFile(cIno)
	require.NoError(t, err)
	buf := make([]byte, h.Size())
	n, err := h.Read(0, buf)
	require.NoError(t, err)
	require.Equal(t, "new c", string(buf[:n]))

	// a.txt's content never changed between the base and delta builds, so
	// the delta layer's own metadata blob carries no record for it at all
	// (builder.Build's walk-diff); resolving and reading it here only
	// works if the merged directory entry and resolveIno's layer scan both
	// genuinely fall through to the base layer's record rather than
	// finding a (non-existent) copy re-flattened into the top layer.
	require.Len(t, r.layers, 2, "a delta mount over one base must expose both metadata layers")

	aIno, err := r.Lookup(RootIno, "a.txt")
	require.NoError(t, err)
	_, foundInTop := r.layers[0].lookup(aIno)
	require.False(t, foundInTop, "a.txt must not be re-emitted into the top layer when unchanged")
	_, foundInBase := r.layers[1].lookup(aIno)
	require.True(t, foundInBase, "a.txt's record must still be reachable in the base layer")

	ah, err := r.OpenFile(aIno)
	require.NoError(t, err)
	abuf := make([]byte, ah.Size())
	an, err := ah.Read(0, abuf)
	require.NoError(t, err)
	require.Equal(t, "base a", string(abuf[:an]), "unchanged content must read through from the base layer")
}
