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

package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	puzzlefsdigest "github.com/puzzlefs/puzzlefs/digest"
	"github.com/puzzlefs/puzzlefs/inode"
	"github.com/puzzlefs/puzzlefs/schema"
	"github.com/puzzlefs/puzzlefs/store"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

// TestBuildSingleFileIsDeterministic covers spec §8 scenario 1: building
// the same single-file tree twice, into two separate image directories,
// must yield the same manifest digest.
func TestBuildSingleFileIsDeterministic(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "hello.txt", "hello, puzzlefs\n")

	img1 := filepath.Join(t.TempDir(), "image1")
	img2 := filepath.Join(t.TempDir(), "image2")

	res1, err := Build(Options{SourceDir: src, ImageDir: img1, Tag: "latest"})
	require.NoError(t, err)
	res2, err := Build(Options{SourceDir: src, ImageDir: img2, Tag: "latest"})
	require.NoError(t, err)

	require.Equal(t, res1.ManifestDigest, res2.ManifestDigest)
	require.Equal(t, res1.ManifestSize, res2.ManifestSize)

	s, err := store.Open(img1)
	require.NoError(t, err)
	blob, err := s.Read(res1.ManifestDigest)
	require.NoError(t, err)
	defer blob.Close()

	manifest, err := schema.DecodeManifest(blob.Bytes())
	require.NoError(t, err)
	require.Equal(t, inode.CurrentManifestVersion, manifest.ManifestVersion)
	require.Len(t, manifest.Metadatas, 1)

	metaBlob, err := s.Read(manifest.Metadatas[0].Digest)
	require.NoError(t, err)
	defer metaBlob.Close()

	inodes, err := schema.DecodeInodeVector(metaBlob.Bytes())
	require.NoError(t, err)
	require.Len(t, inodes, 2) // root dir + hello.txt

	var root, file *inode.Inode
	for _, rec := range inodes {
		switch rec.Mode.Kind {
		case inode.KindDir:
			root = rec
		case inode.KindFile:
			file = rec
		}
	}
	require.NotNil(t, root)
	require.NotNil(t, file)
	require.Len(t, root.Mode.Dir.Entries, 1)
	require.Equal(t, "hello.txt", string(root.Mode.Dir.Entries[0].Name))
	require.Equal(t, file.Ino, root.Mode.Dir.Entries[0].Ino)

	var total uint64
	for _, c := range file.Mode.Chunks {
		total += c.Length
	}
	require.Equal(t, uint64(len("hello, puzzlefs\n")), total)
}

// TestBuildDedupsSharedContentAcrossBuilds covers spec §8 scenario 2: two
// builds into the same image store that share identical file content
// reuse the same chunk blob rather than storing it twice.
func TestBuildDedupsSharedContentAcrossBuilds(t *testing.T) {
	img := t.TempDir() + "/image"

	src1 := t.TempDir()
	writeFile(t, src1, "a/shared.bin", "the quick brown fox jumps over the lazy dog")
	res1, err := Build(Options{SourceDir: src1, ImageDir: img, Tag: "v1"})
	require.NoError(t, err)

	s, err := store.Open(img)
	require.NoError(t, err)
	blob1, err := s.Read(res1.ManifestDigest)
	require.NoError(t, err)
	m1, err := schema.DecodeManifest(blob1.Bytes())
	blob1.Close()
	require.NoError(t, err)
	meta1, err := s.Read(m1.Metadatas[0].Digest)
	require.NoError(t, err)
	inodes1, err := schema.DecodeInodeVector(meta1.Bytes())
	meta1.Close()
	require.NoError(t, err)

	var file1 *inode.Inode
	for _, rec := range inodes1 {
		if rec.Mode.Kind == inode.KindFile {
			file1 = rec
		}
	}
	require.NotNil(t, file1)
	require.Len(t, file1.Mode.Chunks, 1)
	sharedDigest := file1.Mode.Chunks[0].Ref.Digest

	blobPathBefore, err := os.Stat(filepath.Join(img, "blobs", "sha256", sharedDigest.String()))
	require.NoError(t, err)

	src2 := t.TempDir()
	writeFile(t, src2, "b/copy.bin", "the quick brown fox jumps over the lazy dog")
	writeFile(t, src2, "b/extra.txt", "")
	_, err = Build(Options{SourceDir: src2, ImageDir: img, Tag: "v2"})
	require.NoError(t, err)

	blobPathAfter, err := os.Stat(filepath.Join(img, "blobs", "sha256", sharedDigest.String()))
	require.NoError(t, err)
	require.Equal(t, blobPathBefore.ModTime(), blobPathAfter.ModTime())
}

// TestBuildDeltaCarriesForwardBaseInoAndWhiteouts exercises a delta build:
// an unchanged path keeps its base ino and is left out of the new layer
// entirely (spec §9's persistent layer stack), a removed path is recorded
// as a whiteout dirent, and the changed root directory carries only the
// partial entry list (the whiteout) with look_below set so the reader
// falls through to the base for everything else.
func TestBuildDeltaCarriesForwardBaseInoAndWhiteouts(t *testing.T) {
	img := t.TempDir() + "/image"

	baseSrc := t.TempDir()
	writeFile(t, baseSrc, "keep.txt", "unchanged content")
	writeFile(t, baseSrc, "remove.txt", "will be deleted")
	_, err := Build(Options{SourceDir: baseSrc, ImageDir: img, Tag: "base"})
	require.NoError(t, err)

	s, err := store.Open(img)
	require.NoError(t, err)

	baseBlob, err := s.Read(mustManifestDigest(t, s, "base"))
	require.NoError(t, err)
	baseManifest, err := schema.DecodeManifest(baseBlob.Bytes())
	baseBlob.Close()
	require.NoError(t, err)
	baseMeta, err := s.Read(baseManifest.Metadatas[0].Digest)
	require.NoError(t, err)
	baseInodes, err := schema.DecodeInodeVector(baseMeta.Bytes())
	baseMeta.Close()
	require.NoError(t, err)
	var baseRoot *inode.Inode
	var baseKeepIno uint64
	for _, rec := range baseInodes {
		if rec.Mode.Kind == inode.KindDir {
			baseRoot = rec
		}
	}
	require.NotNil(t, baseRoot)
	for _, e := range baseRoot.Mode.Dir.Entries {
		if string(e.Name) == "keep.txt" {
			baseKeepIno = e.Ino
		}
	}
	require.NotZero(t, baseKeepIno)

	deltaSrc := t.TempDir()
	writeFile(t, deltaSrc, "keep.txt", "unchanged content")
	writeFile(t, deltaSrc, ".wh.remove.txt", "")
	res, err := Build(Options{SourceDir: deltaSrc, ImageDir: img, Tag: "delta", BaseTag: "base"})
	require.NoError(t, err)

	blob, err := s.Read(res.ManifestDigest)
	require.NoError(t, err)
	manifest, err := schema.DecodeManifest(blob.Bytes())
	blob.Close()
	require.NoError(t, err)
	require.Len(t, manifest.Metadatas, 2)

	topMeta, err := s.Read(manifest.Metadatas[0].Digest)
	require.NoError(t, err)
	topInodes, err := schema.DecodeInodeVector(topMeta.Bytes())
	topMeta.Close()
	require.NoError(t, err)

	var root *inode.Inode
	var whiteoutIno uint64
	var sawKeepInTopEntries bool
	for _, rec := range topInodes {
		if rec.Mode.Kind == inode.KindDir {
			root = rec
		}
	}
	require.NotNil(t, root)
	require.True(t, root.Mode.Dir.LookBelow, "changed directory with a base counterpart must set look_below")
	for _, e := range root.Mode.Dir.Entries {
		switch string(e.Name) {
		case "keep.txt":
			sawKeepInTopEntries = true
		case "remove.txt":
			whiteoutIno = e.Ino
		}
	}
	require.False(t, sawKeepInTopEntries, "unchanged entry must not be re-listed in the top layer; look_below pulls it from the base")
	require.NotZero(t, whiteoutIno, "removed path should be recorded as a whiteout dirent")

	var whiteoutRec *inode.Inode
	var keepRecStillInTop bool
	for _, rec := range topInodes {
		if rec.Ino == whiteoutIno {
			whiteoutRec = rec
		}
		if rec.Ino == baseKeepIno {
			keepRecStillInTop = true
		}
	}
	require.NotNil(t, whiteoutRec)
	require.Equal(t, inode.KindWhiteout, whiteoutRec.Mode.Kind)
	require.False(t, keepRecStillInTop, "unchanged file's inode record must not be re-flattened into the delta layer")
}

func mustManifestDigest(t *testing.T, s *store.Store, tag string) puzzlefsdigest.Digest {
	t.Helper()
	idx, err := readIndexFromStore(s)
	require.NoError(t, err)
	desc, ok := idx.FindTag(tag)
	require.True(t, ok)
	d, err := digestFromDescriptor(desc)
	require.NoError(t, err)
	return d
}
