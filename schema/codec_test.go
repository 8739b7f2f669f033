// SPDX-License-Identifier: Apache-2.0
package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	puzzlefs "github.com/puzzlefs/puzzlefs"
	"github.com/puzzlefs/puzzlefs/digest"
	"github.com/puzzlefs/puzzlefs/inode"
)

func sampleDigest(seed string) digest.Digest {
	return digest.FromBytes([]byte(seed))
}

func TestManifestRoundTrip(t *testing.T) {
	m := &inode.Manifest{
		ManifestVersion:      inode.CurrentManifestVersion,
		CompressionAlgorithm: "zstd",
		Metadatas: []inode.BlobRef{
			{Digest: sampleDigest("top"), Offset: 0, Compressed: false},
			{Digest: sampleDigest("base"), Offset: 0, Compressed: true},
		},
		FsVerityData: []inode.FsVerityEntry{
			{Digest: sampleDigest("file1"), Measurement: sampleDigest("measurement1")},
		},
	}

	b, err := EncodeManifest(m)
	require.NoError(t, err)

	got, err := DecodeManifest(b)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestManifestRejectsUnsupportedVersion(t *testing.T) {
	m := &inode.Manifest{ManifestVersion: 1}
	_, err := EncodeManifest(m)
	require.ErrorIs(t, err, puzzlefs.ErrUnsupportedVersion)

	// A blob claiming an old version must also be rejected on decode.
	e := &encoder{}
	e.u64(1)
	e.bytesWithLen(nil)
	e.u64(0)
	e.u64(0)
	_, err = DecodeManifest(e.buf.Bytes())
	require.ErrorIs(t, err, puzzlefs.ErrUnsupportedVersion)
}

func TestManifestRejectsTruncatedInput(t *testing.T) {
	_, err := DecodeManifest([]byte{1, 2, 3})
	require.ErrorIs(t, err, puzzlefs.ErrInvalidFormat)
}

func TestInodeVectorRoundTrip(t *testing.T) {
	inodes := []*inode.Inode{
		{
			Ino:         1,
			Mode:        inode.Mode{Kind: inode.KindDir, Dir: inode.DirectoryPayload{Entries: []inode.DirEnt{{Ino: 2, Name: []byte("file.txt")}, {Ino: 3, Name: []byte("link")}}, LookBelow: true}},
			Uid:         0,
			Gid:         0,
			Permissions: 0o755,
		},
		{
			Ino: 2,
			Mode: inode.Mode{Kind: inode.KindFile, Chunks: []inode.Chunk{
				{Ref: inode.BlobRef{Digest: sampleDigest("chunk-a"), Offset: 0, Compressed: true}, Length: 4096},
				{Ref: inode.BlobRef{Digest: sampleDigest("chunk-b"), Offset: 4096, Compressed: true}, Length: 1024},
			}},
			Uid:         1000,
			Gid:         1000,
			Permissions: 0o644,
			Additional: &inode.Additional{
				Xattrs: map[string][]byte{
					"security.capability": []byte{0x01, 0x02},
					"user.comment":        []byte("hello"),
				},
			},
		},
		{
			Ino:         3,
			Mode:        inode.Mode{Kind: inode.KindSymlink},
			Uid:         0,
			Gid:         0,
			Permissions: 0o777,
			Additional:  &inode.Additional{Symlink: []byte("../target")},
		},
		{
			Ino:         4,
			Mode:        inode.Mode{Kind: inode.KindChr, Major: 5, Minor: 1},
			Permissions: 0o666,
		},
		{
			Ino:  5,
			Mode: inode.Mode{Kind: inode.KindWhiteout},
		},
	}

	b, err := EncodeInodeVector(inodes)
	require.NoError(t, err)

	got, err := DecodeInodeVector(b)
	require.NoError(t, err)
	assert.Equal(t, inodes, got)
}

func TestInodeVectorRejectsNonIncreasingIno(t *testing.T) {
	inodes := []*inode.Inode{
		{Ino: 5, Mode: inode.Mode{Kind: inode.KindFile}},
		{Ino: 3, Mode: inode.Mode{Kind: inode.KindFile}},
	}
	_, err := EncodeInodeVector(inodes)
	require.ErrorIs(t, err, puzzlefs.ErrInvalidInode)
}

func TestInodeVectorRejectsOversizeSymlink(t *testing.T) {
	target := make([]byte, inode.MaxSymlinkTarget+1)
	for i := range target {
		target[i] = 'a'
	}
	inodes := []*inode.Inode{
		{Ino: 1, Mode: inode.Mode{Kind: inode.KindSymlink}, Additional: &inode.Additional{Symlink: target}},
	}

	b, err := EncodeInodeVector(inodes)
	require.NoError(t, err)

	_, err = DecodeInodeVector(b)
	require.ErrorIs(t, err, puzzlefs.ErrInvalidFormat)
}

func TestInodeVectorRejectsMissingSymlinkTarget(t *testing.T) {
	inodes := []*inode.Inode{
		{Ino: 1, Mode: inode.Mode{Kind: inode.KindSymlink}},
	}
	b, err := EncodeInodeVector(inodes)
	require.NoError(t, err)

	_, err = DecodeInodeVector(b)
	require.ErrorIs(t, err, puzzlefs.ErrInvalidFormat)
}

func TestInodeVectorRejectsUnsortedXattrsAtDecode(t *testing.T) {
	e := &encoder{}
	e.u64(1) // one inode
	e.u64(1) // ino
	e.tag(uint8(inode.KindFile))
	e.u32(0)
	e.u32(0)
	e.u16(0o644)
	e.u64(0) // zero chunks

	e.tag(flagHasAdditional | flagHasXattrs)
	e.u64(2) // two xattrs, intentionally out of order
	e.bytesWithLen([]byte("zzz"))
	e.bytesWithLen([]byte("v1"))
	e.bytesWithLen([]byte("aaa"))
	e.bytesWithLen([]byte("v2"))

	_, err := DecodeInodeVector(e.buf.Bytes())
	require.ErrorIs(t, err, puzzlefs.ErrInvalidFormat)
}

func TestEmptyFileChunkList(t *testing.T) {
	inodes := []*inode.Inode{
		{Ino: 1, Mode: inode.Mode{Kind: inode.KindFile, Chunks: nil}, Permissions: 0o644},
	}
	b, err := EncodeInodeVector(inodes)
	require.NoError(t, err)

	got, err := DecodeInodeVector(b)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Mode.Chunks)
}
