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
	"bytes"
	"io"
	"os"
	"sort"

	"github.com/apex/log"
	"github.com/pkg/errors"

	puzzlefs "github.com/puzzlefs/puzzlefs"
	"github.com/puzzlefs/puzzlefs/chunkcompress"
	puzzlefsdigest "github.com/puzzlefs/puzzlefs/digest"
	"github.com/puzzlefs/puzzlefs/inode"
	"github.com/puzzlefs/puzzlefs/internal/iohelpers"
	"github.com/puzzlefs/puzzlefs/ocilayout"
	"github.com/puzzlefs/puzzlefs/schema"
	"github.com/puzzlefs/puzzlefs/store"
	puzzlefschunker "github.com/puzzlefs/puzzlefs/chunker"
)

// whPrefix marks a source path as a whiteout directive rather than literal
// content, the same on-disk convention umoci's tar generator uses for OCI
// layer tars (oci/layer/tar_generate.go's whPrefix), adapted here to mark
// deletions relative to Options.BaseTag instead of relative to an
// already-extracted rootfs.
const whPrefix = ".wh."

// Result is returned by Build: the manifest's digest (the value an index
// entry, and a `puzzlefs-demo build` CLI invocation, reports) and size.
type Result struct {
	ManifestDigest puzzlefsdigest.Digest
	ManifestSize   int64
}

// Build walks opts.SourceDir and produces a new manifest in opts.ImageDir,
// tagged opts.Tag (spec §4.4). If opts.BaseTag is set, the new metadata
// layer is written on top of that tag's existing manifest stack and inode
// numbers already present in the base are carried forward so that the
// layered lookup invariant (same ino in two layers means "the same
// object") holds; paths present in the base but absent from SourceDir are
// recorded as whiteouts.
func Build(opts Options) (*Result, error) {
	if _, err := os.Stat(opts.ImageDir); os.IsNotExist(err) {
		if err := ocilayout.Create(opts.ImageDir); err != nil {
			return nil, errors.Wrap(err, "create image directory")
		}
	}
	s, err := store.Open(opts.ImageDir)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}

	var base *baseLayer
	if opts.BaseTag != "" {
		base, err = loadBaseLayer(s, opts.BaseTag)
		if err != nil {
			return nil, errors.Wrap(err, "load base layer")
		}
	}

	root, err := walkSource(opts.SourceDir)
	if err != nil {
		return nil, errors.Wrap(err, "walk source tree")
	}
	nodes := bfsOrder(root)

	b := &buildState{
		opts:    opts,
		store:   s,
		base:    base,
		nextIno: 1,
	}
	if base != nil {
		b.nextIno = base.maxIno + 1
	}

	if err := b.assignInodes(nodes); err != nil {
		return nil, err
	}
	if err := b.chunkRegularFiles(nodes); err != nil {
		return nil, err
	}
	inodes, err := b.buildInodes(nodes)
	if err != nil {
		return nil, err
	}

	sort.Slice(inodes, func(i, j int) bool { return inodes[i].Ino < inodes[j].Ino })

	metaBytes, err := schema.EncodeInodeVector(inodes)
	if err != nil {
		return nil, errors.Wrap(err, "encode metadata blob")
	}
	metaDigest, metaSize, err := writeBlob(s, metaBytes)
	if err != nil {
		return nil, errors.Wrap(err, "write metadata blob")
	}
	log.Debugf("builder: wrote metadata blob %s (%d bytes, %d inodes)", metaDigest, metaSize, len(inodes))

	manifest := &inode.Manifest{
		ManifestVersion:      inode.CurrentManifestVersion,
		CompressionAlgorithm: b.opts.compress().Name(),
		Metadatas:            []inode.BlobRef{{Digest: metaDigest}},
	}
	if base != nil {
		manifest.Metadatas = append(manifest.Metadatas, base.manifest.Metadatas...)
	}

	manifestBytes, err := schema.EncodeManifest(manifest)
	if err != nil {
		return nil, errors.Wrap(err, "encode manifest")
	}
	manifestDigest, manifestSize, err := writeBlob(s, manifestBytes)
	if err != nil {
		return nil, errors.Wrap(err, "write manifest blob")
	}

	idx, err := ocilayout.ReadIndex(opts.ImageDir)
	if err != nil {
		return nil, errors.Wrap(err, "read index")
	}
	idx.PutTag(opts.Tag, ocilayout.ManifestDescriptor(manifestDigest, manifestSize, ""))
	if err := ocilayout.WriteIndex(opts.ImageDir, idx); err != nil {
		return nil, errors.Wrap(err, "write index")
	}

	return &Result{ManifestDigest: manifestDigest, ManifestSize: manifestSize}, nil
}

func writeBlob(s *store.Store, content []byte) (puzzlefsdigest.Digest, int64, error) {
	w, err := s.Writer()
	if err != nil {
		return puzzlefsdigest.Digest{}, 0, err
	}
	if _, err := w.Write(content); err != nil {
		return puzzlefsdigest.Digest{}, 0, err
	}
	return w.Finish()
}

// buildState carries the mutable bookkeeping threaded through a single
// Build call.
type buildState struct {
	opts  Options
	store *store.Store
	base  *baseLayer

	nextIno uint64

	// ino, assigned once per node by assignInodes.
	ino map[*sourceNode]uint64

	// chunks[relPath] is the file's ordered chunk list, populated by
	// chunkRegularFiles.
	chunks map[string][]inode.Chunk
}

func (b *buildState) assignInodes(nodes []*sourceNode) error {
	b.ino = make(map[*sourceNode]uint64, len(nodes))
	for _, n := range nodes {
		if isWhiteoutMarker(n) {
			continue
		}
		if b.base != nil {
			if existing, ok := b.base.resolvePath(n.relPath); ok {
				b.ino[n] = existing
				continue
			}
		}
		b.ino[n] = b.nextIno
		b.nextIno++
	}
	return nil
}

// isWhiteoutMarker reports whether n's basename uses the whPrefix
// convention that marks it as a delete-directive rather than literal
// content to include in the new layer.
func isWhiteoutMarker(n *sourceNode) bool {
	name := baseName(n.relPath)
	return len(name) > len(whPrefix) && name[:len(whPrefix)] == whPrefix
}

func baseName(relPath string) string {
	comps := splitPath(relPath)
	if len(comps) == 0 {
		return ""
	}
	return comps[len(comps)-1]
}

// chunkRegularFiles concatenates every regular file's content, in BFS
// stream order, into a single logical stream; runs the chunker over it
// once (so CDC boundaries may span file boundaries per spec §4.3); writes
// each resulting chunk as its own blob; and records, per file, the ordered
// list of (BlobRef, length) slices intersecting that file's byte range.
func (b *buildState) chunkRegularFiles(nodes []*sourceNode) error {
	type fileSpan struct {
		node        *sourceNode
		start, size int64
	}

	var stream bytes.Buffer
	var spans []fileSpan

	for _, n := range nodes {
		if isWhiteoutMarker(n) || !n.fi.Mode().IsRegular() {
			continue
		}
		content, err := os.ReadFile(pathJoin(b.opts.SourceDir, n.relPath))
		if err != nil {
			return errors.Wrapf(err, "read %q", n.relPath)
		}
		spans = append(spans, fileSpan{node: n, start: int64(stream.Len()), size: int64(len(content))})
		stream.Write(content)
	}

	chunks := puzzlefschunker.SplitBytes(stream.Bytes())

	compress := b.opts.compress()
	type writtenChunk struct {
		digest     puzzlefsdigest.Digest
		compressed bool
	}
	written := make([]writtenChunk, len(chunks))
	for i, c := range chunks {
		payload := c.Data
		compressed := false
		if compress.Name() != "" {
			out, err := compress.Compress(c.Data)
			if err != nil {
				return errors.Wrap(err, "compress chunk")
			}
			payload = out
			compressed = true
		}
		d, _, err := writeBlob(b.store, payload)
		if err != nil {
			return errors.Wrap(err, "write chunk blob")
		}
		written[i] = writtenChunk{digest: d, compressed: compressed}
	}

	b.chunks = make(map[string][]inode.Chunk, len(spans))
	for _, span := range spans {
		end := span.start + span.size
		var fileChunks []inode.Chunk
		for i, c := range chunks {
			chunkStart, chunkEnd := c.Offset, c.Offset+c.Length
			lo, hi := max64(span.start, chunkStart), min64(end, chunkEnd)
			if lo >= hi {
				continue
			}
			fileChunks = append(fileChunks, inode.Chunk{
				Ref: inode.BlobRef{
					Digest:     written[i].digest,
					Offset:     uint64(lo - chunkStart),
					Compressed: written[i].compressed,
				},
				Length: uint64(hi - lo),
			})
		}
		b.chunks[span.node.relPath] = fileChunks
	}

	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func pathJoin(root, relPath string) string {
	if relPath == "" {
		return root
	}
	return root + string(os.PathSeparator) + relPath
}

// buildInodes produces this layer's inode vector. For a full build (no base
// layer) every live node gets a record, same as always. For a delta build
// (spec §9's persistent layer stack), a node whose own record would be
// byte-for-byte identical to what the base layer already has is left out
// entirely: the reader's layered lookup (spec §4.5) falls through to the
// base for that ino, so an unchanged subtree costs this layer nothing
// beyond the directory entries needed to reach it. Any whiteouts found
// along the way share a single sentinel inode.
func (b *buildState) buildInodes(nodes []*sourceNode) ([]*inode.Inode, error) {
	var out []*inode.Inode
	var whiteoutIno uint64
	var haveWhiteout bool

	needWhiteoutIno := func() uint64 {
		if !haveWhiteout {
			whiteoutIno = b.nextIno
			b.nextIno++
			haveWhiteout = true
			out = append(out, &inode.Inode{Ino: whiteoutIno, Mode: inode.Mode{Kind: inode.KindWhiteout}})
		}
		return whiteoutIno
	}

	for _, n := range nodes {
		if isWhiteoutMarker(n) {
			continue
		}
		changed, err := b.nodeChanged(n)
		if err != nil {
			return nil, err
		}
		if !changed {
			continue
		}
		ino, err := b.buildOneInode(n, needWhiteoutIno)
		if err != nil {
			return nil, err
		}
		out = append(out, ino)
	}

	return out, nil
}

// nodeChanged reports whether n needs its own record in the new layer. A
// full build (no base) always needs one. A delta build skips a node whose
// kind, ownership, permissions, xattrs, and kind-specific payload
// (directory name set, file content, symlink target, device numbers) all
// match what the base layer already records at the same path.
func (b *buildState) nodeChanged(n *sourceNode) (bool, error) {
	if b.base == nil {
		return true, nil
	}
	baseIno, ok := b.base.resolvePath(n.relPath)
	if !ok {
		return true, nil
	}
	baseRec, ok := b.base.lookup(baseIno)
	if !ok {
		return true, nil
	}

	kind, err := kindOf(n.fi)
	if err != nil {
		return false, err
	}
	if kind != baseRec.Mode.Kind {
		return true, nil
	}

	info, err := lstatInfo(n.fi)
	if err != nil {
		return false, err
	}
	if info.uid != baseRec.Uid || info.gid != baseRec.Gid || info.permissions != baseRec.Permissions {
		return true, nil
	}

	path := pathJoin(b.opts.SourceDir, n.relPath)
	xattrs, err := readXattrs(path)
	if err != nil {
		return false, errors.Wrapf(err, "read xattrs %q", n.relPath)
	}
	if !xattrsEqual(xattrs, baseRec.Xattrs()) {
		return true, nil
	}

	switch kind {
	case inode.KindDir:
		// A directory's own record only needs to change when a child name
		// is being added or removed; content changes to a child are
		// carried by that child's own (possibly re-emitted) record.
		entries, _, err := b.dirEntries(n, func() uint64 { return 0 })
		if err != nil {
			return false, err
		}
		return len(entries) > 0, nil
	case inode.KindFile:
		content, err := os.ReadFile(path)
		if err != nil {
			return false, errors.Wrapf(err, "read %q", n.relPath)
		}
		baseContent, err := b.baseFileContent(baseRec)
		if err != nil {
			return false, err
		}
		return !bytes.Equal(content, baseContent), nil
	case inode.KindSymlink:
		target, err := os.Readlink(path)
		if err != nil {
			return false, errors.Wrapf(err, "readlink %q", n.relPath)
		}
		return !bytes.Equal([]byte(target), baseRec.SymlinkTarget()), nil
	case inode.KindChr, inode.KindBlk:
		return info.major != baseRec.Mode.Major || info.minor != baseRec.Mode.Minor, nil
	default:
		return false, nil
	}
}

// baseFileContent reconstructs a regular file's full content from its
// base-layer chunk list, mirroring reader/vfs.go's Handle.Read chunk
// resolution (same blob store, same whole-buffer Decompress contract), so a
// delta build can compare against a source file's current bytes without
// involving the reader package.
func (b *buildState) baseFileContent(rec *inode.Inode) ([]byte, error) {
	var buf bytes.Buffer
	var counted int64
	for _, c := range rec.Mode.Chunks {
		raw, err := b.store.Read(c.Ref.Digest)
		if err != nil {
			return nil, errors.Wrapf(err, "read base chunk blob %s", c.Ref.Digest)
		}
		plain := raw.Bytes()
		if c.Ref.Compressed {
			algo := chunkcompress.GetAlgorithm(b.base.manifest.CompressionAlgorithm)
			if algo == nil {
				raw.Close()
				return nil, errors.Errorf("unknown compression algorithm %q", b.base.manifest.CompressionAlgorithm)
			}
			decompressed, err := algo.Decompress(plain, int(c.Length))
			if err != nil {
				raw.Close()
				return nil, errors.Wrap(err, "decompress base chunk")
			}
			plain = decompressed
		}
		end := c.Ref.Offset + c.Length
		if end > uint64(len(plain)) {
			raw.Close()
			return nil, errors.Errorf("base chunk %s: slice [%d:%d] exceeds decompressed length %d", c.Ref.Digest, c.Ref.Offset, end, len(plain))
		}
		cr := iohelpers.CountReader(bytes.NewReader(plain[c.Ref.Offset:end]))
		if _, err := io.Copy(&buf, cr); err != nil {
			raw.Close()
			return nil, errors.Wrapf(err, "copy base chunk %s", c.Ref.Digest)
		}
		counted += cr.BytesRead()
		raw.Close()
	}
	log.Debugf("builder: reconstructed %d base bytes for unchanged-content comparison", counted)
	return buf.Bytes(), nil
}

func xattrsEqual(a, b map[string][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok || !bytes.Equal(v, bv) {
			return false
		}
	}
	return true
}

func (b *buildState) buildOneInode(n *sourceNode, needWhiteoutIno func() uint64) (*inode.Inode, error) {
	kind, err := kindOf(n.fi)
	if err != nil {
		return nil, err
	}
	info, err := lstatInfo(n.fi)
	if err != nil {
		return nil, err
	}

	rec := &inode.Inode{
		Ino:         b.ino[n],
		Uid:         info.uid,
		Gid:         info.gid,
		Permissions: info.permissions,
		Mode:        inode.Mode{Kind: kind},
	}

	path := pathJoin(b.opts.SourceDir, n.relPath)

	switch kind {
	case inode.KindDir:
		entries, lookBelow, err := b.dirEntries(n, needWhiteoutIno)
		if err != nil {
			return nil, err
		}
		rec.Mode.Dir = inode.DirectoryPayload{Entries: entries, LookBelow: lookBelow}
	case inode.KindFile:
		rec.Mode.Chunks = b.chunks[n.relPath]
	case inode.KindChr, inode.KindBlk:
		rec.Mode.Major, rec.Mode.Minor = info.major, info.minor
	case inode.KindSymlink:
		target, err := os.Readlink(path)
		if err != nil {
			return nil, errors.Wrapf(err, "readlink %q", n.relPath)
		}
		if len(target) > inode.MaxSymlinkTarget {
			return nil, errors.Wrapf(puzzlefs.ErrInvalidFormat, "symlink target for %q exceeds max length %d", n.relPath, inode.MaxSymlinkTarget)
		}
		rec.Additional = &inode.Additional{Symlink: []byte(target)}
	}

	xattrs, err := readXattrs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read xattrs %q", n.relPath)
	}
	if len(xattrs) > 0 {
		if rec.Additional == nil {
			rec.Additional = &inode.Additional{}
		}
		rec.Additional.Xattrs = xattrs
	}

	return rec, nil
}

// dirEntries builds n's dirent list and reports whether the base layer
// should be consulted for the rest (spec §9's look_below). For a full
// build, or a directory with no base counterpart, the list is the complete,
// authoritative set of live children (look_below false: nothing to fall
// through to). For a delta build against an existing base directory, the
// list is partial: only newly added names and whiteout entries for names
// the base had but this build no longer does (look_below true: every
// unchanged name is inherited from the base record by the reader's merge,
// spec §4.5, rather than copied forward here).
func (b *buildState) dirEntries(n *sourceNode, needWhiteoutIno func() uint64) ([]inode.DirEnt, bool, error) {
	var baseNames map[string]bool
	haveBase := false
	if b.base != nil {
		if baseIno, ok := b.base.resolvePath(n.relPath); ok {
			haveBase = true
			baseNames = make(map[string]bool)
			for _, e := range b.base.mergedEntries(baseIno) {
				baseNames[string(e.Name)] = true
			}
		}
	}

	var entries []inode.DirEnt
	live := map[string]bool{}

	for _, child := range n.children {
		name := baseName(child.relPath)
		if isWhiteoutMarker(child) {
			stripped := name[len(whPrefix):]
			if !haveBase || baseNames[stripped] {
				entries = append(entries, inode.DirEnt{Ino: needWhiteoutIno(), Name: []byte(stripped)})
			}
			continue
		}
		live[name] = true
		if !haveBase || !baseNames[name] {
			entries = append(entries, inode.DirEnt{Ino: b.ino[child], Name: []byte(name)})
		}
	}

	if haveBase {
		for name := range baseNames {
			if !live[name] && !hasWhiteoutFor(entries, name) {
				entries = append(entries, inode.DirEnt{Ino: needWhiteoutIno(), Name: []byte(name)})
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].Name, entries[j].Name) < 0 })
	return entries, haveBase, nil
}

func hasWhiteoutFor(entries []inode.DirEnt, name string) bool {
	for _, e := range entries {
		if string(e.Name) == name {
			return true
		}
	}
	return false
}
