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
	"sort"

	"github.com/pkg/errors"

	puzzlefs "github.com/puzzlefs/puzzlefs"
	"github.com/puzzlefs/puzzlefs/inode"
	"github.com/puzzlefs/puzzlefs/schema"
	"github.com/puzzlefs/puzzlefs/store"
)

// baseLayer is the in-memory decoded form of an existing manifest's
// metadata stack, used by delta builds (Options.BaseTag) to carry forward
// stable inode numbers and to compute whiteouts for removed paths.
//
// This mirrors, at build time, the layered inode-resolution algorithm spec
// §4.5 describes for the reader (scan layers top to bottom, binary search
// each layer's inode vector by ino); the builder needs the same resolution
// to decide whether a given source path already has an assigned ino in the
// base image.
type baseLayer struct {
	manifest *inode.Manifest
	// layers[i] maps ino -> inode for manifest.Metadatas[i], topmost first.
	layers []map[uint64]*inode.Inode
	maxIno uint64
}

func loadBaseLayer(s *store.Store, tag string) (*baseLayer, error) {
	idx, err := readIndexFromStore(s)
	if err != nil {
		return nil, err
	}
	desc, ok := idx.FindTag(tag)
	if !ok {
		return nil, errors.Wrapf(puzzlefs.ErrNotFound, "base tag %q", tag)
	}

	manifestDigest, err := digestFromDescriptor(desc)
	if err != nil {
		return nil, err
	}
	manifestBlob, err := s.Read(manifestDigest)
	if err != nil {
		return nil, errors.Wrap(err, "read base manifest blob")
	}
	defer manifestBlob.Close()

	manifest, err := schema.DecodeManifest(manifestBlob.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "decode base manifest")
	}

	bl := &baseLayer{manifest: manifest}
	for _, ref := range manifest.Metadatas {
		metaBlob, err := s.Read(ref.Digest)
		if err != nil {
			return nil, errors.Wrapf(err, "read base metadata blob %s", ref.Digest)
		}
		inodes, err := schema.DecodeInodeVector(metaBlob.Bytes())
		metaBlob.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "decode base metadata blob %s", ref.Digest)
		}

		layer := make(map[uint64]*inode.Inode, len(inodes))
		for _, ino := range inodes {
			layer[ino.Ino] = ino
			if ino.Ino > bl.maxIno {
				bl.maxIno = ino.Ino
			}
		}
		bl.layers = append(bl.layers, layer)
	}

	return bl, nil
}

// lookup resolves an ino to its inode record, scanning layers top to bottom
// and returning the first hit (spec §4.5's layered inode resolution).
func (b *baseLayer) lookup(ino uint64) (*inode.Inode, bool) {
	for _, layer := range b.layers {
		if rec, ok := layer[ino]; ok {
			return rec, true
		}
	}
	return nil, false
}

// mergedEntries returns a directory's entries merged across layers
// according to look_below, starting from the given ino's topmost record,
// with entries whose target is a whiteout dropped (the same view
// reader.Readdir returns).
func (b *baseLayer) mergedEntries(ino uint64) []inode.DirEnt {
	rec, ok := b.lookup(ino)
	if !ok || rec.Mode.Kind != inode.KindDir {
		return nil
	}

	seen := map[string]bool{}
	var out []inode.DirEnt
	for _, e := range rec.Mode.Dir.Entries {
		if !seen[string(e.Name)] {
			seen[string(e.Name)] = true
			out = append(out, e)
		}
	}

	if rec.Mode.Dir.LookBelow {
		// Find the next layer below the one that produced rec and continue
		// merging. Since lookup() above always returns the topmost hit, we
		// need the layer index it came from to descend further; re-scan to
		// find it explicitly.
		for i, layer := range b.layers {
			cur, ok := layer[ino]
			if !ok || cur != rec {
				continue
			}
			for _, lowerLayer := range b.layers[i+1:] {
				lowerRec, ok := lowerLayer[ino]
				if !ok {
					continue
				}
				for _, e := range lowerRec.Mode.Dir.Entries {
					if !seen[string(e.Name)] {
						seen[string(e.Name)] = true
						out = append(out, e)
					}
				}
				if !lowerRec.Mode.Dir.LookBelow {
					break
				}
			}
			break
		}
	}

	live := out[:0]
	for _, e := range out {
		if target, ok := b.lookup(e.Ino); ok && target.Mode.Kind == inode.KindWhiteout {
			continue
		}
		live = append(live, e)
	}
	out = live

	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Name, out[j].Name) < 0 })
	return out
}

// resolvePath walks path's components (relPath, "/"-joined, "" for the
// root) from the root ino (1), returning the resolved ino if every
// component exists.
func (b *baseLayer) resolvePath(relPath string) (uint64, bool) {
	const rootIno = 1
	if relPath == "" {
		if _, ok := b.lookup(rootIno); ok {
			return rootIno, true
		}
		return 0, false
	}

	cur := uint64(rootIno)
	for _, comp := range splitPath(relPath) {
		entries := b.mergedEntries(cur)
		found := false
		for _, e := range entries {
			if string(e.Name) == comp {
				cur = e.Ino
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}
	return cur, true
}
