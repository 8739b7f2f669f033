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

package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	puzzlefsdigest "github.com/puzzlefs/puzzlefs/digest"
	"github.com/puzzlefs/puzzlefs/inode"
	"github.com/puzzlefs/puzzlefs/integrity"
	"github.com/puzzlefs/puzzlefs/ocilayout"
	"github.com/puzzlefs/puzzlefs/schema"
	"github.com/puzzlefs/puzzlefs/store"
)

var enableFsVerityCommand = cli.Command{
	Name:      "enable-fs-verity",
	Usage:     "arm kernel fs-verity on every blob a manifest references (spec §4.6)",
	ArgsUsage: `<image_dir> <tag> <root_digest>`,

	Action: runEnableFsVerity,
}

// runEnableFsVerity implements spec §4.6's enable(manifest, root_digest):
// root_digest is the manifest digest the caller expects tag to currently
// resolve to (a guard against arming a stale or concurrently-rebuilt
// image). On success it re-points tag at the newly-armed manifest and
// prints that manifest's own measurement, which becomes the image's new
// root_digest.
func runEnableFsVerity(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		return errors.New("usage: puzzlefs-demo enable-fs-verity <image_dir> <tag> <root_digest>")
	}

	imageDir := ctx.Args().Get(0)
	tag := ctx.Args().Get(1)

	want, err := puzzlefsdigest.FromHex(ctx.Args().Get(2))
	if err != nil {
		return errors.Wrap(err, "parse root_digest")
	}

	s, err := store.Open(imageDir)
	if err != nil {
		return errors.Wrap(err, "open store")
	}

	idx, err := ocilayout.ReadIndex(imageDir)
	if err != nil {
		return errors.Wrap(err, "read index")
	}
	desc, ok := idx.FindTag(tag)
	if !ok {
		return errors.Errorf("tag %q not found", tag)
	}
	have, err := puzzlefsdigest.FromHex(desc.Digest.Encoded())
	if err != nil {
		return errors.Wrap(err, "parse manifest digest from index")
	}
	if have != want {
		return errors.Errorf("tag %q currently resolves to %s, not the given root_digest %s", tag, have, want)
	}

	manifestBlob, err := s.Read(have)
	if err != nil {
		return errors.Wrap(err, "read manifest blob")
	}
	manifest, err := schema.DecodeManifest(manifestBlob.Bytes())
	manifestBlob.Close()
	if err != nil {
		return errors.Wrap(err, "decode manifest")
	}

	fileDigests, err := referencedFileDigests(s, manifest)
	if err != nil {
		return errors.Wrap(err, "enumerate file-data blobs")
	}

	armed, err := integrity.Arm(s, manifest, fileDigests)
	if err != nil {
		return errors.Wrap(err, "arm integrity")
	}

	armedBytes, err := schema.EncodeManifest(armed)
	if err != nil {
		return errors.Wrap(err, "encode armed manifest")
	}
	w, err := s.Writer()
	if err != nil {
		return errors.Wrap(err, "open manifest writer")
	}
	if _, err := w.Write(armedBytes); err != nil {
		return errors.Wrap(err, "write armed manifest")
	}
	newDigest, newSize, err := w.Finish()
	if err != nil {
		return errors.Wrap(err, "finish armed manifest")
	}

	rootMeasurement, err := integrity.EnableAndMeasure(s, newDigest)
	if err != nil {
		return errors.Wrap(err, "arm manifest blob itself")
	}

	idx.PutTag(tag, ocilayout.ManifestDescriptor(newDigest, newSize, rootMeasurement.String()))
	if err := ocilayout.WriteIndex(imageDir, idx); err != nil {
		return errors.Wrap(err, "write index")
	}

	fmt.Println(rootMeasurement.String())
	return nil
}

// referencedFileDigests decodes every metadata layer the manifest lists and
// returns the distinct set of file-data blob digests referenced by regular
// file inodes' chunk lists, so Arm knows what beyond the metadata blobs
// themselves needs fs-verity enabled.
func referencedFileDigests(s *store.Store, manifest *inode.Manifest) ([]puzzlefsdigest.Digest, error) {
	seen := map[puzzlefsdigest.Digest]struct{}{}
	var out []puzzlefsdigest.Digest

	for _, ref := range manifest.Metadatas {
		blob, err := s.Read(ref.Digest)
		if err != nil {
			return nil, errors.Wrapf(err, "read metadata blob %s", ref.Digest)
		}
		inodes, err := schema.DecodeInodeVector(blob.Bytes())
		blob.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "decode metadata blob %s", ref.Digest)
		}

		for _, i := range inodes {
			if i.Mode.Kind != inode.KindFile {
				continue
			}
			for _, c := range i.Mode.Chunks {
				if _, ok := seen[c.Ref.Digest]; ok {
					continue
				}
				seen[c.Ref.Digest] = struct{}{}
				out = append(out, c.Ref.Digest)
			}
		}
	}
	return out, nil
}
