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
	"archive/tar"
	"os"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/puzzlefs/puzzlefs/inode"
	"github.com/puzzlefs/puzzlefs/pkg/system"
	"github.com/puzzlefs/puzzlefs/reader"
)

var extractCommand = cli.Command{
	Name:      "extract",
	Usage:     "materialize a tagged image's tree onto the local filesystem",
	ArgsUsage: `<image_dir> <tag> <dest_dir>`,

	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "digest",
			Usage: "expected root digest (spec §4.6 verify); mount fails if the tag resolves to anything else",
		},
	},

	Action: runExtract,
}

func runExtract(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		return errors.New("usage: puzzlefs-demo extract <image_dir> <tag> <dest_dir>")
	}

	opts, err := mountOptionsFromDigestFlag(ctx)
	if err != nil {
		return err
	}

	r, err := reader.Open(ctx.Args().Get(0), ctx.Args().Get(1), opts)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer r.Close()

	dest := ctx.Args().Get(2)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return errors.Wrap(err, "mkdir dest")
	}

	return extractDir(r, reader.RootIno, dest)
}

// extractDir recursively materializes ino (known to be a directory) and
// its descendants under dest. Grounded on umoci's oci/layer tar-extraction
// unpack loop (walk the merged tree, create each entry by kind), adapted
// from "unpack a tar stream" to "pull bytes through the reader's chunk
// resolution." Entry names come from the image's own (untrusted) metadata
// layer, so the destination path is computed with securejoin.SecureJoin
// rather than filepath.Join, refusing a crafted ".." entry name a shot at
// escaping dest.
func extractDir(r *reader.Reader, ino uint64, dest string) error {
	entries, err := r.Readdir(ino)
	if err != nil {
		return errors.Wrapf(err, "readdir inode %d", ino)
	}

	for _, e := range entries {
		childPath, err := securejoin.SecureJoin(dest, string(e.Name))
		if err != nil {
			return errors.Wrapf(err, "secure-join %q", e.Name)
		}
		attr, err := r.Getattr(e.Ino)
		if err != nil {
			return errors.Wrapf(err, "getattr %q", childPath)
		}

		if err := extractOne(r, attr, childPath); err != nil {
			return errors.Wrapf(err, "extract %q", childPath)
		}
	}
	return nil
}

func extractOne(r *reader.Reader, attr *inode.Inode, path string) error {
	switch attr.Mode.Kind {
	case inode.KindDir:
		if err := os.Mkdir(path, os.FileMode(attr.Permissions)); err != nil {
			return err
		}
		if err := extractDir(r, attr.Ino, path); err != nil {
			return err
		}
	case inode.KindFile:
		if err := extractFile(r, attr, path); err != nil {
			return err
		}
	case inode.KindSymlink:
		target, err := r.Readlink(attr.Ino)
		if err != nil {
			return err
		}
		if err := os.Symlink(string(target), path); err != nil {
			return err
		}
	case inode.KindFifo:
		mode := os.FileMode(attr.Permissions) | os.FileMode(system.Tarmode(tar.TypeFifo))
		if err := system.Mknod(path, mode, 0); err != nil {
			return err
		}
	case inode.KindChr, inode.KindBlk:
		typebit := system.Tarmode(tar.TypeChar)
		if attr.Mode.Kind == inode.KindBlk {
			typebit = system.Tarmode(tar.TypeBlock)
		}
		mode := os.FileMode(attr.Permissions) | os.FileMode(typebit)
		dev := system.Makedev(uint64(attr.Mode.Major), uint64(attr.Mode.Minor))
		if err := system.Mknod(path, mode, dev); err != nil {
			return err
		}
	case inode.KindSock:
		return errors.Errorf("cannot materialize a socket inode on extract: %q", path)
	default:
		return errors.Errorf("unsupported inode kind %s for %q", attr.Mode.Kind, path)
	}

	if err := os.Lchown(path, int(attr.Uid), int(attr.Gid)); err != nil {
		return err
	}
	for key, val := range attr.Xattrs() {
		if err := system.Lsetxattr(path, key, val, 0); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(r *reader.Reader, attr *inode.Inode, path string) error {
	h, err := r.OpenFile(attr.Ino)
	if err != nil {
		return err
	}

	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(attr.Permissions))
	if err != nil {
		return err
	}
	defer fh.Close()

	buf := make([]byte, 1<<20)
	var off int64
	for off < h.Size() {
		n, err := h.Read(off, buf)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		if _, err := fh.Write(buf[:n]); err != nil {
			return err
		}
		off += int64(n)
	}
	return nil
}
