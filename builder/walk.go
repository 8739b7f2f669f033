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
	"sort"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/puzzlefs/puzzlefs/inode"
	internalsystem "github.com/puzzlefs/puzzlefs/internal/system"
)

// sourceNode is one filesystem object discovered while walking SourceDir,
// keyed by its path relative to SourceDir ("" for the root).
type sourceNode struct {
	relPath string
	fi      os.FileInfo
	// children holds directory entries in lexicographic order by name; nil
	// for non-directories.
	children []*sourceNode
}

// walkSource performs the breadth-first, lexicographic-within-directory
// walk spec §4.3 requires the content stream (and, in this implementation,
// inode numbering) to follow. The root directory is visited first.
func walkSource(root string) (*sourceNode, error) {
	fi, err := os.Lstat(root)
	if err != nil {
		return nil, errors.Wrap(err, "lstat source root")
	}
	if !fi.IsDir() {
		return nil, errors.Errorf("source %q is not a directory", root)
	}

	rootNode := &sourceNode{relPath: "", fi: fi}

	queue := []*sourceNode{rootNode}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		absPath := filepath.Join(root, cur.relPath)
		entries, err := os.ReadDir(absPath)
		if err != nil {
			return nil, errors.Wrapf(err, "readdir %q", absPath)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, e := range entries {
			childRel := filepath.Join(cur.relPath, e.Name())
			childAbs := filepath.Join(root, childRel)
			fi, err := os.Lstat(childAbs)
			if err != nil {
				return nil, errors.Wrapf(err, "lstat %q", childAbs)
			}
			child := &sourceNode{relPath: childRel, fi: fi}
			cur.children = append(cur.children, child)
			if fi.IsDir() {
				queue = append(queue, child)
			}
		}
	}

	return rootNode, nil
}

// bfsOrder flattens the tree produced by walkSource into breadth-first,
// lexicographic order (the root first), matching the chunk-stream and
// inode-numbering order spec §4.3/§4.4 require.
func bfsOrder(root *sourceNode) []*sourceNode {
	var out []*sourceNode
	queue := []*sourceNode{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, cur)
		queue = append(queue, cur.children...)
	}
	return out
}

// statInfo is the subset of POSIX stat(2) fields the builder records for an
// inode.
type statInfo struct {
	uid, gid    uint32
	permissions uint16
	major, minor uint32
}

func lstatInfo(fi os.FileInfo) (statInfo, error) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return statInfo{}, errors.Errorf("unsupported platform: no syscall.Stat_t for %q", fi.Name())
	}
	info := statInfo{
		uid:         st.Uid,
		gid:         st.Gid,
		permissions: uint16(fi.Mode().Perm()),
	}
	if fi.Mode()&(os.ModeDevice|os.ModeCharDevice) != 0 {
		info.major = unix.Major(uint64(st.Rdev)) //nolint:unconvert
		info.minor = unix.Minor(uint64(st.Rdev))  //nolint:unconvert
	}
	return info, nil
}

// kindOf classifies a source node's file mode into the puzzlefs inode.Kind
// tagged-union discriminant.
func kindOf(fi os.FileInfo) (inode.Kind, error) {
	switch mode := fi.Mode(); {
	case mode.IsRegular():
		return inode.KindFile, nil
	case mode.IsDir():
		return inode.KindDir, nil
	case mode&os.ModeSymlink != 0:
		return inode.KindSymlink, nil
	case mode&os.ModeNamedPipe != 0:
		return inode.KindFifo, nil
	case mode&os.ModeSocket != 0:
		return inode.KindSock, nil
	case mode&os.ModeCharDevice != 0:
		return inode.KindChr, nil
	case mode&os.ModeDevice != 0:
		return inode.KindBlk, nil
	default:
		return inode.KindUnknown, errors.Errorf("unsupported file type for %q", fi.Name())
	}
}

// readXattrs collects the extended attributes of path, using the same
// Llistxattr/Lgetxattr helpers umoci's tarGenerator.AddFile uses to build a
// tar header's PAX xattr records.
func readXattrs(path string) (map[string][]byte, error) {
	names, err := internalsystem.Llistxattr(path)
	if err != nil {
		return nil, errors.Wrapf(err, "llistxattr %q", path)
	}
	if len(names) == 0 {
		return nil, nil
	}
	xattrs := make(map[string][]byte, len(names))
	for _, name := range names {
		val, err := internalsystem.Lgetxattr(path, name)
		if err != nil {
			return nil, errors.Wrapf(err, "lgetxattr %q %q", path, name)
		}
		xattrs[name] = val
	}
	return xattrs, nil
}
