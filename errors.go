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

// Package puzzlefs provides the sentinel error kinds shared by every
// puzzlefs subpackage (store, schema, chunker, builder, reader, integrity,
// vfs). Every other package wraps these with github.com/pkg/errors for
// context rather than minting its own sentinels, so that a VFS host can
// recover the kind with errors.Is/errors.Cause regardless of which layer
// produced the error.
package puzzlefs

import "errors"

// Error kinds named in the format's error handling design. A function that
// fails for one of these reasons wraps the matching sentinel with
// github.com/pkg/errors rather than returning a bare, unwrapped value.
var (
	// ErrNotFound indicates that a requested blob, reference, or tag does not
	// exist in the image store.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedVersion indicates a manifest was encoded with a
	// manifest_version this implementation does not support.
	ErrUnsupportedVersion = errors.New("unsupported manifest version")

	// ErrInvalidFormat indicates malformed wire encoding or a broken
	// structural invariant (non-monotone ino, bad union tag, truncated
	// list, and so on).
	ErrInvalidFormat = errors.New("invalid format")

	// ErrMissingBlob indicates a digest referenced by a manifest or inode
	// does not resolve to any blob in the store.
	ErrMissingBlob = errors.New("missing blob")

	// ErrInvalidInode indicates a dangling inode reference or an inode
	// vector that is not strictly increasing by ino.
	ErrInvalidInode = errors.New("invalid inode")

	// ErrIntegrityFailed indicates a measured digest did not match the
	// recorded or expected one.
	ErrIntegrityFailed = errors.New("integrity verification failed")

	// ErrFeatureUnsupported indicates the backing filesystem does not
	// support a requested feature (most commonly fs-verity).
	ErrFeatureUnsupported = errors.New("feature unsupported by backing filesystem")

	// ErrWhiteoutMisuse indicates a whiteout entry was used somewhere the
	// format does not allow one.
	ErrWhiteoutMisuse = errors.New("whiteout entry misuse")

	// ErrCompressionError indicates a compressed chunk could not be
	// decompressed.
	ErrCompressionError = errors.New("compression error")
)
