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

// Package vfs translates reader package errors into the nearest POSIX
// errno (spec §7) for a VFS host binding (e.g. a FUSE or virtiofs driver)
// and the puzzlefs-demo CLI's process exit codes (spec §6).
//
// This translation-table shape is grounded on umoci's internal/funchelpers
// sentinel-error pattern (match by errors.Cause/errors.Is against a fixed
// set of sentinels defined once in the root package) rather than on any
// single umoci file, since umoci itself never talks to a VFS host and has
// no errno table of its own.
package vfs

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	puzzlefs "github.com/puzzlefs/puzzlefs"
)

// Errno maps err to the nearest POSIX errno per spec §7's table. Errors
// that don't match any known sentinel map to EIO, the catch-all for
// internal/unexpected failures.
func Errno(err error) unix.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, puzzlefs.ErrNotFound):
		return unix.ENOENT
	case errors.Is(err, puzzlefs.ErrFeatureUnsupported):
		return unix.ENOTSUP
	case errors.Is(err, puzzlefs.ErrInvalidFormat),
		errors.Is(err, puzzlefs.ErrInvalidInode),
		errors.Is(err, puzzlefs.ErrIntegrityFailed),
		errors.Is(err, puzzlefs.ErrMissingBlob),
		errors.Is(err, puzzlefs.ErrCompressionError),
		errors.Is(err, puzzlefs.ErrWhiteoutMisuse),
		errors.Is(err, puzzlefs.ErrUnsupportedVersion):
		return unix.EIO
	default:
		return unix.EIO
	}
}

// ExitCode maps err to the puzzlefs-demo CLI's process exit code (spec
// §6): 0 success, 1 usage error (the caller is expected to have already
// handled usage errors before reaching here), 2 image/tag not found, 3
// integrity failure, 4 unsupported feature, 5 any other I/O/format error.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, puzzlefs.ErrNotFound):
		return 2
	case errors.Is(err, puzzlefs.ErrIntegrityFailed):
		return 3
	case errors.Is(err, puzzlefs.ErrFeatureUnsupported):
		return 4
	default:
		return 5
	}
}

// IsNotFound is a convenience wrapper over errors.Is for hosts that only
// care about the not-found case (e.g. a lookup callback returning ENOENT
// without logging).
func IsNotFound(err error) bool {
	return errors.Is(err, puzzlefs.ErrNotFound)
}
