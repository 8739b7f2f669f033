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

package vfs

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	puzzlefs "github.com/puzzlefs/puzzlefs"
)

func TestErrnoTranslation(t *testing.T) {
	cases := []struct {
		err  error
		want unix.Errno
	}{
		{nil, 0},
		{errors.Wrap(puzzlefs.ErrNotFound, "lookup"), unix.ENOENT},
		{errors.Wrap(puzzlefs.ErrFeatureUnsupported, "fs-verity"), unix.ENOTSUP},
		{errors.Wrap(puzzlefs.ErrInvalidFormat, "decode"), unix.EIO},
		{errors.Wrap(puzzlefs.ErrIntegrityFailed, "measure"), unix.EIO},
		{errors.New("some other failure"), unix.EIO},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Errno(tc.err))
	}
}

func TestExitCodeTranslation(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.Wrap(puzzlefs.ErrNotFound, "tag"), 2},
		{errors.Wrap(puzzlefs.ErrIntegrityFailed, "measure"), 3},
		{errors.Wrap(puzzlefs.ErrFeatureUnsupported, "fs-verity"), 4},
		{errors.New("unexpected"), 5},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ExitCode(tc.err))
	}
}

func TestIsNotFound(t *testing.T) {
	require.True(t, IsNotFound(errors.Wrap(puzzlefs.ErrNotFound, "x")))
	require.False(t, IsNotFound(errors.New("other")))
}
