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

package system

import (
	"testing"
)

// TestMakedev checks the new_encode_dev bit-packing extract.go relies on
// when building a device node's dev_t from a stored major/minor pair.
func TestMakedev(t *testing.T) {
	for _, test := range []struct {
		major, minor uint64
		want         Dev_t
	}{
		{0, 0, 0},
		{1, 13, 0x10d},
		{52, 12, 0x340c},
		{2, 252, 0x2fc},
	} {
		got := Makedev(test.major, test.minor)
		if got != test.want {
			t.Errorf("Makedev(%d, %d) = %#x, want %#x", test.major, test.minor, got, test.want)
		}
	}
}
