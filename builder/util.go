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
	"strings"

	ispec "github.com/opencontainers/image-spec/specs-go/v1"

	puzzlefsdigest "github.com/puzzlefs/puzzlefs/digest"
	"github.com/puzzlefs/puzzlefs/ocilayout"
	"github.com/puzzlefs/puzzlefs/store"
)

func splitPath(relPath string) []string {
	if relPath == "" {
		return nil
	}
	return strings.Split(relPath, "/")
}

func readIndexFromStore(s *store.Store) (*ocilayout.Index, error) {
	return ocilayout.ReadIndex(s.Root())
}

func digestFromDescriptor(desc *ispec.Descriptor) (puzzlefsdigest.Digest, error) {
	return puzzlefsdigest.FromHex(desc.Digest.Encoded())
}
