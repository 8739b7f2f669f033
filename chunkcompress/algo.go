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

// Package chunkcompress provides a pluggable mechanism for compressing and
// decompressing chunk content (spec §4.3's "optionally compressed slice").
// Unlike a tar layer, where umoci's blobcompress package streams a whole
// layer through one long-lived pipe, puzzlefs chunks are independent,
// bounded-size byte slices that get compressed once at build time and
// decompressed independently at read time, so Algorithm here operates on
// whole in-memory byte slices rather than io.Reader streams.
//
// This package, its registry, and its gzip/zstd implementations are adapted
// from umoci's oci/casext/blobcompress package (Algorithm interface,
// RegisterAlgorithm/GetAlgorithm registry).
package chunkcompress

import (
	"fmt"
	"sync"

	"github.com/puzzlefs/puzzlefs/internal/assert"
)

// Algorithm compresses and decompresses chunk payloads. Name doubles as the
// identifier recorded in a manifest's CompressionAlgorithm field.
type Algorithm interface {
	// Name identifies this algorithm; it is what gets recorded in a
	// manifest's CompressionAlgorithm field and used to look the algorithm
	// back up via GetAlgorithm.
	Name() string

	// Compress returns the compressed form of plain.
	Compress(plain []byte) ([]byte, error)

	// Decompress returns the decompressed form of compressed, given the
	// expected decompressed length (chunk lengths are always known ahead
	// of time from the inode's chunk list, so callers can preallocate).
	Decompress(compressed []byte, expectedLen int) ([]byte, error)
}

// None performs no compression; Name is the empty string, matching a
// manifest whose CompressionAlgorithm is unset.
var None Algorithm = noopAlgo{}

type noopAlgo struct{}

func (noopAlgo) Name() string { return "" }

func (noopAlgo) Compress(plain []byte) ([]byte, error) {
	out := make([]byte, len(plain))
	copy(out, plain)
	return out, nil
}

func (noopAlgo) Decompress(compressed []byte, _ int) ([]byte, error) {
	out := make([]byte, len(compressed))
	copy(out, compressed)
	return out, nil
}

var (
	registryLock sync.RWMutex
	registry     = map[string]Algorithm{}
)

// RegisterAlgorithm adds algo to the set resolvable by GetAlgorithm. Returns
// an error if another algorithm with the same Name is already registered.
func RegisterAlgorithm(algo Algorithm) error {
	name := algo.Name()

	registryLock.Lock()
	defer registryLock.Unlock()

	if _, ok := registry[name]; ok {
		return fmt.Errorf("chunk compression algorithm %q already registered", name)
	}
	registry[name] = algo
	return nil
}

// MustRegisterAlgorithm is like RegisterAlgorithm but panics on error,
// intended for use in init functions.
func MustRegisterAlgorithm(algo Algorithm) {
	assert.NoError(RegisterAlgorithm(algo))
}

// GetAlgorithm looks up a registered Algorithm by name. Returns nil if no
// such algorithm is registered.
func GetAlgorithm(name string) Algorithm {
	registryLock.RLock()
	defer registryLock.RUnlock()
	return registry[name]
}

func init() {
	MustRegisterAlgorithm(None)
}
