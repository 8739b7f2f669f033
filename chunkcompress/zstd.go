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

package chunkcompress

import (
	zstd "github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Zstd provides zstd chunk compression, grounded on umoci's
// blobcompress.Zstd (same library), adapted to whole-chunk encode/decode
// calls rather than streaming.
var Zstd Algorithm = zstdAlgo{}

type zstdAlgo struct{}

func (zstdAlgo) Name() string { return "zstd" }

func (zstdAlgo) Compress(plain []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create zstd encoder")
	}
	defer enc.Close()
	return enc.EncodeAll(plain, make([]byte, 0, len(plain))), nil
}

func (zstdAlgo) Decompress(compressed []byte, expectedLen int) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create zstd decoder")
	}
	defer dec.Close()

	out, err := dec.DecodeAll(compressed, make([]byte, 0, expectedLen))
	if err != nil {
		return nil, errors.Wrap(err, "zstd decompress chunk")
	}
	return out, nil
}

func init() {
	MustRegisterAlgorithm(Zstd)
}
