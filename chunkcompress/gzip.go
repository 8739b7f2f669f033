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
	"bytes"
	"io"

	gzip "github.com/klauspost/pgzip"
	"github.com/pkg/errors"
)

// Gzip provides concurrent gzip chunk compression, grounded on umoci's
// blobcompress.Gzip (same library, same concurrency knob), adapted from a
// streaming pipe to a whole-chunk in-memory call since chunks are bounded by
// chunker.MaxSize rather than an unbounded layer stream.
var Gzip Algorithm = gzipAlgo{}

type gzipAlgo struct{}

func (gzipAlgo) Name() string { return "gzip" }

// gzipBlockSize matches umoci's chosen pgzip concurrency block size; see
// umoci's oci/casext/blobcompress/gzip.go for the history of this constant.
const gzipBlockSize = 1 << 20

func (gzipAlgo) Compress(plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	if err := gzw.SetConcurrency(gzipBlockSize, 1); err != nil {
		return nil, errors.Wrap(err, "set gzip concurrency")
	}
	if _, err := gzw.Write(plain); err != nil {
		return nil, errors.Wrap(err, "gzip compress chunk")
	}
	if err := gzw.Close(); err != nil {
		return nil, errors.Wrap(err, "close gzip writer")
	}
	return buf.Bytes(), nil
}

func (gzipAlgo) Decompress(compressed []byte, expectedLen int) ([]byte, error) {
	gzr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, errors.Wrap(err, "open gzip reader")
	}
	defer gzr.Close()

	out := make([]byte, 0, expectedLen)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, gzr); err != nil {
		return nil, errors.Wrap(err, "gzip decompress chunk")
	}
	return buf.Bytes(), nil
}

func init() {
	MustRegisterAlgorithm(Gzip)
}
