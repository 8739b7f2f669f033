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

// Package digest implements the fixed 32-byte SHA-256 digest used to
// address every blob in a puzzlefs image (manifest, metadata, and
// file-data blobs alike). v1 of the format hardcodes SHA-256; there is no
// per-image algorithm negotiation.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"

	godigest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// Size is the length in bytes of a Digest.
const Size = sha256.Size

// Algorithm is the only digest algorithm supported by v1 of the format, used
// when deriving a godigest.Digest for interop with oci-layout references.
const Algorithm = godigest.SHA256

// Digest is a fixed-size content digest. The zero Digest never matches any
// blob, so it doubles as the "absent" sentinel (see IsZero).
type Digest [Size]byte

// String renders the digest the way oci-layout blob paths expect it:
// lowercase hex, no algorithm prefix.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// OCI renders the digest as an algorithm-prefixed go-digest value, suitable
// for an OCI descriptor or index.json entry.
func (d Digest) OCI() godigest.Digest {
	return godigest.NewDigestFromEncoded(Algorithm, d.String())
}

// IsZero reports whether d is the all-zero digest (used as a sentinel for
// "no expected digest supplied").
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// FromHex parses a lowercase hex digest string (no algorithm prefix) of
// exactly Size*2 characters.
func FromHex(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, errors.Wrap(err, "decode hex digest")
	}
	if len(raw) != Size {
		return d, errors.Errorf("digest %q: expected %d bytes, got %d", s, Size, len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

// FromBytes computes the digest of a single in-memory byte slice. Prefer
// [NewDigester] for streaming input.
func FromBytes(b []byte) Digest {
	return Digest(sha256.Sum256(b))
}

// Digester incrementally accumulates a digest over a stream, mirroring the
// umoci oci/cas PutBlob pattern of hashing while copying to a temp file.
type Digester struct {
	h hash.Hash
}

// NewDigester returns a ready-to-write Digester.
func NewDigester() *Digester {
	return &Digester{h: sha256.New()}
}

// Write implements io.Writer. It never fails.
func (d *Digester) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Digest returns the digest of all bytes written so far. It does not reset
// the underlying state; callers that want a running digest at multiple
// points should avoid relying on that (hash.Hash doesn't support rewinding).
func (d *Digester) Digest() Digest {
	var out Digest
	copy(out[:], d.h.Sum(nil))
	return out
}
