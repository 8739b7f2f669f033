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

// Package ocilayout implements the external OCI image-index directory
// layout that a puzzlefs image lives inside: an "index.json" mapping tags
// to manifest digests, and a "blobs/sha256/<hex>" content-addressed blob
// tree. This mirrors the layout umoci's oci/cas package manages for
// general-purpose OCI images, specialised to puzzlefs's single manifest
// media type and tag-keyed index rather than a full descriptor graph.
package ocilayout

import (
	"encoding/json"
	"os"
	"path/filepath"

	ispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"

	"github.com/puzzlefs/puzzlefs/digest"
)

const (
	// BlobAlgorithm is the only digest algorithm directory name used under
	// blobs/.
	BlobAlgorithm = "sha256"

	blobDirectory  = "blobs"
	layoutFileName = "oci-layout"
	indexFileName  = "index.json"

	// LayoutVersion is the oci-layout file's declared version, matching the
	// value umoci's oci/cas package hardcodes.
	LayoutVersion = "1.0.0"

	// RootfsMediaType is the media type of the manifest-referenced metadata
	// payload (the inode vector blob).
	RootfsMediaType = "application/vnd.puzzlefs.image.rootfs.v1"

	// FiledataMediaType is the media type of file-data chunk blobs.
	FiledataMediaType = "application/vnd.puzzlefs.image.filedata.v1"

	// ManifestMediaType is the media type of the top-level manifest blob
	// referenced from index.json.
	ManifestMediaType = "application/vnd.puzzlefs.image.manifest.v1"

	// VerityRootHashAnnotation is the index.json manifest descriptor
	// annotation carrying the armed integrity root digest, in hex.
	VerityRootHashAnnotation = "io.puzzlefsoci.puzzlefs.puzzlefs_verity_root_hash"
)

// BlobPath returns the path of a blob, relative to the image directory.
func BlobPath(d digest.Digest) string {
	return filepath.Join(blobDirectory, BlobAlgorithm, d.String())
}

// Index is the OCI image-index, specialised to puzzlefs's tag->manifest
// mapping. Each entry's Annotations carries the "org.opencontainers.image.ref.name"
// tag key, matching how umoci's refname package keys tags inside a generic
// OCI index.
type Index struct {
	ispec.Index
}

const refNameAnnotation = "org.opencontainers.image.ref.name"

// Create initialises a fresh, empty image directory at path. Fails if path
// already exists. Grounded on umoci oci/cas.CreateLayout.
func Create(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "mkdir parent")
		}
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		return errors.Wrap(err, "mkdir image dir")
	}
	if err := os.MkdirAll(filepath.Join(path, blobDirectory, BlobAlgorithm), 0o755); err != nil {
		return errors.Wrap(err, "mkdir blobdir")
	}

	fh, err := os.Create(filepath.Join(path, layoutFileName))
	if err != nil {
		return errors.Wrap(err, "create oci-layout")
	}
	defer fh.Close()
	if err := json.NewEncoder(fh).Encode(ispec.ImageLayout{Version: LayoutVersion}); err != nil {
		return errors.Wrap(err, "encode oci-layout")
	}

	return WriteIndex(path, &Index{})
}

// ValidateLayout checks that path looks like a puzzlefs OCI-layout
// directory (oci-layout file present with the supported version, blobs/
// directory present).
func ValidateLayout(path string) error {
	content, err := os.ReadFile(filepath.Join(path, layoutFileName))
	if err != nil {
		return errors.Wrap(err, "read oci-layout")
	}
	var layout ispec.ImageLayout
	if err := json.Unmarshal(content, &layout); err != nil {
		return errors.Wrap(err, "parse oci-layout")
	}
	if layout.Version != LayoutVersion {
		return errors.Errorf("oci-layout version %q unsupported", layout.Version)
	}
	if fi, err := os.Stat(filepath.Join(path, blobDirectory, BlobAlgorithm)); err != nil || !fi.IsDir() {
		return errors.New("blobs/sha256 directory missing")
	}
	return nil
}

// ReadIndex loads index.json from the image directory.
func ReadIndex(path string) (*Index, error) {
	content, err := os.ReadFile(filepath.Join(path, indexFileName))
	if err != nil {
		return nil, errors.Wrap(err, "read index.json")
	}
	var idx Index
	if err := json.Unmarshal(content, &idx.Index); err != nil {
		return nil, errors.Wrap(err, "parse index.json")
	}
	return &idx, nil
}

// WriteIndex atomically (write-temp, rename) persists index.json.
func WriteIndex(path string, idx *Index) error {
	if idx.SchemaVersion == 0 {
		idx.SchemaVersion = 2
	}
	fh, err := os.CreateTemp(path, "index-")
	if err != nil {
		return errors.Wrap(err, "create temp index")
	}
	tmp := fh.Name()
	defer os.Remove(tmp) //nolint:errcheck // best-effort if rename succeeds this is a no-op

	enc := json.NewEncoder(fh)
	enc.SetIndent("", "\t")
	if err := enc.Encode(idx.Index); err != nil {
		fh.Close()
		return errors.Wrap(err, "encode index.json")
	}
	if err := fh.Close(); err != nil {
		return errors.Wrap(err, "close temp index")
	}
	if err := os.Rename(tmp, filepath.Join(path, indexFileName)); err != nil {
		return errors.Wrap(err, "rename index.json")
	}
	return nil
}

// FindTag looks up a tag in the index, returning the manifest descriptor.
func (idx *Index) FindTag(tag string) (*ispec.Descriptor, bool) {
	for i := range idx.Manifests {
		if idx.Manifests[i].Annotations[refNameAnnotation] == tag {
			return &idx.Manifests[i], true
		}
	}
	return nil, false
}

// PutTag inserts or replaces the manifest descriptor for tag.
func (idx *Index) PutTag(tag string, desc ispec.Descriptor) {
	if desc.Annotations == nil {
		desc.Annotations = map[string]string{}
	}
	desc.Annotations[refNameAnnotation] = tag
	for i := range idx.Manifests {
		if idx.Manifests[i].Annotations[refNameAnnotation] == tag {
			idx.Manifests[i] = desc
			return
		}
	}
	idx.Manifests = append(idx.Manifests, desc)
}

// ManifestDescriptor builds the index.json entry for a manifest blob,
// optionally carrying the armed-integrity root-hash annotation.
func ManifestDescriptor(d digest.Digest, size int64, verityRootHex string) ispec.Descriptor {
	desc := ispec.Descriptor{
		MediaType: ManifestMediaType,
		Digest:    d.OCI(),
		Size:      size,
	}
	if verityRootHex != "" {
		desc.Annotations = map[string]string{VerityRootHashAnnotation: verityRootHex}
	}
	return desc
}
