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

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	puzzlefsdigest "github.com/puzzlefs/puzzlefs/digest"
	"github.com/puzzlefs/puzzlefs/reader"
)

var statCommand = cli.Command{
	Name:      "stat",
	Usage:     "print manifest metadata for a tagged image",
	ArgsUsage: `<image_dir> <tag>`,

	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "json",
			Usage: "output as JSON",
		},
		cli.StringFlag{
			Name:  "digest",
			Usage: "expected root digest (spec §4.6 verify); mount fails if the tag resolves to anything else",
		},
	},

	Action: runStat,
}

type statOutput struct {
	ManifestVersion      uint64   `json:"manifest_version"`
	CompressionAlgorithm string   `json:"compression_algorithm,omitempty"`
	Metadatas            []string `json:"metadatas"`
	Armed                bool     `json:"fs_verity_armed"`
}

func runStat(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return errors.New("usage: puzzlefs-demo stat <image_dir> <tag>")
	}

	opts, err := mountOptionsFromDigestFlag(ctx)
	if err != nil {
		return err
	}

	r, err := reader.Open(ctx.Args().Get(0), ctx.Args().Get(1), opts)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer r.Close()

	m := r.Manifest()
	out := statOutput{
		ManifestVersion:      m.ManifestVersion,
		CompressionAlgorithm: m.CompressionAlgorithm,
		Armed:                len(m.FsVerityData) > 0,
	}
	for _, ref := range m.Metadatas {
		out.Metadatas = append(out.Metadatas, ref.Digest.String())
	}

	if ctx.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("manifest_version: %d\n", out.ManifestVersion)
	fmt.Printf("compression: %s\n", displayOrNone(out.CompressionAlgorithm))
	fmt.Printf("fs_verity_armed: %v\n", out.Armed)
	fmt.Println("metadata layers (topmost first):")
	for _, d := range out.Metadatas {
		fmt.Printf("  %s\n", d)
	}
	return nil
}

// mountOptionsFromDigestFlag builds a reader.MountOptions from the shared
// --digest flag (spec §4.6's caller-supplied expected_root_digest), parsing
// it once here so both stat and extract fail with the same "mount --digest
// D" behavior spec §8 scenario 5 requires rather than each reimplementing
// the hex parse.
func mountOptionsFromDigestFlag(ctx *cli.Context) (reader.MountOptions, error) {
	raw := ctx.String("digest")
	if raw == "" {
		return reader.MountOptions{}, nil
	}
	d, err := puzzlefsdigest.FromHex(raw)
	if err != nil {
		return reader.MountOptions{}, errors.Wrap(err, "parse --digest")
	}
	return reader.MountOptions{ExpectedRootDigest: d}, nil
}

func displayOrNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
