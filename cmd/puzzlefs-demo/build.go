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
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/puzzlefs/puzzlefs/builder"
	"github.com/puzzlefs/puzzlefs/chunkcompress"
)

var buildCommand = cli.Command{
	Name:      "build",
	Usage:     "build a puzzlefs image from a source directory",
	ArgsUsage: `<source_dir> <image_dir> <tag>`,

	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "base",
			Usage: "base tag to build a delta layer against",
		},
		cli.StringFlag{
			Name:  "compress",
			Usage: "chunk compression algorithm: none, gzip, or zstd",
			Value: "none",
		},
	},

	Action: runBuild,
}

func runBuild(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		return errors.New("usage: puzzlefs-demo build <source_dir> <image_dir> <tag>")
	}

	compress, err := compressionAlgorithm(ctx.String("compress"))
	if err != nil {
		return err
	}

	result, err := builder.Build(builder.Options{
		SourceDir: ctx.Args().Get(0),
		ImageDir:  ctx.Args().Get(1),
		Tag:       ctx.Args().Get(2),
		BaseTag:   ctx.String("base"),
		Compress:  compress,
	})
	if err != nil {
		return errors.Wrap(err, "build")
	}

	fmt.Println(result.ManifestDigest.String())
	return nil
}

func compressionAlgorithm(name string) (chunkcompress.Algorithm, error) {
	switch name {
	case "", "none":
		return chunkcompress.None, nil
	case "gzip":
		return chunkcompress.Gzip, nil
	case "zstd":
		return chunkcompress.Zstd, nil
	default:
		return nil, errors.Errorf("unknown compression algorithm %q", name)
	}
}
