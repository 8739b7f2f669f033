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

// Command puzzlefs-demo is a thin reference CLI over the builder and
// reader packages (spec §6's external CLI surface is described as "an
// external collaborator, but the core must be drivable by it" — this
// binary is that minimal driver, not a production tool).
package main

import (
	"fmt"
	"os"

	"github.com/apex/log"
	logcli "github.com/apex/log/handlers/cli"
	"github.com/urfave/cli"

	"github.com/puzzlefs/puzzlefs/vfs"
)

var version = ""

func main() {
	log.SetHandler(logcli.Default)

	app := cli.NewApp()
	app.Name = "puzzlefs-demo"
	app.Usage = "reference CLI for the puzzlefs builder/reader packages"
	v := "unknown"
	if version != "" {
		v = version
	}
	app.Version = v

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "debug",
			Usage: "set log level to debug",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		if ctx.GlobalBool("debug") {
			log.SetLevel(log.DebugLevel)
		}
		return nil
	}

	app.Commands = []cli.Command{
		buildCommand,
		statCommand,
		extractCommand,
		enableFsVerityCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "puzzlefs-demo: %v\n", err)
		os.Exit(vfs.ExitCode(err))
	}
}
