// jarvischat - A local chat front end for Ollama.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// Version details are set at build time:
//
//	go build -ldflags "-X github.com/jeranaias/jarvischat/internal/cli.Version=0.3.0 \
//	  -X github.com/jeranaias/jarvischat/internal/cli.GitCommit=$(git rev-parse --short HEAD)"
package main

import (
	"os"

	"github.com/jeranaias/jarvischat/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
