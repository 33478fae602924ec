// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the jarvischat command tree.
//
// Every command runs against the same engine the HTTP server uses: the
// SQLite store, the prompt assembler and the session manager. A reply
// streamed in the terminal is persisted exactly like one streamed to the
// browser.
//
// # Key Types
//
//   - rootOptions: persistent --config and --log-level flags
//   - app: loaded config plus the store, backend client and session manager
//   - UsageError: a bad invocation, mapped to exit code 2
//
// # Usage
//
//	func main() {
//	    os.Exit(cli.Execute())
//	}
//
// # Commands Overview
//
//   - serve: HTTP server with the SSE chat relay and CRUD API
//   - chat: interactive terminal chat (-c to resume)
//   - models, models ps: installed and loaded models
//   - conversations list|show|export|delete: saved history
package cli
