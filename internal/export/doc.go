// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders stored conversations as downloadable documents.
//
// # Key Types
//
//   - Exporter: Converts a conversation into one format
//   - Options: Metadata, timestamp and theme toggles
//
// # Supported Formats
//
//   - JSON: Machine-readable with every stored field
//   - Markdown: Human-readable with YAML frontmatter
//   - HTML: Standalone page with syntax-highlighted code blocks
//
// # Usage
//
//	exporter, err := export.New("md", nil)
//	if err != nil {
//	    return err
//	}
//	path, err := export.ExportToFile(conv, exporter, &export.Options{OutputDir: "."})
package export
