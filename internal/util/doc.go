// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the session, config, CLI and
// export code.
//
// # Key Functions
//
//   - AtomicWriteFile: crash-safe replace of config files and exports
//   - ConversationTitle: normalized title derived from a first message
//   - SanitizeFilename: safe file-name stem from a conversation title
//   - TruncateWidth: display-width truncation for terminal tables
//
// # Usage
//
//	title := util.ConversationTitle("  how do I\nresize a partition?  ")
//	// "how do I resize a partition?"
//
//	err := util.AtomicWriteFile(path, data, 0600)
package util
