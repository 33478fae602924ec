// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the SQLite persistence layer for jarvischat.
//
// A single Store holds the profile, presets, settings, conversations and
// messages. It is pure storage: callers own every business rule except the
// built-in preset delete guard, which is enforced in SQL.
//
// # Key Types
//
//   - Store: database handle with one method per record operation
//   - Config: database path and connection tuning
//
// # Guarantees
//
//   - Every call is synchronous and atomic per record.
//   - Deleting a conversation deletes its messages (ON DELETE CASCADE).
//   - Missing rows are reported as model.ErrNotFound, SQL failures as
//     model.ErrPersistence; both are wrapped and testable with errors.Is.
//
// # Usage
//
//	store, err := storage.Open(storage.Config{Path: "~/.jarvischat/jarvischat.db"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	conv, err := store.CreateConversation(ctx, model.NewConversation("New Chat"))
package storage
