// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the domain records shared by every layer of jarvischat.
//
// These types are plain data. Persistence lives in internal/storage and the
// streaming lifecycle lives in internal/session.
//
// # Key Types
//
//   - Profile: singleton free-form context injected into every request
//   - Preset: named system-prompt template with an optional model hint
//   - Settings: global key/value toggles (default model, stop tokens, ...)
//   - Conversation: container that owns an ordered list of messages
//   - Message: one user or assistant turn with its completion Status
//   - Status: pending, complete, truncated-by-stop-token, truncated-by-cancellation, errored
//
// # Errors
//
// The error taxonomy is a fixed set of sentinels (ErrNotFound, ErrSessionBusy,
// ErrBackendUnavailable, ErrBackendStream, ErrPersistence, ...). Callers wrap
// them with fmt.Errorf("...: %w") and test them with errors.Is.
//
// # Usage
//
//	msg := model.NewUserMessage(convID, "check disk")
//	if err := store.AppendMessage(ctx, msg); err != nil {
//	    if errors.Is(err, model.ErrPersistence) { ... }
//	}
package model
