// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt assembles outbound generation requests from stored context.
//
// An assembly is the ordered list of segments sent to the backend: the user
// profile, the resolved preset prompt, the prior conversation history and the
// new user message. Assembling also persists the new user message, so history
// on the next turn includes it.
//
// # Key Types
//
//   - Assembler: Resolves preset, model and stop tokens and builds segments
//   - Request: Conversation id, optional overrides and the new message text
//   - Assembly: Segments plus the resolved model, stop set and frozen system prompt
//   - Store: The subset of the persistence store the assembler reads and writes
//
// # Usage
//
//	asm := prompt.New(store, prompt.Options{DefaultModel: "llama3:8b"}, logger)
//	a, err := asm.Assemble(ctx, prompt.Request{
//	    ConversationID: id,
//	    Message:        "How do I list open ports?",
//	})
package prompt
