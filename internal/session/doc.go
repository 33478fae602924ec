// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs stream sessions: one live generation per conversation.
//
// A session owns its conversation from the moment the user turn is accepted
// until the assistant message is finalized. It pulls fragments from the
// backend, scans them for stop tokens, forwards the safe text as events and
// writes the final record exactly once.
//
// # Key Types
//
//   - Manager: Starts, cancels, lists and drains sessions
//   - Session: One live generation with its event channel
//   - Event: start, token and done events for the transport
//   - Registry: Per-conversation ownership tokens
//   - Scanner: Incremental stop-token detection with hold-back
//
// # Usage
//
//	mgr := session.NewManager(store, assembler, client, session.DefaultOptions(), logger)
//	sess, err := mgr.Start(ctx, session.StartRequest{Message: "hi"})
//	if err != nil {
//	    return err // ErrSessionBusy, ErrBackendUnavailable, ...
//	}
//	for ev := range sess.Events() {
//	    send(ev)
//	}
//
// # Lifecycle
//
// States run Idle, Assembling, Streaming, Finalizing and back to Idle. The
// ownership token is released once finalization ends, before the done event
// is delivered, so a client may start the next turn as soon as it sees done.
package session
