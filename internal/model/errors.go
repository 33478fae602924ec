// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "errors"

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

var (
	// ErrNotFound reports a missing conversation, preset or message.
	ErrNotFound = errors.New("not found")

	// ErrSessionBusy reports a generation attempt on a conversation that
	// already has a live session.
	ErrSessionBusy = errors.New("session busy")

	// ErrBackendUnavailable reports that the backend could not be reached
	// when the stream was opened.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrBackendStream reports a failure after the stream was opened.
	ErrBackendStream = errors.New("backend stream error")

	// ErrPersistence reports a store read or write failure.
	ErrPersistence = errors.New("persistence error")

	// ErrInvalidInput reports a request that failed validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrForbidden reports an operation that is never allowed, such as
	// deleting a built-in preset.
	ErrForbidden = errors.New("forbidden")
)

// ErrorKind returns a short machine-readable tag for err, suitable for
// transport error payloads. Unknown errors map to "internal".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSessionBusy):
		return "session_busy"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, ErrBackendStream):
		return "backend_stream_error"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "internal"
	}
}
