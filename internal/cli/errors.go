// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Exit codes and error display for CLI commands.
//
// Commands always return errors; Execute decides how to show them and which
// exit code to use.

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/jarvischat/internal/config"
	"github.com/jeranaias/jarvischat/internal/model"
	"github.com/jeranaias/jarvischat/internal/ollama"
)

// =============================================================================
// EXIT CODES - Specific codes for different error categories
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitNetworkError indicates the Ollama backend could not be reached
	ExitNetworkError = 5
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
	// ExitBusyError indicates the conversation is already generating
	ExitBusyError = 9
)

// =============================================================================
// ERROR TYPES FOR STRUCTURED ERROR HANDLING
// =============================================================================

// UsageError reports bad arguments or flags.
type UsageError struct {
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	if e.Example != "" {
		return fmt.Sprintf("%s\nExample: %s", e.Reason, e.Example)
	}
	return e.Reason
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode maps an error onto a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	var verrs config.ValidateErrors
	switch {
	case errors.As(err, &usage), errors.Is(err, model.ErrInvalidInput):
		return ExitUsageError
	case errors.As(err, &verrs):
		return ExitConfigError
	case errors.Is(err, ollama.ErrTimeout):
		return ExitTimeoutError
	case errors.Is(err, model.ErrBackendUnavailable), errors.Is(err, ollama.ErrNotRunning):
		return ExitNetworkError
	case errors.Is(err, model.ErrNotFound):
		return ExitNotFoundError
	case errors.Is(err, model.ErrSessionBusy):
		return ExitBusyError
	default:
		return ExitGeneralError
	}
}

// DisplayError writes err to w with a hint for the common failures.
func DisplayError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %v\n", ErrorStyle.Render("Error:"), err)

	switch {
	case errors.Is(err, ollama.ErrNotRunning), errors.Is(err, model.ErrBackendUnavailable):
		fmt.Fprintln(w, DimStyle.Render("Is Ollama running? Start it with: ollama serve"))
	case errors.Is(err, ollama.ErrModelNotFound):
		fmt.Fprintln(w, DimStyle.Render("Pull the model first: ollama pull <model>"))
	case errors.Is(err, model.ErrSessionBusy):
		fmt.Fprintln(w, DimStyle.Render("Another reply is still streaming for this conversation."))
	}
}
