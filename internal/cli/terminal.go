// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - Terminal capabilities for jarvischat output.
//
// Tables, markdown and colors adapt to whether stdout is a terminal;
// NO_COLOR and FORCE_COLOR override the detection.

package cli

import (
	"os"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/jeranaias/jarvischat/internal/util"
)

const (
	// DefaultTerminalWidth is used when stdout has no size (pipes, tests).
	DefaultTerminalWidth = 80

	// MinTerminalWidth keeps rendered markdown readable in narrow panes.
	MinTerminalWidth = 40
)

// IsTTY reports whether stdin is a terminal. The chat REPL requires one.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsStdoutTTY reports whether stdout is a terminal.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// GetTerminalWidth returns the stdout width clamped to MinTerminalWidth.
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	switch {
	case err != nil, width <= 0:
		return DefaultTerminalWidth
	case width < MinTerminalWidth:
		return MinTerminalWidth
	}
	return width
}

// truncateCell shortens s to at most width display columns. A non-positive
// width leaves the cell unbounded.
func truncateCell(s string, width int) string {
	if width <= 0 {
		return s
	}
	return util.TruncateWidth(s, width)
}

// =============================================================================
// COLOR
// =============================================================================

var colorsEnabled = sync.OnceValue(func() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	return IsStdoutTTY()
})

// ColorsEnabled reports whether output should be styled. See https://no-color.org/.
func ColorsEnabled() bool {
	return colorsEnabled()
}

// GetColorProfile returns the termenv profile for styled output, or Ascii
// when colors are off.
func GetColorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}

// glamourStyle picks the markdown style for the terminal background.
func glamourStyle() string {
	switch {
	case !ColorsEnabled():
		return "notty"
	case termenv.HasDarkBackground():
		return "dark"
	default:
		return "light"
	}
}
