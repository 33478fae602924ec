// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"
	"golang.org/x/text/unicode/norm"
)

// TitleRunes is the number of message runes kept in a derived conversation title.
const TitleRunes = 80

// TruncateWidth cuts s to at most maxWidth display columns, ending in "…"
// when shortened. Wide runes (CJK) take two columns. A non-positive width
// yields "".
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	return runewidth.Truncate(s, maxWidth, "…")
}

// ConversationTitle derives a title from the first message of a conversation:
// NFC-normalized, whitespace collapsed to single spaces, and cut to the first
// TitleRunes runes with "..." appended when longer. Blank input yields "".
func ConversationTitle(message string) string {
	fields := strings.FieldsFunc(norm.NFC.String(message), unicode.IsSpace)
	title := strings.Join(fields, " ")
	runes := []rune(title)
	if len(runes) <= TitleRunes {
		return title
	}
	return string(runes[:TitleRunes]) + "..."
}

// SanitizeFilename replaces characters that are unsafe in file names and
// bounds the result to 50 runes. Empty results become "conversation".
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range norm.NFC.String(name) {
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, r), unicode.IsControl(r):
			b.WriteRune('_')
		case unicode.IsSpace(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), "._")
	if r := []rune(out); len(r) > 50 {
		out = string(r[:50])
	}
	if out == "" {
		return "conversation"
	}
	return out
}
