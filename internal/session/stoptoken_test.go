// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanner(t *testing.T) {
	tests := []struct {
		name      string
		tokens    []string
		fragments []string
		want      string
		matched   bool
	}{
		{"no tokens", nil, []string{"a", "b"}, "ab", false},
		{"plain completion", []string{"STOP"}, []string{"hello ", "world"}, "hello world", false},
		{"match inside fragment", []string{"STOP"}, []string{"hello ", "world STOP", " more"}, "hello world ", true},
		{"straddling fragments", []string{"STOP"}, []string{"abc ST", "OP tail"}, "abc ", true},
		{"token split three ways", []string{"User:"}, []string{"ok\nUs", "e", "r: hi"}, "ok\n", true},
		{"false prefix released", []string{"STOP"}, []string{"ST", "ART"}, "START", false},
		{"prefix at end of stream", []string{"User:"}, []string{"ask the User"}, "ask the User", false},
		{"earliest token wins", []string{"Assistant:", "User:"}, []string{"x User: y Assistant:"}, "x ", true},
		{"overlapping tokens", []string{"\nUser", "User:"}, []string{"line\nUse", "r: next"}, "line", true},
		{"match at start", []string{"User:"}, []string{"User: hi"}, "", true},
		{"empty token ignored", []string{""}, []string{"abc"}, "abc", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScanner(tt.tokens)
			var forwarded strings.Builder
			for _, f := range tt.fragments {
				safe, matched := s.Push(f)
				forwarded.WriteString(safe)
				if matched {
					break
				}
			}
			if !s.Matched() {
				forwarded.WriteString(s.Flush())
			}

			assert.Equal(t, tt.matched, s.Matched())
			assert.Equal(t, tt.want, s.Text())
			assert.Equal(t, s.Text(), forwarded.String(), "forwarded text must equal final text")
		})
	}
}

func TestScanner_HoldsBackPrefix(t *testing.T) {
	s := NewScanner([]string{"STOP"})

	safe, matched := s.Push("go ST")
	assert.False(t, matched)
	assert.Equal(t, "go ", safe)
	assert.Equal(t, "go ", s.Released())

	safe, matched = s.Push("A")
	assert.False(t, matched)
	assert.Equal(t, "STA", safe)

	safe, matched = s.Push("STOP")
	assert.True(t, matched)
	assert.Equal(t, "", safe)

	safe, matched = s.Push("ignored")
	assert.True(t, matched)
	assert.Empty(t, safe)
	assert.Equal(t, "go STA", s.Text())
}

func TestScanner_KeepsWhitespaceBeforeToken(t *testing.T) {
	s := NewScanner([]string{"User:"})
	s.Push("hello world User: next")
	assert.Equal(t, "hello world ", s.Text())
}
