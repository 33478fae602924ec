// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "strings"

// =============================================================================
// STOP-TOKEN SCANNER
// =============================================================================

// Scanner accumulates streamed text and detects stop tokens across fragment
// boundaries.
//
// Text is released only once it can no longer be the start of a stop token,
// so everything returned by Push is part of the final text. The held-back
// tail is the longest suffix of the unreleased text that is a proper prefix
// of some token.
type Scanner struct {
	tokens  []string
	buf     strings.Builder
	emitted int // bytes of buf already released
	matched bool
	cut     int // length of buf that survives a match
}

// NewScanner creates a scanner for tokens. Empty tokens are ignored.
func NewScanner(tokens []string) *Scanner {
	s := &Scanner{}
	for _, t := range tokens {
		if t != "" {
			s.tokens = append(s.tokens, t)
		}
	}
	return s
}

// Push appends a fragment and returns the newly released text. matched is
// true once a stop token has been seen; further pushes release nothing.
func (s *Scanner) Push(fragment string) (safe string, matched bool) {
	if s.matched {
		return "", true
	}
	s.buf.WriteString(fragment)
	text := s.buf.String()
	pending := text[s.emitted:]

	if idx := s.firstMatch(pending); idx >= 0 {
		s.matched = true
		s.cut = s.emitted + idx
		safe = pending[:idx]
		s.emitted = s.cut
		return safe, true
	}

	hold := s.heldBack(pending)
	safe = pending[:len(pending)-hold]
	s.emitted += len(safe)
	return safe, false
}

// Flush releases the held-back tail. It is used when the stream ends
// without a match.
func (s *Scanner) Flush() string {
	if s.matched {
		return ""
	}
	text := s.buf.String()
	tail := text[s.emitted:]
	s.emitted = len(text)
	return tail
}

// Matched reports whether a stop token was seen.
func (s *Scanner) Matched() bool {
	return s.matched
}

// Text returns the final text: truncated before the stop token after a
// match, otherwise everything pushed so far.
func (s *Scanner) Text() string {
	if s.matched {
		return s.buf.String()[:s.cut]
	}
	return s.buf.String()
}

// Released returns the text handed out by Push and Flush so far.
func (s *Scanner) Released() string {
	return s.buf.String()[:s.emitted]
}

// firstMatch returns the earliest index in text at which any token starts.
func (s *Scanner) firstMatch(text string) int {
	best := -1
	for _, t := range s.tokens {
		if i := strings.Index(text, t); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

// heldBack returns the length of the longest suffix of text that is a proper
// prefix of a token.
func (s *Scanner) heldBack(text string) int {
	longest := 0
	for _, t := range s.tokens {
		n := min(len(t)-1, len(text))
		for ; n > longest; n-- {
			if strings.HasSuffix(text, t[:n]) {
				longest = n
				break
			}
		}
	}
	return longest
}
