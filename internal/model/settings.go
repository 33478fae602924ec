// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// =============================================================================
// SETTINGS
// =============================================================================

// Well-known settings keys.
const (
	SettingDefaultModel   = "default_model"
	SettingDefaultPreset  = "default_preset"
	SettingStopTokens     = "stop_tokens"
	SettingProfileEnabled = "profile_enabled"
)

// Settings is the singleton key/value map of global toggles.
type Settings map[string]string

// Get returns the value for key, or def if the key is unset or empty.
func (s Settings) Get(key, def string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return def
}

// Bool parses key as a boolean. Unset or unparseable values return def.
func (s Settings) Bool(key string, def bool) bool {
	v, ok := s[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// ProfileEnabled reports whether profile text should be injected.
func (s Settings) ProfileEnabled() bool {
	return s.Bool(SettingProfileEnabled, true)
}

// StopTokens decodes the stop_tokens setting, a JSON array of strings.
// The second result is false when the key is unset or malformed, in which
// case callers fall back to their configured defaults. Empty strings are
// dropped since they would match everywhere.
func (s Settings) StopTokens() ([]string, bool) {
	raw, ok := s[SettingStopTokens]
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, false
	}
	var tokens []string
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		return nil, false
	}
	out := tokens[:0]
	for _, t := range tokens {
		if t != "" {
			out = append(out, t)
		}
	}
	return out, true
}

// EncodeStopTokens renders tokens in the stop_tokens setting format.
func EncodeStopTokens(tokens []string) string {
	if tokens == nil {
		tokens = []string{}
	}
	data, _ := json.Marshal(tokens)
	return string(data)
}
