// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// PROFILE
// =============================================================================

// Profile is the singleton context record injected into every request.
type Profile struct {
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// PRESET
// =============================================================================

// Preset is a named system-prompt template.
type Preset struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Prompt string `json:"prompt"`

	// ModelHint is the model a conversation using this preset prefers when the
	// request does not name one.
	ModelHint string `json:"model_hint,omitempty"`

	// IsDefault marks the built-in presets. They may be edited but not deleted.
	IsDefault bool `json:"is_default"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
