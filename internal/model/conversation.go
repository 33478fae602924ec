// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is the title of a conversation created without a first message.
const DefaultTitle = "New Chat"

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation owns an ordered list of messages. Deleting it deletes them.
type Conversation struct {
	ID    string `json:"id"`
	Title string `json:"title"`

	// Model is the conversation-level model override; empty means the
	// settings default.
	Model string `json:"model,omitempty"`

	// PresetID selects the conversation's preset; empty means the settings
	// default.
	PresetID string `json:"preset_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages is populated only by reads that ask for them.
	Messages []Message `json:"messages,omitempty"`
}

// NewConversation creates a conversation with a fresh identifier.
func NewConversation(title string) *Conversation {
	if title == "" {
		title = DefaultTitle
	}
	now := time.Now().UTC()
	return &Conversation{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ConversationUpdate carries the mutable fields of a conversation.
// Nil fields are left unchanged.
type ConversationUpdate struct {
	Title    *string `json:"title,omitempty"`
	Model    *string `json:"model,omitempty"`
	PresetID *string `json:"preset_id,omitempty"`
}

// ConversationSummary is the list view of a conversation.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
