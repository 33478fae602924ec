// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r may be stored on a Message.
// System text is never stored as a turn; it is frozen into SystemPrompt.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// STATUS TYPE
// =============================================================================

// Status is the completion flag of a Message.
type Status string

const (
	StatusPending              Status = "pending"
	StatusComplete             Status = "complete"
	StatusTruncatedByStopToken Status = "truncated-by-stop-token"
	StatusTruncatedByCancel    Status = "truncated-by-cancellation"
	StatusErrored              Status = "errored"
)

// Terminal reports whether s is a final state. Only pending is non-terminal.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusTruncatedByStopToken, StatusTruncatedByCancel, StatusErrored:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is one persisted turn of a conversation.
type Message struct {
	ID             int64  `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           Role   `json:"role"`
	Content        string `json:"content"`

	// Model is the backend model that produced an assistant message.
	Model  string `json:"model,omitempty"`
	Status Status `json:"status"`

	// SystemPrompt is the profile and preset text active when the assistant
	// message was generated, frozen by value.
	SystemPrompt string `json:"system_prompt,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUserMessage creates a complete user message for a conversation.
func NewUserMessage(conversationID, content string) *Message {
	now := time.Now().UTC()
	return &Message{
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        content,
		Status:         StatusComplete,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewPendingAssistantMessage creates the placeholder that a stream session
// finalizes exactly once.
func NewPendingAssistantMessage(conversationID, modelName, systemPrompt string) *Message {
	now := time.Now().UTC()
	return &Message{
		ConversationID: conversationID,
		Role:           RoleAssistant,
		Model:          modelName,
		Status:         StatusPending,
		SystemPrompt:   systemPrompt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsPending reports whether the message still awaits finalization.
func (m *Message) IsPending() bool {
	return m.Status == StatusPending
}
