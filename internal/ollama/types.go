// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"time"

	"github.com/dustin/go-humanize"
)

// =============================================================================
// MESSAGE TYPES
// =============================================================================

// Message represents a chat message segment sent to /api/chat.
type Message struct {
	Role    string `json:"role"`    // "system", "user", "assistant"
	Content string `json:"content"` // The message content
}

// ChatRequest is the request body for /api/chat.
type ChatRequest struct {
	Model     string    `json:"model"`                // Model name (e.g., "qwen2.5-coder:14b")
	Messages  []Message `json:"messages"`             // Ordered segments
	Stream    bool      `json:"stream"`               // Always true for ChatStream
	Options   *Options  `json:"options,omitempty"`    // Model parameters
	KeepAlive string    `json:"keep_alive,omitempty"` // How long the model stays loaded (e.g., "5m")
}

// Options contains model parameters.
type Options struct {
	// Sampling parameters
	Temperature float64 `json:"temperature,omitempty"` // 0.0-2.0, default 0.8
	TopK        int     `json:"top_k,omitempty"`       // Default 40
	TopP        float64 `json:"top_p,omitempty"`       // 0.0-1.0, default 0.9

	// Context parameters
	NumCtx     int `json:"num_ctx,omitempty"`     // Context window size
	NumPredict int `json:"num_predict,omitempty"` // Max tokens to generate, -1 for unlimited

	// Stop sequences
	Stop []string `json:"stop,omitempty"`

	Seed int `json:"seed,omitempty"`
}

// =============================================================================
// MODEL TYPES
// =============================================================================

// ModelInfo contains information about an installed model.
type ModelInfo struct {
	Name       string       `json:"name"`
	Model      string       `json:"model,omitempty"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// ModelDetails contains detailed information about a model.
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// ListModelsResponse is the response from /api/tags.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// RunningModel is a model currently loaded in memory, as reported by /api/ps.
type RunningModel struct {
	Name      string       `json:"name"`
	Model     string       `json:"model"`
	Size      int64        `json:"size"`
	SizeVRAM  int64        `json:"size_vram"`
	Digest    string       `json:"digest"`
	ExpiresAt time.Time    `json:"expires_at"`
	Details   ModelDetails `json:"details,omitempty"`
}

// RunningModelsResponse is the response from /api/ps.
type RunningModelsResponse struct {
	Models []RunningModel `json:"models"`
}

// VersionResponse is the response from /api/version.
type VersionResponse struct {
	Version string `json:"version"`
}

// FormatSize formats the model size in human-readable form.
func (m *ModelInfo) FormatSize() string {
	return humanize.IBytes(uint64(max(m.Size, 0)))
}

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk is one decoded line of a /api/chat stream.
type StreamChunk struct {
	// Content is the fragment of generated text carried by this line.
	Content string

	// Done marks the terminal line; timing and counts are set only then.
	Done               bool
	DoneReason         string
	TotalDuration      time.Duration
	LoadDuration       time.Duration
	PromptEvalDuration time.Duration
	EvalDuration       time.Duration
	PromptTokens       int
	CompletionTokens   int

	// Model information
	Model string
}

// TokensPerSecond returns the generation speed reported on the final chunk.
func (c StreamChunk) TokensPerSecond() float64 {
	if c.EvalDuration <= 0 || c.CompletionTokens == 0 {
		return 0
	}
	return float64(c.CompletionTokens) / c.EvalDuration.Seconds()
}

// chatLine is the wire shape of one NDJSON line from /api/chat.
type chatLine struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done               bool   `json:"done"`
	DoneReason         string `json:"done_reason,omitempty"`
	TotalDuration      int64  `json:"total_duration,omitempty"`
	LoadDuration       int64  `json:"load_duration,omitempty"`
	PromptEvalCount    int    `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64  `json:"prompt_eval_duration,omitempty"`
	EvalCount          int    `json:"eval_count,omitempty"`
	EvalDuration       int64  `json:"eval_duration,omitempty"`
	Error              string `json:"error,omitempty"`
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// OllamaError represents an error body from the Ollama API.
type OllamaError struct {
	Error string `json:"error"`
}

// =============================================================================
// HELPER METHODS
// =============================================================================

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}
