// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jeranaias/jarvischat/internal/model"
	"github.com/jeranaias/jarvischat/internal/ollama"
)

// =============================================================================
// TYPES
// =============================================================================

// Store is the persistence surface the assembler depends on.
type Store interface {
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	GetPreset(ctx context.Context, id string) (*model.Preset, error)
	GetProfile(ctx context.Context) (model.Profile, error)
	GetSettings(ctx context.Context) (model.Settings, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	AppendMessage(ctx context.Context, m *model.Message) error
}

// Options holds the configured fallbacks used when stored settings are silent.
type Options struct {
	// DefaultModel is used when no request, preset, conversation or setting names a model.
	DefaultModel string

	// StopTokens is the stop set used when the stop_tokens setting is unset.
	StopTokens []string

	// MaxHistory keeps only the most recent N prior messages. 0 keeps all.
	MaxHistory int
}

// Request describes one user turn to assemble.
type Request struct {
	ConversationID string
	PresetID       string // optional override
	Model          string // optional override
	Message        string
}

// Assembly is the outbound request built for one turn.
type Assembly struct {
	Conversation *model.Conversation
	Segments     []ollama.Message
	Model        string
	StopTokens   []string

	// SystemPrompt is the profile and preset text, frozen for the assistant message.
	SystemPrompt string

	// PresetID is the preset that was resolved, empty when none applied.
	PresetID string

	// UserMessage is the persisted user turn.
	UserMessage *model.Message
}

// =============================================================================
// ASSEMBLER
// =============================================================================

// Assembler builds assemblies. It is safe for concurrent use; SetOptions may
// be called while assemblies are in flight.
type Assembler struct {
	store  Store
	logger *slog.Logger

	mu   sync.RWMutex
	opts Options
}

// New creates an assembler over store.
func New(store Store, opts Options, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{store: store, opts: opts, logger: logger}
}

// SetOptions replaces the configured fallbacks.
func (a *Assembler) SetOptions(opts Options) {
	a.mu.Lock()
	a.opts = opts
	a.mu.Unlock()
}

// Options returns a copy of the configured fallbacks.
func (a *Assembler) Options() Options {
	a.mu.RLock()
	defer a.mu.RUnlock()
	opts := a.opts
	opts.StopTokens = append([]string(nil), a.opts.StopTokens...)
	return opts
}

// Assemble resolves context for req and persists the user message.
//
// Every lookup happens before the write, so a missing conversation or preset
// leaves the store untouched.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Assembly, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("assemble: %w: message is empty", model.ErrInvalidInput)
	}
	opts := a.Options()

	conv, err := a.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}
	settings, err := a.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}
	preset, err := a.resolvePreset(ctx, req.PresetID, conv, settings)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}

	var profileText string
	if settings.ProfileEnabled() {
		profile, err := a.store.GetProfile(ctx)
		if err != nil {
			return nil, fmt.Errorf("assemble: %w", err)
		}
		profileText = strings.TrimSpace(profile.Content)
	}

	history, err := a.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}

	asm := &Assembly{
		Conversation: conv,
		Model:        resolveModel(req.Model, preset, conv, settings, opts.DefaultModel),
		StopTokens:   resolveStopTokens(settings, opts.StopTokens),
	}

	var system []string
	if profileText != "" {
		asm.Segments = append(asm.Segments, ollama.NewSystemMessage(profileText))
		system = append(system, profileText)
	}
	if preset != nil {
		asm.PresetID = preset.ID
		if p := strings.TrimSpace(preset.Prompt); p != "" {
			asm.Segments = append(asm.Segments, ollama.NewSystemMessage(p))
			system = append(system, p)
		}
	}
	asm.SystemPrompt = strings.Join(system, "\n\n")

	for _, m := range trimHistory(history, opts.MaxHistory) {
		asm.Segments = append(asm.Segments, ollama.Message{Role: m.Role.String(), Content: m.Content})
	}
	asm.Segments = append(asm.Segments, ollama.NewUserMessage(req.Message))

	user := model.NewUserMessage(conv.ID, req.Message)
	if err := a.store.AppendMessage(ctx, user); err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}
	asm.UserMessage = user

	a.logger.Debug("CONTEXT_ASSEMBLED",
		"conversation", conv.ID,
		"segments", len(asm.Segments),
		"model", asm.Model,
		"preset", asm.PresetID,
	)
	return asm, nil
}

// resolvePreset applies the override, conversation, settings order. An
// explicit override must exist; stored references that dangle resolve to none.
func (a *Assembler) resolvePreset(ctx context.Context, override string, conv *model.Conversation, settings model.Settings) (*model.Preset, error) {
	if override != "" {
		return a.store.GetPreset(ctx, override)
	}

	candidates := []struct{ source, id string }{
		{"conversation", conv.PresetID},
		{"settings", settings.Get(model.SettingDefaultPreset, "")},
	}
	for _, c := range candidates {
		if c.id == "" {
			continue
		}
		p, err := a.store.GetPreset(ctx, c.id)
		switch {
		case err == nil:
			return p, nil
		case errors.Is(err, model.ErrNotFound):
			a.logger.Warn("PRESET_DANGLING", "source", c.source, "preset", c.id, "conversation", conv.ID)
			if c.source == "conversation" {
				continue
			}
			return nil, nil
		default:
			return nil, err
		}
	}
	return nil, nil
}

// =============================================================================
// RESOLUTION HELPERS
// =============================================================================

func resolveModel(override string, preset *model.Preset, conv *model.Conversation, settings model.Settings, fallback string) string {
	if override != "" {
		return override
	}
	if preset != nil && preset.ModelHint != "" {
		return preset.ModelHint
	}
	if conv.Model != "" {
		return conv.Model
	}
	return settings.Get(model.SettingDefaultModel, fallback)
}

func resolveStopTokens(settings model.Settings, fallback []string) []string {
	if tokens, ok := settings.StopTokens(); ok {
		return tokens
	}
	return fallback
}

// trimHistory drops messages that carry nothing for the backend and applies
// the history window.
func trimHistory(history []model.Message, limit int) []model.Message {
	kept := make([]model.Message, 0, len(history))
	for _, m := range history {
		if m.IsPending() || !m.Role.Valid() {
			continue
		}
		if m.Role == model.RoleAssistant && m.Content == "" {
			continue
		}
		kept = append(kept, m)
	}
	if limit > 0 && len(kept) > limit {
		kept = kept[len(kept)-limit:]
	}
	return kept
}
