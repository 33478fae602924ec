// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/jarvischat/internal/model"
	"github.com/jeranaias/jarvischat/internal/ollama"
	"github.com/jeranaias/jarvischat/internal/prompt"
	"github.com/jeranaias/jarvischat/internal/util"
)

// ErrShuttingDown is returned by Start once Shutdown has begun.
var ErrShuttingDown = errors.New("session manager shutting down")

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Store is the persistence surface the manager writes through.
type Store interface {
	CreateConversation(ctx context.Context, c *model.Conversation) (*model.Conversation, error)
	AppendMessage(ctx context.Context, m *model.Message) error
	UpdateMessage(ctx context.Context, id int64, content string, status model.Status, modelName string) error
}

// Assembler builds the outbound request for a turn.
type Assembler interface {
	Assemble(ctx context.Context, req prompt.Request) (*prompt.Assembly, error)
}

// Backend opens generation streams.
type Backend interface {
	ChatStream(ctx context.Context, req ollama.ChatRequest) (ollama.Stream, error)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Options controls finalization and event delivery.
type Options struct {
	// FinalizeRetries is the number of retries after a failed final write (default: 3)
	FinalizeRetries int

	// FinalizeTimeout bounds finalization including retries (default: 10s)
	FinalizeTimeout time.Duration

	// RetryDelay is the base of the linear backoff between retries (default: 200ms)
	RetryDelay time.Duration

	// EventBuffer is the capacity of each session's event channel (default: 64)
	EventBuffer int
}

// DefaultOptions returns the default manager options.
func DefaultOptions() Options {
	return Options{
		FinalizeRetries: 3,
		FinalizeTimeout: 10 * time.Second,
		RetryDelay:      200 * time.Millisecond,
		EventBuffer:     64,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.FinalizeRetries < 0 {
		o.FinalizeRetries = 0
	}
	if o.FinalizeTimeout <= 0 {
		o.FinalizeTimeout = d.FinalizeTimeout
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = d.EventBuffer
	}
	return o
}

// =============================================================================
// MANAGER
// =============================================================================

// StartRequest is one user turn.
type StartRequest struct {
	ConversationID string // empty creates a conversation
	PresetID       string
	Model          string
	Message        string
}

// Manager owns every live session.
type Manager struct {
	store     Store
	assembler Assembler
	backend   Backend
	registry  *Registry
	logger    *slog.Logger

	mu      sync.RWMutex
	opts    Options
	closing atomic.Bool
	wg      sync.WaitGroup
}

// NewManager creates a manager.
func NewManager(store Store, assembler Assembler, backend Backend, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     store,
		assembler: assembler,
		backend:   backend,
		registry:  NewRegistry(),
		logger:    logger,
		opts:      opts.withDefaults(),
	}
}

// SetOptions replaces the finalization options for sessions started later.
func (m *Manager) SetOptions(opts Options) {
	m.mu.Lock()
	m.opts = opts.withDefaults()
	m.mu.Unlock()
}

func (m *Manager) options() Options {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opts
}

// Start accepts a user turn and begins streaming the reply.
//
// On return without error the user message and a pending assistant message
// are persisted and the first event on the session's channel is start.
// Errors leave no pending assistant message behind.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Session, error) {
	if m.closing.Load() {
		return nil, ErrShuttingDown
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("start: %w: message is empty", model.ErrInvalidInput)
	}
	opts := m.options()

	convID := req.ConversationID
	if convID == "" {
		conv := model.NewConversation(util.ConversationTitle(req.Message))
		if conv.Title == "" {
			conv.Title = model.DefaultTitle
		}
		if _, err := m.store.CreateConversation(ctx, conv); err != nil {
			return nil, fmt.Errorf("start: %w", err)
		}
		convID = conv.ID
		m.logger.Info("CONVERSATION_CREATED", "conversation", convID, "title", conv.Title)
	}

	s := newSession(uuid.NewString(), convID, opts.EventBuffer)
	if err := m.registry.Acquire(s); err != nil {
		m.logger.Warn("SESSION_BUSY", "conversation", convID)
		return nil, err
	}
	started := false
	defer func() {
		if !started {
			m.registry.Release(s)
		}
	}()

	asm, err := m.assembler.Assemble(ctx, prompt.Request{
		ConversationID: convID,
		PresetID:       req.PresetID,
		Model:          req.Model,
		Message:        req.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	// The stream outlives the request; only Cancel or Shutdown stop it.
	stream, err := m.backend.ChatStream(context.WithoutCancel(ctx), ollama.ChatRequest{
		Model:    asm.Model,
		Messages: asm.Segments,
		Options:  &ollama.Options{Stop: asm.StopTokens},
	})
	if err != nil {
		m.logger.Error("BACKEND_UNAVAILABLE", "conversation", convID, "model", asm.Model, "error", err)
		return nil, fmt.Errorf("start: %w: %w", model.ErrBackendUnavailable, err)
	}

	pending := model.NewPendingAssistantMessage(convID, asm.Model, asm.SystemPrompt)
	if err := m.store.AppendMessage(ctx, pending); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start: %w", err)
	}

	s.messageID.Store(pending.ID)
	s.setStream(stream, asm.Model)
	s.state.Store(int32(StateStreaming))
	s.events <- Event{
		Type:           EventStart,
		ConversationID: convID,
		MessageID:      pending.ID,
		Model:          asm.Model,
	}

	started = true
	m.wg.Add(1)
	go m.run(s, stream, asm.StopTokens, opts)

	m.logger.Info("SESSION_STARTED",
		"session", s.id,
		"conversation", convID,
		"message", pending.ID,
		"model", asm.Model,
		"segments", len(asm.Segments),
	)
	return s, nil
}

// Cancel stops the live session of a conversation. It reports whether one
// was live.
func (m *Manager) Cancel(conversationID string) bool {
	s, ok := m.registry.Get(conversationID)
	if !ok {
		return false
	}
	m.logger.Info("SESSION_CANCEL_REQUESTED", "session", s.id, "conversation", conversationID)
	s.Cancel()
	return true
}

// Get returns the live session of a conversation.
func (m *Manager) Get(conversationID string) (*Session, bool) {
	return m.registry.Get(conversationID)
}

// Active lists the live sessions, oldest first.
func (m *Manager) Active() []Info {
	sessions := m.registry.List()
	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

// Shutdown rejects new sessions, cancels live ones and waits for them to
// finalize or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closing.Store(true)
	for _, s := range m.registry.List() {
		s.Cancel()
	}

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		m.logger.Info("SESSIONS_DRAINED")
		return nil
	case <-ctx.Done():
		m.logger.Warn("SESSIONS_DRAIN_TIMEOUT", "remaining", m.registry.Len())
		return ctx.Err()
	}
}

// =============================================================================
// STREAMING
// =============================================================================

// outcome is how a stream ended.
type outcome struct {
	status model.Status
	err    error
}

// run pulls fragments until a stop condition, then finalizes.
func (m *Manager) run(s *Session, stream ollama.Stream, stopTokens []string, opts Options) {
	defer m.wg.Done()
	defer close(s.done)
	defer close(s.events)
	defer s.release.Do(func() { m.registry.Release(s) })
	defer stream.Close()

	scanner := NewScanner(stopTokens)
	modelName := s.Model()
	out := m.pump(s, stream, scanner, &modelName)

	if !scanner.Matched() {
		if tail := scanner.Flush(); tail != "" {
			s.bytes.Add(int64(len(tail)))
			s.emit(Event{Type: EventToken, Content: tail})
		}
	}
	stream.Close()

	s.state.Store(int32(StateFinalizing))
	text := scanner.Text()
	ferr := m.finalize(s, text, out.status, modelName, opts)

	s.release.Do(func() { m.registry.Release(s) })

	done := Event{Type: EventDone, Status: out.status, MessageID: s.MessageID()}
	switch {
	case out.err != nil:
		done.Error = out.err.Error()
	case ferr != nil:
		done.Error = ferr.Error()
	}

	logAttrs := []any{
		"session", s.id,
		"conversation", s.conversationID,
		"message", s.MessageID(),
		"status", out.status,
		"bytes", len(text),
		"duration", time.Since(s.startedAt).Round(time.Millisecond),
	}
	switch {
	case ferr != nil:
		m.logger.Error("SESSION_FINALIZE_FAILED", append(logAttrs, "error", ferr)...)
	case out.err != nil:
		m.logger.Warn("SESSION_FINALIZED", append(logAttrs, "error", out.err, "kind", model.ErrorKind(out.err))...)
	default:
		m.logger.Info("SESSION_FINALIZED", logAttrs...)
	}

	s.state.Store(int32(StateIdle))
	s.emit(done)
}

// pump forwards fragments and returns the outcome. Cancellation is checked
// between deliveries.
func (m *Manager) pump(s *Session, stream ollama.Stream, scanner *Scanner, modelName *string) outcome {
	for {
		if s.cancelled.Load() {
			return outcome{status: model.StatusTruncatedByCancel}
		}

		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return outcome{status: model.StatusComplete}
		}
		if err != nil {
			if s.cancelled.Load() || errors.Is(err, ollama.ErrStreamClosed) {
				return outcome{status: model.StatusTruncatedByCancel}
			}
			return outcome{
				status: model.StatusErrored,
				err:    fmt.Errorf("%w: %w", model.ErrBackendStream, err),
			}
		}
		if chunk.Model != "" {
			*modelName = chunk.Model
		}

		safe, matched := scanner.Push(chunk.Content)
		if safe != "" {
			s.bytes.Add(int64(len(safe)))
			s.emit(Event{Type: EventToken, Content: safe})
		}
		if matched {
			// Stop the backend before asking for anything more.
			stream.Close()
			m.logger.Debug("STOP_TOKEN_MATCHED", "session", s.id, "conversation", s.conversationID)
			return outcome{status: model.StatusTruncatedByStopToken}
		}
		if chunk.Done {
			return outcome{status: model.StatusComplete}
		}
	}
}

// finalize writes the final record once, retrying persistence failures with
// linear backoff. It runs detached from any client context.
func (m *Manager) finalize(s *Session, text string, status model.Status, modelName string, opts Options) error {
	ctx, cancel := context.WithTimeout(context.Background(), opts.FinalizeTimeout)
	defer cancel()

	var err error
	for attempt := 0; attempt <= opts.FinalizeRetries; attempt++ {
		if attempt > 0 {
			delay := opts.RetryDelay * time.Duration(attempt)
			m.logger.Warn("SESSION_FINALIZE_RETRY", "session", s.id, "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("finalize message %d: %w", s.MessageID(), errors.Join(err, ctx.Err()))
			}
		}

		err = m.store.UpdateMessage(ctx, s.MessageID(), text, status, modelName)
		if err == nil {
			return nil
		}
		if !errors.Is(err, model.ErrPersistence) {
			break
		}
	}
	return fmt.Errorf("finalize message %d: %w", s.MessageID(), err)
}
