// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/jarvischat/internal/model"
	"github.com/jeranaias/jarvischat/internal/ollama"
)

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle position of a session.
type State int32

const (
	StateIdle State = iota
	StateAssembling
	StateStreaming
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateAssembling:
		return "assembling"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	default:
		return "idle"
	}
}

// =============================================================================
// EVENTS
// =============================================================================

// EventType tags an Event.
type EventType string

const (
	EventStart EventType = "start"
	EventToken EventType = "token"
	EventDone  EventType = "done"
)

// Event is one message delivered to the transport. Fields are populated per
// type: start carries ids and model, token carries content, done carries the
// outcome and, when errored, the error text.
type Event struct {
	Type           EventType    `json:"type"`
	ConversationID string       `json:"conversation_id,omitempty"`
	MessageID      int64        `json:"message_id,omitempty"`
	Model          string       `json:"model,omitempty"`
	Content        string       `json:"content,omitempty"`
	Status         model.Status `json:"status,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one live generation for a conversation.
type Session struct {
	id             string
	conversationID string
	startedAt      time.Time

	messageID atomic.Int64
	state     atomic.Int32
	bytes     atomic.Int64
	cancelled atomic.Bool

	mu     sync.Mutex
	stream ollama.Stream
	model  string

	events   chan Event
	detached chan struct{}
	detach   sync.Once
	done     chan struct{}
	release  sync.Once
}

func newSession(id, conversationID string, buffer int) *Session {
	s := &Session{
		id:             id,
		conversationID: conversationID,
		startedAt:      time.Now().UTC(),
		events:         make(chan Event, buffer),
		detached:       make(chan struct{}),
		done:           make(chan struct{}),
	}
	s.state.Store(int32(StateAssembling))
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// ConversationID returns the owned conversation.
func (s *Session) ConversationID() string { return s.conversationID }

// MessageID returns the assistant message being generated.
func (s *Session) MessageID() int64 { return s.messageID.Load() }

// Model returns the model the request was sent to.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Events returns the event channel. It is closed after the done event.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed once the session has been finalized and released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Cancel stops generation. The session finalizes as truncated-by-cancellation
// and still delivers its done event.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
}

// Detach cancels the session and stops event delivery. The transport calls
// it when the client goes away.
func (s *Session) Detach() {
	s.detach.Do(func() { close(s.detached) })
	s.Cancel()
}

// Info returns a point-in-time snapshot.
func (s *Session) Info() Info {
	return Info{
		ID:             s.id,
		ConversationID: s.conversationID,
		MessageID:      s.MessageID(),
		Model:          s.Model(),
		State:          s.State().String(),
		Bytes:          s.bytes.Load(),
		StartedAt:      s.startedAt,
	}
}

// Info describes a live session for listings.
type Info struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	MessageID      int64     `json:"message_id,omitempty"`
	Model          string    `json:"model,omitempty"`
	State          string    `json:"state"`
	Bytes          int64     `json:"bytes"`
	StartedAt      time.Time `json:"started_at"`
}

// setStream attaches the backend stream. A cancel that arrived earlier
// closes it at once.
func (s *Session) setStream(stream ollama.Stream, modelName string) {
	s.mu.Lock()
	s.stream = stream
	s.model = modelName
	s.mu.Unlock()
	if s.cancelled.Load() {
		stream.Close()
	}
}

// emit delivers ev unless the consumer has detached.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.detached:
	}
}
