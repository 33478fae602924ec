// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jeranaias/jarvischat/internal/model"
)

// =============================================================================
// OWNERSHIP REGISTRY
// =============================================================================

// Registry maps conversation ids to the session that owns them.
type Registry struct {
	mu   sync.Mutex
	held map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{held: make(map[string]*Session)}
}

// Acquire records s as the owner of its conversation. It fails with
// ErrSessionBusy, changing nothing, when another session holds it.
func (r *Registry) Acquire(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.held[s.conversationID]; ok {
		return fmt.Errorf("conversation %s: %w", s.conversationID, model.ErrSessionBusy)
	}
	r.held[s.conversationID] = s
	return nil
}

// Release frees the conversation if s still owns it.
func (r *Registry) Release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held[s.conversationID] == s {
		delete(r.held, s.conversationID)
	}
}

// Get returns the session owning conversationID.
func (r *Registry) Get(conversationID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.held[conversationID]
	return s, ok
}

// List returns the live sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.held))
	for _, s := range r.held {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].startedAt.Before(out[j].startedAt)
	})
	return out
}

// Len returns the number of held conversations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}
