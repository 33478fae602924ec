// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/jarvischat/internal/model"
	"github.com/jeranaias/jarvischat/internal/session"
)

// ============================================================================
// CHAT STREAMING
// ============================================================================

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
	PresetID       string `json:"preset_id,omitempty"`
	Model          string `json:"model,omitempty"`
}

func (r ChatRequest) validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("%w: message is required", model.ErrInvalidInput)
	}
	if len(r.Message) > MaxMessageLength {
		return fmt.Errorf("%w: message exceeds %d bytes", model.ErrInvalidInput, MaxMessageLength)
	}
	return nil
}

// handleChat handles POST /api/chat. Errors before the session starts are
// JSON; afterwards everything is an SSE event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		s.fail(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", "internal")
		return
	}

	sess, err := s.sessions.Start(r.Context(), session.StartRequest{
		ConversationID: req.ConversationID,
		PresetID:       req.PresetID,
		Model:          req.Model,
		Message:        req.Message,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.relay(w, r, flusher, sess)
}

// relay forwards session events until done. A client that goes away detaches
// the session, which then finalizes on its own.
func (s *Server) relay(w http.ResponseWriter, r *http.Request, flusher http.Flusher, sess *session.Session) {
	interval := s.heartbeat()
	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()

	events := sess.Events()
	for {
		select {
		case <-r.Context().Done():
			sess.Detach()
			s.logger.Info("CLIENT_DISCONNECTED",
				"conversation", sess.ConversationID(),
				"session", sess.ID(),
			)
			return

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				sess.Detach()
				return
			}
			flusher.Flush()

		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				sess.Detach()
				s.logger.Warn("SSE_WRITE_FAILED", "conversation", sess.ConversationID(), "error", err)
				return
			}
			flusher.Flush()
			if ev.Type == session.EventDone {
				return
			}
			heartbeat.Reset(interval)
		}
	}
}

// writeEvent writes one SSE data frame.
func writeEvent(w http.ResponseWriter, ev session.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// handleStop handles POST /api/chat/{id}/stop.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.sessions.Cancel(id) {
		writeError(w, http.StatusNotFound, "no live session for conversation "+id, "not_found")
		return
	}
	s.logger.Info("SESSION_STOP_REQUESTED", "conversation", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleSessions handles GET /api/sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Active())
}
