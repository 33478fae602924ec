// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/jarvischat/internal/export"
	"github.com/jeranaias/jarvischat/internal/model"
	"github.com/jeranaias/jarvischat/internal/storage"
)

// statusOK is the body of writes that return nothing else.
var statusOK = map[string]string{"status": "ok"}

// ============================================================================
// BACKEND
// ============================================================================

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	Ollama         bool   `json:"ollama"`
	OllamaVersion  string `json:"ollama_version,omitempty"`
	OllamaError    string `json:"ollama_error,omitempty"`
	Database       bool   `json:"database"`
	ActiveSessions int    `json:"active_sessions"`
}

// handleHealth handles GET /api/health. A reachable database with an
// unreachable backend is degraded, not down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:         "ok",
		Version:        Version,
		ActiveSessions: len(s.sessions.Active()),
	}

	if v, err := s.backend.Version(ctx); err != nil {
		resp.Status = "degraded"
		resp.OllamaError = err.Error()
	} else {
		resp.Ollama = true
		resp.OllamaVersion = v
	}

	status := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error("HEALTH_DB_FAILED", "error", err)
		resp.Status = "down"
		status = http.StatusServiceUnavailable
	} else {
		resp.Database = true
	}
	writeJSON(w, status, resp)
}

// handleModels handles GET /api/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.backend.ListModels(r.Context())
	if err != nil {
		s.logger.Warn("MODELS_UNAVAILABLE", "error", err)
		writeError(w, http.StatusBadGateway, "cannot reach Ollama: "+err.Error(), "backend_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

// handleRunning handles GET /api/ps.
func (s *Server) handleRunning(w http.ResponseWriter, r *http.Request) {
	running, err := s.backend.RunningModels(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "cannot reach Ollama: "+err.Error(), "backend_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": running})
}

// ============================================================================
// PROFILE AND SETTINGS
// ============================================================================

type profileRequest struct {
	Content *string `json:"content"`
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProfile(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSetProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Content == nil {
		writeError(w, http.StatusBadRequest, "content is required", "invalid_input")
		return
	}
	p, err := s.store.SetProfile(r.Context(), *req.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("PROFILE_UPDATED", "bytes", len(p.Content))
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDefaultProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"content": storage.DefaultProfile})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handleSetSettings merges the body into the stored settings. Non-string
// JSON values are stored in their JSON text form.
func (s *Server) handleSetSettings(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := decodeJSON(w, r, &raw); err != nil {
		s.fail(w, r, err)
		return
	}
	values, err := settingsFromJSON(raw)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.SetSettings(r.Context(), values); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("SETTINGS_UPDATED", "keys", len(values))
	writeJSON(w, http.StatusOK, statusOK)
}

func settingsFromJSON(raw map[string]json.RawMessage) (model.Settings, error) {
	values := make(model.Settings, len(raw))
	for k, v := range raw {
		var str string
		if err := json.Unmarshal(v, &str); err == nil {
			values[k] = str
		} else {
			values[k] = string(v)
		}
	}
	if v, ok := values[model.SettingStopTokens]; ok && strings.TrimSpace(v) != "" {
		var tokens []string
		if err := json.Unmarshal([]byte(v), &tokens); err != nil {
			return nil, fmt.Errorf("%w: %s must be a JSON array of strings", model.ErrInvalidInput, model.SettingStopTokens)
		}
	}
	if v, ok := values[model.SettingProfileEnabled]; ok {
		if _, err := strconv.ParseBool(strings.TrimSpace(v)); err != nil {
			return nil, fmt.Errorf("%w: %s must be a boolean", model.ErrInvalidInput, model.SettingProfileEnabled)
		}
	}
	return values, nil
}

// ============================================================================
// PRESETS
// ============================================================================

type presetRequest struct {
	Name      *string `json:"name"`
	Prompt    *string `json:"prompt"`
	ModelHint *string `json:"model_hint"`
}

func (req presetRequest) apply(p *model.Preset) {
	if req.Name != nil {
		p.Name = strings.TrimSpace(*req.Name)
	}
	if req.Prompt != nil {
		p.Prompt = *req.Prompt
	}
	if req.ModelHint != nil {
		p.ModelHint = strings.TrimSpace(*req.ModelHint)
	}
}

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := s.store.ListPresets(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presets)
}

func (s *Server) handleCreatePreset(w http.ResponseWriter, r *http.Request) {
	var req presetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	p := &model.Preset{}
	req.apply(p)
	created, err := s.store.UpsertPreset(r.Context(), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("PRESET_CREATED", "preset", created.ID, "name", created.Name)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetPreset(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPreset(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePreset(w http.ResponseWriter, r *http.Request) {
	var req presetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.store.GetPreset(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req.apply(p)
	updated, err := s.store.UpsertPreset(r.Context(), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("PRESET_UPDATED", "preset", updated.ID)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeletePreset(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("PRESET_DELETED", "preset", id)
	writeJSON(w, http.StatusOK, statusOK)
}

// ============================================================================
// CONVERSATIONS
// ============================================================================

type conversationRequest struct {
	Title    string `json:"title"`
	Model    string `json:"model"`
	PresetID string `json:"preset_id"`
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", "invalid_input")
			return
		}
		limit = n
	}
	convs, err := s.store.ListConversations(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if req.PresetID != "" {
		if _, err := s.store.GetPreset(r.Context(), req.PresetID); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	conv := model.NewConversation(strings.TrimSpace(req.Title))
	conv.Model = strings.TrimSpace(req.Model)
	conv.PresetID = req.PresetID
	created, err := s.store.CreateConversation(r.Context(), conv)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("CONVERSATION_CREATED", "conversation", created.ID, "title", created.Title)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.GetConversationWithMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	var u model.ConversationUpdate
	if err := decodeJSON(w, r, &u); err != nil {
		s.fail(w, r, err)
		return
	}
	if u.PresetID != nil && *u.PresetID != "" {
		if _, err := s.store.GetPreset(r.Context(), *u.PresetID); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	conv, err := s.store.UpdateConversation(r.Context(), r.PathValue("id"), u)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteConversation(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("CONVERSATION_DELETED", "conversation", id)
	writeJSON(w, http.StatusOK, statusOK)
}

// handleExportConversation handles GET /api/conversations/{id}/export and
// serves the export as a download.
func (s *Server) handleExportConversation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := export.DefaultOptions()
	if theme := q.Get("theme"); theme != "" {
		opts.Theme = theme
	}
	exporter, err := export.New(q.Get("format"), opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	conv, err := s.store.GetConversationWithMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data, err := exporter.Export(conv)
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %w", model.ErrInvalidInput, err))
		return
	}

	name := export.Filename(conv, exporter)
	w.Header().Set("Content-Type", exporter.MimeType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)

	s.logger.Info("CONVERSATION_EXPORTED", "conversation", conv.ID, "file", name, "bytes", len(data))
}
