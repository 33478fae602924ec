// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jeranaias/jarvischat/internal/model"
	"github.com/jeranaias/jarvischat/internal/ollama"
	"github.com/jeranaias/jarvischat/internal/session"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultListen is the default listen address.
	DefaultListen = "127.0.0.1:8080"

	// MaxRequestBodySize is the maximum size for request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxMessageLength is the maximum length of a chat message in bytes.
	MaxMessageLength = 100000

	// DefaultHeartbeat is the idle interval between SSE keep-alive comments.
	DefaultHeartbeat = 15 * time.Second

	// Version is the server version.
	Version = "0.3.0"
)

// ============================================================================
// DEPENDENCIES
// ============================================================================

// Store is the persistence surface the HTTP handlers need.
type Store interface {
	Ping(ctx context.Context) error

	GetProfile(ctx context.Context) (model.Profile, error)
	SetProfile(ctx context.Context, content string) (model.Profile, error)

	GetSettings(ctx context.Context) (model.Settings, error)
	SetSettings(ctx context.Context, values model.Settings) error

	ListPresets(ctx context.Context) ([]model.Preset, error)
	GetPreset(ctx context.Context, id string) (*model.Preset, error)
	UpsertPreset(ctx context.Context, p *model.Preset) (*model.Preset, error)
	DeletePreset(ctx context.Context, id string) error

	CreateConversation(ctx context.Context, c *model.Conversation) (*model.Conversation, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	GetConversationWithMessages(ctx context.Context, id string) (*model.Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]model.ConversationSummary, error)
	UpdateConversation(ctx context.Context, id string, u model.ConversationUpdate) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
}

// Sessions starts and stops streaming generations.
type Sessions interface {
	Start(ctx context.Context, req session.StartRequest) (*session.Session, error)
	Cancel(conversationID string) bool
	Active() []session.Info
}

// Backend is the read-only model surface proxied to the UI.
type Backend interface {
	Version(ctx context.Context) (string, error)
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
	RunningModels(ctx context.Context) ([]ollama.RunningModel, error)
}

// ============================================================================
// SERVER
// ============================================================================

// Options configures the HTTP server.
type Options struct {
	Listen      string
	ReadTimeout time.Duration
	IdleTimeout time.Duration

	// RateLimit is requests per minute per client; zero disables limiting.
	RateLimit int
	RateBurst int

	CORSOrigins []string
	Heartbeat   time.Duration
}

// DefaultOptions returns the server defaults.
func DefaultOptions() Options {
	return Options{
		Listen:      DefaultListen,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		RateLimit:   120,
		RateBurst:   30,
		Heartbeat:   DefaultHeartbeat,
	}
}

// Server serves the chat API.
type Server struct {
	opts    Options
	router  *http.ServeMux
	server  *http.Server
	limiter *RateLimiter
	logger  *slog.Logger

	store    Store
	sessions Sessions
	backend  Backend

	mu     sync.RWMutex
	closed bool
}

// NewServer creates a Server. Zero-valued options take their defaults.
func NewServer(opts Options, store Store, sessions Sessions, backend Backend, logger *slog.Logger) *Server {
	def := DefaultOptions()
	if opts.Listen == "" {
		opts.Listen = def.Listen
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = def.IdleTimeout
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = def.Heartbeat
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		opts:     opts,
		router:   http.NewServeMux(),
		logger:   logger,
		store:    store,
		sessions: sessions,
		backend:  backend,
	}
	if opts.RateLimit > 0 {
		s.limiter = NewRateLimiter(opts.RateLimit, opts.RateBurst)
	}
	s.setupRoutes()
	return s
}

// WithHeartbeat overrides the SSE heartbeat interval.
func (s *Server) WithHeartbeat(d time.Duration) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.opts.Heartbeat = d
	}
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.opts.Listen
}

func (s *Server) heartbeat() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.Heartbeat
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Backend
	s.router.HandleFunc("GET /api/health", s.handleHealth)
	s.router.HandleFunc("GET /api/models", s.handleModels)
	s.router.HandleFunc("GET /api/ps", s.handleRunning)

	// Profile and settings
	s.router.HandleFunc("GET /api/profile", s.handleGetProfile)
	s.router.HandleFunc("PUT /api/profile", s.handleSetProfile)
	s.router.HandleFunc("GET /api/profile/default", s.handleDefaultProfile)
	s.router.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.router.HandleFunc("PUT /api/settings", s.handleSetSettings)

	// Presets
	s.router.HandleFunc("GET /api/presets", s.handleListPresets)
	s.router.HandleFunc("POST /api/presets", s.handleCreatePreset)
	s.router.HandleFunc("GET /api/presets/{id}", s.handleGetPreset)
	s.router.HandleFunc("PUT /api/presets/{id}", s.handleUpdatePreset)
	s.router.HandleFunc("DELETE /api/presets/{id}", s.handleDeletePreset)

	// Conversations
	s.router.HandleFunc("GET /api/conversations", s.handleListConversations)
	s.router.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	s.router.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	s.router.HandleFunc("PUT /api/conversations/{id}", s.handleUpdateConversation)
	s.router.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	s.router.HandleFunc("GET /api/conversations/{id}/export", s.handleExportConversation)

	// Streaming
	s.router.HandleFunc("POST /api/chat", s.handleChat)
	s.router.HandleFunc("POST /api/chat/{id}/stop", s.handleStop)
	s.router.HandleFunc("GET /api/sessions", s.handleSessions)
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
	}
	if len(s.opts.CORSOrigins) > 0 {
		cors := DefaultCORSConfig()
		cors.AllowedOrigins = s.opts.CORSOrigins
		middlewares = append(middlewares, CORSMiddleware(cors))
	}
	if s.limiter != nil {
		middlewares = append(middlewares, RateLimitMiddleware(s.limiter, s.logger))
	}
	return Chain(middlewares...)(s.router)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	// WriteTimeout stays zero; chat streams are unbounded.
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		IdleTimeout:       s.opts.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info("SERVER_START", "addr", ln.Addr().String(), "version", Version)
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()

	if s.limiter != nil {
		s.limiter.Stop()
	}
	if srv == nil {
		return nil
	}
	s.logger.Info("SERVER_SHUTDOWN", "addr", s.opts.Listen)
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// errorBody is the JSON error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message, kind string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Message: message, Type: kind, Code: status}})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, model.ErrBackendUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server errors are logged; their
// detail is not sent to the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	kind := model.ErrorKind(err)
	msg := err.Error()
	if errors.Is(err, session.ErrShuttingDown) {
		kind = "shutting_down"
	}
	if status >= 500 && status != http.StatusBadGateway && status != http.StatusServiceUnavailable {
		s.logger.Error("REQUEST_FAILED", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	writeError(w, status, msg, kind)
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: request body too large", model.ErrInvalidInput)
		}
		return fmt.Errorf("%w: invalid JSON: %v", model.ErrInvalidInput, err)
	}
	return nil
}
