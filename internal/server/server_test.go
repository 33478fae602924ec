// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/jarvischat/internal/model"
	"github.com/jeranaias/jarvischat/internal/ollama"
	"github.com/jeranaias/jarvischat/internal/prompt"
	"github.com/jeranaias/jarvischat/internal/session"
	"github.com/jeranaias/jarvischat/internal/storage"
)

// ============================================================================
// TEST HELPERS
// ============================================================================

var testStopTokens = []string{"User:", "Assistant:", "\nUser"}

// fakeOllama serves the subset of the Ollama API the server touches.
type fakeOllama struct {
	fragments []string

	// block holds the chat stream open after the fragments until the
	// client goes away or release is closed.
	block   bool
	release chan struct{}
	once    sync.Once

	mu       sync.Mutex
	requests []ollama.ChatRequest
}

func (f *fakeOllama) unblock() {
	f.once.Do(func() { close(f.release) })
}

func (f *fakeOllama) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"version":"0.5.1"}`)
	})
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"llama3:8b","size":4661224676,"digest":"abc"}]}`)
	})
	mux.HandleFunc("GET /api/ps", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[]}`)
	})
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req ollama.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		for _, frag := range f.fragments {
			line, _ := json.Marshal(map[string]any{
				"model":   "m1",
				"message": map[string]string{"role": "assistant", "content": frag},
				"done":    false,
			})
			w.Write(append(line, '\n'))
			flusher.Flush()
		}
		if f.block {
			select {
			case <-r.Context().Done():
				return
			case <-f.release:
			}
		}
		fmt.Fprintln(w, `{"model":"m1","message":{"role":"assistant","content":""},"done":true}`)
	})
	return mux
}

type testEnv struct {
	store  *storage.Store
	mgr    *session.Manager
	srv    *Server
	api    *httptest.Server
	ollama *httptest.Server
	fake   *fakeOllama
}

func newTestEnv(t *testing.T, fake *fakeOllama) *testEnv {
	t.Helper()
	ctx := context.Background()
	fake.release = make(chan struct{})

	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "server.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Seed(ctx, storage.SeedOptions{DefaultModel: "m1", StopTokens: testStopTokens}))

	backend := httptest.NewServer(fake.handler())
	t.Cleanup(backend.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: backend.URL, DefaultModel: "m1"})
	asm := prompt.New(db, prompt.Options{DefaultModel: "m1", StopTokens: testStopTokens}, logger)
	mgr := session.NewManager(db, asm, client, session.Options{RetryDelay: time.Millisecond}, logger)
	srv := NewServer(Options{}, db, mgr, client, logger)

	api := httptest.NewServer(srv.Handler())
	t.Cleanup(api.Close)
	t.Cleanup(func() {
		fake.unblock()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	})

	return &testEnv{store: db, mgr: mgr, srv: srv, api: api, ollama: backend, fake: fake}
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
func (e *testEnv) do(t *testing.T, method, path string, body, out any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.api.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

// sseStream reads SSE lines from a response on a background goroutine.
type sseStream struct {
	lines chan string
}

func openStream(t *testing.T, resp *http.Response) *sseStream {
	t.Helper()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	s := &sseStream{lines: make(chan string, 64)}
	go func() {
		defer close(s.lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			s.lines <- sc.Text()
		}
	}()
	return s
}

func (s *sseStream) line(t *testing.T) (string, bool) {
	t.Helper()
	select {
	case l, ok := <-s.lines:
		return l, ok
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for SSE line")
		return "", false
	}
}

// next returns the next data event, skipping heartbeats.
func (s *sseStream) next(t *testing.T) session.Event {
	t.Helper()
	for {
		l, ok := s.line(t)
		require.True(t, ok, "stream ended before the next event")
		if data, found := strings.CutPrefix(l, "data: "); found {
			var ev session.Event
			require.NoError(t, json.Unmarshal([]byte(data), &ev))
			return ev
		}
	}
}

// rest returns the remaining events through done.
func (s *sseStream) rest(t *testing.T) []session.Event {
	t.Helper()
	var events []session.Event
	for {
		ev := s.next(t)
		events = append(events, ev)
		if ev.Type == session.EventDone {
			return events
		}
	}
}

func tokens(events []session.Event) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == session.EventToken {
			b.WriteString(ev.Content)
		}
	}
	return b.String()
}

func assistantMessage(t *testing.T, store *storage.Store, convID string) model.Message {
	t.Helper()
	msgs, err := store.ListMessages(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	return msgs[1]
}

// ============================================================================
// CHAT STREAMING TESTS
// ============================================================================

func TestChat_StreamsAndPersists(t *testing.T) {
	env := newTestEnv(t, &fakeOllama{fragments: []string{"Hello", " world ", "Us", "er: next turn"}})

	resp := env.do(t, http.MethodPost, "/api/chat", ChatRequest{Message: "say hello"}, nil)
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))
	events := openStream(t, resp).rest(t)

	start := events[0]
	require.Equal(t, session.EventStart, start.Type)
	assert.NotEmpty(t, start.ConversationID)
	assert.NotZero(t, start.MessageID)
	assert.Equal(t, "m1", start.Model)

	done := events[len(events)-1]
	assert.Equal(t, model.StatusTruncatedByStopToken, done.Status)
	assert.Equal(t, start.MessageID, done.MessageID)
	assert.Empty(t, done.Error)
	assert.Equal(t, "Hello world ", tokens(events))

	msg := assistantMessage(t, env.store, start.ConversationID)
	assert.Equal(t, "Hello world ", msg.Content)
	assert.Equal(t, model.StatusTruncatedByStopToken, msg.Status)

	conv, err := env.store.GetConversation(context.Background(), start.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "say hello", conv.Title)

	env.fake.mu.Lock()
	defer env.fake.mu.Unlock()
	require.Len(t, env.fake.requests, 1)
	require.NotNil(t, env.fake.requests[0].Options)
	assert.Equal(t, testStopTokens, env.fake.requests[0].Options.Stop)
}

func TestChat_Errors(t *testing.T) {
	env := newTestEnv(t, &fakeOllama{fragments: []string{"ok"}})

	tests := []struct {
		name   string
		body   any
		status int
		kind   string
	}{
		{"empty message", ChatRequest{Message: "   "}, http.StatusBadRequest, "invalid_input"},
		{"message too long", ChatRequest{Message: strings.Repeat("x", MaxMessageLength+1)}, http.StatusBadRequest, "invalid_input"},
		{"malformed body", "not an object", http.StatusBadRequest, "invalid_input"},
		{"unknown conversation", ChatRequest{ConversationID: "missing", Message: "hi"}, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body errorBody
			resp := env.do(t, http.MethodPost, "/api/chat", tt.body, &body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			assert.Equal(t, tt.kind, body.Error.Type)
			assert.Equal(t, tt.status, body.Error.Code)
		})
	}

	convs, err := env.store.ListConversations(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestChat_BackendUnavailable(t *testing.T) {
	env := newTestEnv(t, &fakeOllama{})
	conv, err := env.store.CreateConversation(context.Background(), model.NewConversation("down"))
	require.NoError(t, err)
	env.ollama.Close()

	var body errorBody
	resp := env.do(t, http.MethodPost, "/api/chat", ChatRequest{ConversationID: conv.ID, Message: "hi"}, &body)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "backend_unavailable", body.Error.Type)

	msgs, err := env.store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	for _, m := range msgs {
		assert.NotEqual(t, model.RoleAssistant, m.Role, "no pending assistant message after a failed start")
	}
	assert.Empty(t, env.mgr.Active())
}

func TestChat_BusyThenStop(t *testing.T) {
	env := newTestEnv(t, &fakeOllama{fragments: []string{"partial"}, block: true})
	conv, err := env.store.CreateConversation(context.Background(), model.NewConversation("busy"))
	require.NoError(t, err)

	stream := openStream(t, env.do(t, http.MethodPost, "/api/chat", ChatRequest{ConversationID: conv.ID, Message: "first"}, nil))
	require.Equal(t, session.EventStart, stream.next(t).Type)
	tok := stream.next(t)
	require.Equal(t, session.EventToken, tok.Type)
	assert.Equal(t, "partial", tok.Content)

	var sessions []session.Info
	env.do(t, http.MethodGet, "/api/sessions", nil, &sessions)
	require.Len(t, sessions, 1)
	assert.Equal(t, conv.ID, sessions[0].ConversationID)

	var busy errorBody
	resp := env.do(t, http.MethodPost, "/api/chat", ChatRequest{ConversationID: conv.ID, Message: "second"}, &busy)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "session_busy", busy.Error.Type)

	resp = env.do(t, http.MethodPost, "/api/chat/"+conv.ID+"/stop", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	events := stream.rest(t)
	done := events[len(events)-1]
	assert.Equal(t, model.StatusTruncatedByCancel, done.Status)

	msg := assistantMessage(t, env.store, conv.ID)
	assert.Equal(t, "partial", msg.Content)
	assert.Equal(t, model.StatusTruncatedByCancel, msg.Status)

	resp = env.do(t, http.MethodPost, "/api/chat/"+conv.ID+"/stop", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChat_ClientDisconnectFinalizes(t *testing.T) {
	env := newTestEnv(t, &fakeOllama{fragments: []string{"Hello"}, block: true})
	conv, err := env.store.CreateConversation(context.Background(), model.NewConversation("gone"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	body, _ := json.Marshal(ChatRequest{ConversationID: conv.ID, Message: "hi"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, env.api.URL+"/api/chat", bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	stream := openStream(t, resp)
	require.Equal(t, session.EventStart, stream.next(t).Type)
	require.Equal(t, "Hello", stream.next(t).Content)

	cancel()
	resp.Body.Close()

	require.Eventually(t, func() bool {
		msgs, err := env.store.ListMessages(context.Background(), conv.ID)
		return err == nil && len(msgs) == 2 && msgs[1].Status == model.StatusTruncatedByCancel
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "Hello", assistantMessage(t, env.store, conv.ID).Content)
	require.Eventually(t, func() bool { return len(env.mgr.Active()) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestChat_Heartbeat(t *testing.T) {
	env := newTestEnv(t, &fakeOllama{fragments: []string{"x"}, block: true})
	env.srv.WithHeartbeat(20 * time.Millisecond)

	stream := openStream(t, env.do(t, http.MethodPost, "/api/chat", ChatRequest{Message: "ping me"}, nil))
	start := stream.next(t)

	for {
		l, ok := stream.line(t)
		require.True(t, ok)
		if l == ": ping" {
			break
		}
	}

	assert.True(t, env.mgr.Cancel(start.ConversationID))
	events := stream.rest(t)
	assert.Equal(t, model.StatusTruncatedByCancel, events[len(events)-1].Status)
}

// ============================================================================
// CRUD TESTS
// ============================================================================

func TestBackendProxies(t *testing.T) {
	env := newTestEnv(t, &fakeOllama{})

	var health HealthResponse
	resp := env.do(t, http.MethodGet, "/api/health", nil, &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "0.5.1", health.OllamaVersion)
	assert.True(t, health.Database)

	var models struct {
		Models []ollama.ModelInfo `json:"models"`
	}
	env.do(t, http.MethodGet, "/api/models", nil, &models)
	require.Len(t, models.Models, 1)
	assert.Equal(t, "llama3:8b", models.Models[0].Name)

	var running struct {
		Models []ollama.RunningModel `json:"models"`
	}
	env.do(t, http.MethodGet, "/api/ps", nil, &running)
	assert.NotNil(t, running.Models)

	env.ollama.Close()

	resp = env.do(t, http.MethodGet, "/api/models", nil, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	health = HealthResponse{}
	resp = env.do(t, http.MethodGet, "/api/health", nil, &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "degraded", health.Status)
	assert.False(t, health.Ollama)
}

func TestProfileAndSettings(t *testing.T) {
	env := newTestEnv(t, &fakeOllama{})

	var def map[string]string
	env.do(t, http.MethodGet, "/api/profile/default", nil, &def)
	assert.Equal(t, storage.DefaultProfile, def["content"])

	var p model.Profile
	env.do(t, http.MethodPut, "/api/profile", map[string]string{"content": "I use Arch."}, &p)
	assert.Equal(t, "I use Arch.", p.Content)

	p = model.Profile{}
	env.do(t, http.MethodGet, "/api/profile", nil, &p)
	assert.Equal(t, "I use Arch.", p.Content)

	resp := env.do(t, http.MethodPut, "/api/profile", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/api/settings", map[string]any{
		"profile_enabled": false,
		"stop_tokens":     []string{"###"},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var settings model.Settings
	env.do(t, http.MethodGet, "/api/settings", nil, &settings)
	assert.Equal(t, "false", settings[model.SettingProfileEnabled])
	assert.Equal(t, `["###"]`, settings[model.SettingStopTokens])
	assert.Equal(t, "m1", settings[model.SettingDefaultModel], "merge leaves other keys alone")

	resp = env.do(t, http.MethodPut, "/api/settings", map[string]any{"stop_tokens": "nope"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = env.do(t, http.MethodPut, "/api/settings", map[string]any{"profile_enabled": "maybe"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPresets(t *testing.T) {
	env := newTestEnv(t, &fakeOllama{})

	var presets []model.Preset
	env.do(t, http.MethodGet, "/api/presets", nil, &presets)
	assert.Len(t, presets, len(storage.DefaultPresets))

	var created model.Preset
	resp := env.do(t, http.MethodPost, "/api/presets", map[string]string{"name": "Terse", "prompt": "Be terse."}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.IsDefault)

	var updated model.Preset
	env.do(t, http.MethodPut, "/api/presets/"+created.ID, map[string]string{"prompt": "Be very terse."}, &updated)
	assert.Equal(t, "Terse", updated.Name)
	assert.Equal(t, "Be very terse.", updated.Prompt)

	resp = env.do(t, http.MethodPost, "/api/presets", map[string]string{"name": "No prompt"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var forbidden errorBody
	resp = env.do(t, http.MethodDelete, "/api/presets/coding-companion", nil, &forbidden)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", forbidden.Error.Type)

	resp = env.do(t, http.MethodDelete, "/api/presets/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/api/presets/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConversations(t *testing.T) {
	env := newTestEnv(t, &fakeOllama{})

	var conv model.Conversation
	resp := env.do(t, http.MethodPost, "/api/conversations", map[string]string{"title": "Planning", "model": "m2"}, &conv)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Planning", conv.Title)
	assert.Equal(t, "m2", conv.Model)

	resp = env.do(t, http.MethodPost, "/api/conversations", map[string]string{"preset_id": "missing"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var renamed model.Conversation
	env.do(t, http.MethodPut, "/api/conversations/"+conv.ID, map[string]string{"title": "Renamed", "preset_id": "linux-sysadmin"}, &renamed)
	assert.Equal(t, "Renamed", renamed.Title)
	assert.Equal(t, "linux-sysadmin", renamed.PresetID)

	resp = env.do(t, http.MethodPut, "/api/conversations/"+conv.ID, map[string]string{"title": " "}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var list []model.ConversationSummary
	env.do(t, http.MethodGet, "/api/conversations", nil, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "Renamed", list[0].Title)

	resp = env.do(t, http.MethodGet, "/api/conversations?limit=x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var full model.Conversation
	resp = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID, nil, &full)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, conv.ID, full.ID)
	assert.Empty(t, full.Messages)

	resp = env.do(t, http.MethodDelete, "/api/conversations/"+conv.ID, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExportDownload(t *testing.T) {
	env := newTestEnv(t, &fakeOllama{fragments: []string{"Use `ls -la`."}})

	stream := openStream(t, env.do(t, http.MethodPost, "/api/chat", ChatRequest{Message: "list files"}, nil))
	events := stream.rest(t)
	convID := events[0].ConversationID

	resp := env.do(t, http.MethodGet, "/api/conversations/"+convID+"/export?format=md", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `attachment; filename="conversation_list_files_`)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `.md"`)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Use `ls -la`.")

	resp = env.do(t, http.MethodGet, "/api/conversations/"+convID+"/export?format=html", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp = env.do(t, http.MethodGet, "/api/conversations/"+convID+"/export?format=pdf", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/conversations/missing/export", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ============================================================================
// MIDDLEWARE TESTS
// ============================================================================

func TestRateLimitMiddleware(t *testing.T) {
	srv := NewServer(Options{RateLimit: 60, RateBurst: 2}, nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer srv.Shutdown(context.Background())
	h := srv.Handler()

	codes := make([]int, 3)
	for i := range codes {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/profile/default", nil))
		codes[i] = rec.Code
		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, "1", rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	other := httptest.NewRequest(http.MethodGet, "/api/profile/default", nil)
	other.RemoteAddr = "198.51.100.7:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code, "limits are per client")
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal", body.Error.Type)
}

func TestCORSMiddleware(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = []string{"http://ui.local", "*.example.com"}
	h := CORSMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name    string
		method  string
		origin  string
		code    int
		allowed bool
	}{
		{"preflight allowed", http.MethodOptions, "http://ui.local", http.StatusNoContent, true},
		{"wildcard subdomain", http.MethodGet, "https://app.example.com", http.StatusTeapot, true},
		{"unknown origin", http.MethodGet, "http://evil.test", http.StatusTeapot, false},
		{"no origin", http.MethodGet, "", http.StatusTeapot, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/chat", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
			if tt.allowed {
				assert.Equal(t, tt.origin, rec.Header().Get("Access-Control-Allow-Origin"))
				assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
			} else {
				assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"direct", "203.0.113.5:1234", nil, "203.0.113.5"},
		{"untrusted proxy ignored", "203.0.113.5:1234", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "203.0.113.5"},
		{"trusted proxy forwarded", "127.0.0.1:1234", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "1.2.3.4"},
		{"trusted proxy real ip", "10.1.2.3:80", map[string]string{"X-Real-IP": "5.6.7.8"}, "5.6.7.8"},
		{"garbage header", "127.0.0.1:1234", map[string]string{"X-Forwarded-For": "not-an-ip"}, "127.0.0.1"},
		{"no port", "192.0.2.9", nil, "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientIP(req))
		})
	}
}

func TestLoggingMiddleware_Flushes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := w.(http.Flusher)
		assert.True(t, ok)
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, "hi")
		w.(http.Flusher).Flush()
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", nil))

	assert.True(t, rec.Flushed)
	assert.Contains(t, buf.String(), "HTTP_REQUEST")
	assert.Contains(t, buf.String(), "status=202")
	assert.Contains(t, buf.String(), "path=/api/chat")
}
