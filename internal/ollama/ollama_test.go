// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// HELPERS
// =============================================================================

func ndjson(fragments ...string) string {
	var b strings.Builder
	for _, f := range fragments {
		fmt.Fprintf(&b, `{"model":"m1","message":{"role":"assistant","content":%q},"done":false}`+"\n", f)
	}
	b.WriteString(`{"model":"m1","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","eval_count":10,"eval_duration":2000000000}` + "\n")
	return b.String()
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, DefaultModel: "m1"})
}

func drain(t *testing.T, s Stream) (string, StreamChunk, error) {
	t.Helper()
	var b strings.Builder
	var last StreamChunk
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			return b.String(), last, nil
		}
		if err != nil {
			return b.String(), last, err
		}
		b.WriteString(chunk.Content)
		last = chunk
	}
}

// =============================================================================
// STREAM TESTS
// =============================================================================

func TestChatStream_Fragments(t *testing.T) {
	var got ChatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, ndjson("Hel", "lo", " world"))
	})

	stream, err := client.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{NewSystemMessage("be brief"), NewUserMessage("hi")},
		Options:  &Options{Stop: []string{"User:"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	text, last, err := drain(t, stream)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", text)
	assert.True(t, last.Done)
	assert.Equal(t, "stop", last.DoneReason)
	assert.InDelta(t, 5.0, last.TokensPerSecond(), 0.001)

	assert.True(t, got.Stream)
	assert.Equal(t, "m1", got.Model)
	assert.Equal(t, []string{"User:"}, got.Options.Stop)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)

	// Further Recv calls keep returning EOF.
	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestChatStream_SkipsBlankAndMalformedLines(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "\n")
		io.WriteString(w, "not json\n")
		io.WriteString(w, ndjson("ok"))
	})

	stream, err := client.ChatStream(context.Background(), ChatRequest{})
	require.NoError(t, err)
	defer stream.Close()

	text, _, err := drain(t, stream)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestChatStream_ErrorLine(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"message":{"content":"par"},"done":false}`+"\n")
		io.WriteString(w, `{"error":"model crashed"}`+"\n")
	})

	stream, err := client.ChatStream(context.Background(), ChatRequest{})
	require.NoError(t, err)
	defer stream.Close()

	text, _, err := drain(t, stream)
	assert.Equal(t, "par", text)
	require.Error(t, err)
	assert.True(t, IsStreamError(err))
	assert.Contains(t, err.Error(), "model crashed")
}

func TestChatStream_PrematureEOF(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"message":{"content":"half"},"done":false}`+"\n")
	})

	stream, err := client.ChatStream(context.Background(), ChatRequest{})
	require.NoError(t, err)
	defer stream.Close()

	text, _, err := drain(t, stream)
	assert.Equal(t, "half", text)
	assert.True(t, IsStreamError(err))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestChatStream_CloseUnblocksRecv(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"message":{"content":"first"},"done":false}`+"\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	stream, err := client.ChatStream(context.Background(), ChatRequest{})
	require.NoError(t, err)

	chunk, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "first", chunk.Content)

	errCh := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStreamClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not return after Close")
	}

	_, err = stream.Recv()
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestChatStream_ModelNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"model 'nope' not found"}`)
	})

	_, err := client.ChatStream(context.Background(), ChatRequest{Model: "nope"})
	assert.True(t, IsModelNotFound(err))
}

func TestChatStream_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"out of memory"}`)
	})

	_, err := client.ChatStream(context.Background(), ChatRequest{})
	require.Error(t, err)
	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrTypeInvalidResponse, ce.Type)
	assert.Equal(t, "out of memory", ce.Message)
}

func TestChatStream_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: "http://" + addr, StreamTimeout: time.Second})
	_, err = client.ChatStream(context.Background(), ChatRequest{})
	assert.True(t, IsNotRunning(err))
}

// =============================================================================
// AUXILIARY ENDPOINT TESTS
// =============================================================================

func TestListModels(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		io.WriteString(w, `{"models":[{"name":"llama3:8b","size":4661224676,"details":{"parameter_size":"8B"}}]}`)
	})

	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "llama3:8b", models[0].Name)
	assert.Equal(t, "8B", models[0].Details.ParameterSize)
	assert.Equal(t, "4.3 GiB", models[0].FormatSize())
}

func TestRunningModels_Empty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/ps", r.URL.Path)
		io.WriteString(w, `{}`)
	})

	models, err := client.RunningModels(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, models)
	assert.Empty(t, models)
}

func TestVersion(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"version":"0.5.7"}`)
	})

	v, err := client.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.5.7", v)
	assert.NoError(t, client.CheckRunning(context.Background()))
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestClientError_Is(t *testing.T) {
	err := fmt.Errorf("wrap: %w", &ClientError{Type: ErrTypeNotRunning, Message: "dial", Cause: io.EOF})
	assert.True(t, IsNotRunning(err))
	assert.False(t, IsTimeout(err))
	assert.ErrorIs(t, err, io.EOF)
}

func TestNewClientWithConfig_Defaults(t *testing.T) {
	c := NewClientWithConfig(&ClientConfig{BaseURL: "http://host:1/"})
	assert.Equal(t, "http://host:1", c.GetConfig().BaseURL)
	assert.Equal(t, 300*time.Second, c.GetConfig().Timeout)
	assert.Equal(t, 10*time.Second, c.GetConfig().StreamTimeout)
	assert.NotEmpty(t, c.GetDefaultModel())
}
