// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches any ClientError of the same Type, so wrapped instances compare
// equal to the sentinels below.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	return ok && t.Type == e.Type
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
	ErrTypeStream
	ErrTypeCanceled
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
	ErrStream        = &ClientError{Type: ErrTypeStream, Message: "stream failed"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	// Note: Uses explicit IPv4 address instead of localhost to avoid IPv6 resolution issues
	BaseURL string

	// Timeout for non-streaming requests (default: 300s)
	Timeout time.Duration

	// StreamTimeout bounds connection setup for streaming requests (default: 10s).
	// Streams themselves have no overall deadline.
	StreamTimeout time.Duration

	// DefaultModel to use if none specified (default: "deepseek-coder:6.7b")
	DefaultModel string

	// KeepAlive is forwarded as keep_alive on chat requests when set.
	KeepAlive string
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:       "http://127.0.0.1:11434",
		Timeout:       300 * time.Second,
		StreamTimeout: 10 * time.Second,
		DefaultModel:  "deepseek-coder:6.7b",
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
//
// The Client is thread-safe for concurrent use.
//
// Example:
//
//	client := ollama.NewClient()
//	stream, err := client.ChatStream(ctx, ollama.ChatRequest{
//	    Model:    "qwen2.5-coder:7b",
//	    Messages: []ollama.Message{ollama.NewUserMessage("hi")},
//	})
//	if err != nil { ... }
//	defer stream.Close()
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()

	// Fill in defaults for any zero values
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.StreamTimeout == 0 {
		config.StreamTimeout = defaults.StreamTimeout
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaults.DefaultModel
	}

	// SECURITY: TLS not required - Ollama runs locally over HTTP
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   config.StreamTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &Client{
		config:       config,
		httpClient:   &http.Client{Timeout: config.Timeout},
		streamClient: &http.Client{Transport: transport},
	}
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// Version returns the backend version string from /api/version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var v VersionResponse
	if err := c.getJSON(ctx, "/api/version", &v); err != nil {
		return "", err
	}
	return v.Version, nil
}

// CheckRunning verifies that Ollama is reachable and running.
func (c *Client) CheckRunning(ctx context.Context) error {
	_, err := c.Version(ctx)
	return err
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all installed models from /api/tags.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var result ListModelsResponse
	if err := c.getJSON(ctx, "/api/tags", &result); err != nil {
		return nil, err
	}
	if result.Models == nil {
		result.Models = []ModelInfo{}
	}
	return result.Models, nil
}

// RunningModels retrieves the models currently loaded in memory from /api/ps.
func (c *Client) RunningModels(ctx context.Context) ([]RunningModel, error) {
	var result RunningModelsResponse
	if err := c.getJSON(ctx, "/api/ps", &result); err != nil {
		return nil, err
	}
	if result.Models == nil {
		result.Models = []RunningModel{}
	}
	return result.Models, nil
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// ChatStream opens a streaming /api/chat request and returns a Stream.
//
// Errors opening the stream are ErrNotRunning (backend unreachable),
// ErrTimeout, ErrModelNotFound or ErrTypeInvalidResponse. Errors from Recv
// after a successful open are ErrTypeStream.
//
// The stream outlives ctx only as far as ctx allows: cancelling ctx has the
// same effect as Close.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest) (Stream, error) {
	if req.Model == "" {
		req.Model = c.config.DefaultModel
	}
	if req.KeepAlive == "" {
		req.KeepAlive = c.config.KeepAlive
	}
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer drainAndClose(resp.Body)
		return nil, statusError(resp, "stream request failed")
	}

	return newHTTPStream(resp.Body, cancel), nil
}

// =============================================================================
// UTILITY METHODS
// =============================================================================

// GetConfig returns the client configuration.
func (c *Client) GetConfig() *ClientConfig {
	return c.config
}

// GetDefaultModel returns the configured default model.
func (c *Client) GetDefaultModel() string {
	return c.config.DefaultModel
}

// IsModelNotFound checks if an error is a model not found error.
func IsModelNotFound(err error) bool {
	return errors.Is(err, ErrModelNotFound)
}

// IsNotRunning checks if an error indicates Ollama is not running.
func IsNotRunning(err error) bool {
	return errors.Is(err, ErrNotRunning)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsStreamError checks if an error happened after a stream was opened.
func IsStreamError(err error) bool {
	return errors.Is(err, ErrStream)
}

// getJSON performs a GET against path and decodes a JSON body into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return statusError(resp, "request "+path+" failed")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return nil
}

// classifyTransportError maps an http.Client.Do failure to a ClientError.
func classifyTransportError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	case errors.Is(err, context.Canceled):
		return &ClientError{Type: ErrTypeCanceled, Message: "request canceled", Cause: err}
	default:
		return &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running", Cause: err}
	}
}

// statusError builds a ClientError from a non-200 response.
func statusError(resp *http.Response, prefix string) error {
	if resp.StatusCode == http.StatusNotFound {
		return ErrModelNotFound
	}
	var ollamaErr OllamaError
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&ollamaErr); err == nil && ollamaErr.Error != "" {
		if strings.Contains(strings.ToLower(ollamaErr.Error), "not found") {
			return &ClientError{Type: ErrTypeModelNotFound, Message: ollamaErr.Error}
		}
		return &ClientError{Type: ErrTypeInvalidResponse, Message: ollamaErr.Error}
	}
	return &ClientError{Type: ErrTypeInvalidResponse, Message: prefix + ": " + resp.Status}
}

// drainAndClose drains and closes a response body so the connection can be reused.
func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(r, 1<<20))
	r.Close()
}
