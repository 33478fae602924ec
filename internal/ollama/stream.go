// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// STREAM INTERFACE
// =============================================================================

// Stream is a lazy, pull-based sequence of chat fragments.
//
// Recv blocks until the next fragment arrives and returns io.EOF after the
// terminal chunk has been delivered. Close cancels the underlying request
// and is safe to call more than once and concurrently with Recv; a Recv
// blocked at that moment returns ErrStreamClosed promptly.
type Stream interface {
	Recv() (StreamChunk, error)
	Close() error
}

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = &ClientError{Type: ErrTypeCanceled, Message: "stream closed"}

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader decodes NDJSON lines from a /api/chat response body.
type StreamReader struct {
	reader *bufio.Reader
	model  string
}

// NewStreamReader creates a new stream reader from an io.Reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next chunk that carries content or the terminal flag.
// Blank and malformed lines are skipped. A body that ends before the
// terminal chunk yields a stream error, since the backend dropped mid-way.
func (s *StreamReader) Next() (StreamChunk, error) {
	for {
		line, err := s.reader.ReadBytes('\n')
		if len(line) > 0 {
			chunk, ok, lineErr := s.decode(line)
			if lineErr != nil {
				return StreamChunk{}, lineErr
			}
			if ok {
				return chunk, nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return StreamChunk{}, &ClientError{Type: ErrTypeStream, Message: "stream ended before completion", Cause: io.ErrUnexpectedEOF}
			}
			return StreamChunk{}, err
		}
	}
}

// decode parses one line. ok is false for lines that carry nothing.
func (s *StreamReader) decode(line []byte) (StreamChunk, bool, error) {
	var resp chatLine
	if err := json.Unmarshal(line, &resp); err != nil {
		return StreamChunk{}, false, nil
	}
	if resp.Error != "" {
		return StreamChunk{}, false, &ClientError{Type: ErrTypeStream, Message: resp.Error}
	}
	if resp.Model != "" {
		s.model = resp.Model
	}
	if resp.Message.Content == "" && !resp.Done {
		return StreamChunk{}, false, nil
	}

	chunk := StreamChunk{
		Content:    resp.Message.Content,
		Done:       resp.Done,
		DoneReason: resp.DoneReason,
		Model:      s.model,
	}
	if resp.Done {
		chunk.TotalDuration = time.Duration(resp.TotalDuration)
		chunk.LoadDuration = time.Duration(resp.LoadDuration)
		chunk.PromptEvalDuration = time.Duration(resp.PromptEvalDuration)
		chunk.EvalDuration = time.Duration(resp.EvalDuration)
		chunk.PromptTokens = resp.PromptEvalCount
		chunk.CompletionTokens = resp.EvalCount
	}
	return chunk, true, nil
}

// =============================================================================
// HTTP STREAM
// =============================================================================

// httpStream is the Stream returned by Client.ChatStream.
type httpStream struct {
	cancel   context.CancelFunc
	body     io.ReadCloser
	reader   *StreamReader
	finished bool // terminal chunk delivered; only touched by Recv

	closed    atomic.Bool
	closeOnce sync.Once
}

func newHTTPStream(body io.ReadCloser, cancel context.CancelFunc) *httpStream {
	return &httpStream{
		cancel: cancel,
		body:   body,
		reader: NewStreamReader(body),
	}
}

// Recv returns the next fragment.
func (s *httpStream) Recv() (StreamChunk, error) {
	if s.closed.Load() {
		return StreamChunk{}, ErrStreamClosed
	}
	if s.finished {
		return StreamChunk{}, io.EOF
	}

	chunk, err := s.reader.Next()
	if err != nil {
		if s.closed.Load() {
			return StreamChunk{}, ErrStreamClosed
		}
		var ce *ClientError
		if errors.As(err, &ce) {
			return StreamChunk{}, err
		}
		return StreamChunk{}, &ClientError{Type: ErrTypeStream, Message: "stream read failed", Cause: err}
	}
	if chunk.Done {
		s.finished = true
	}
	return chunk, nil
}

// Close cancels the request, which stops backend generation, and releases
// the connection.
func (s *httpStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		err = s.body.Close()
	})
	return err
}
