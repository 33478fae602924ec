// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// Chat completions are exposed as a lazy pull-based Stream so callers can
// inspect each fragment before asking for the next one, and stop generation
// at any point with Close.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - Stream: Pull-based sequence of chat fragments
//   - StreamChunk: One decoded fragment, with metrics on the terminal chunk
//   - ChatRequest: Request structure for chat completions
//   - ClientError: Categorized error with sentinel matching via errors.Is
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url})
//	stream, err := client.ChatStream(ctx, ollama.ChatRequest{
//	    Model:    "qwen2.5:7b",
//	    Messages: []ollama.Message{ollama.NewUserMessage("Hello")},
//	})
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for {
//	    chunk, err := stream.Recv()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(chunk.Content)
//	}
package ollama
