// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the chat engine over HTTP.
//
// POST /api/chat relays a generation as Server-Sent Events: one start event,
// one token event per forwarded fragment, and one done event carrying the
// outcome. Every other route is plain JSON CRUD over conversations, presets,
// the profile and settings, plus read-only proxies of the Ollama model list.
//
// # Endpoints
//
//   - GET  /api/health                      - Backend and database reachability
//   - GET  /api/models, /api/ps             - Installed and loaded models
//   - GET/PUT /api/profile                  - Profile text
//   - GET  /api/profile/default             - Built-in profile text
//   - GET/PUT /api/settings                 - Settings map (PUT merges)
//   - /api/presets[/{id}]                   - Preset CRUD, built-ins cannot be deleted
//   - /api/conversations[/{id}]             - Conversation CRUD
//   - GET  /api/conversations/{id}/export   - Markdown, JSON or HTML download
//   - POST /api/chat                        - SSE generation
//   - POST /api/chat/{id}/stop              - Cancel a live generation
//   - GET  /api/sessions                    - Live sessions
//
// # Middleware
//
//   - Panic recovery with a JSON 500
//   - Security headers
//   - Structured request logging via log/slog
//   - Optional CORS for a UI served from another origin
//   - Per-client token-bucket rate limiting (golang.org/x/time/rate)
//
// # Key Types
//
//   - Server: HTTP server with router and middleware
//   - Options: Listen address, timeouts, rate limits and heartbeat
//   - Store, Sessions, Backend: the dependencies a Server is built from
//
// # Usage
//
//	srv := server.NewServer(server.Options{Listen: ":8080"}, store, manager, client, logger)
//	go func() {
//		if err := srv.Start(); err != nil {
//			logger.Error("SERVER_FAILED", "error", err)
//		}
//	}()
//	defer srv.Shutdown(context.Background())
package server
