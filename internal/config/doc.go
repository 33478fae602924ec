// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for jarvischat.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, validation that reports every problem at once, and a file
// watcher for hot reload.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ServerConfig, OllamaConfig, StorageConfig, ChatConfig, LogConfig: sections
//   - Duration: a time.Duration written as "10s" in TOML
//   - ValidateErrors: all validation failures of a Config
//
// # Configuration Precedence
//
// The file is chosen from (first match wins):
//   - The --config flag
//   - $JARVIS_CONFIG
//   - ~/.jarvischat/config.toml
//   - Built-in defaults when no file exists
//
// Environment variables (JARVIS_OLLAMA_URL, JARVIS_MODEL, JARVIS_LISTEN,
// JARVIS_DB, JARVIS_LOG_LEVEL) override the file.
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load(flagPath)
//	if err != nil {
//	    return err
//	}
//	logger, level := config.NewLogger(cfg.Log, os.Stderr)
//
// Reload on change:
//
//	err := config.Watch(ctx, path, func(next *config.Config, err error) {
//	    if err != nil {
//	        logger.Warn("CONFIG_RELOAD_FAILED", "error", err)
//	        return
//	    }
//	    manager.SetOptions(sessionOptions(next))
//	})
package config
