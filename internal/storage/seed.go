// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"

	"github.com/jeranaias/jarvischat/internal/model"
)

// =============================================================================
// SEED DATA
// =============================================================================

// DefaultProfile is the profile written on first start and served by the
// "reset to default" endpoint.
const DefaultProfile = `You are a coding companion running locally on this machine.

## Environment
- Host: describe the OS, CPU, RAM and GPU here
- Ollama runs locally and serves models on port 11434

## About the User
- Describe your experience, languages and current projects here

## How to Respond
- Be direct and concise
- When showing code, prefer complete working examples over snippets
- Default to command-line solutions over GUI when possible
- Explain trade-offs when multiple approaches exist`

// DefaultPresets are the built-in presets. Their ids are stable so a
// settings default_preset survives a re-seed.
var DefaultPresets = []model.Preset{
	{
		ID:        "coding-companion",
		Name:      "Coding Companion",
		Prompt:    "You are a senior software engineer and coding companion. Focus on writing clean, efficient, well-documented code. Provide complete working examples. Explain architectural decisions and trade-offs.",
		IsDefault: true,
	},
	{
		ID:        "linux-sysadmin",
		Name:      "Linux Sysadmin",
		Prompt:    "You are an experienced Linux systems administrator. Focus on command-line solutions, systemd services, networking, storage, and security. Prefer Debian/Ubuntu conventions. Be concise and direct.",
		IsDefault: true,
	},
	{
		ID:        "general-assistant",
		Name:      "General Assistant",
		Prompt:    "You are a helpful general-purpose assistant. Be clear and concise.",
		IsDefault: true,
	},
}

// SeedOptions carries the configured values written into settings on first
// start.
type SeedOptions struct {
	DefaultModel string
	StopTokens   []string
}

// Seed writes the default profile, built-in presets and settings when they
// are missing. Existing values are never overwritten, so Seed is safe to
// run on every start.
func (s *Store) Seed(ctx context.Context, opts SeedOptions) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin seed", err)
	}
	defer tx.Rollback()

	now := toUnix(s.now())

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO profile (id, content, updated_at) VALUES (1, ?, ?) ON CONFLICT(id) DO NOTHING",
		DefaultProfile, now); err != nil {
		return persistErr("seed profile", err)
	}

	var presetCount int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM presets").Scan(&presetCount); err != nil {
		return persistErr("count presets", err)
	}
	if presetCount == 0 {
		for _, p := range DefaultPresets {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO presets (`+presetColumns+`) VALUES (?, ?, ?, ?, 1, ?, ?)`,
				p.ID, p.Name, p.Prompt, p.ModelHint, now, now); err != nil {
				return persistErr("seed preset "+p.ID, err)
			}
		}
	}

	defaults := map[string]string{
		model.SettingProfileEnabled: "true",
		model.SettingDefaultModel:   opts.DefaultModel,
		model.SettingStopTokens:     model.EncodeStopTokens(opts.StopTokens),
	}
	for k, v := range defaults {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING", k, v); err != nil {
			return persistErr("seed setting "+k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr("commit seed", err)
	}
	return nil
}
