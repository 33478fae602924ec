// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jeranaias/jarvischat/internal/model"
)

// =============================================================================
// PROFILE
// =============================================================================

// GetProfile returns the singleton profile. An unset profile is empty, not
// an error.
func (s *Store) GetProfile(ctx context.Context) (model.Profile, error) {
	var (
		p       model.Profile
		updated int64
	)
	err := s.db.QueryRowContext(ctx, "SELECT content, updated_at FROM profile WHERE id = 1").Scan(&p.Content, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Profile{}, nil
	}
	if err != nil {
		return model.Profile{}, persistErr("get profile", err)
	}
	p.UpdatedAt = fromUnix(updated)
	return p, nil
}

// SetProfile replaces the profile text.
func (s *Store) SetProfile(ctx context.Context, content string) (model.Profile, error) {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile (id, content, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		content, toUnix(now))
	if err != nil {
		return model.Profile{}, persistErr("set profile", err)
	}
	return model.Profile{Content: content, UpdatedAt: now}, nil
}

// =============================================================================
// SETTINGS
// =============================================================================

// GetSettings returns every stored setting.
func (s *Store) GetSettings(ctx context.Context) (model.Settings, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, persistErr("get settings", err)
	}
	defer rows.Close()

	settings := model.Settings{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, persistErr("scan setting", err)
		}
		settings[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate settings", err)
	}
	return settings, nil
}

// SetSettings merges values into the stored settings in one transaction.
// Keys not present in values are left untouched.
func (s *Store) SetSettings(ctx context.Context, values model.Settings) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin settings update", err)
	}
	defer tx.Rollback()

	for k, v := range values {
		k = strings.TrimSpace(k)
		if k == "" {
			return fmt.Errorf("settings: %w: empty key", model.ErrInvalidInput)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return persistErr("set setting "+k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return persistErr("commit settings", err)
	}
	return nil
}

// =============================================================================
// PRESETS
// =============================================================================

const presetColumns = "id, name, prompt, model_hint, is_default, created_at, updated_at"

func scanPreset(row interface{ Scan(...any) error }) (*model.Preset, error) {
	var (
		p                model.Preset
		isDefault        int
		created, updated int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Prompt, &p.ModelHint, &isDefault, &created, &updated); err != nil {
		return nil, err
	}
	p.IsDefault = isDefault != 0
	p.CreatedAt = fromUnix(created)
	p.UpdatedAt = fromUnix(updated)
	return &p, nil
}

// ListPresets returns all presets, built-ins first, then by name.
func (s *Store) ListPresets(ctx context.Context) ([]model.Preset, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+presetColumns+" FROM presets ORDER BY is_default DESC, name COLLATE NOCASE ASC")
	if err != nil {
		return nil, persistErr("list presets", err)
	}
	defer rows.Close()

	presets := []model.Preset{}
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, persistErr("scan preset", err)
		}
		presets = append(presets, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate presets", err)
	}
	return presets, nil
}

// GetPreset returns the preset with the given id.
func (s *Store) GetPreset(ctx context.Context, id string) (*model.Preset, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+presetColumns+" FROM presets WHERE id = ?", id)
	p, err := scanPreset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("preset", id)
	}
	if err != nil {
		return nil, persistErr("get preset", err)
	}
	return p, nil
}

// UpsertPreset creates the preset when p.ID is empty (assigning a new id) or
// does not exist yet, and otherwise updates name, prompt and model hint.
// The built-in flag is never changed by an upsert.
func (s *Store) UpsertPreset(ctx context.Context, p *model.Preset) (*model.Preset, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("preset: %w: name is required", model.ErrInvalidInput)
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return nil, fmt.Errorf("preset: %w: prompt is required", model.ErrInvalidInput)
	}

	now := s.now()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO presets (`+presetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			prompt = excluded.prompt,
			model_hint = excluded.model_hint,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Prompt, p.ModelHint, boolToInt(p.IsDefault), toUnix(now), toUnix(now))
	if err != nil {
		return nil, persistErr("upsert preset", err)
	}
	return s.GetPreset(ctx, p.ID)
}

// DeletePreset removes a user-created preset. Built-in presets return
// model.ErrForbidden.
func (s *Store) DeletePreset(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM presets WHERE id = ? AND is_default = 0", id)
	if err != nil {
		return persistErr("delete preset", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("delete preset", err)
	}
	if n > 0 {
		return nil
	}

	p, err := s.GetPreset(ctx, id)
	if err != nil {
		return err
	}
	if p.IsDefault {
		return fmt.Errorf("preset %q is built in: %w", id, model.ErrForbidden)
	}
	return notFound("preset", id)
}
