// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/jarvischat/internal/model"
)

// =============================================================================
// CONVERSATIONS
// =============================================================================

// CreateConversation inserts c. An empty ID, title or timestamp is filled in.
func (s *Store) CreateConversation(ctx context.Context, c *model.Conversation) (*model.Conversation, error) {
	if c.ID == "" {
		fresh := model.NewConversation(c.Title)
		fresh.Model, fresh.PresetID = c.Model, c.PresetID
		c = fresh
	}
	if c.Title == "" {
		c.Title = model.DefaultTitle
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, model, preset_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Model, c.PresetID, toUnix(c.CreatedAt), toUnix(c.UpdatedAt))
	if err != nil {
		return nil, persistErr("create conversation", err)
	}
	return c, nil
}

// GetConversation returns the conversation without its messages.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var (
		c                model.Conversation
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, model, preset_id, created_at, updated_at
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &c.Model, &c.PresetID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("conversation", id)
	}
	if err != nil {
		return nil, persistErr("get conversation", err)
	}
	c.CreatedAt = fromUnix(created)
	c.UpdatedAt = fromUnix(updated)
	return &c, nil
}

// GetConversationWithMessages returns the conversation and its messages in
// chronological order.
func (s *Store) GetConversationWithMessages(ctx context.Context, id string) (*model.Conversation, error) {
	c, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.ListMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Messages = msgs
	return c, nil
}

// ListConversations returns conversation summaries, most recently updated
// first. A limit of zero or less returns all of them.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]model.ConversationSummary, error) {
	query := `
		SELECT c.id, c.title, c.model, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.updated_at DESC, c.rowid DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("list conversations", err)
	}
	defer rows.Close()

	out := []model.ConversationSummary{}
	for rows.Next() {
		var (
			c                model.ConversationSummary
			created, updated int64
		)
		if err := rows.Scan(&c.ID, &c.Title, &c.Model, &created, &updated, &c.MessageCount); err != nil {
			return nil, persistErr("scan conversation", err)
		}
		c.CreatedAt = fromUnix(created)
		c.UpdatedAt = fromUnix(updated)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate conversations", err)
	}
	return out, nil
}

// UpdateConversation applies the non-nil fields of u and bumps updated_at.
func (s *Store) UpdateConversation(ctx context.Context, id string, u model.ConversationUpdate) (*model.Conversation, error) {
	sets := []string{"updated_at = ?"}
	args := []any{toUnix(s.now())}
	if u.Title != nil {
		title := strings.TrimSpace(*u.Title)
		if title == "" {
			return nil, fmt.Errorf("conversation: %w: title cannot be empty", model.ErrInvalidInput)
		}
		sets = append(sets, "title = ?")
		args = append(args, title)
	}
	if u.Model != nil {
		sets = append(sets, "model = ?")
		args = append(args, *u.Model)
	}
	if u.PresetID != nil {
		sets = append(sets, "preset_id = ?")
		args = append(args, *u.PresetID)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE conversations SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, persistErr("update conversation", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, persistErr("update conversation", err)
	} else if n == 0 {
		return nil, notFound("conversation", id)
	}
	return s.GetConversation(ctx, id)
}

// DeleteConversation removes the conversation and, by cascade, its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return persistErr("delete conversation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("delete conversation", err)
	}
	if n == 0 {
		return notFound("conversation", id)
	}
	return nil
}

// =============================================================================
// MESSAGES
// =============================================================================

const messageColumns = "id, conversation_id, role, content, model, status, system_prompt, created_at, updated_at"

// AppendMessage inserts m, sets m.ID, and bumps the parent conversation's
// updated_at in the same transaction.
func (s *Store) AppendMessage(ctx context.Context, m *model.Message) error {
	if !m.Role.Valid() {
		return fmt.Errorf("message: %w: role %q", model.ErrInvalidInput, m.Role)
	}
	if !m.Status.Valid() {
		return fmt.Errorf("message: %w: status %q", model.ErrInvalidInput, m.Status)
	}
	now := s.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = m.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin append message", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?", toUnix(now), m.ConversationID)
	if err != nil {
		return persistErr("touch conversation", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return persistErr("touch conversation", err)
	} else if n == 0 {
		return notFound("conversation", m.ConversationID)
	}

	res, err = tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, role, content, model, status, system_prompt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, string(m.Role), m.Content, m.Model, string(m.Status), m.SystemPrompt,
		toUnix(m.CreatedAt), toUnix(m.UpdatedAt))
	if err != nil {
		return persistErr("insert message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return persistErr("insert message", err)
	}
	if err := tx.Commit(); err != nil {
		return persistErr("commit message", err)
	}
	m.ID = id
	return nil
}

// UpdateMessage sets the final text, status and model of a message.
func (s *Store) UpdateMessage(ctx context.Context, id int64, content string, status model.Status, modelName string) error {
	if !status.Valid() {
		return fmt.Errorf("message: %w: status %q", model.ErrInvalidInput, status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, status = ?, model = ?, updated_at = ?
		WHERE id = ?`, content, string(status), modelName, toUnix(s.now()), id)
	if err != nil {
		return persistErr("update message", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("update message", err)
	}
	if n == 0 {
		return notFound("message", fmt.Sprint(id))
	}
	return nil
}

// ListMessages returns a conversation's messages in chronological order.
// An unknown conversation yields model.ErrNotFound.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM conversations WHERE id = ?", conversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("conversation", conversationID)
	}
	if err != nil {
		return nil, persistErr("check conversation", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY id ASC", conversationID)
	if err != nil {
		return nil, persistErr("list messages", err)
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		var (
			m                model.Message
			role, status     string
			created, updated int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.Model, &status, &m.SystemPrompt, &created, &updated); err != nil {
			return nil, persistErr("scan message", err)
		}
		m.Role = model.Role(role)
		m.Status = model.Status(status)
		m.CreatedAt = fromUnix(created)
		m.UpdatedAt = fromUnix(updated)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate messages", err)
	}
	return msgs, nil
}

// RecoverPending marks assistant messages left pending by a crash as
// errored. It must run before any session starts. Returns the number of
// messages recovered.
func (s *Store) RecoverPending(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE messages SET status = ?, updated_at = ? WHERE status = ?",
		string(model.StatusErrored), toUnix(s.now()), string(model.StatusPending))
	if err != nil {
		return 0, persistErr("recover pending messages", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr("recover pending messages", err)
	}
	return n, nil
}
