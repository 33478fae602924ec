// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/jarvischat/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// =============================================================================
// SCHEMA TESTS
// =============================================================================

func TestOpen_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := Open(Config{Path: path})
	require.NoError(t, err)
	_, err = s.SetProfile(ctx, "Linux, 32GB RAM")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: path})
	require.NoError(t, err)
	defer s.Close()

	p, err := s.GetProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Linux, 32GB RAM", p.Content)

	var version int
	require.NoError(t, s.db.QueryRow("SELECT version FROM schema_version").Scan(&version))
	assert.Equal(t, schemaVersion, version)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(Config{})
	require.ErrorIs(t, err, model.ErrInvalidInput)
}

// =============================================================================
// PROFILE AND SETTINGS TESTS
// =============================================================================

func TestProfile_EmptyByDefault(t *testing.T) {
	s := newTestStore(t)
	p, err := s.GetProfile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, p.Content)
}

func TestSettings_Merge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SetSettings(ctx, model.Settings{"default_model": "llama3", "theme": "dark"}))
	require.NoError(t, s.SetSettings(ctx, model.Settings{"default_model": "qwen2.5"}))

	got, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5", got["default_model"])
	assert.Equal(t, "dark", got["theme"])

	err = s.SetSettings(ctx, model.Settings{" ": "x"})
	require.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestSeed_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	opts := SeedOptions{DefaultModel: "llama3", StopTokens: []string{"User:"}}
	require.NoError(t, s.Seed(ctx, opts))

	_, err := s.SetProfile(ctx, "custom")
	require.NoError(t, err)
	require.NoError(t, s.SetSettings(ctx, model.Settings{model.SettingDefaultModel: "mistral"}))

	require.NoError(t, s.Seed(ctx, opts))

	p, err := s.GetProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "custom", p.Content, "seed must not overwrite the profile")

	settings, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mistral", settings[model.SettingDefaultModel])
	assert.Equal(t, "true", settings[model.SettingProfileEnabled])
	tokens, ok := settings.StopTokens()
	require.True(t, ok)
	assert.Equal(t, []string{"User:"}, tokens)

	presets, err := s.ListPresets(ctx)
	require.NoError(t, err)
	assert.Len(t, presets, len(DefaultPresets))
}

// =============================================================================
// PRESET TESTS
// =============================================================================

func TestPresets_CRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Seed(ctx, SeedOptions{DefaultModel: "llama3"}))

	created, err := s.UpsertPreset(ctx, &model.Preset{Name: "Sysadmin", Prompt: "You are a sysadmin assistant", ModelHint: "qwen2.5"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.False(t, created.IsDefault)

	created.Prompt = "You are a terse sysadmin"
	updated, err := s.UpsertPreset(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, "You are a terse sysadmin", updated.Prompt)

	list, err := s.ListPresets(ctx)
	require.NoError(t, err)
	require.Len(t, list, len(DefaultPresets)+1)
	assert.True(t, list[0].IsDefault, "built-ins sort first")
	assert.Equal(t, created.ID, list[len(list)-1].ID)

	require.NoError(t, s.DeletePreset(ctx, created.ID))
	_, err = s.GetPreset(ctx, created.ID)
	require.ErrorIs(t, err, model.ErrNotFound)
	require.ErrorIs(t, s.DeletePreset(ctx, created.ID), model.ErrNotFound)
}

func TestPresets_BuiltInCannotBeDeleted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Seed(ctx, SeedOptions{}))

	err := s.DeletePreset(ctx, "linux-sysadmin")
	require.ErrorIs(t, err, model.ErrForbidden)

	p, err := s.GetPreset(ctx, "linux-sysadmin")
	require.NoError(t, err)
	assert.True(t, p.IsDefault)
}

func TestPresets_Validation(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpsertPreset(context.Background(), &model.Preset{Name: "", Prompt: "x"})
	require.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = s.UpsertPreset(context.Background(), &model.Preset{Name: "x", Prompt: " "})
	require.ErrorIs(t, err, model.ErrInvalidInput)
}

// =============================================================================
// CONVERSATION AND MESSAGE TESTS
// =============================================================================

func TestConversation_MessagesInOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	conv, err := s.CreateConversation(ctx, model.NewConversation("disk"))
	require.NoError(t, err)

	user := model.NewUserMessage(conv.ID, "check disk")
	require.NoError(t, s.AppendMessage(ctx, user))
	asst := model.NewPendingAssistantMessage(conv.ID, "llama3", "You are a sysadmin assistant")
	require.NoError(t, s.AppendMessage(ctx, asst))
	require.Greater(t, asst.ID, user.ID)

	require.NoError(t, s.UpdateMessage(ctx, asst.ID, "df -h", model.StatusComplete, "llama3"))

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "df -h", msgs[1].Content)
	assert.Equal(t, model.StatusComplete, msgs[1].Status)
	assert.Equal(t, "You are a sysadmin assistant", msgs[1].SystemPrompt)
}

func TestConversation_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	conv, err := s.CreateConversation(ctx, model.NewConversation(""))
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, model.NewUserMessage(conv.ID, "hi")))

	require.NoError(t, s.DeleteConversation(ctx, conv.ID))

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conv.ID).Scan(&n))
	assert.Zero(t, n)

	_, err = s.ListMessages(ctx, conv.ID)
	require.ErrorIs(t, err, model.ErrNotFound)
	require.ErrorIs(t, s.DeleteConversation(ctx, conv.ID), model.ErrNotFound)
}

func TestConversation_ListOrderAndUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.CreateConversation(ctx, model.NewConversation("first"))
	require.NoError(t, err)
	second, err := s.CreateConversation(ctx, model.NewConversation("second"))
	require.NoError(t, err)

	// A new message moves the first conversation to the top.
	require.NoError(t, s.AppendMessage(ctx, model.NewUserMessage(first.ID, "bump")))

	list, err := s.ListConversations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, 1, list[0].MessageCount)
	assert.Equal(t, second.ID, list[1].ID)

	limited, err := s.ListConversations(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	title, mdl := "renamed", "mistral"
	got, err := s.UpdateConversation(ctx, second.ID, model.ConversationUpdate{Title: &title, Model: &mdl})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, "mistral", got.Model)

	empty := "  "
	_, err = s.UpdateConversation(ctx, second.ID, model.ConversationUpdate{Title: &empty})
	require.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = s.UpdateConversation(ctx, "missing", model.ConversationUpdate{Title: &title})
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestMessage_Errors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.AppendMessage(ctx, model.NewUserMessage("missing", "hi"))
	require.ErrorIs(t, err, model.ErrNotFound)

	err = s.UpdateMessage(ctx, 9999, "x", model.StatusComplete, "")
	require.ErrorIs(t, err, model.ErrNotFound)

	conv, err := s.CreateConversation(ctx, model.NewConversation(""))
	require.NoError(t, err)
	bad := &model.Message{ConversationID: conv.ID, Role: model.RoleSystem, Status: model.StatusComplete}
	require.ErrorIs(t, s.AppendMessage(ctx, bad), model.ErrInvalidInput)
}

func TestRecoverPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	conv, err := s.CreateConversation(ctx, model.NewConversation(""))
	require.NoError(t, err)
	pending := model.NewPendingAssistantMessage(conv.ID, "llama3", "")
	require.NoError(t, s.AppendMessage(ctx, pending))

	n, err := s.RecoverPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusErrored, msgs[0].Status)
}

func TestStore_ClosedReportsPersistenceError(t *testing.T) {
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "closed.db")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.GetSettings(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrPersistence))
}

func TestStore_ConcurrentConversations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv, err := s.CreateConversation(ctx, model.NewConversation(""))
			if err != nil {
				errs <- err
				return
			}
			errs <- s.AppendMessage(ctx, model.NewUserMessage(conv.ID, "hi"))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	list, err := s.ListConversations(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 20)
}
