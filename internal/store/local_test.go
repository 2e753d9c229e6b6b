package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tasknerd/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC)

	got, err := s.GetPreference(ctx, "u1", types.PrefDefaultMention, "remind")
	require.NoError(t, err)
	assert.Nil(t, got)

	pref := types.Preference{
		UserID:     "u1",
		Category:   types.PrefDefaultMention,
		Key:        "remind",
		Value:      "@mrc",
		Confidence: 0.5,
		UseCount:   1,
		LastUsed:   now,
		CreatedAt:  now,
	}
	require.NoError(t, s.UpsertPreference(ctx, pref))

	pref.Confidence = 0.65
	pref.UseCount = 2
	pref.LastUsed = now.Add(time.Hour)
	pref.CreatedAt = now.Add(time.Hour) // ignored on update
	require.NoError(t, s.UpsertPreference(ctx, pref))

	got, err = s.GetPreference(ctx, "u1", types.PrefDefaultMention, "remind")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "@mrc", got.Value)
	assert.InDelta(t, 0.65, got.Confidence, 1e-9)
	assert.Equal(t, 2, got.UseCount)
	assert.True(t, got.LastUsed.Equal(now.Add(time.Hour)))
	assert.True(t, got.CreatedAt.Equal(now), "created_at is kept")

	require.NoError(t, s.UpsertPreference(ctx, types.Preference{UserID: "u1", Category: types.PrefShortcut, Key: "みるく", Value: "牛乳", LastUsed: now}))
	require.NoError(t, s.UpsertPreference(ctx, types.Preference{UserID: "u2", Category: types.PrefShortcut, Key: "x", Value: "y", LastUsed: now}))

	prefs, err := s.ListPreferences(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, prefs, 2)
	assert.Equal(t, types.PrefDefaultMention, prefs[0].Category)
	assert.Equal(t, types.PrefShortcut, prefs[1].Category)
	assert.True(t, prefs[1].CreatedAt.Equal(now), "zero created_at falls back to last_used")
}

func TestTurns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC)

	turns := []struct {
		msg  string
		turn types.Turn
	}{
		{"m1", types.Turn{Role: "user", Content: "一覧"}},
		{"m1", types.Turn{Role: "assistant", Content: "3件あります"}},
		{"m2", types.Turn{Role: "user", Content: "2番消して"}},
		{"m2", types.Turn{Role: "user", Content: "duplicate delivery"}},
		{"", types.Turn{Role: "user", Content: "no id"}},
	}
	for i, tt := range turns {
		require.NoError(t, s.AppendTurn(ctx, "u1", "c1", tt.msg, tt.turn, now.Add(time.Duration(i)*time.Minute)))
	}
	require.NoError(t, s.AppendTurn(ctx, "u1", "c2", "m9", types.Turn{Role: "user", Content: "other channel"}, now))

	got, err := s.RecentTurns(ctx, "u1", "c1", 3)
	require.NoError(t, err)
	assert.Equal(t, []types.Turn{
		{Role: "assistant", Content: "3件あります"},
		{Role: "user", Content: "2番消して"},
		{Role: "user", Content: "no id"},
	}, got)

	got, err = s.RecentTurns(ctx, "u1", "c1", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	n, err := s.PruneTurns(ctx, now.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "two c1 turns and the c2 turn are older")

	got, err = s.RecentTurns(ctx, "u1", "c1", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.db")

	// a database from before usage tracking
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE preferences (
		user_id TEXT NOT NULL,
		category TEXT NOT NULL,
		pref_key TEXT NOT NULL,
		value TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0.5,
		created_at INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY(user_id, category, pref_key)
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO preferences (user_id, category, pref_key, value, confidence) VALUES ('u1', 'shortcut', 'a', 'b', 0.7)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := NewLocalStore(path)
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, columnExists(s.db, "preferences", "use_count"))
	assert.True(t, columnExists(s.db, "preferences", "last_used"))

	got, err := s.GetPreference(context.Background(), "u1", types.PrefShortcut, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "b", got.Value)
	assert.Zero(t, got.UseCount)
	assert.True(t, got.LastUsed.IsZero())

	// running again is a no-op
	require.NoError(t, RunMigrations(s.db))
}

func TestNewLocalStore_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "prefs.db")
	s, err := NewLocalStore(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())
	require.NoError(t, s.Close())

	// reopen keeps data dir usable
	s, err = NewLocalStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
