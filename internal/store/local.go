// Package store is the local SQLite persistence layer: learned user preferences and
// the recent conversation turns handed to the reasoning fallback.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"tasknerd/internal/logging"

	_ "modernc.org/sqlite"
)

// LocalStore persists preferences and conversation turns in one SQLite file.
//
// Tables:
//   - preferences:   one row per (user, category, key), upserted on every observation
//   - session_turns: append-only chat history per (user, channel)
//
// Usage Example:
//
//	s, _ := store.NewLocalStore("data/preferences.db")
//	defer s.Close()
//	_ = s.UpsertPreference(ctx, types.Preference{UserID: "u1", Category: types.PrefDefaultMention, Key: "remind", Value: "@mrc"})
//	turns, _ := s.RecentTurns(ctx, "u1", "c1", 6)
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewLocalStore opens (or creates) the database at path. ":memory:" gives a private
// in-memory database.
func NewLocalStore(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	logging.Store("Initializing LocalStore at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.StoreError("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &LocalStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("LocalStore ready (preferences, session_turns)")
	return s, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	preferencesTable := `
	CREATE TABLE IF NOT EXISTS preferences (
		user_id TEXT NOT NULL,
		category TEXT NOT NULL,
		pref_key TEXT NOT NULL,
		value TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0.5,
		use_count INTEGER NOT NULL DEFAULT 0,
		last_used INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY(user_id, category, pref_key)
	);
	CREATE INDEX IF NOT EXISTS idx_preferences_user ON preferences(user_id);
	`

	turnsTable := `
	CREATE TABLE IF NOT EXISTS session_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		message_id TEXT,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(user_id, channel_id, message_id, role)
	);
	CREATE INDEX IF NOT EXISTS idx_session_turns_key ON session_turns(user_id, channel_id, id);
	`

	for _, ddl := range []string{preferencesTable, turnsTable} {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Path returns the database path.
func (s *LocalStore) Path() string {
	return s.dbPath
}

// Close closes the database.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
