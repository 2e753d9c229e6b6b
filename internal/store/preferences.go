package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tasknerd/internal/logging"
	"tasknerd/internal/types"
)

const preferenceColumns = `user_id, category, pref_key, value, confidence, use_count, last_used, created_at`

// GetPreference returns the preference for (userID, category, key), or nil when none
// is stored.
func (s *LocalStore) GetPreference(ctx context.Context, userID string, category types.PreferenceCategory, key string) (*types.Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+preferenceColumns+` FROM preferences WHERE user_id = ? AND category = ? AND pref_key = ?`,
		userID, string(category), key,
	)
	p, err := scanPreference(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		logging.StoreError("Failed to load preference %s/%s/%s: %v", userID, category, key, err)
		return nil, fmt.Errorf("failed to load preference: %w", err)
	}
	return p, nil
}

// UpsertPreference inserts p or replaces the stored row with the same
// (user, category, key). The original created_at is kept.
func (s *LocalStore) UpsertPreference(ctx context.Context, p types.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := p.CreatedAt
	if created.IsZero() {
		created = p.LastUsed
	}
	logging.StoreDebug("Upserting preference: user=%s %s/%s=%s conf=%.2f", p.UserID, p.Category, p.Key, p.Value, p.Confidence)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (`+preferenceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, category, pref_key) DO UPDATE SET
			value = excluded.value,
			confidence = excluded.confidence,
			use_count = excluded.use_count,
			last_used = excluded.last_used`,
		p.UserID, string(p.Category), p.Key, p.Value, p.Confidence, p.UseCount,
		toMillis(p.LastUsed), toMillis(created),
	)
	if err != nil {
		logging.StoreError("Failed to upsert preference %s/%s/%s: %v", p.UserID, p.Category, p.Key, err)
		return fmt.Errorf("failed to store preference: %w", err)
	}
	return nil
}

// ListPreferences returns every preference of userID ordered by category and key.
func (s *LocalStore) ListPreferences(ctx context.Context, userID string) ([]types.Preference, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListPreferences")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+preferenceColumns+` FROM preferences WHERE user_id = ? ORDER BY category, pref_key`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	defer rows.Close()

	var prefs []types.Preference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			logging.StoreWarn("Skipping unreadable preference row for %s: %v", userID, err)
			continue
		}
		prefs = append(prefs, *p)
	}
	return prefs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPreference(r rowScanner) (*types.Preference, error) {
	var (
		p                 types.Preference
		category          string
		lastUsed, created int64
	)
	if err := r.Scan(&p.UserID, &category, &p.Key, &p.Value, &p.Confidence, &p.UseCount, &lastUsed, &created); err != nil {
		return nil, err
	}
	p.Category = types.PreferenceCategory(category)
	p.LastUsed = fromMillis(lastUsed)
	p.CreatedAt = fromMillis(created)
	return &p, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
