package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"tasknerd/internal/logging"
	"tasknerd/internal/types"
)

// AppendTurn records one conversation turn for (userID, channelID). A turn with a
// message ID is written once: redelivering the same message is silently skipped.
func (s *LocalStore) AppendTurn(ctx context.Context, userID, channelID, messageID string, turn types.Turn, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var msgID any
	if messageID != "" {
		msgID = messageID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO session_turns (user_id, channel_id, message_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		userID, channelID, msgID, turn.Role, turn.Content, toMillis(at),
	)
	if err != nil {
		logging.StoreError("Failed to store turn: user=%s channel=%s: %v", userID, channelID, err)
		return fmt.Errorf("failed to store turn: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit of the latest turns for (userID, channelID),
// oldest first.
func (s *LocalStore) RecentTurns(ctx context.Context, userID, channelID string, limit int) ([]types.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM session_turns
		 WHERE user_id = ? AND channel_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		userID, channelID, limit,
	)
	if err != nil {
		logging.StoreError("Failed to query turns for %s/%s: %v", userID, channelID, err)
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}
	defer rows.Close()

	var turns []types.Turn
	for rows.Next() {
		var t types.Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(turns)
	return turns, nil
}

// PruneTurns deletes turns recorded before cutoff and returns how many were removed.
func (s *LocalStore) PruneTurns(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM session_turns WHERE created_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune turns: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.StoreDebug("Pruned %d turns older than %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}
