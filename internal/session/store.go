package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"tasknerd/internal/logging"
	"tasknerd/internal/types"

	"github.com/google/uuid"
)

// =============================================================================
// PENDING-INTENT SESSION STORE
// =============================================================================

// State is the per-key state observed by Lookup.
type State int

const (
	// StateAbsent means no session exists for the key.
	StateAbsent State = iota
	// StateWaiting means a session awaits the user's answer.
	StateWaiting
	// StateExpired means a session existed but its expiry had passed. The record has
	// been discarded by the time Lookup returns.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateExpired:
		return "expired"
	}
	return "absent"
}

// Default lifetimes.
const (
	DefaultTTL       = 15 * time.Minute
	DefaultRetention = time.Hour
)

// Store implements the pending-intent state machine on top of a KeyedStore:
// absent -> waiting (Begin), waiting -> waiting (Save), and the terminal
// completed/expired transitions (Complete, or Lookup after expiry).
// Callers serialize work per key with Lock; different keys never contend.
type Store struct {
	kv        KeyedStore
	ttl       time.Duration
	retention time.Duration
	locks     *keyLocks
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets how long a session waits for an answer.
func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithRetention sets how long an expired record is kept so the next message can be
// told it arrived too late. After that the key reads as absent.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.retention = d
		}
	}
}

// NewStore creates a session store over kv. A nil kv selects an in-memory store.
func NewStore(kv KeyedStore, opts ...Option) *Store {
	if kv == nil {
		kv = NewMemoryStore()
	}
	s := &Store{
		kv:        kv,
		ttl:       DefaultTTL,
		retention: DefaultRetention,
		locks:     newKeyLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the session lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Lock acquires key's mutex. The returned function releases it and may be called
// more than once.
func (s *Store) Lock(key Key) (unlock func()) {
	return s.locks.lock(key)
}

// Lookup reports the state of key at now. A waiting session is returned as is; an
// expired one is deleted and returned with status expired so the caller can report
// it. The caller must hold key's lock.
func (s *Store) Lookup(ctx context.Context, key Key, now time.Time) (State, *types.PendingIntent, error) {
	p, err := s.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return StateAbsent, nil, nil
	}
	if err != nil {
		logging.SessionError("Lookup %s failed: %v", key, err)
		return StateAbsent, nil, fmt.Errorf("failed to load session: %w", err)
	}

	if p.Status != types.PendingWaiting || p.Spec == nil {
		// terminal or damaged records are never kept; treat a stray one as absent
		_ = s.kv.Delete(ctx, key)
		return StateAbsent, nil, nil
	}
	if p.Expired(now) {
		if err := s.kv.Delete(ctx, key); err != nil {
			return StateAbsent, nil, fmt.Errorf("failed to discard expired session: %w", err)
		}
		p.Status = types.PendingExpired
		logging.SessionDebug("Session %s for %s expired at %s", p.ID, key, p.ExpiresAt.Format(time.RFC3339))
		logging.Audit(logging.AuditEvent{
			Type:      logging.AuditPendingExpired,
			UserID:    key.UserID,
			ChannelID: key.ChannelID,
			PendingID: p.ID,
			Intent:    string(p.Spec.Intent),
			Missing:   types.FieldNames(p.Missing),
		})
		return StateExpired, p, nil
	}
	return StateWaiting, p, nil
}

// BeginOptions carries the optional parts of a new session.
type BeginOptions struct {
	// Candidates are the intents offered by a clarification.
	Candidates []types.Intent
	// MaxIndex is the list size in view.
	MaxIndex int
}

// Begin creates a waiting session for key, replacing any existing one. The caller
// must hold key's lock.
func (s *Store) Begin(ctx context.Context, key Key, spec *types.IntentSpec, missing []types.Field, now time.Time, opts BeginOptions) (*types.PendingIntent, error) {
	if spec == nil {
		return nil, fmt.Errorf("session: nil spec")
	}
	if len(missing) == 0 {
		return nil, fmt.Errorf("session: nothing missing")
	}
	p := &types.PendingIntent{
		ID:         uuid.NewString(),
		UserID:     key.UserID,
		ChannelID:  key.ChannelID,
		Spec:       spec.Clone(),
		Missing:    slices.Clone(missing),
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
		Status:     types.PendingWaiting,
		Candidates: slices.Clone(opts.Candidates),
		MaxIndex:   opts.MaxIndex,
	}
	if err := s.kv.Set(ctx, key, p, s.storageTTL(p, now)); err != nil {
		logging.SessionError("Begin %s failed: %v", key, err)
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	logging.SessionDebug("Session %s begun for %s: intent=%s missing=%v", p.ID, key, spec.Intent, types.FieldNames(missing))
	logging.Audit(logging.AuditEvent{
		Type:      logging.AuditPendingCreated,
		UserID:    key.UserID,
		ChannelID: key.ChannelID,
		PendingID: p.ID,
		Intent:    string(spec.Intent),
		Missing:   types.FieldNames(missing),
	})
	return p.Clone(), nil
}

// Save writes back a session that is still waiting. Its expiry is not extended.
// The caller must hold key's lock.
func (s *Store) Save(ctx context.Context, p *types.PendingIntent, now time.Time) error {
	if p.Status != types.PendingWaiting {
		return fmt.Errorf("session: cannot save %s session", p.Status)
	}
	key := Key{UserID: p.UserID, ChannelID: p.ChannelID}
	if err := s.kv.Set(ctx, key, p, s.storageTTL(p, now)); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	logging.SessionDebug("Session %s updated: missing=%v", p.ID, types.FieldNames(p.Missing))
	return nil
}

// Complete ends a session with a terminal status and removes its record.
// The caller must hold key's lock.
func (s *Store) Complete(ctx context.Context, p *types.PendingIntent, status types.PendingStatus) error {
	if status == types.PendingWaiting {
		return fmt.Errorf("session: waiting is not a terminal status")
	}
	key := Key{UserID: p.UserID, ChannelID: p.ChannelID}
	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	p.Status = status
	logging.SessionDebug("Session %s %s", p.ID, status)
	return nil
}

// storageTTL keeps the record until expiry plus retention.
func (s *Store) storageTTL(p *types.PendingIntent, now time.Time) time.Duration {
	ttl := p.ExpiresAt.Sub(now) + s.retention
	if ttl <= 0 {
		// already past retention; keep it just long enough to be read once
		ttl = time.Second
	}
	return ttl
}
