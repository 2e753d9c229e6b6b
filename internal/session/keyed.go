// Package session owns pending-intent state: at most one suspended resolution per
// (user, channel) key, serialized per key and expired lazily on the next access.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"tasknerd/internal/types"
)

// ErrNotFound is returned by a KeyedStore when no record exists for a key.
var ErrNotFound = errors.New("session: not found")

// Key identifies the owner of a pending session.
type Key struct {
	UserID    string
	ChannelID string
}

// String renders the key as "user:channel". Colons inside the IDs are escaped so
// distinct keys never collide.
func (k Key) String() string {
	esc := strings.NewReplacer(`\`, `\\`, `:`, `\:`)
	return esc.Replace(k.UserID) + ":" + esc.Replace(k.ChannelID)
}

// KeyedStore persists pending records by composite key. Implementations must be safe
// for concurrent use and return ErrNotFound for absent or evicted keys. The ttl is a
// storage lifetime, not the session expiry: a record outlives its ExpiresAt so an
// expired session can still be reported as expired.
type KeyedStore interface {
	Get(ctx context.Context, key Key) (*types.PendingIntent, error)
	Set(ctx context.Context, key Key, p *types.PendingIntent, ttl time.Duration) error
	Delete(ctx context.Context, key Key) error
}

// =============================================================================
// MEMORY STORE
// =============================================================================

type memoryEntry struct {
	pending *types.PendingIntent
	evictAt time.Time
}

// MemoryStore is an in-process KeyedStore. Entries are evicted lazily on access;
// there is no background sweeper.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[Key]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Key]memoryEntry), now: time.Now}
}

// Get returns a copy of the record for key.
func (m *MemoryStore) Get(_ context.Context, key Key) (*types.PendingIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.evictAt.IsZero() && !m.now().Before(e.evictAt) {
		delete(m.entries, key)
		return nil, ErrNotFound
	}
	return e.pending.Clone(), nil
}

// Set stores a copy of p under key. A non-positive ttl keeps it until deleted.
func (m *MemoryStore) Set(_ context.Context, key Key, p *types.PendingIntent, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{pending: p.Clone()}
	if ttl > 0 {
		e.evictAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len returns the number of stored records, including ones due for eviction.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
