package personalization

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"tasknerd/internal/types"
)

// PreferenceStore persists preference records. GetPreference returns nil, nil when
// nothing is stored. Records are only ever upserted; nothing deletes them.
type PreferenceStore interface {
	GetPreference(ctx context.Context, userID string, category types.PreferenceCategory, key string) (*types.Preference, error)
	UpsertPreference(ctx context.Context, p types.Preference) error
	ListPreferences(ctx context.Context, userID string) ([]types.Preference, error)
}

type prefKey struct {
	user     string
	category types.PreferenceCategory
	key      string
}

// MemoryStore is a PreferenceStore kept in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	prefs map[prefKey]types.Preference
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{prefs: make(map[prefKey]types.Preference)}
}

func (m *MemoryStore) GetPreference(_ context.Context, userID string, category types.PreferenceCategory, key string) (*types.Preference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prefs[prefKey{userID, category, key}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryStore) UpsertPreference(_ context.Context, p types.Preference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := prefKey{p.UserID, p.Category, p.Key}
	if old, ok := m.prefs[k]; ok && !old.CreatedAt.IsZero() {
		p.CreatedAt = old.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = p.LastUsed
	}
	m.prefs[k] = p
	return nil
}

func (m *MemoryStore) ListPreferences(_ context.Context, userID string) ([]types.Preference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Preference
	for k, p := range m.prefs {
		if k.user == userID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b types.Preference) int {
		if c := cmp.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out, nil
}
