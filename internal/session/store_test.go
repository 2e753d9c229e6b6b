package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"tasknerd/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var base = time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC)

func deleteSpec() *types.IntentSpec {
	return &types.IntentSpec{Intent: types.IntentDelete, Confidence: 0.9, Indices: []int{1, 3, 5}, Source: types.SourceRule}
}

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	key := Key{UserID: "u1", ChannelID: "c1"}
	s := NewStore(nil)

	state, p, err := s.Lookup(ctx, key, base)
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, state)
	assert.Nil(t, p)

	begun, err := s.Begin(ctx, key, deleteSpec(), []types.Field{types.FieldConfirmation}, base, BeginOptions{MaxIndex: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, begun.ID)
	assert.Equal(t, types.PendingWaiting, begun.Status)
	assert.Equal(t, base.Add(DefaultTTL), begun.ExpiresAt)
	assert.Equal(t, 10, begun.MaxIndex)

	state, p, err = s.Lookup(ctx, key, base.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, StateWaiting, state)
	assert.Equal(t, begun.ID, p.ID)
	assert.Equal(t, []types.Field{types.FieldConfirmation}, p.Missing)
	assert.Equal(t, []int{1, 3, 5}, p.Spec.Indices)

	require.NoError(t, s.Complete(ctx, p, types.PendingCompleted))
	assert.Equal(t, types.PendingCompleted, p.Status)

	state, _, err = s.Lookup(ctx, key, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, state)
}

func TestStore_Expiry(t *testing.T) {
	ctx := context.Background()
	key := Key{UserID: "u1", ChannelID: "c1"}
	s := NewStore(nil, WithTTL(15*time.Minute))

	begun, err := s.Begin(ctx, key, deleteSpec(), []types.Field{types.FieldConfirmation}, base, BeginOptions{})
	require.NoError(t, err)

	state, _, err := s.Lookup(ctx, key, base.Add(15*time.Minute-time.Second))
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, state, "still waiting just before expiry")

	state, p, err := s.Lookup(ctx, key, base.Add(15*time.Minute))
	require.NoError(t, err)
	require.Equal(t, StateExpired, state, "expiry is inclusive")
	assert.Equal(t, begun.ID, p.ID)
	assert.Equal(t, types.PendingExpired, p.Status)

	state, _, err = s.Lookup(ctx, key, base.Add(16*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, state, "expired is reported once")
}

func TestStore_RetentionElapsed(t *testing.T) {
	ctx := context.Background()
	key := Key{UserID: "u1", ChannelID: "c1"}

	mem := NewMemoryStore()
	clock := base
	mem.now = func() time.Time { return clock }
	s := NewStore(mem, WithTTL(15*time.Minute), WithRetention(time.Hour))

	_, err := s.Begin(ctx, key, deleteSpec(), []types.Field{types.FieldConfirmation}, base, BeginOptions{})
	require.NoError(t, err)

	clock = base.Add(2 * time.Hour)
	state, _, err := s.Lookup(ctx, key, clock)
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, state)
}

func TestStore_SaveKeepsExpiry(t *testing.T) {
	ctx := context.Background()
	key := Key{UserID: "u1", ChannelID: "c1"}
	s := NewStore(nil)

	spec := &types.IntentSpec{Intent: types.IntentRemindCreate, Payload: "会議", Confidence: 0.9}
	begun, err := s.Begin(ctx, key, spec, []types.Field{types.FieldTime, types.FieldMention}, base, BeginOptions{})
	require.NoError(t, err)

	_, p, err := s.Lookup(ctx, key, base.Add(5*time.Minute))
	require.NoError(t, err)
	p.Missing = []types.Field{types.FieldMention}
	require.NoError(t, s.Save(ctx, p, base.Add(5*time.Minute)))

	_, p, err = s.Lookup(ctx, key, base.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []types.Field{types.FieldMention}, p.Missing)
	assert.Equal(t, begun.ExpiresAt, p.ExpiresAt)

	p.Status = types.PendingCompleted
	assert.Error(t, s.Save(ctx, p, base))
	assert.Error(t, s.Complete(ctx, p, types.PendingWaiting))
}

func TestStore_BeginReplaces(t *testing.T) {
	ctx := context.Background()
	key := Key{UserID: "u1", ChannelID: "c1"}
	s := NewStore(nil)

	first, err := s.Begin(ctx, key, deleteSpec(), []types.Field{types.FieldConfirmation}, base, BeginOptions{})
	require.NoError(t, err)
	second, err := s.Begin(ctx, key, &types.IntentSpec{Intent: types.IntentCreate}, []types.Field{types.FieldPayload}, base, BeginOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, p, err := s.Lookup(ctx, key, base)
	require.NoError(t, err)
	assert.Equal(t, second.ID, p.ID)
	assert.Equal(t, types.IntentCreate, p.Spec.Intent)
}

func TestStore_BeginValidation(t *testing.T) {
	s := NewStore(nil)
	key := Key{UserID: "u1", ChannelID: "c1"}
	_, err := s.Begin(context.Background(), key, nil, []types.Field{types.FieldTime}, base, BeginOptions{})
	assert.Error(t, err)
	_, err = s.Begin(context.Background(), key, deleteSpec(), nil, base, BeginOptions{})
	assert.Error(t, err)
}

func TestStore_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	a := Key{UserID: "u1", ChannelID: "c1"}
	b := Key{UserID: "u1", ChannelID: "c2"}

	_, err := s.Begin(ctx, a, deleteSpec(), []types.Field{types.FieldConfirmation}, base, BeginOptions{})
	require.NoError(t, err)

	state, _, err := s.Lookup(ctx, b, base)
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, state, "same user, other channel")
}

func TestStore_RedisBackend(t *testing.T) {
	ctx := context.Background()
	key := Key{UserID: "u1", ChannelID: "c1"}
	mr, rs := setupMiniRedis(t)
	s := NewStore(rs)

	begun, err := s.Begin(ctx, key, deleteSpec(), []types.Field{types.FieldConfirmation}, base, BeginOptions{Candidates: []types.Intent{types.IntentDelete}})
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL+DefaultRetention, mr.TTL("test:pending:u1:c1"))

	state, p, err := s.Lookup(ctx, key, base.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, StateWaiting, state)
	assert.Equal(t, begun.ID, p.ID)
	assert.Equal(t, []types.Intent{types.IntentDelete}, p.Candidates)

	state, _, err = s.Lookup(ctx, key, base.Add(DefaultTTL))
	require.NoError(t, err)
	assert.Equal(t, StateExpired, state)
	assert.False(t, mr.Exists("test:pending:u1:c1"))
}

func TestStore_SameKeySerialized(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	s := NewStore(nil)
	key := Key{UserID: "u1", ChannelID: "c1"}
	other := Key{UserID: "u2", ChannelID: "c1"}
	_, err := s.Begin(ctx, key, deleteSpec(), []types.Field{types.FieldConfirmation}, base, BeginOptions{})
	require.NoError(t, err)
	_, err = s.Begin(ctx, other, deleteSpec(), []types.Field{types.FieldConfirmation}, base, BeginOptions{})
	require.NoError(t, err)

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		for _, k := range []Key{key, other} {
			wg.Add(1)
			go func(k Key) {
				defer wg.Done()
				unlock := s.Lock(k)
				defer unlock()
				_, p, err := s.Lookup(ctx, k, base)
				if err != nil || p == nil {
					t.Errorf("lookup failed: %v", err)
					return
				}
				p.MaxIndex++
				if err := s.Save(ctx, p, base); err != nil {
					t.Errorf("save failed: %v", err)
				}
			}(k)
		}
	}
	wg.Wait()

	for _, k := range []Key{key, other} {
		_, p, err := s.Lookup(ctx, k, base)
		require.NoError(t, err)
		assert.Equal(t, workers, p.MaxIndex, "no lost updates for %s", k)
	}
	assert.Zero(t, s.locks.size(), "idle keys hold no lock entries")
}

func TestStore_DifferentKeysDoNotBlock(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewStore(nil)
	unlock := s.Lock(Key{UserID: "u1", ChannelID: "c1"})
	defer unlock()

	done := make(chan struct{})
	go func() {
		release := s.Lock(Key{UserID: "u2", ChannelID: "c1"})
		release()
		release() // idempotent
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on another key blocked")
	}
	assert.Equal(t, 1, s.locks.size())
}
