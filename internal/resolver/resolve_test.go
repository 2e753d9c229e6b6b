package resolver

import (
	"testing"
	"time"

	"tasknerd/internal/perception"
	"tasknerd/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver() (*Resolver, *perception.Classifier) {
	c := perception.NewClassifier(nil)
	return New(c), c
}

func waiting(spec *types.IntentSpec, missing []types.Field, now time.Time) *types.PendingIntent {
	return &types.PendingIntent{
		ID:        "p1",
		UserID:    "u1",
		ChannelID: "c1",
		Spec:      spec,
		Missing:   missing,
		CreatedAt: now,
		ExpiresAt: now.Add(15 * time.Minute),
		Status:    types.PendingWaiting,
		MaxIndex:  10,
	}
}

func TestResolve_Fresh(t *testing.T) {
	r, c := newTestResolver()
	now := at(2025, time.January, 1, 9, 0)
	opts := perception.ClassifyOptions{Now: now, MaxIndex: 10}

	t.Run("destructive delete asks for confirmation", func(t *testing.T) {
		res := r.Resolve(Input{Text: "1,3,5は消しといて", Rule: c.Classify("1,3,5は消しといて", opts), Now: now})
		d := res.Decision
		assert.Equal(t, OutcomeConfirm, d.Outcome)
		assert.Equal(t, []types.Field{types.FieldConfirmation}, d.Missing)
		assert.Equal(t, []int{1, 3, 5}, d.Spec.Indices)
		assert.Contains(t, d.Prompt, destructiveWarning)
		assert.Equal(t, SessionBegin, res.Session)
	})

	t.Run("complete command executes", func(t *testing.T) {
		res := r.Resolve(Input{Text: "明日18時に資料提出をリマインドして", Rule: c.Classify("明日18時に資料提出をリマインドして", opts), Now: now})
		d := res.Decision
		require.Equal(t, OutcomeExecute, d.Outcome)
		assert.Equal(t, perception.DefaultMention, d.Spec.Mention)
		assert.Equal(t, []types.Field{types.FieldMention}, res.Defaulted)
		assert.Equal(t, SessionNone, res.Session)
		assert.Contains(t, d.Prompt, "資料提出")
	})

	t.Run("unknown text clarifies", func(t *testing.T) {
		res := r.Resolve(Input{Text: "牛乳", Rule: c.Classify("牛乳", opts), Now: now})
		d := res.Decision
		assert.Equal(t, OutcomeClarify, d.Outcome)
		assert.Equal(t, []types.Field{types.FieldIntent}, d.Missing)
		assert.Equal(t, defaultCandidates, d.Candidates)
		assert.Equal(t, SessionBegin, res.Session)
	})

	t.Run("fallback decides", func(t *testing.T) {
		fb := &types.IntentSpec{Intent: types.IntentList, Confidence: 0.92, Source: types.SourceFallback}
		res := r.Resolve(Input{Text: "ぜんぶ見たい", Rule: c.Classify("ぜんぶ見たい", opts), Fallback: fb, Now: now})
		assert.Equal(t, OutcomeExecute, res.Decision.Outcome)
		assert.Equal(t, types.IntentList, res.Decision.Spec.Intent)
		assert.Equal(t, types.SourceFallback, res.Decision.Spec.Source)
	})

	t.Run("prepare runs before the gate", func(t *testing.T) {
		var seen *types.IntentSpec
		res := r.Resolve(Input{
			Text: "資料提出をリマインドして",
			Rule: c.Classify("資料提出をリマインドして", opts),
			Now:  now,
			Prepare: func(spec *types.IntentSpec) {
				seen = spec
				tm := at(2025, time.January, 2, 8, 0)
				spec.Time = &tm
			},
		})
		require.NotNil(t, seen)
		assert.Equal(t, OutcomeExecute, res.Decision.Outcome)
	})
}

func TestResolve_Expired(t *testing.T) {
	r, c := newTestResolver()
	created := at(2025, time.January, 1, 9, 0)
	now := created.Add(20 * time.Minute)
	opts := perception.ClassifyOptions{Now: now}

	stale := waiting(&types.IntentSpec{Intent: types.IntentDelete, Confidence: 0.9, Indices: []int{1}}, []types.Field{types.FieldConfirmation}, created)

	t.Run("unclear follow-up is reported as expired", func(t *testing.T) {
		res := r.Resolve(Input{Text: "はい", Rule: c.Classify("はい", opts), Pending: stale, Now: now})
		assert.Equal(t, OutcomeExpired, res.Decision.Outcome)
		assert.Equal(t, ExpiredPrompt, res.Decision.Prompt)
		assert.Equal(t, SessionNone, res.Session)
		assert.False(t, res.Decision.Cancelled)
	})

	t.Run("new command resolves normally", func(t *testing.T) {
		res := r.Resolve(Input{Text: "一覧見せて", Rule: c.Classify("一覧見せて", opts), Pending: stale, Now: now})
		assert.Equal(t, OutcomeExecute, res.Decision.Outcome)
		assert.Equal(t, types.IntentList, res.Decision.Spec.Intent)
		assert.True(t, res.Decision.PriorExpired)
	})

	t.Run("expiry instant is inclusive", func(t *testing.T) {
		res := r.Resolve(Input{Text: "はい", Rule: c.Classify("はい", opts), Pending: stale, Now: stale.ExpiresAt})
		assert.Equal(t, OutcomeExpired, res.Decision.Outcome)
	})
}

func TestFillPending(t *testing.T) {
	r, _ := newTestResolver()
	now := at(2025, time.January, 1, 9, 0)

	t.Run("confirmation yes executes", func(t *testing.T) {
		p := waiting(&types.IntentSpec{Intent: types.IntentDelete, Confidence: 0.9, Indices: []int{1, 3, 5}, RawText: "1,3,5は消しといて"},
			[]types.Field{types.FieldConfirmation}, now)
		res := r.FillPending(p, Input{Text: "はい", Now: now.Add(time.Minute)})
		d := res.Decision
		require.Equal(t, OutcomeExecute, d.Outcome)
		assert.Equal(t, types.IntentDelete, d.Spec.Intent)
		assert.Equal(t, []int{1, 3, 5}, d.Spec.Indices)
		assert.True(t, d.Spec.Confirmed)
		assert.Equal(t, "p1", d.PendingID)
		assert.Equal(t, SessionComplete, res.Session)
		assert.False(t, p.Spec.Confirmed, "stored record untouched")
	})

	t.Run("no cancels", func(t *testing.T) {
		p := waiting(&types.IntentSpec{Intent: types.IntentDelete, Confidence: 0.9, Indices: []int{2}}, []types.Field{types.FieldConfirmation}, now)
		res := r.FillPending(p, Input{Text: "キャンセル", Now: now})
		assert.Equal(t, OutcomeExpired, res.Decision.Outcome)
		assert.True(t, res.Decision.Cancelled)
		assert.Equal(t, CancelledPrompt, res.Decision.Prompt)
		assert.Equal(t, SessionCancel, res.Session)
	})

	t.Run("time fill alters nothing else", func(t *testing.T) {
		spec := &types.IntentSpec{
			Intent:     types.IntentRemindCreate,
			Confidence: 0.85,
			Payload:    "資料提出",
			Mention:    "@mrc",
			Source:     types.SourceRule,
			RawText:    "資料提出をリマインドして",
		}
		p := waiting(spec, []types.Field{types.FieldTime}, now)
		res := r.FillPending(p, Input{Text: "明日18時", Now: now.Add(time.Minute)})

		d := res.Decision
		require.Equal(t, OutcomeExecute, d.Outcome)
		require.NotNil(t, d.Spec.Time)
		assert.True(t, d.Spec.Time.Equal(at(2025, time.January, 2, 18, 0)))

		want := spec.Clone()
		want.Time = d.Spec.Time
		assert.Equal(t, want, d.Spec)
	})

	t.Run("payload falls back to the whole answer", func(t *testing.T) {
		when := at(2025, time.January, 2, 18, 0)
		p := waiting(&types.IntentSpec{Intent: types.IntentRemindCreate, Confidence: 0.85, Time: &when, Mention: "@everyone"},
			[]types.Field{types.FieldPayload}, now)
		res := r.FillPending(p, Input{Text: "歯医者の予約", Now: now})
		require.Equal(t, OutcomeExecute, res.Decision.Outcome)
		assert.Equal(t, "歯医者の予約", res.Decision.Spec.Payload)
	})

	t.Run("unrelated answer repeats the question", func(t *testing.T) {
		spec := &types.IntentSpec{Intent: types.IntentRemindCreate, Confidence: 0.85, Payload: "会議", Mention: "@everyone"}
		p := waiting(spec, []types.Field{types.FieldTime}, now)
		res := r.FillPending(p, Input{Text: "えーと", Now: now})
		d := res.Decision
		assert.Equal(t, OutcomeConfirm, d.Outcome)
		assert.Equal(t, []types.Field{types.FieldTime}, d.Missing)
		assert.Contains(t, d.Prompt, FieldPrompt(types.FieldTime))
		assert.Equal(t, SessionSave, res.Session)
		assert.Equal(t, p.ExpiresAt, res.Pending.ExpiresAt)
	})

	t.Run("yes does not skip outstanding fields", func(t *testing.T) {
		p := waiting(&types.IntentSpec{Intent: types.IntentDelete, Confidence: 0.9},
			[]types.Field{types.FieldIndices, types.FieldConfirmation}, now)
		res := r.FillPending(p, Input{Text: "はい", Now: now})
		assert.Equal(t, OutcomeConfirm, res.Decision.Outcome)
		assert.False(t, res.Decision.Spec.Confirmed)

		res = r.FillPending(res.Pending, Input{Text: "2と4", Now: now})
		assert.Equal(t, OutcomeConfirm, res.Decision.Outcome)
		assert.Equal(t, []int{2, 4}, res.Decision.Spec.Indices)
		assert.Equal(t, []types.Field{types.FieldConfirmation}, res.Decision.Missing)

		res = r.FillPending(res.Pending, Input{Text: "はい", Now: now})
		assert.Equal(t, OutcomeExecute, res.Decision.Outcome)
	})

	t.Run("indices respect the list in view", func(t *testing.T) {
		p := waiting(&types.IntentSpec{Intent: types.IntentComplete, Confidence: 0.85}, []types.Field{types.FieldIndices}, now)
		p.MaxIndex = 3
		res := r.FillPending(p, Input{Text: "5", Now: now})
		assert.Equal(t, OutcomeConfirm, res.Decision.Outcome)
		assert.Empty(t, res.Decision.Spec.Indices)
	})
}

func TestFillPending_Clarify(t *testing.T) {
	r, _ := newTestResolver()
	now := at(2025, time.January, 1, 9, 0)

	clarifying := func(raw string) *types.PendingIntent {
		p := waiting(&types.IntentSpec{Intent: types.IntentUnknown, Confidence: 0.3, RawText: raw}, []types.Field{types.FieldIntent}, now)
		p.Candidates = defaultCandidates
		return p
	}

	t.Run("by number", func(t *testing.T) {
		res := r.FillPending(clarifying("牛乳"), Input{Text: "1", Now: now})
		d := res.Decision
		require.Equal(t, OutcomeExecute, d.Outcome)
		assert.Equal(t, types.IntentCreate, d.Spec.Intent)
		assert.Equal(t, "牛乳", d.Spec.Payload)
		assert.GreaterOrEqual(t, d.Spec.Confidence, DefaultThreshold)
		assert.Equal(t, types.IntentCreate, res.Chosen)
	})

	t.Run("by keyword", func(t *testing.T) {
		res := r.FillPending(clarifying("3番"), Input{Text: "削除", Now: now})
		d := res.Decision
		assert.Equal(t, types.IntentDelete, res.Chosen)
		assert.Equal(t, OutcomeConfirm, d.Outcome)
		assert.Equal(t, []int{3}, d.Spec.Indices)
		assert.Equal(t, []types.Field{types.FieldConfirmation}, d.Missing)
	})

	t.Run("out of range number", func(t *testing.T) {
		res := r.FillPending(clarifying("牛乳"), Input{Text: "9", Now: now})
		assert.Equal(t, OutcomeClarify, res.Decision.Outcome)
		assert.Equal(t, defaultCandidates, res.Decision.Candidates)
		assert.Empty(t, res.Chosen)
		assert.Equal(t, SessionSave, res.Session)
	})

	t.Run("reminder default mention", func(t *testing.T) {
		res := r.FillPending(clarifying("明日9時に会議"), Input{Text: "5", Now: now})
		d := res.Decision
		assert.Equal(t, types.IntentRemindCreate, res.Chosen)
		assert.Equal(t, perception.DefaultMention, d.Spec.Mention)
		assert.Equal(t, []types.Field{types.FieldMention}, res.Defaulted)
	})
}

func TestFiredIntents(t *testing.T) {
	rule := perception.Classification{Candidates: []perception.Candidate{
		{Intent: types.IntentComplete, Confidence: 0.75},
		{Intent: types.IntentDelete, Confidence: 0.7},
	}}
	fb := &types.IntentSpec{Intent: types.IntentDelete, Confidence: 0.9}

	assert.Equal(t, []types.Intent{types.IntentDelete, types.IntentComplete}, firedIntents(rule, fb))
	assert.Equal(t, []types.Intent{types.IntentComplete, types.IntentDelete}, firedIntents(rule, nil))
	assert.Empty(t, firedIntents(perception.Classification{}, &types.IntentSpec{Intent: types.IntentUnknown}))
}
