package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntent(t *testing.T) {
	tests := []struct {
		in   string
		want Intent
	}{
		{"create", IntentCreate},
		{"todo.add", IntentCreate},
		{"todo.delete", IntentDelete},
		{"remind.create", IntentRemindCreate},
		{"remind-delete", IntentRemindDelete},
		{"list", IntentList},
		{"chitchat", IntentChitchat},
		{"", IntentUnknown},
		{"launch-rocket", IntentUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseIntent(tt.in))
		})
	}
}

func TestIntentPredicates(t *testing.T) {
	assert.True(t, IntentDelete.Destructive())
	assert.True(t, IntentRemindDelete.Destructive())
	assert.False(t, IntentCreate.Destructive())
	assert.False(t, IntentUnknown.Valid())
	assert.True(t, IntentChitchat.Valid())
	assert.Equal(t, "TODO削除", IntentDelete.DisplayName())
	assert.Equal(t, "unknown", IntentUnknown.DisplayName())
}

func TestRequiredFields(t *testing.T) {
	assert.Equal(t, []Field{FieldPayload}, RequiredFields(IntentCreate))
	assert.Equal(t, []Field{FieldPayload, FieldTime}, RequiredFields(IntentRemindCreate))
	assert.Equal(t, []Field{FieldIndices}, RequiredFields(IntentRemindDelete))
	assert.Empty(t, RequiredFields(IntentList))
	assert.Empty(t, RequiredFields(IntentChitchat))

	// callers may mutate the result
	f := RequiredFields(IntentCreate)
	f[0] = FieldTime
	assert.Equal(t, []Field{FieldPayload}, RequiredFields(IntentCreate))
}

func TestMissingRequired(t *testing.T) {
	when := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

	spec := &IntentSpec{Intent: IntentRemindCreate, Payload: "会議"}
	assert.Equal(t, []Field{FieldTime}, spec.MissingRequired())

	spec.Time = &when
	assert.Empty(t, spec.MissingRequired())

	spec = &IntentSpec{Intent: IntentDelete}
	assert.Equal(t, []Field{FieldIndices}, spec.MissingRequired())
}

func TestIntentSpecClone(t *testing.T) {
	when := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	orig := &IntentSpec{
		Intent:        IntentDelete,
		Indices:       []int{1, 3},
		Time:          &when,
		MissingFields: []Field{FieldConfirmation},
	}
	c := orig.Clone()
	c.Indices[0] = 9
	c.MissingFields = nil
	*c.Time = when.Add(time.Hour)

	assert.Equal(t, []int{1, 3}, orig.Indices)
	assert.Equal(t, []Field{FieldConfirmation}, orig.MissingFields)
	assert.Equal(t, when, *orig.Time)
	assert.Nil(t, (*IntentSpec)(nil).Clone())
}

func TestIntentSpecJSON(t *testing.T) {
	loc := time.FixedZone("JST", 9*3600)
	when := time.Date(2024, 5, 11, 18, 0, 0, 0, loc)
	spec := &IntentSpec{
		Intent:     IntentRemindCreate,
		Confidence: 0.9,
		Payload:    "資料提出",
		Time:       &when,
		Mention:    "@everyone",
		Source:     SourceRule,
	}

	data, err := json.Marshal(spec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"what":"資料提出"`)
	assert.Contains(t, string(data), `"time":"2024-05-11T18:00:00+09:00"`)
	assert.NotContains(t, string(data), "indices")
}

func TestPendingExpired(t *testing.T) {
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	p := &PendingIntent{CreatedAt: now, ExpiresAt: now.Add(15 * time.Minute)}

	assert.False(t, p.Expired(now.Add(14*time.Minute)))
	assert.True(t, p.Expired(now.Add(15*time.Minute)))
	assert.True(t, p.Expired(now.Add(16*time.Minute)))
}
