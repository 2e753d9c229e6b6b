package perception

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tasknerd/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLLM is a scripted LLMClient.
type fakeLLM struct {
	mu         sync.Mutex
	respond    func(ctx context.Context, system, user string) (string, error)
	lastSystem string
	lastUser   string
	calls      int
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return f.CompleteWithSystem(ctx, "", prompt)
}

func (f *fakeLLM) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	f.mu.Lock()
	f.lastSystem, f.lastUser = system, user
	f.calls++
	f.mu.Unlock()
	return f.respond(ctx, system, user)
}

func reply(s string) func(context.Context, string, string) (string, error) {
	return func(context.Context, string, string) (string, error) { return s, nil }
}

func TestFallback_Classify(t *testing.T) {
	now := at(2025, time.January, 1, 9, 0)
	opts := FallbackOptions{Now: now, MaxIndex: 10}

	t.Run("maps service answer", func(t *testing.T) {
		llm := &fakeLLM{respond: reply("```json\n" + `{"intent":"todo.delete","indices":[1,3,12],"confidence":0.92,"what":"ignored"}` + "\n```")}
		f := NewFallback(llm, FallbackConfig{}, nil)

		spec := f.Classify(context.Background(), "1と3とあと12消して", opts)
		assert.Equal(t, types.IntentDelete, spec.Intent)
		assert.Equal(t, types.SourceFallback, spec.Source)
		assert.InDelta(t, 0.92, spec.Confidence, 1e-9)
		assert.Equal(t, []int{1, 3}, spec.Indices, "out of range index dropped")
		assert.Empty(t, spec.Payload, "payload is not a delete entity")
		assert.Empty(t, spec.MissingFields)
	})

	t.Run("repairs malformed json", func(t *testing.T) {
		llm := &fakeLLM{respond: reply(`{"intent":"remind.create","what":"会議","time":"2025-01-02T18:00:00+09:00","mention":"@MRC","confidence":0.9,}`)}
		f := NewFallback(llm, FallbackConfig{}, nil)

		spec := f.Classify(context.Background(), "会議のことあとで知らせて", opts)
		require.Equal(t, types.IntentRemindCreate, spec.Intent)
		assert.Equal(t, "会議", spec.Payload)
		assert.Equal(t, "@mrc", spec.Mention)
		require.NotNil(t, spec.Time)
		assert.True(t, spec.Time.Equal(at(2025, time.January, 2, 18, 0)))
		assert.Empty(t, spec.MissingFields)
	})

	t.Run("missing fields recomputed", func(t *testing.T) {
		llm := &fakeLLM{respond: reply(`{"intent":"remind.create","what":"会議","confidence":0.85,"missing_fields":[]}`)}
		spec := NewFallback(llm, FallbackConfig{}, nil).Classify(context.Background(), "会議を知らせて", opts)
		assert.Equal(t, []types.Field{types.FieldTime}, spec.MissingFields)
	})

	t.Run("confidence clamped", func(t *testing.T) {
		llm := &fakeLLM{respond: reply(`{"intent":"todo.list","confidence":7}`)}
		spec := NewFallback(llm, FallbackConfig{}, nil).Classify(context.Background(), "見せて", opts)
		assert.Equal(t, types.IntentList, spec.Intent)
		assert.Equal(t, 1.0, spec.Confidence)
	})

	t.Run("unknown intent", func(t *testing.T) {
		llm := &fakeLLM{respond: reply(`{"intent":"weather","confidence":0.9}`)}
		spec := NewFallback(llm, FallbackConfig{}, nil).Classify(context.Background(), "天気は", opts)
		assert.Equal(t, types.IntentUnknown, spec.Intent)
		assert.Zero(t, spec.Confidence)
	})

	t.Run("prompt carries context", func(t *testing.T) {
		llm := &fakeLLM{respond: reply(`{"intent":"chitchat","confidence":0.9}`)}
		f := NewFallback(llm, FallbackConfig{}, nil)
		f.Classify(context.Background(), "やあ", FallbackOptions{
			Now:      now,
			MaxIndex: 4,
			History:  []types.Turn{{Role: "user", Content: "一覧見せて"}, {Role: "assistant", Content: "4件あります"}},
		})
		assert.Contains(t, llm.lastUser, "直前のリスト: 4件表示済み")
		assert.Contains(t, llm.lastUser, "現在時刻: 2025-01-01T09:00:00+09:00")
		assert.Contains(t, llm.lastUser, "assistant: 4件あります")
		assert.True(t, strings.HasSuffix(llm.lastUser, "ユーザー発話: やあ"))
		assert.Contains(t, llm.lastSystem, "JSON")
	})
}

func TestFallback_Degrades(t *testing.T) {
	now := at(2025, time.January, 1, 9, 0)

	tests := []struct {
		name    string
		client  LLMClient
		cfg     FallbackConfig
		result  string
		prepare func(f *Fallback)
	}{
		{
			name:   "no client",
			client: nil,
			result: FallbackDisabled,
		},
		{
			name:   "transport error",
			client: &fakeLLM{respond: func(context.Context, string, string) (string, error) { return "", errors.New("connection refused") }},
			result: FallbackError,
		},
		{
			name: "timeout",
			client: &fakeLLM{respond: func(ctx context.Context, _, _ string) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			}},
			cfg:    FallbackConfig{Timeout: 20 * time.Millisecond},
			result: FallbackTimeout,
		},
		{
			name:   "not json",
			client: &fakeLLM{respond: reply("I cannot help with that.")},
			result: FallbackBadResponse,
		},
		{
			name:   "rate limited",
			client: &fakeLLM{respond: reply(`{"intent":"todo.list","confidence":0.9}`)},
			cfg:    FallbackConfig{Timeout: 20 * time.Millisecond, RequestsPerSecond: 0.001, Burst: 1},
			result: FallbackRateLimited,
			prepare: func(f *Fallback) {
				f.limiter.Allow() // spend the only token
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			tt.cfg.OnResult = func(result string, _ time.Duration) { got = result }
			f := NewFallback(tt.client, tt.cfg, nil)
			if tt.prepare != nil {
				tt.prepare(f)
			}

			spec := f.Classify(context.Background(), "何か", FallbackOptions{Now: now})
			require.NotNil(t, spec)
			assert.Equal(t, types.IntentUnknown, spec.Intent)
			assert.Zero(t, spec.Confidence)
			assert.Equal(t, types.SourceFallback, spec.Source)
			assert.Equal(t, "何か", spec.RawText)
			assert.Equal(t, tt.result, got)
		})
	}
}

func TestFallback_OpenAIClient(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req OpenAIRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Contains(t, req.Messages[1].Content, "3番完了")
		}

		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": `{"intent":"todo.complete","indices":[3],"confidence":0.88}`}},
			},
		})
	}))
	defer srv.Close()

	cfg := DefaultOpenAIConfig("test-key")
	cfg.BaseURL = srv.URL
	client := NewOpenAIClientWithConfig(cfg)

	f := NewFallback(client, FallbackConfig{Timeout: 3 * time.Second}, nil)
	spec := f.Classify(context.Background(), "3番完了", FallbackOptions{Now: at(2025, time.January, 1, 9, 0), MaxIndex: 5})

	assert.Equal(t, types.IntentComplete, spec.Intent)
	assert.Equal(t, []int{3}, spec.Indices)
	assert.InDelta(t, 0.88, spec.Confidence, 1e-9)
	assert.Equal(t, int32(2), requests.Load(), "429 is retried")
}

func TestOpenAIClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := DefaultOpenAIConfig("k")
	cfg.BaseURL = srv.URL
	_, err := NewOpenAIClientWithConfig(cfg).Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")

	_, err = NewOpenAIClient("").Complete(context.Background(), "x")
	assert.Error(t, err)
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"Sure! {\"a\":1} done", `{"a":1}`},
		{`{"a":1`, `{"a":1`},
		{"no json", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractJSONObject(tt.in), tt.in)
	}
}
