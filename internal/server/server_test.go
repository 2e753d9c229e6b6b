package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tasknerd/internal/personalization"
	"tasknerd/internal/resolver"
	"tasknerd/internal/session"
	"tasknerd/internal/types"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// The reasoning-service SDK pulls in opencensus, whose init starts a worker that
// never exits.
var ignoreOpenCensus = goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start")

func newTestServer(t *testing.T, withPrefs bool, cfg Config) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	ec := resolver.EngineConfig{Metrics: resolver.MustNewMetrics(reg)}
	if withPrefs {
		ec.Personalizer = personalization.New(nil, personalization.DefaultOptions())
	}
	cfg.Gatherer = reg
	return New(resolver.NewEngine(ec), cfg)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMessages(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)
	h := newTestServer(t, false, Config{}).Handler()

	rec := do(t, h, http.MethodPost, "/v1/messages",
		`{"text":"1,3,5は消しといて","user_id":"u1","channel_id":"c1","max_index":10,"timestamp":"2025-01-01T09:00:00+09:00"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var d resolver.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, resolver.OutcomeConfirm, d.Outcome)
	assert.Equal(t, []types.Field{types.FieldConfirmation}, d.Missing)
	assert.NotEmpty(t, d.Prompt)
	assert.NotEmpty(t, d.PendingID)

	rec = do(t, h, http.MethodPost, "/v1/messages",
		`{"text":"はい","user_id":"u1","channel_id":"c1","timestamp":"2025-01-01T09:01:00+09:00"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, "EXECUTE", raw["outcome"])
	spec := raw["spec"].(map[string]any)
	assert.Equal(t, "delete", spec["intent"])
	assert.Equal(t, []any{1.0, 3.0, 5.0}, spec["indices"])
}

func TestMessages_BadRequests(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)
	h := newTestServer(t, false, Config{}).Handler()

	tests := []struct {
		name string
		body string
	}{
		{"not json", `hello`},
		{"missing user", `{"text":"一覧","channel_id":"c1"}`},
		{"missing channel", `{"text":"一覧","user_id":"u1"}`},
		{"unknown field", `{"text":"一覧","user_id":"u1","channel_id":"c1","extra":1}`},
		{"negative max index", `{"text":"一覧","user_id":"u1","channel_id":"c1","max_index":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/messages", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestMessages_StoreDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	reg := prometheus.NewRegistry()
	e := resolver.NewEngine(resolver.EngineConfig{
		Sessions: session.NewStore(session.NewRedisStore(client, "t:")),
		Metrics:  resolver.MustNewMetrics(reg),
	})
	srv := New(e, Config{Gatherer: reg, Ping: func(ctx context.Context) error { return client.Ping(ctx).Err() }})
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	mr.Close()

	rec = do(t, h, http.MethodPost, "/v1/messages", `{"text":"一覧","user_id":"u1","channel_id":"c1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)

	rec = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCorrectionsAndPreferences(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	t.Run("enabled", func(t *testing.T) {
		h := newTestServer(t, true, Config{}).Handler()

		rec := do(t, h, http.MethodPost, "/v1/corrections", `{"user_id":"u1","text":"いつものやつ","intent":"todo.list"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var pref types.Preference
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pref))
		assert.Equal(t, types.PrefDisambiguation, pref.Category)
		assert.Equal(t, "list", pref.Value)

		rec = do(t, h, http.MethodPost, "/v1/corrections", `{"user_id":"u1","text":"x","intent":"weather"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = do(t, h, http.MethodGet, "/v1/users/u1/preferences", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Preferences []types.Preference `json:"preferences"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Preferences, 1)
		assert.Equal(t, "いつものやつ", body.Preferences[0].Key)

		rec = do(t, h, http.MethodGet, "/v1/users/nobody/preferences", "")
		assert.JSONEq(t, `{"preferences":[]}`, rec.Body.String())
	})

	t.Run("disabled", func(t *testing.T) {
		h := newTestServer(t, false, Config{}).Handler()
		rec := do(t, h, http.MethodPost, "/v1/corrections", `{"user_id":"u1","text":"いつものやつ","intent":"list"}`)
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
		rec = do(t, h, http.MethodGet, "/v1/users/u1/preferences", "")
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)
	h := newTestServer(t, false, Config{}).Handler()

	do(t, h, http.MethodPost, "/v1/messages", `{"text":"一覧","user_id":"u1","channel_id":"c1"}`)
	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `tasknerd_resolver_decisions_total{outcome="EXECUTE"} 1`)
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, false, Config{RequestsPerMinute: 2}).Handler()
	body := `{"text":"一覧","user_id":"u1","channel_id":"c1"}`

	for range 2 {
		assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/messages", body).Code)
	}
	rec := do(t, h, http.MethodPost, "/v1/messages", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// health is outside the limited group
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func TestServe_Shutdown(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreOpenCensus)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := newTestServer(t, false, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	http.DefaultClient.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal(errors.New("server did not stop"))
	}
}
