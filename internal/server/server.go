// Package server is the HTTP boundary used by chat transports: one endpoint per
// inbound message, plus correction and preference surfaces, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"tasknerd/internal/logging"
	"tasknerd/internal/resolver"
	"tasknerd/internal/types"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Config configures a Server.
type Config struct {
	// RequestsPerMinute limits requests per client IP; zero disables the limit.
	RequestsPerMinute int
	// Gatherer backs /metrics; nil selects the default registry.
	Gatherer prometheus.Gatherer
	// Ping, when set, is consulted by /healthz (for example the Redis session store).
	Ping         func(ctx context.Context) error
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server routes HTTP requests to a resolver engine.
type Server struct {
	engine *resolver.Engine
	cfg    Config
}

// New creates a server for engine.
func New(engine *resolver.Engine, cfg Config) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	return &Server{engine: engine, cfg: cfg}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		if s.cfg.RequestsPerMinute > 0 {
			r.Use(rateLimit(s.cfg.RequestsPerMinute))
		}
		r.Post("/messages", s.handleMessage)
		r.Post("/corrections", s.handleCorrection)
		r.Get("/users/{user}/preferences", s.handlePreferences)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Server("Listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logging.Server("Server on %s stopped", ln.Addr())
	return nil
}

// =============================================================================
// HANDLERS
// =============================================================================

// MessageRequest is the body of POST /v1/messages.
type MessageRequest struct {
	Text      string       `json:"text"`
	UserID    string       `json:"user_id"`
	ChannelID string       `json:"channel_id"`
	MessageID string       `json:"message_id,omitempty"`
	Timestamp *time.Time   `json:"timestamp,omitempty"`
	MaxIndex  int          `json:"max_index,omitempty"`
	History   []types.Turn `json:"history,omitempty"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserID == "" || req.ChannelID == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_id and channel_id are required"))
		return
	}
	if req.MaxIndex < 0 {
		writeError(w, http.StatusBadRequest, errors.New("max_index must not be negative"))
		return
	}

	msg := resolver.Message{
		Text:      req.Text,
		UserID:    req.UserID,
		ChannelID: req.ChannelID,
		MessageID: req.MessageID,
		MaxIndex:  req.MaxIndex,
		History:   req.History,
	}
	if req.Timestamp != nil {
		msg.Timestamp = *req.Timestamp
	}

	d, err := s.engine.Handle(r.Context(), msg)
	if err != nil {
		logging.ServerError("Message from %s/%s failed: %v", req.UserID, req.ChannelID, err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// CorrectionRequest is the body of POST /v1/corrections.
type CorrectionRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
	Intent string `json:"intent"`
}

func (s *Server) handleCorrection(w http.ResponseWriter, r *http.Request) {
	var req CorrectionRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	intent := types.ParseIntent(req.Intent)
	if req.UserID == "" || strings.TrimSpace(req.Text) == "" || !intent.Valid() {
		writeError(w, http.StatusBadRequest, errors.New("user_id, text and a known intent are required"))
		return
	}

	pref, err := s.engine.Correct(r.Context(), req.UserID, req.Text, intent)
	switch {
	case errors.Is(err, resolver.ErrPersonalizationDisabled):
		writeError(w, http.StatusNotImplemented, err)
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeJSON(w, http.StatusOK, pref)
	}
}

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	p := s.engine.Personalizer()
	if p == nil {
		writeError(w, http.StatusNotImplemented, resolver.ErrPersonalizationDisabled)
		return
	}
	prefs, err := p.List(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if prefs == nil {
		prefs = []types.Preference{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"preferences": prefs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.cfg.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func rateLimit(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limit_exceeded"})
		}),
	)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.ServerDebug("%s %s -> %d (%s) id=%s", r.Method, r.URL.Path, ww.Status(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}
