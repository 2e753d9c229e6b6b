package perception

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"tasknerd/internal/logging"
	"tasknerd/internal/types"

	"github.com/kaptinlin/jsonrepair"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// =============================================================================
// FALLBACK ADAPTER
// =============================================================================

const fallbackTracerName = "tasknerd/perception"

// Fallback results reported to FallbackConfig.OnResult.
const (
	FallbackOK          = "ok"
	FallbackDisabled    = "disabled"
	FallbackRateLimited = "rate_limited"
	FallbackTimeout     = "timeout"
	FallbackError       = "error"
	FallbackBadResponse = "bad_response"
)

const fallbackSystemPrompt = `あなたはチャットの秘書Botの自然言語解析器です。
ユーザー発話から意図とエンティティを抽出し、必ずJSONオブジェクトのみで返します。

出力スキーマ:
{
  "intent": "todo.add|todo.delete|todo.complete|todo.list|remind.create|remind.delete|chitchat",
  "what": "タスクやリマインドの内容（あれば）",
  "indices": [1,3,5],
  "time": "2025-08-12T10:00:00+09:00",
  "repeat": "FREQ=DAILY",
  "mention": "@everyone",
  "priority": "urgent|high|normal|low",
  "confidence": 0.95,
  "missing_fields": ["time"]
}

判定ルール:
- 「追加/入れて/登録」→ todo.add
- 「削除/消して/けして」→ todo.delete
- 「完了/済み/done」→ todo.complete
- 「一覧/リスト/見せて」→ todo.list
- 「リマインド/通知/知らせて」→ remind.create
- 数字は半角に統一し、範囲は展開する
- 日時は現在時刻と同じタイムゾーンのISO8601形式にする
- 該当しない項目は省略する

JSONのみ返し、他の説明は不要です。`

// FallbackOptions carries the per-message context sent to the reasoning service.
type FallbackOptions struct {
	Now time.Time
	// MaxIndex is the size of the list in view; 0 when unknown.
	MaxIndex int
	// History is the recent conversation excerpt, oldest first.
	History []types.Turn
}

// FallbackConfig configures a Fallback.
type FallbackConfig struct {
	// Timeout bounds one classification including rate-limit wait.
	Timeout time.Duration
	// RequestsPerSecond and Burst configure the client-side limiter; zero disables it.
	RequestsPerSecond float64
	Burst             int
	// OnResult, when set, is told the outcome and latency of every call.
	OnResult func(result string, elapsed time.Duration)
}

// Fallback consults an external reasoning service when the rule classifier is
// inconclusive. It never returns an error: every failure degrades to an unknown spec
// with zero confidence so the resolver falls back to the rule result.
type Fallback struct {
	client   LLMClient
	limiter  *rate.Limiter
	timeout  time.Duration
	mentions *MentionScanner
	onResult func(string, time.Duration)
}

// NewFallback wraps client. A nil client yields a Fallback that always degrades.
func NewFallback(client LLMClient, cfg FallbackConfig, mentions *MentionScanner) *Fallback {
	if mentions == nil {
		mentions = defaultMentionScanner
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	f := &Fallback{
		client:   client,
		timeout:  timeout,
		mentions: mentions,
		onResult: cfg.OnResult,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return f
}

// Enabled reports whether a reasoning service is attached.
func (f *Fallback) Enabled() bool {
	return f != nil && f.client != nil
}

// fallbackResponse is the JSON object the reasoning service returns.
type fallbackResponse struct {
	Intent        string    `json:"intent"`
	What          string    `json:"what"`
	Indices       []float64 `json:"indices"`
	Time          string    `json:"time"`
	Repeat        string    `json:"repeat"`
	Mention       string    `json:"mention"`
	Priority      string    `json:"priority"`
	Confidence    *float64  `json:"confidence"`
	MissingFields []string  `json:"missing_fields"`
}

// Classify asks the reasoning service to classify text. The returned spec has the same
// shape as a rule classification, with Source set to fallback.
func (f *Fallback) Classify(ctx context.Context, text string, opts FallbackOptions) *types.IntentSpec {
	if !f.Enabled() {
		return f.degraded(text, FallbackDisabled, 0)
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	ctx, span := otel.Tracer(fallbackTracerName).Start(ctx, "perception.fallback.classify",
		trace.WithAttributes(
			attribute.Int("tasknerd.max_index", opts.MaxIndex),
			attribute.Int("tasknerd.history_turns", len(opts.History)),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			span.SetStatus(codes.Error, "rate limited")
			logging.PerceptionWarn("Fallback: rate limited: %v", err)
			return f.degraded(text, FallbackRateLimited, time.Since(start))
		}
	}

	raw, err := f.client.CompleteWithSystem(ctx, fallbackSystemPrompt, buildFallbackPrompt(text, now, opts))
	if err != nil {
		result := FallbackError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result = FallbackTimeout
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		logging.PerceptionWarn("Fallback: reasoning service failed (%s): %v", result, err)
		return f.degraded(text, result, time.Since(start))
	}

	spec, err := f.decode(raw, text, now, opts.MaxIndex)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, FallbackBadResponse)
		logging.PerceptionWarn("Fallback: unusable response: %v", err)
		return f.degraded(text, FallbackBadResponse, time.Since(start))
	}

	elapsed := time.Since(start)
	span.SetAttributes(
		attribute.String("tasknerd.intent", string(spec.Intent)),
		attribute.Float64("tasknerd.confidence", spec.Confidence),
	)
	f.report(FallbackOK, elapsed)
	logging.PerceptionDebug("Fallback: %q -> %s (%.2f) in %v", text, spec.Intent, spec.Confidence, elapsed)
	return spec
}

func (f *Fallback) degraded(text, result string, elapsed time.Duration) *types.IntentSpec {
	f.report(result, elapsed)
	return &types.IntentSpec{
		Intent:     types.IntentUnknown,
		Confidence: 0,
		Source:     types.SourceFallback,
		RawText:    text,
	}
}

func (f *Fallback) report(result string, elapsed time.Duration) {
	if f != nil && f.onResult != nil {
		f.onResult(result, elapsed)
	}
}

func buildFallbackPrompt(text string, now time.Time, opts FallbackOptions) string {
	var b strings.Builder
	if len(opts.History) > 0 {
		b.WriteString("最近の会話:\n")
		for _, t := range opts.History {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
		}
	}
	if opts.MaxIndex > 0 {
		fmt.Fprintf(&b, "直前のリスト: %d件表示済み\n", opts.MaxIndex)
	}
	fmt.Fprintf(&b, "現在時刻: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "ユーザー発話: %s", text)
	return b.String()
}

// decode repairs and maps the service's JSON answer. Entities outside the intent's
// field set are dropped; values that fail validation are treated as absent.
func (f *Fallback) decode(raw, text string, now time.Time, maxIndex int) (*types.IntentSpec, error) {
	body := extractJSONObject(raw)
	if body == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var resp fallbackResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(body)
		if rerr != nil {
			return nil, fmt.Errorf("failed to repair response: %w", rerr)
		}
		if err := json.Unmarshal([]byte(repaired), &resp); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
	}

	intent := types.ParseIntent(strings.TrimSpace(resp.Intent))
	spec := &types.IntentSpec{
		Intent:      intent,
		Source:      types.SourceFallback,
		RawText:     text,
		Ambiguities: DetectAmbiguities(text),
	}
	if !intent.Valid() {
		return spec, nil
	}

	spec.Confidence = 0.5
	if resp.Confidence != nil && !math.IsNaN(*resp.Confidence) {
		spec.Confidence = math.Max(0, math.Min(1, *resp.Confidence))
	}

	for _, field := range types.EntityFields(intent) {
		switch field {
		case types.FieldPayload:
			spec.Payload = strings.TrimSpace(resp.What)
		case types.FieldIndices:
			spec.Indices = validIndices(resp.Indices, maxIndex)
		case types.FieldTime:
			if at, ok := parseServiceTime(resp.Time, now.Location()); ok {
				spec.Time = &at
			}
		case types.FieldRepeat:
			if strings.HasPrefix(resp.Repeat, "FREQ=") {
				spec.Repeat = resp.Repeat
			}
		case types.FieldMention:
			spec.Mention = f.normalizeMention(resp.Mention)
		case types.FieldPriority:
			spec.Priority = ScanPriority(resp.Priority)
			if spec.Priority == "" {
				switch strings.ToLower(resp.Priority) {
				case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
					spec.Priority = strings.ToLower(resp.Priority)
				}
			}
		}
	}
	// missing_fields from the service is only a hint; the invariant is recomputed.
	spec.MissingFields = spec.MissingRequired()
	return spec, nil
}

func (f *Fallback) normalizeMention(m string) string {
	m = strings.TrimSpace(m)
	if m == "" {
		return ""
	}
	if tag := f.mentions.Scan(m); tag != "" {
		return tag
	}
	return ""
}

func validIndices(raw []float64, maxIndex int) []int {
	var out []int
	seen := make(map[int]bool)
	for _, v := range raw {
		if v != math.Trunc(v) {
			continue
		}
		i := int(v)
		if i < 1 || (maxIndex > 0 && i > maxIndex) || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return out
}

func parseServiceTime(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), true
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// extractJSONObject returns the first {...} block, unwrapping markdown fences.
func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		s = strings.TrimSpace(rest)
	}
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		// truncated answer; let the repairer close it
		return s[start:]
	}
	return s[start : end+1]
}
