package resolver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"tasknerd/internal/logging"
	"tasknerd/internal/perception"
	"tasknerd/internal/personalization"
	"tasknerd/internal/session"
	"tasknerd/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const engineTracerName = "tasknerd/resolver"

// DefaultFallbackThreshold is the rule confidence below which the reasoning service
// is consulted.
const DefaultFallbackThreshold = 0.7

// ErrPersonalizationDisabled is returned by Engine.Correct when no personalizer is
// attached.
var ErrPersonalizationDisabled = errors.New("resolver: personalization disabled")

// Message is one inbound chat message.
type Message struct {
	Text      string
	UserID    string
	ChannelID string
	// MessageID deduplicates stored history; optional.
	MessageID string
	// Timestamp is the reference instant; zero means now.
	Timestamp time.Time
	// MaxIndex is the size of the list the user is looking at; 0 when unknown.
	MaxIndex int
	// History is the recent conversation, oldest first. When empty the engine uses
	// its own stored turns.
	History []types.Turn
}

// TurnLog stores conversation turns so the fallback gets context when the transport
// sends none. *store.LocalStore implements it.
type TurnLog interface {
	AppendTurn(ctx context.Context, userID, channelID, messageID string, turn types.Turn, at time.Time) error
	RecentTurns(ctx context.Context, userID, channelID string, limit int) ([]types.Turn, error)
}

// EngineConfig wires an Engine. Classifier and Sessions are required; everything
// else is optional.
type EngineConfig struct {
	Classifier   *perception.Classifier
	Fallback     *perception.Fallback
	Resolver     *Resolver
	Sessions     *session.Store
	Personalizer *personalization.Personalizer
	Turns        TurnLog
	Metrics      *Metrics

	// FallbackThreshold: rule results below it are sent to the fallback.
	FallbackThreshold float64
	// HistoryTurns bounds the history passed to the fallback.
	HistoryTurns int
	Location     *time.Location
}

// Engine runs the per-message pipeline: session lookup, shortcut expansion, rule
// classification, learned corrections, fallback, resolution, session update and
// learning. It is safe for concurrent use; messages for the same (user, channel)
// are processed one at a time.
type Engine struct {
	classifier        *perception.Classifier
	fallback          *perception.Fallback
	resolver          *Resolver
	sessions          *session.Store
	personalizer      *personalization.Personalizer
	turns             TurnLog
	metrics           *Metrics
	fallbackThreshold float64
	historyTurns      int
	loc               *time.Location
	now               func() time.Time
}

// NewEngine creates an engine from cfg.
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		classifier:        cfg.Classifier,
		fallback:          cfg.Fallback,
		resolver:          cfg.Resolver,
		sessions:          cfg.Sessions,
		personalizer:      cfg.Personalizer,
		turns:             cfg.Turns,
		metrics:           cfg.Metrics,
		fallbackThreshold: cfg.FallbackThreshold,
		historyTurns:      cfg.HistoryTurns,
		loc:               cfg.Location,
		now:               time.Now,
	}
	if e.classifier == nil {
		e.classifier = perception.NewClassifier(nil)
	}
	if e.resolver == nil {
		e.resolver = New(e.classifier)
	}
	if e.sessions == nil {
		e.sessions = session.NewStore(nil)
	}
	if e.fallbackThreshold <= 0 {
		e.fallbackThreshold = DefaultFallbackThreshold
	}
	if e.historyTurns <= 0 {
		e.historyTurns = 6
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	return e
}

// Sessions returns the engine's session store.
func (e *Engine) Sessions() *session.Store {
	return e.sessions
}

// Personalizer returns the attached personalizer, or nil.
func (e *Engine) Personalizer() *personalization.Personalizer {
	return e.personalizer
}

// Handle resolves one message. Classification problems never produce an error;
// only session or preference storage failures do.
func (e *Engine) Handle(ctx context.Context, msg Message) (Decision, error) {
	ctx, span := otel.Tracer(engineTracerName).Start(ctx, "resolver.handle",
		trace.WithAttributes(
			attribute.String("tasknerd.user", msg.UserID),
			attribute.String("tasknerd.channel", msg.ChannelID),
		))
	defer span.End()

	start := time.Now()
	now := msg.Timestamp
	if now.IsZero() {
		now = e.now()
	}
	now = now.In(e.loc)

	key := session.Key{UserID: msg.UserID, ChannelID: msg.ChannelID}
	unlock := e.sessions.Lock(key)
	defer unlock()

	state, pending, err := e.sessions.Lookup(ctx, key, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session lookup")
		return Decision{}, err
	}

	in := Input{Text: msg.Text, Now: now, MaxIndex: msg.MaxIndex, Pending: pending}
	var shortcuts []types.Preference
	if state != session.StateWaiting {
		in.Text, shortcuts = e.expand(ctx, msg.UserID, msg.Text)
		opts := perception.ClassifyOptions{Now: now, MaxIndex: msg.MaxIndex}
		in.Rule = e.applyCorrection(ctx, msg.UserID, in.Text, e.classifier.Classify(in.Text, opts), opts)
		if e.needsFallback(in.Rule) {
			in.Fallback = e.fallback.Classify(ctx, in.Text, perception.FallbackOptions{
				Now:      now,
				MaxIndex: msg.MaxIndex,
				History:  e.history(ctx, msg),
			})
		}
	}

	var personalized []types.Field
	if e.personalizer != nil {
		in.Prepare = func(spec *types.IntentSpec) {
			applied, err := e.personalizer.Apply(ctx, msg.UserID, spec)
			if err != nil {
				logging.PersonalizationWarn("Apply for %s failed: %v", msg.UserID, err)
				return
			}
			personalized = append(personalized, applied...)
		}
	}

	res := e.resolver.Resolve(in)
	d := res.Decision

	if err := e.commit(ctx, key, &d, res, now, msg.MaxIndex); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session update")
		return Decision{}, err
	}
	e.metrics.ObserveSession(res.Session)

	e.learn(ctx, msg.UserID, d, res, append(personalized, res.Defaulted...), shortcuts)
	e.recordTurns(ctx, msg, d, now)

	elapsed := time.Since(start)
	e.metrics.ObserveDecision(d.Outcome, elapsed)
	span.SetAttributes(attribute.String("tasknerd.outcome", string(d.Outcome)))

	ev := logging.AuditEvent{
		Type:      logging.AuditDecision,
		UserID:    msg.UserID,
		ChannelID: msg.ChannelID,
		MessageID: msg.MessageID,
		Outcome:   string(d.Outcome),
		PendingID: d.PendingID,
		Missing:   types.FieldNames(d.Missing),
		Duration:  elapsed,
	}
	if d.Spec != nil {
		ev.Intent = string(d.Spec.Intent)
		ev.Confidence = d.Spec.Confidence
		ev.Source = string(d.Spec.Source)
	}
	logging.Audit(ev)
	return d, nil
}

// commit applies the session action of res.
func (e *Engine) commit(ctx context.Context, key session.Key, d *Decision, res Result, now time.Time, maxIndex int) error {
	switch res.Session {
	case SessionBegin:
		p, err := e.sessions.Begin(ctx, key, d.Spec, d.Missing, now, session.BeginOptions{
			Candidates: d.Candidates,
			MaxIndex:   maxIndex,
		})
		if err != nil {
			return err
		}
		d.PendingID = p.ID
	case SessionSave:
		return e.sessions.Save(ctx, res.Pending, now)
	case SessionComplete:
		return e.sessions.Complete(ctx, res.Pending, types.PendingCompleted)
	case SessionCancel:
		return e.sessions.Complete(ctx, res.Pending, types.PendingExpired)
	}
	return nil
}

// expand applies the user's shortcuts. Failures leave the text as is.
func (e *Engine) expand(ctx context.Context, userID, text string) (string, []types.Preference) {
	if e.personalizer == nil {
		return text, nil
	}
	out, used, err := e.personalizer.Expand(ctx, userID, text)
	if err != nil {
		logging.PersonalizationWarn("Shortcut expansion for %s failed: %v", userID, err)
		return text, nil
	}
	return out, used
}

// applyCorrection lets a learned correction decide an intent the rules were not sure
// about. The learned confidence raises the rule confidence toward one:
// c = rule + (1 - rule) * learned.
func (e *Engine) applyCorrection(ctx context.Context, userID, text string, c perception.Classification, opts perception.ClassifyOptions) perception.Classification {
	if e.personalizer == nil || (c.Matched && e.resolver.Gate().Trusted(c.Spec)) {
		return c
	}
	intent, learned, ok := e.personalizer.Correction(ctx, userID, text)
	if !ok || !intent.Valid() {
		return c
	}

	ruleConf := 0.0
	if c.Spec != nil && c.Spec.Intent == intent {
		ruleConf = c.Spec.Confidence
	}
	conf := min(ruleConf+(1-ruleConf)*learned, personalization.MaxConfidence)

	spec := e.classifier.Entities(text, intent, opts)
	spec.Confidence = conf
	if c.Spec != nil {
		spec.Ambiguities = slices.Clone(c.Spec.Ambiguities)
	}
	candidates := []perception.Candidate{{Intent: intent, Confidence: conf}}
	for _, cand := range c.Candidates {
		if cand.Intent != intent {
			candidates = append(candidates, cand)
		}
	}
	logging.ResolverDebug("Learned correction for %s: %s (%.2f)", userID, intent, conf)
	return perception.Classification{Spec: spec, Matched: true, Candidates: candidates}
}

func (e *Engine) needsFallback(c perception.Classification) bool {
	if !e.fallback.Enabled() {
		return false
	}
	return !c.Matched || c.Spec == nil || c.Spec.Confidence < e.fallbackThreshold
}

// history returns the context for the fallback: the transport's turns when given,
// else the stored ones.
func (e *Engine) history(ctx context.Context, msg Message) []types.Turn {
	if len(msg.History) > 0 {
		if len(msg.History) > e.historyTurns {
			return msg.History[len(msg.History)-e.historyTurns:]
		}
		return msg.History
	}
	if e.turns == nil {
		return nil
	}
	turns, err := e.turns.RecentTurns(ctx, msg.UserID, msg.ChannelID, e.historyTurns)
	if err != nil {
		logging.StoreWarn("Recent turns for %s/%s unavailable: %v", msg.UserID, msg.ChannelID, err)
		return nil
	}
	return turns
}

// learn feeds executed commands and clarification choices to the personalizer.
// skip lists fields that were filled from defaults and must not reinforce
// themselves.
func (e *Engine) learn(ctx context.Context, userID string, d Decision, res Result, skip []types.Field, shortcuts []types.Preference) {
	if e.personalizer == nil {
		return
	}
	if res.Chosen.Valid() && res.Pending != nil && res.Pending.Spec != nil {
		if _, err := e.personalizer.RecordChoice(ctx, userID, res.Pending.Spec.RawText, res.Chosen); err != nil {
			logging.PersonalizationWarn("Recording choice for %s failed: %v", userID, err)
		}
	}
	if d.Outcome != OutcomeExecute {
		return
	}
	if err := e.personalizer.Learn(ctx, userID, d.Spec, skip); err != nil {
		logging.PersonalizationWarn("Learning from %s failed: %v", userID, err)
	}
	for _, s := range shortcuts {
		if _, err := e.personalizer.Observe(ctx, userID, types.PrefShortcut, s.Key, s.Value); err != nil {
			logging.PersonalizationWarn("Shortcut %q use for %s not recorded: %v", s.Key, userID, err)
		}
	}
}

func (e *Engine) recordTurns(ctx context.Context, msg Message, d Decision, now time.Time) {
	if e.turns == nil {
		return
	}
	if err := e.turns.AppendTurn(ctx, msg.UserID, msg.ChannelID, msg.MessageID, types.Turn{Role: "user", Content: msg.Text}, now); err != nil {
		logging.StoreWarn("User turn not stored: %v", err)
	}
	if d.Prompt == "" {
		return
	}
	if err := e.turns.AppendTurn(ctx, msg.UserID, msg.ChannelID, msg.MessageID, types.Turn{Role: "assistant", Content: d.Prompt}, now); err != nil {
		logging.StoreWarn("Assistant turn not stored: %v", err)
	}
}

// Correct records that text meant intent for userID, so similar messages resolve to
// it once the choice has been repeated enough.
func (e *Engine) Correct(ctx context.Context, userID, text string, intent types.Intent) (types.Preference, error) {
	if e.personalizer == nil {
		return types.Preference{}, ErrPersonalizationDisabled
	}
	pref, err := e.personalizer.RecordChoice(ctx, userID, text, intent)
	if err != nil {
		return types.Preference{}, fmt.Errorf("failed to record correction: %w", err)
	}
	logging.Audit(logging.AuditEvent{
		Type:       logging.AuditCorrection,
		UserID:     userID,
		Intent:     string(intent),
		Confidence: pref.Confidence,
		Detail:     pref.Key,
	})
	return pref, nil
}
