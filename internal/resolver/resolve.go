// Package resolver turns classified messages into decisions: it merges the rule and
// fallback results, gates them on confidence, and drives the pending-intent state
// machine when a message answers an earlier question.
package resolver

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"tasknerd/internal/logging"
	"tasknerd/internal/perception"
	"tasknerd/internal/types"
)

// SessionAction tells the caller what to do with the stored pending record after a
// resolution.
type SessionAction int

const (
	// SessionNone leaves the store untouched.
	SessionNone SessionAction = iota
	// SessionBegin stores a new waiting session for Decision.Spec and Decision.Missing.
	SessionBegin
	// SessionSave writes back Result.Pending, still waiting.
	SessionSave
	// SessionComplete ends Result.Pending as completed.
	SessionComplete
	// SessionCancel ends Result.Pending because the user declined.
	SessionCancel
)

func (a SessionAction) String() string {
	switch a {
	case SessionBegin:
		return "begin"
	case SessionSave:
		return "save"
	case SessionComplete:
		return "complete"
	case SessionCancel:
		return "cancel"
	}
	return "none"
}

// Input is everything one resolution looks at.
type Input struct {
	// Text is the message as received (after shortcut expansion).
	Text string
	// Rule is the Rule Classifier's result. Unused while a session is waiting.
	Rule perception.Classification
	// Fallback is the reasoning service's result, nil when it was not consulted.
	Fallback *types.IntentSpec
	// Pending is the session found for the key: waiting, expired, or nil.
	Pending *types.PendingIntent
	Now     time.Time
	// MaxIndex is the list size in view, used when the session has none recorded.
	MaxIndex int
	// Prepare, when set, may fill empty fields of the spec before it is gated.
	Prepare func(spec *types.IntentSpec)
}

// Result is a Decision plus the session bookkeeping it implies.
type Result struct {
	Decision Decision
	Session  SessionAction
	// Pending is the updated record for SessionSave, SessionComplete and SessionCancel.
	Pending *types.PendingIntent
	// Chosen is the intent the user picked when answering a clarification.
	Chosen types.Intent
	// Defaulted lists fields filled from configured defaults rather than the user.
	Defaulted []types.Field
}

// Resolver is the Hybrid Resolver. It is stateless; the caller persists sessions as
// directed by Result.Session.
type Resolver struct {
	gate           Gate
	classifier     *perception.Classifier
	defaultMention string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithGate replaces the default gate.
func WithGate(g Gate) Option {
	return func(r *Resolver) { r.gate = g }
}

// WithDefaultMention sets the destination of reminders that name none. Empty
// disables the default.
func WithDefaultMention(mention string) Option {
	return func(r *Resolver) { r.defaultMention = mention }
}

// New creates a resolver that extracts answer entities with classifier.
func New(classifier *perception.Classifier, opts ...Option) *Resolver {
	if classifier == nil {
		classifier = perception.NewClassifier(nil)
	}
	r := &Resolver{
		gate:           NewGate(DefaultThreshold),
		classifier:     classifier,
		defaultMention: perception.DefaultMention,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Gate returns the resolver's confidence gate.
func (r *Resolver) Gate() Gate {
	return r.gate
}

// Resolve decides one message. A waiting, unexpired session turns the message into
// an answer and classification is ignored. An expired session is discarded: the
// message is resolved as new, except that a message which would only produce a
// clarification is reported as EXPIRED so the user knows to start over.
func (r *Resolver) Resolve(in Input) Result {
	p := in.Pending
	if p == nil {
		return r.fresh(in)
	}
	if p.Status == types.PendingWaiting && !p.Expired(in.Now) {
		return r.FillPending(p, in)
	}

	res := r.fresh(in)
	if res.Decision.Outcome == OutcomeClarify {
		logging.ResolverDebug("Session %s expired; unclear follow-up reported as expired", p.ID)
		return Result{Decision: Decision{Outcome: OutcomeExpired, Prompt: ExpiredPrompt, PendingID: p.ID}}
	}
	res.Decision.PriorExpired = true
	return res
}

// fresh resolves a message with no live session.
func (r *Resolver) fresh(in Input) Result {
	merged := Merge(in.Rule.Spec, in.Fallback)
	if merged.RawText == "" {
		merged.RawText = in.Text
	}
	if in.Prepare != nil {
		in.Prepare(merged)
	}
	defaulted := r.applyDefaults(merged)

	d := r.gate.Evaluate(merged, firedIntents(in.Rule, in.Fallback))
	res := Result{Decision: d, Defaulted: defaulted}
	if d.Outcome == OutcomeClarify || d.Outcome == OutcomeConfirm {
		res.Session = SessionBegin
	}
	return res
}

// FillPending treats in.Text as the answer to p, which must be waiting. Only the
// fields p is waiting for are filled; nothing else on the spec changes except
// defaults for an intent chosen from a clarification. A "no" cancels the session.
func (r *Resolver) FillPending(p *types.PendingIntent, in Input) Result {
	spec := p.Spec.Clone()
	text := strings.TrimSpace(in.Text)
	maxIndex := p.MaxIndex
	if maxIndex == 0 {
		maxIndex = in.MaxIndex
	}
	opts := perception.ClassifyOptions{Now: in.Now, MaxIndex: maxIndex}

	answered, yes := perception.ParseConfirmation(text)
	if answered && !yes {
		done := p.Clone()
		return Result{
			Decision: Decision{Outcome: OutcomeExpired, Spec: spec, Prompt: CancelledPrompt, PendingID: p.ID, Cancelled: true},
			Session:  SessionCancel,
			Pending:  done,
		}
	}

	var chosen types.Intent
	if slices.Contains(p.Missing, types.FieldIntent) {
		if intent, ok := r.chooseIntent(text, p.Candidates, opts); ok {
			chosen = intent
			spec.Intent = intent
			spec.Confidence = max(spec.Confidence, r.gate.Threshold)
			for _, src := range []string{spec.RawText, text} {
				ents := r.classifier.Entities(src, intent, opts)
				for _, f := range types.EntityFields(intent) {
					if !spec.Has(f) && ents.Has(f) {
						spec.CopyField(f, ents)
					}
				}
			}
		}
	} else if !answered {
		r.fillFields(spec, p.Missing, text, opts)
	}

	if in.Prepare != nil && spec.Intent.Valid() {
		in.Prepare(spec)
	}
	defaulted := r.applyDefaults(spec)

	// A yes only counts once nothing else is outstanding.
	if yes && slices.Contains(p.Missing, types.FieldConfirmation) {
		if rest := r.gate.Missing(spec); len(rest) == 1 && rest[0] == types.FieldConfirmation {
			spec.Confirmed = true
		}
	}

	needed := r.gate.Missing(spec)
	next := p.Clone()
	next.Spec = spec
	next.Missing = slices.Clone(needed)
	spec.MissingFields = slices.Clone(needed)

	res := Result{Pending: next, Chosen: chosen, Defaulted: defaulted}
	switch {
	case len(needed) == 0:
		spec.MissingFields = nil
		res.Decision = Decision{Outcome: OutcomeExecute, Spec: spec, Prompt: Summary(spec), PendingID: p.ID}
		res.Session = SessionComplete
	case needed[0] == types.FieldIntent:
		candidates := p.Candidates
		if len(candidates) == 0 {
			candidates = clarifyCandidates(nil)
		}
		res.Decision = Decision{
			Outcome:    OutcomeClarify,
			Spec:       spec,
			Prompt:     clarifyPrompt(candidates),
			Missing:    needed,
			Candidates: slices.Clone(candidates),
			PendingID:  p.ID,
		}
		res.Session = SessionSave
	default:
		res.Decision = Decision{
			Outcome:   OutcomeConfirm,
			Spec:      spec,
			Prompt:    confirmPrompt(spec, needed),
			Missing:   slices.Clone(needed),
			PendingID: p.ID,
		}
		res.Session = SessionSave
	}
	logging.ResolverDebug("Session %s answer -> %s missing=%v", p.ID, res.Decision.Outcome, types.FieldNames(needed))
	return res
}

// fillFields extracts the listed fields from text into spec. A missing payload
// falls back to the whole answer when nothing else was recognized in it.
func (r *Resolver) fillFields(spec *types.IntentSpec, missing []types.Field, text string, opts perception.ClassifyOptions) {
	ents := r.classifier.Entities(text, spec.Intent, opts)
	filledOther := false
	for _, f := range missing {
		switch f {
		case types.FieldIntent, types.FieldConfirmation, types.FieldPayload:
			continue
		}
		if ents.Has(f) {
			spec.CopyField(f, ents)
			filledOther = true
		}
	}
	if slices.Contains(missing, types.FieldPayload) {
		switch {
		case ents.Has(types.FieldPayload):
			spec.Payload = ents.Payload
		case !filledOther && text != "":
			spec.Payload = text
		}
	}
}

var numberAnswerRe = regexp.MustCompile(`^(?:no\.?|#)?\s*(\d+)\s*(?:番目|番|つ目)?$`)

// chooseIntent reads a clarification answer: a candidate number, an intent's display
// name, or a message the rule table recognizes.
func (r *Resolver) chooseIntent(text string, candidates []types.Intent, opts perception.ClassifyOptions) (types.Intent, bool) {
	t := strings.ToLower(strings.Trim(perception.Normalize(text), " 。.!！"))
	if m := numberAnswerRe.FindStringSubmatch(t); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n >= 1 && n <= len(candidates) {
			return candidates[n-1], true
		}
		return "", false
	}
	for _, intent := range types.KnownIntents {
		name := strings.ToLower(intent.DisplayName())
		if strings.Contains(t, name) || t == strings.TrimPrefix(name, "todo") {
			return intent, true
		}
	}
	if c := r.classifier.Classify(text, opts); c.Matched && c.Spec.Intent.Valid() {
		return c.Spec.Intent, true
	}
	return "", false
}

// applyDefaults fills configured defaults and returns the fields it set.
func (r *Resolver) applyDefaults(spec *types.IntentSpec) []types.Field {
	if spec.Intent == types.IntentRemindCreate && spec.Mention == "" && r.defaultMention != "" {
		spec.Mention = r.defaultMention
		spec.MissingFields = spec.MissingRequired()
		return []types.Field{types.FieldMention}
	}
	return nil
}

// firedIntents orders the intents that fired by confidence, for the CLARIFY list.
func firedIntents(rule perception.Classification, fallback *types.IntentSpec) []types.Intent {
	type scored struct {
		intent types.Intent
		conf   float64
	}
	var all []scored
	for _, c := range rule.Candidates {
		all = append(all, scored{c.Intent, c.Confidence})
	}
	if fallback != nil && fallback.Intent.Valid() {
		all = append(all, scored{fallback.Intent, fallback.Confidence})
	}
	slices.SortStableFunc(all, func(a, b scored) int {
		switch {
		case a.conf > b.conf:
			return -1
		case a.conf < b.conf:
			return 1
		}
		return 0
	})
	out := make([]types.Intent, 0, len(all))
	for _, s := range all {
		if !slices.Contains(out, s.intent) {
			out = append(out, s.intent)
		}
	}
	return out
}
