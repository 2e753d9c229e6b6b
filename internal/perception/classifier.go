package perception

import (
	"regexp"
	"sort"
	"sync/atomic"
	"time"

	"tasknerd/internal/logging"
	"tasknerd/internal/types"
)

// =============================================================================
// RULE CLASSIFIER
// =============================================================================

// ClassifyOptions carries the per-message context extraction depends on.
type ClassifyOptions struct {
	// Now is the reference instant for relative dates.
	Now time.Time
	// MaxIndex is the size of the list in view; 0 when unknown.
	MaxIndex int
}

// Candidate is one intent whose rule fired.
type Candidate struct {
	Intent     types.Intent
	Confidence float64
	Hits       int
}

// Classification is the Rule Classifier's result.
type Classification struct {
	Spec *types.IntentSpec
	// Matched is false when no rule fired.
	Matched bool
	// Candidates lists every fired intent, best first.
	Candidates []Candidate
}

// Classifier maps text to an intent using an ordered rule table and fills the
// intent's entities with the extractors. The table can be swapped at runtime.
type Classifier struct {
	table    atomic.Pointer[RuleTable]
	dates    DateExtractor
	mentions *MentionScanner
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithDefaultHour sets the clock hour used when only a date is given.
func WithDefaultHour(h int) ClassifierOption {
	return func(c *Classifier) { c.dates.DefaultHour = h }
}

// WithMentionAliases adds destination aliases to the default table.
func WithMentionAliases(aliases map[string]string) ClassifierOption {
	return func(c *Classifier) { c.mentions = NewMentionScanner(aliases) }
}

// NewClassifier creates a classifier. A nil table selects the embedded default.
func NewClassifier(table *RuleTable, opts ...ClassifierOption) *Classifier {
	if table == nil {
		table = DefaultRuleTable()
	}
	c := &Classifier{
		dates:    DateExtractor{DefaultHour: DefaultHour},
		mentions: defaultMentionScanner,
	}
	c.table.Store(table)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTable atomically replaces the rule table.
func (c *Classifier) SetTable(t *RuleTable) {
	if t != nil {
		c.table.Store(t)
	}
}

// Table returns the active rule table.
func (c *Classifier) Table() *RuleTable {
	return c.table.Load()
}

// Mentions returns the classifier's destination scanner.
func (c *Classifier) Mentions() *MentionScanner {
	return c.mentions
}

// Dates returns the classifier's date/time extractor.
func (c *Classifier) Dates() DateExtractor {
	return c.dates
}

// Classify scores every rule against text and returns the best intent with its
// entities. When no rule fires the result is unknown at the table's low constant
// confidence, with whatever entities could still be found.
func (c *Classifier) Classify(text string, opts ClassifyOptions) Classification {
	timer := logging.StartTimer(logging.CategoryPerception, "Classify")
	defer timer.Stop()

	table := c.table.Load()
	t := Normalize(text)

	var (
		candidates []Candidate
		specs      = make(map[types.Intent]*types.IntentSpec)
	)
	for _, r := range table.Rules {
		hits := 0
		for _, re := range r.Patterns {
			if re.MatchString(t) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		if _, seen := specs[r.Intent]; seen {
			continue
		}
		spec := c.entities(text, r.Intent, opts, table)
		conf := table.score(r, hits, countEntities(spec))
		spec.Confidence = conf
		specs[r.Intent] = spec
		candidates = append(candidates, Candidate{Intent: r.Intent, Confidence: conf, Hits: hits})
	}

	if len(candidates) == 0 {
		spec := c.entities(text, types.IntentUnknown, opts, table)
		spec.Confidence = table.UnknownConfidence
		logging.PerceptionDebug("Classify: no rule matched %q", t)
		return Classification{Spec: spec}
	}

	// Stable: equal confidence keeps table order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	best := specs[candidates[0].Intent]
	logging.PerceptionDebug("Classify: %q -> %s (%.2f, %d candidates)", t, best.Intent, best.Confidence, len(candidates))
	return Classification{Spec: best, Matched: true, Candidates: candidates}
}

// Entities extracts the entities intent uses from text, as a rule-sourced spec with
// zero confidence. Used when the intent is already known, as after a clarification.
func (c *Classifier) Entities(text string, intent types.Intent, opts ClassifyOptions) *types.IntentSpec {
	return c.entities(text, intent, opts, c.table.Load())
}

func (c *Classifier) entities(text string, intent types.Intent, opts ClassifyOptions, table *RuleTable) *types.IntentSpec {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	spec := &types.IntentSpec{
		Intent:      intent,
		Source:      types.SourceRule,
		RawText:     text,
		Ambiguities: DetectAmbiguities(text),
	}

	fields := types.EntityFields(intent)
	if intent == types.IntentUnknown {
		fields = []types.Field{types.FieldIndices, types.FieldTime, types.FieldMention}
	}
	for _, f := range fields {
		switch f {
		case types.FieldPayload:
			var strip []*regexp.Regexp
			if r, ok := table.Rule(intent); ok {
				strip = r.Strip
			}
			spec.Payload = ExtractPayload(text, strip, c.mentions)
		case types.FieldIndices:
			spec.Indices = ParseIndices(text, opts.MaxIndex)
		case types.FieldTime:
			if dt, ok := c.dates.Extract(text, now); ok {
				at := dt.Time
				spec.Time = &at
				spec.TimeDefaulted = dt.TimeDefaulted()
			}
		case types.FieldRepeat:
			spec.Repeat = ParseRecurrence(text)
		case types.FieldMention:
			spec.Mention = c.mentions.Scan(text)
		case types.FieldPriority:
			spec.Priority = ScanPriority(text)
		}
	}

	spec.MissingFields = spec.MissingRequired()
	return spec
}

// countEntities counts the entity fields of spec's intent that carry a value.
func countEntities(spec *types.IntentSpec) int {
	n := 0
	for _, f := range types.EntityFields(spec.Intent) {
		if spec.Has(f) {
			n++
		}
	}
	return n
}
