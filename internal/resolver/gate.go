package resolver

import (
	"slices"

	"tasknerd/internal/types"
)

// =============================================================================
// CONFIDENCE GATE
// =============================================================================

// Outcome is the gate's verdict on a message.
type Outcome string

const (
	OutcomeExecute Outcome = "EXECUTE"
	OutcomeClarify Outcome = "CLARIFY"
	OutcomeConfirm Outcome = "CONFIRM"
	OutcomeExpired Outcome = "EXPIRED"
)

// Decision is what the resolver returns for one message. CLARIFY and CONFIRM always
// carry a prompt and a non-empty Missing list; EXECUTE carries an executable spec.
type Decision struct {
	Outcome    Outcome           `json:"outcome"`
	Spec       *types.IntentSpec `json:"spec,omitempty"`
	Prompt     string            `json:"prompt"`
	Missing    []types.Field     `json:"missing_fields,omitempty"`
	Candidates []types.Intent    `json:"candidates,omitempty"`
	PendingID  string            `json:"pending_id,omitempty"`
	// Cancelled is set on an EXPIRED decision caused by the user saying no.
	Cancelled bool `json:"cancelled,omitempty"`
	// PriorExpired is set when a stale session was discarded before this message
	// was resolved as a new command.
	PriorExpired bool `json:"prior_expired,omitempty"`
}

// Defaults.
const (
	DefaultThreshold      = 0.8
	DefaultMinAmbiguities = 2
)

// defaultCandidates are offered by every clarification after the intents that fired.
var defaultCandidates = []types.Intent{
	types.IntentCreate,
	types.IntentDelete,
	types.IntentComplete,
	types.IntentList,
	types.IntentRemindCreate,
}

// Gate decides between EXECUTE, CLARIFY and CONFIRM for a merged spec.
//
// Precedence:
//  1. confidence below Threshold, or no valid intent: CLARIFY
//  2. required fields missing, a destructive intent, or MinAmbiguities ambiguous
//     points not yet confirmed: CONFIRM
//  3. otherwise EXECUTE
type Gate struct {
	Threshold      float64
	MinAmbiguities int
}

// NewGate returns a gate with the given threshold; non-positive selects the default.
func NewGate(threshold float64) Gate {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return Gate{Threshold: threshold, MinAmbiguities: DefaultMinAmbiguities}
}

// Trusted reports whether spec clears the confidence bar.
func (g Gate) Trusted(spec *types.IntentSpec) bool {
	return spec != nil && spec.Intent.Valid() && spec.Confidence >= g.Threshold
}

// Missing lists what spec still needs before it can execute, confirmation included.
func (g Gate) Missing(spec *types.IntentSpec) []types.Field {
	if !spec.Intent.Valid() {
		return []types.Field{types.FieldIntent}
	}
	missing := spec.MissingRequired()
	if !spec.Confirmed && (spec.Intent.Destructive() || len(spec.Ambiguities) >= g.MinAmbiguities) {
		missing = append(missing, types.FieldConfirmation)
	}
	return missing
}

// Evaluate gates spec. candidates are the intents that fired, best first; they
// lead the CLARIFY option list. spec is not modified.
func (g Gate) Evaluate(spec *types.IntentSpec, candidates []types.Intent) Decision {
	if spec == nil {
		spec = &types.IntentSpec{Intent: types.IntentUnknown}
	}
	out := spec.Clone()

	if !g.Trusted(out) {
		opts := clarifyCandidates(candidates)
		out.MissingFields = []types.Field{types.FieldIntent}
		return Decision{
			Outcome:    OutcomeClarify,
			Spec:       out,
			Prompt:     clarifyPrompt(opts),
			Missing:    []types.Field{types.FieldIntent},
			Candidates: opts,
		}
	}

	if missing := g.Missing(out); len(missing) > 0 {
		out.MissingFields = missing
		return Decision{
			Outcome: OutcomeConfirm,
			Spec:    out,
			Prompt:  confirmPrompt(out, missing),
			Missing: slices.Clone(missing),
		}
	}

	out.MissingFields = nil
	return Decision{Outcome: OutcomeExecute, Spec: out, Prompt: Summary(out)}
}

func clarifyCandidates(fired []types.Intent) []types.Intent {
	var out []types.Intent
	for _, c := range append(slices.Clone(fired), defaultCandidates...) {
		if c.Valid() && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}
