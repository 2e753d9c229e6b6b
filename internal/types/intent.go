// Package types provides the shared data model of the resolver: the resolved (or
// partially resolved) command, the pending session that waits for missing input, and
// the learned preference records.
package types

import (
	"slices"
	"time"
)

// =============================================================================
// INTENTS
// =============================================================================

// Intent is the closed set of actions a message can request.
type Intent string

const (
	IntentCreate       Intent = "create"
	IntentList         Intent = "list"
	IntentComplete     Intent = "complete"
	IntentDelete       Intent = "delete"
	IntentRemindCreate Intent = "remind-create"
	IntentRemindDelete Intent = "remind-delete"
	IntentChitchat     Intent = "chitchat"
	IntentUnknown      Intent = "unknown"
)

// KnownIntents lists every executable intent in display order.
var KnownIntents = []Intent{
	IntentCreate,
	IntentList,
	IntentComplete,
	IntentDelete,
	IntentRemindCreate,
	IntentRemindDelete,
	IntentChitchat,
}

// ParseIntent maps a wire name to an Intent. Dotted names used by the reasoning
// service ("todo.add", "remind.create") are accepted as aliases.
func ParseIntent(s string) Intent {
	switch s {
	case "create", "add", "todo.add":
		return IntentCreate
	case "list", "todo.list":
		return IntentList
	case "complete", "done", "todo.complete":
		return IntentComplete
	case "delete", "remove", "todo.delete":
		return IntentDelete
	case "remind-create", "remind", "remind.create":
		return IntentRemindCreate
	case "remind-delete", "remind.delete":
		return IntentRemindDelete
	case "chitchat":
		return IntentChitchat
	}
	return IntentUnknown
}

// Valid reports whether i is one of the executable intents.
func (i Intent) Valid() bool {
	return slices.Contains(KnownIntents, i)
}

// Destructive reports whether executing i removes user data.
func (i Intent) Destructive() bool {
	return i == IntentDelete || i == IntentRemindDelete
}

// DisplayName returns the label shown to users.
func (i Intent) DisplayName() string {
	switch i {
	case IntentCreate:
		return "TODO追加"
	case IntentList:
		return "TODO一覧"
	case IntentComplete:
		return "TODO完了"
	case IntentDelete:
		return "TODO削除"
	case IntentRemindCreate:
		return "リマインド作成"
	case IntentRemindDelete:
		return "リマインド削除"
	case IntentChitchat:
		return "雑談"
	}
	return string(i)
}

// =============================================================================
// FIELDS
// =============================================================================

// Field names an entity slot on an IntentSpec.
type Field string

const (
	FieldIntent       Field = "intent"
	FieldPayload      Field = "what"
	FieldIndices      Field = "indices"
	FieldTime         Field = "time"
	FieldRepeat       Field = "repeat"
	FieldMention      Field = "mention"
	FieldPriority     Field = "priority"
	FieldConfirmation Field = "confirmation"
)

// requiredFields are the entities an intent cannot execute without.
var requiredFields = map[Intent][]Field{
	IntentCreate:       {FieldPayload},
	IntentComplete:     {FieldIndices},
	IntentDelete:       {FieldIndices},
	IntentRemindCreate: {FieldPayload, FieldTime},
	IntentRemindDelete: {FieldIndices},
}

// entityFields are the entities an intent makes use of, required or not.
var entityFields = map[Intent][]Field{
	IntentCreate:       {FieldPayload, FieldTime, FieldMention, FieldPriority},
	IntentList:         {},
	IntentComplete:     {FieldIndices},
	IntentDelete:       {FieldIndices},
	IntentRemindCreate: {FieldPayload, FieldTime, FieldRepeat, FieldMention},
	IntentRemindDelete: {FieldIndices},
}

// RequiredFields returns the fields intent needs before it can execute.
func RequiredFields(intent Intent) []Field {
	return slices.Clone(requiredFields[intent])
}

// EntityFields returns the fields intent uses.
func EntityFields(intent Intent) []Field {
	return slices.Clone(entityFields[intent])
}

// Source records which classifier produced a spec.
type Source string

const (
	SourceRule     Source = "rule"
	SourceFallback Source = "fallback"
)

// =============================================================================
// INTENT SPEC
// =============================================================================

// IntentSpec is a resolved or partially resolved command.
// MissingFields is non-empty if and only if the spec is not directly executable.
type IntentSpec struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`

	Payload  string     `json:"what,omitempty"`
	Indices  []int      `json:"indices,omitempty"`
	Time     *time.Time `json:"time,omitempty"`
	Repeat   string     `json:"repeat,omitempty"`
	Mention  string     `json:"mention,omitempty"`
	Priority string     `json:"priority,omitempty"`

	MissingFields []Field `json:"missing_fields,omitempty"`
	Source        Source  `json:"source"`

	// TimeDefaulted is set when only a date was recognized and the clock time was
	// filled with the default hour.
	TimeDefaulted bool `json:"time_defaulted,omitempty"`
	// Ambiguities lists ambiguous points found in the text.
	Ambiguities []string `json:"ambiguities,omitempty"`
	// Confirmed is set once the user answered yes to a confirmation.
	Confirmed bool   `json:"confirmed,omitempty"`
	RawText   string `json:"raw_text,omitempty"`
}

// Clone returns a deep copy of s.
func (s *IntentSpec) Clone() *IntentSpec {
	if s == nil {
		return nil
	}
	c := *s
	c.Indices = slices.Clone(s.Indices)
	c.MissingFields = slices.Clone(s.MissingFields)
	c.Ambiguities = slices.Clone(s.Ambiguities)
	if s.Time != nil {
		t := *s.Time
		c.Time = &t
	}
	return &c
}

// Has reports whether field f carries a value.
func (s *IntentSpec) Has(f Field) bool {
	switch f {
	case FieldIntent:
		return s.Intent.Valid()
	case FieldPayload:
		return s.Payload != ""
	case FieldIndices:
		return len(s.Indices) > 0
	case FieldTime:
		return s.Time != nil
	case FieldRepeat:
		return s.Repeat != ""
	case FieldMention:
		return s.Mention != ""
	case FieldPriority:
		return s.Priority != ""
	case FieldConfirmation:
		return s.Confirmed
	}
	return false
}

// CopyField copies field f from other into s.
func (s *IntentSpec) CopyField(f Field, other *IntentSpec) {
	switch f {
	case FieldPayload:
		s.Payload = other.Payload
	case FieldIndices:
		s.Indices = slices.Clone(other.Indices)
	case FieldTime:
		if other.Time != nil {
			t := *other.Time
			s.Time = &t
			s.TimeDefaulted = other.TimeDefaulted
		}
	case FieldRepeat:
		s.Repeat = other.Repeat
	case FieldMention:
		s.Mention = other.Mention
	case FieldPriority:
		s.Priority = other.Priority
	}
}

// MissingRequired lists the required fields of the spec's intent that are empty.
func (s *IntentSpec) MissingRequired() []Field {
	var missing []Field
	for _, f := range requiredFields[s.Intent] {
		if !s.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Executable reports whether the spec can be handed to execution as is.
func (s *IntentSpec) Executable() bool {
	return len(s.MissingFields) == 0
}

// FieldNames converts fields to their wire names.
func FieldNames(fields []Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}

// Turn is one line of recent conversation passed to the reasoning service.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}
