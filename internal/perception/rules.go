package perception

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"regexp"

	"tasknerd/internal/types"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// RULE TABLE
// =============================================================================

//go:embed rules.yaml
var embeddedRules []byte

// Rule maps a set of patterns to one intent.
type Rule struct {
	Intent   types.Intent
	Base     float64
	Patterns []*regexp.Regexp
	// Strip holds the verb phrases removed when extracting a payload.
	Strip []*regexp.Regexp
}

// RuleTable is the ordered, immutable rule set used by the Classifier.
type RuleTable struct {
	Cap               float64
	Step              float64
	EntityBonus       float64
	UnknownConfidence float64
	Rules             []Rule
}

type ruleFile struct {
	Cap               float64    `yaml:"cap"`
	Step              float64    `yaml:"step"`
	EntityBonus       float64    `yaml:"entity_bonus"`
	UnknownConfidence float64    `yaml:"unknown_confidence"`
	Rules             []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	Intent   string   `yaml:"intent"`
	Base     float64  `yaml:"base"`
	Patterns []string `yaml:"patterns"`
	Strip    []string `yaml:"strip"`
}

// DefaultRuleTable returns the rule table compiled into the binary.
func DefaultRuleTable() *RuleTable {
	t, err := ParseRuleTable(embeddedRules)
	if err != nil {
		panic(fmt.Sprintf("embedded rule table is invalid: %v", err))
	}
	return t
}

// LoadRuleTable reads and compiles a rule table file.
func LoadRuleTable(path string) (*RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule table: %w", err)
	}
	t, err := ParseRuleTable(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ParseRuleTable compiles a YAML rule table. Every pattern must compile and every
// rule must name an executable intent; cap must stay below 1.0 so that a rule match
// alone never reaches certainty.
func ParseRuleTable(data []byte) (*RuleTable, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rule table: %w", err)
	}

	if f.Cap <= 0 || f.Cap >= 1 {
		return nil, fmt.Errorf("cap must be in (0,1), got %v", f.Cap)
	}
	if f.Step < 0 || f.EntityBonus < 0 {
		return nil, fmt.Errorf("step and entity_bonus must not be negative")
	}
	if f.UnknownConfidence < 0 || f.UnknownConfidence >= f.Cap {
		return nil, fmt.Errorf("unknown_confidence must be in [0,cap), got %v", f.UnknownConfidence)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("rule table has no rules")
	}

	t := &RuleTable{
		Cap:               f.Cap,
		Step:              f.Step,
		EntityBonus:       f.EntityBonus,
		UnknownConfidence: f.UnknownConfidence,
		Rules:             make([]Rule, 0, len(f.Rules)),
	}
	for i, rs := range f.Rules {
		intent := types.Intent(rs.Intent)
		if !intent.Valid() {
			return nil, fmt.Errorf("rule %d: unknown intent %q", i, rs.Intent)
		}
		if rs.Base <= 0 || rs.Base > f.Cap {
			return nil, fmt.Errorf("rule %d (%s): base must be in (0,cap], got %v", i, intent, rs.Base)
		}
		if len(rs.Patterns) == 0 {
			return nil, fmt.Errorf("rule %d (%s): no patterns", i, intent)
		}
		r := Rule{Intent: intent, Base: rs.Base}
		for _, p := range rs.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s): pattern %q: %w", i, intent, p, err)
			}
			r.Patterns = append(r.Patterns, re)
		}
		for _, p := range rs.Strip {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s): strip %q: %w", i, intent, p, err)
			}
			r.Strip = append(r.Strip, re)
		}
		t.Rules = append(t.Rules, r)
	}
	return t, nil
}

// Rule returns the first rule for intent, if any.
func (t *RuleTable) Rule(intent types.Intent) (Rule, bool) {
	for _, r := range t.Rules {
		if r.Intent == intent {
			return r, true
		}
	}
	return Rule{}, false
}

// score returns the confidence of r for a message on which hits patterns fired and
// entities relevant entities were extracted.
func (t *RuleTable) score(r Rule, hits, entities int) float64 {
	c := r.Base + t.Step*float64(hits-1) + t.EntityBonus*float64(entities)
	// 0.7+0.1 is 0.7999... in binary; thresholds are compared on the rounded value
	c = math.Round(c*1000) / 1000
	return math.Min(c, t.Cap)
}
