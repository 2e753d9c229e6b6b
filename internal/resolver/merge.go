package resolver

import (
	"slices"

	"tasknerd/internal/types"
)

// unknownEntityFields are merged when neither side named an intent, so a later
// clarification still has the values.
var unknownEntityFields = []types.Field{types.FieldIndices, types.FieldTime, types.FieldMention}

// Merge combines the rule and fallback results. The more confident one is the
// base (ties go to the rule); entities the base lacks are taken from the other
// result. Nothing the base carries is overwritten. Either input may be nil.
func Merge(rule, fallback *types.IntentSpec) *types.IntentSpec {
	switch {
	case rule == nil && fallback == nil:
		return finish(&types.IntentSpec{Intent: types.IntentUnknown})
	case fallback == nil:
		return finish(rule.Clone())
	case rule == nil:
		return finish(fallback.Clone())
	}

	base, other := rule, fallback
	if fallback.Confidence > rule.Confidence {
		base, other = fallback, rule
	}
	merged := base.Clone()

	fields := types.EntityFields(merged.Intent)
	if !merged.Intent.Valid() {
		fields = unknownEntityFields
	}
	for _, f := range fields {
		if !merged.Has(f) && other.Has(f) {
			merged.CopyField(f, other)
		}
	}
	for _, a := range other.Ambiguities {
		if !slices.Contains(merged.Ambiguities, a) {
			merged.Ambiguities = append(merged.Ambiguities, a)
		}
	}
	if merged.RawText == "" {
		merged.RawText = other.RawText
	}
	return finish(merged)
}

func finish(spec *types.IntentSpec) *types.IntentSpec {
	spec.MissingFields = spec.MissingRequired()
	return spec
}
