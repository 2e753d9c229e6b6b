package personalization

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"tasknerd/internal/logging"
	"tasknerd/internal/perception"
	"tasknerd/internal/types"

	"github.com/sahilm/fuzzy"
)

// clockLayout is how default-time preferences store a time of day.
const clockLayout = "15:04"

// Apply fills entity fields of spec that the user left empty from their learned
// defaults: destination for reminders, clock time when only a date was given, and
// priority. It returns the fields it filled.
func (p *Personalizer) Apply(ctx context.Context, userID string, spec *types.IntentSpec) ([]types.Field, error) {
	if spec == nil || userID == "" || !spec.Intent.Valid() {
		return nil, nil
	}
	fields := types.EntityFields(spec.Intent)
	key := string(spec.Intent)
	var applied []types.Field

	if spec.Intent == types.IntentRemindCreate && spec.Mention == "" {
		prefs, err := p.influential(ctx, userID, types.PrefDefaultMention)
		if err != nil {
			return nil, err
		}
		if pref, ok := prefs[key]; ok {
			spec.Mention = pref.Value
			applied = append(applied, types.FieldMention)
		}
	}

	if slices.Contains(fields, types.FieldTime) && spec.Time != nil && spec.TimeDefaulted {
		prefs, err := p.influential(ctx, userID, types.PrefDefaultTime)
		if err != nil {
			return nil, err
		}
		if pref, ok := prefs[key]; ok {
			if clock, err := time.Parse(clockLayout, pref.Value); err == nil {
				d := *spec.Time
				at := time.Date(d.Year(), d.Month(), d.Day(), clock.Hour(), clock.Minute(), 0, 0, d.Location())
				// never move a reminder into the past
				if at.After(p.now()) {
					spec.Time = &at
					spec.TimeDefaulted = false
					applied = append(applied, types.FieldTime)
				}
			}
		}
	}

	if slices.Contains(fields, types.FieldPriority) && spec.Priority == "" {
		prefs, err := p.influential(ctx, userID, types.PrefDefaultPriority)
		if err != nil {
			return nil, err
		}
		if pref, ok := prefs[key]; ok {
			spec.Priority = pref.Value
			applied = append(applied, types.FieldPriority)
		}
	}

	if len(applied) > 0 {
		spec.MissingFields = spec.MissingRequired()
		logging.PersonalizationDebug("Applied %v to %s for %s", types.FieldNames(applied), spec.Intent, userID)
	}
	return applied, nil
}

// Learn observes the entity values of an executed spec so they become the user's
// defaults. Fields listed in skip were not chosen by the user and are ignored.
func (p *Personalizer) Learn(ctx context.Context, userID string, spec *types.IntentSpec, skip []types.Field) error {
	if spec == nil || userID == "" || !spec.Intent.Valid() {
		return nil
	}
	key := string(spec.Intent)
	fields := types.EntityFields(spec.Intent)

	if spec.Intent == types.IntentRemindCreate && spec.Mention != "" && !slices.Contains(skip, types.FieldMention) {
		if _, err := p.Observe(ctx, userID, types.PrefDefaultMention, key, spec.Mention); err != nil {
			return err
		}
	}
	if slices.Contains(fields, types.FieldTime) && spec.Time != nil && !spec.TimeDefaulted && !slices.Contains(skip, types.FieldTime) {
		if _, err := p.Observe(ctx, userID, types.PrefDefaultTime, key, spec.Time.Format(clockLayout)); err != nil {
			return err
		}
	}
	if slices.Contains(fields, types.FieldPriority) && spec.Priority != "" && !slices.Contains(skip, types.FieldPriority) {
		if _, err := p.Observe(ctx, userID, types.PrefDefaultPriority, key, spec.Priority); err != nil {
			return err
		}
	}
	return nil
}

// Expand rewrites the user's shortcuts in text to their expansions, longest
// shortcut first. It returns the rewritten text and the shortcuts used.
func (p *Personalizer) Expand(ctx context.Context, userID, text string) (string, []types.Preference, error) {
	if userID == "" || text == "" {
		return text, nil, nil
	}
	prefs, err := p.influential(ctx, userID, types.PrefShortcut)
	if err != nil || len(prefs) == 0 {
		return text, nil, err
	}

	shortcuts := make([]types.Preference, 0, len(prefs))
	for _, pref := range prefs {
		shortcuts = append(shortcuts, pref)
	}
	slices.SortFunc(shortcuts, func(a, b types.Preference) int {
		if c := cmp.Compare(utf8.RuneCountInString(b.Key), utf8.RuneCountInString(a.Key)); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})

	var used []types.Preference
	for _, s := range shortcuts {
		if strings.Contains(text, s.Key) {
			text = strings.ReplaceAll(text, s.Key, s.Value)
			used = append(used, s)
		}
	}
	return text, used, nil
}

// CorrectionKey is the lookup key a message is learned under: its normalized,
// lower-cased form.
func CorrectionKey(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(perception.Normalize(text)), " "))
}

// Correction looks up a learned intent for text: an exact match on the correction
// key first, then the closest fuzzy match of similar length. ok is false when
// nothing influential is found.
func (p *Personalizer) Correction(ctx context.Context, userID, text string) (intent types.Intent, confidence float64, ok bool) {
	if userID == "" {
		return types.IntentUnknown, 0, false
	}
	prefs, err := p.influential(ctx, userID, types.PrefDisambiguation)
	if err != nil || len(prefs) == 0 {
		return types.IntentUnknown, 0, false
	}

	key := CorrectionKey(text)
	if key == "" {
		return types.IntentUnknown, 0, false
	}
	if pref, found := prefs[key]; found {
		return types.ParseIntent(pref.Value), pref.Confidence, true
	}

	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	best, bestScore := "", 0
	consider := func(candidate string, score int) {
		if !similarLength(key, candidate) {
			return
		}
		if best == "" || score > bestScore || (score == bestScore && prefs[candidate].Confidence > prefs[best].Confidence) {
			best, bestScore = candidate, score
		}
	}
	// typed less than what was learned
	for _, m := range fuzzy.Find(key, keys) {
		consider(m.Str, m.Score)
	}
	// typed more than what was learned
	for _, k := range keys {
		if ms := fuzzy.Find(k, []string{key}); len(ms) > 0 {
			consider(k, ms[0].Score)
		}
	}
	if best == "" {
		return types.IntentUnknown, 0, false
	}
	pref := prefs[best]
	logging.PersonalizationDebug("Correction for %s: %q ~ %q -> %s", userID, key, best, pref.Value)
	return types.ParseIntent(pref.Value), pref.Confidence, true
}

// similarLength reports whether a and b differ in length by at most a quarter.
func similarLength(a, b string) bool {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		return false
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return diff*4 <= max(la, lb)
}
