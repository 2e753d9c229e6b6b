// Package personalization learns per-user preferences from what users do and
// correct, and applies them to later resolutions. Confidence grows with repeated use
// (exponential moving average) and decays toward zero while a preference is unused.
package personalization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"tasknerd/internal/config"
	"tasknerd/internal/logging"
	"tasknerd/internal/types"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrNotFound is returned by Get when a user has no such preference.
var ErrNotFound = errors.New("personalization: preference not found")

// MaxConfidence caps learned confidence so a habit never becomes certainty.
const MaxConfidence = 0.95

// Options tunes learning and application.
type Options struct {
	// Alpha is the EMA weight of a new observation.
	Alpha float64
	// InitialConfidence is assigned on first observation and when the value changes.
	InitialConfidence float64
	// HalfLife is how long an unused preference takes to lose half its confidence.
	HalfLife time.Duration
	// MinInfluence is the decayed confidence a preference needs before it is applied.
	MinInfluence float64
	CacheSize    int
	CacheTTL     time.Duration
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		Alpha:             0.3,
		InitialConfidence: 0.5,
		HalfLife:          30 * 24 * time.Hour,
		MinInfluence:      0.55,
		CacheSize:         1024,
		CacheTTL:          5 * time.Minute,
	}
}

// OptionsFromConfig reads the personalization section.
func OptionsFromConfig(cfg *config.Config) Options {
	o := DefaultOptions()
	pc := cfg.Personalization
	if pc.Alpha > 0 && pc.Alpha <= 1 {
		o.Alpha = pc.Alpha
	}
	if pc.InitialConfidence > 0 && pc.InitialConfidence <= 1 {
		o.InitialConfidence = pc.InitialConfidence
	}
	if pc.MinInfluence > 0 {
		o.MinInfluence = pc.MinInfluence
	}
	if pc.CacheSize > 0 {
		o.CacheSize = pc.CacheSize
	}
	o.HalfLife = cfg.GetHalfLife()
	o.CacheTTL = cfg.GetCacheTTL()
	return o
}

type cacheEntry struct {
	prefs    []types.Preference
	storedAt time.Time
}

// Personalizer owns preference records. Other components only read through Apply,
// Expand and Correction; every write goes through Observe, RecordChoice or Teach.
type Personalizer struct {
	store PreferenceStore
	opts  Options
	cache *lru.Cache[string, cacheEntry]
	now   func() time.Time
}

// New creates a personalizer over store. A nil store keeps preferences in memory.
func New(store PreferenceStore, opts Options) *Personalizer {
	if store == nil {
		store = NewMemoryStore()
	}
	def := DefaultOptions()
	if opts.Alpha <= 0 || opts.Alpha > 1 {
		opts.Alpha = def.Alpha
	}
	if opts.InitialConfidence <= 0 {
		opts.InitialConfidence = def.InitialConfidence
	}
	if opts.HalfLife <= 0 {
		opts.HalfLife = def.HalfLife
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = def.CacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = def.CacheTTL
	}
	cache, err := lru.New[string, cacheEntry](opts.CacheSize)
	if err != nil {
		// only on non-positive size, guarded above
		panic(err)
	}
	return &Personalizer{store: store, opts: opts, cache: cache, now: time.Now}
}

// Options returns the active tuning.
func (p *Personalizer) Options() Options {
	return p.opts
}

// Effective returns pref's confidence after decay for the time since it was last used.
func (p *Personalizer) Effective(pref types.Preference, now time.Time) float64 {
	if pref.LastUsed.IsZero() {
		return pref.Confidence
	}
	age := now.Sub(pref.LastUsed)
	if age <= 0 {
		return pref.Confidence
	}
	return pref.Confidence * math.Exp(-math.Ln2*float64(age)/float64(p.opts.HalfLife))
}

// Observe records one use of value for (category, key). Reusing the stored value
// moves confidence toward MaxConfidence; a different value replaces it and restarts
// from the initial confidence.
func (p *Personalizer) Observe(ctx context.Context, userID string, category types.PreferenceCategory, key, value string) (types.Preference, error) {
	if err := validate(userID, category, key, value); err != nil {
		return types.Preference{}, err
	}
	now := p.now()

	existing, err := p.store.GetPreference(ctx, userID, category, key)
	if err != nil {
		return types.Preference{}, fmt.Errorf("failed to load preference: %w", err)
	}

	var pref types.Preference
	switch {
	case existing == nil:
		pref = types.Preference{
			UserID:     userID,
			Category:   category,
			Key:        key,
			Value:      value,
			Confidence: p.opts.InitialConfidence,
			UseCount:   1,
			CreatedAt:  now,
		}
	case existing.Value == value:
		pref = *existing
		current := p.Effective(pref, now)
		pref.Confidence = math.Min(MaxConfidence, (1-p.opts.Alpha)*current+p.opts.Alpha)
		pref.UseCount++
	default:
		pref = *existing
		pref.Value = value
		pref.Confidence = p.opts.InitialConfidence
		pref.UseCount = 1
	}
	pref.LastUsed = now

	if err := p.store.UpsertPreference(ctx, pref); err != nil {
		return types.Preference{}, fmt.Errorf("failed to store preference: %w", err)
	}
	p.cache.Remove(userID)
	logging.PersonalizationDebug("Observed %s %s/%s=%s conf=%.2f uses=%d", userID, category, key, value, pref.Confidence, pref.UseCount)
	return pref, nil
}

// Teach stores an explicit preference at full confidence.
func (p *Personalizer) Teach(ctx context.Context, userID string, category types.PreferenceCategory, key, value string) (types.Preference, error) {
	if err := validate(userID, category, key, value); err != nil {
		return types.Preference{}, err
	}
	now := p.now()
	pref := types.Preference{
		UserID:     userID,
		Category:   category,
		Key:        key,
		Value:      value,
		Confidence: MaxConfidence,
		UseCount:   1,
		LastUsed:   now,
		CreatedAt:  now,
	}
	if existing, err := p.store.GetPreference(ctx, userID, category, key); err != nil {
		return types.Preference{}, fmt.Errorf("failed to load preference: %w", err)
	} else if existing != nil {
		pref.UseCount = existing.UseCount + 1
		pref.CreatedAt = existing.CreatedAt
	}
	if err := p.store.UpsertPreference(ctx, pref); err != nil {
		return types.Preference{}, fmt.Errorf("failed to store preference: %w", err)
	}
	p.cache.Remove(userID)
	logging.Personalization("User %s taught %s/%s=%s", userID, category, key, value)
	return pref, nil
}

// RecordChoice remembers that text meant intent for userID.
func (p *Personalizer) RecordChoice(ctx context.Context, userID, text string, intent types.Intent) (types.Preference, error) {
	if !intent.Valid() {
		return types.Preference{}, fmt.Errorf("personalization: cannot learn intent %q", intent)
	}
	return p.Observe(ctx, userID, types.PrefDisambiguation, CorrectionKey(text), string(intent))
}

// List returns userID's preferences with Confidence reporting the decayed value.
func (p *Personalizer) List(ctx context.Context, userID string) ([]types.Preference, error) {
	prefs, err := p.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := p.now()
	out := make([]types.Preference, len(prefs))
	for i, pref := range prefs {
		pref.Confidence = p.Effective(pref, now)
		out[i] = pref
	}
	return out, nil
}

// Get returns one preference with its decayed confidence.
func (p *Personalizer) Get(ctx context.Context, userID string, category types.PreferenceCategory, key string) (types.Preference, error) {
	prefs, err := p.load(ctx, userID)
	if err != nil {
		return types.Preference{}, err
	}
	for _, pref := range prefs {
		if pref.Category == category && pref.Key == key {
			pref.Confidence = p.Effective(pref, p.now())
			return pref, nil
		}
	}
	return types.Preference{}, ErrNotFound
}

// influential returns userID's preferences in category whose decayed confidence
// reaches MinInfluence, keyed by Key.
func (p *Personalizer) influential(ctx context.Context, userID string, category types.PreferenceCategory) (map[string]types.Preference, error) {
	prefs, err := p.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := p.now()
	out := make(map[string]types.Preference)
	for _, pref := range prefs {
		if pref.Category != category {
			continue
		}
		if eff := p.Effective(pref, now); eff >= p.opts.MinInfluence {
			pref.Confidence = eff
			out[pref.Key] = pref
		}
	}
	return out, nil
}

func (p *Personalizer) load(ctx context.Context, userID string) ([]types.Preference, error) {
	if e, ok := p.cache.Get(userID); ok {
		if p.now().Sub(e.storedAt) < p.opts.CacheTTL {
			return e.prefs, nil
		}
		p.cache.Remove(userID)
	}
	prefs, err := p.store.ListPreferences(ctx, userID)
	if err != nil {
		logging.PersonalizationWarn("Failed to load preferences for %s: %v", userID, err)
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}
	p.cache.Add(userID, cacheEntry{prefs: prefs, storedAt: p.now()})
	return prefs, nil
}

func validate(userID string, category types.PreferenceCategory, key, value string) error {
	switch {
	case userID == "":
		return errors.New("personalization: empty user id")
	case !types.ValidCategory(category):
		return fmt.Errorf("personalization: unknown category %q", category)
	case strings.TrimSpace(key) == "":
		return errors.New("personalization: empty key")
	case strings.TrimSpace(value) == "":
		return errors.New("personalization: empty value")
	}
	return nil
}
