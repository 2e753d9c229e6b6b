package types

import "time"

// PreferenceCategory groups learned preferences by what they influence.
type PreferenceCategory string

const (
	PrefDefaultMention  PreferenceCategory = "default_mention"
	PrefDefaultTime     PreferenceCategory = "default_time"
	PrefShortcut        PreferenceCategory = "shortcut"
	PrefDisambiguation  PreferenceCategory = "disambiguation"
	PrefDefaultPriority PreferenceCategory = "default_priority"
)

// ValidCategory reports whether c is a known preference category.
func ValidCategory(c PreferenceCategory) bool {
	switch c {
	case PrefDefaultMention, PrefDefaultTime, PrefShortcut, PrefDisambiguation, PrefDefaultPriority:
		return true
	}
	return false
}

// Preference is one learned user preference. (UserID, Category, Key) is unique.
type Preference struct {
	UserID     string             `json:"user_id"`
	Category   PreferenceCategory `json:"category"`
	Key        string             `json:"key"`
	Value      string             `json:"value"`
	Confidence float64            `json:"confidence"`
	UseCount   int                `json:"use_count"`
	LastUsed   time.Time          `json:"last_used"`
	CreatedAt  time.Time          `json:"created_at"`
}
