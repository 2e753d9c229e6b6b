package perception

import "regexp"

// Priority levels.
const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// Checked in order: the bare "優先" of the high level also occurs inside the
// urgent and low forms ("最優先", "優先度低").
var priorityPatterns = []struct {
	level string
	re    *regexp.Regexp
}{
	{PriorityUrgent, regexp.MustCompile(`(?i)緊急|至急|最優先|大至急|なるはや|\basap\b|\burgent\b`)},
	{PriorityLow, regexp.MustCompile(`(?i)優先度\s*[:：]?\s*低|低優先|後回し|いつでも|\blow priority\b`)},
	{PriorityNormal, regexp.MustCompile(`(?i)優先度\s*[:：]?\s*(?:中|普通)|通常|\bnormal priority\b`)},
	{PriorityHigh, regexp.MustCompile(`(?i)優先度\s*[:：]?\s*高|高優先|重要|優先|急ぎ|\bhigh priority\b|\bimportant\b`)},
}

// ScanPriority returns the priority level named in text, or "".
func ScanPriority(text string) string {
	t := Normalize(text)
	for _, p := range priorityPatterns {
		if p.re.MatchString(t) {
			return p.level
		}
	}
	return ""
}

func priorityRes() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(priorityPatterns))
	for i, p := range priorityPatterns {
		out[i] = p.re
	}
	return out
}
