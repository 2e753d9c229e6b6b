package perception

import (
	"regexp"
	"strings"
)

// spanMark stands in for a removed expression until the particle attached to it
// ("明日の", "みんなに") is dropped as well.
const spanMark = "\x00"

var (
	// Request endings that carry no content ("...しといて", "...お願いします").
	politeSuffixRe = regexp.MustCompile(`(?:して|しといて|しておいて|しとく|しておく|ください|下さい|くれ|お願いします|お願い|よろしく)+\s*$`)
	markParticleRe = regexp.MustCompile(spanMark + `\s*(?:までに|まで|から|の|に|は|で|へ|、|,)?`)
	// English prepositions introducing a removed expression ("at 9am", "by friday").
	prepositionRe  = regexp.MustCompile(`(?i)\b(?:at|on|by|in|for|from|until|before)\s*` + spanMark)
	leadingJunkRe  = regexp.MustCompile(`^(?:[を、,.。!?:\-]|\s)+`)
	trailingJunkRe = regexp.MustCompile(`(?:[をにはで、,.。!?:\-]|って|\s)+$`)
	innerSpaceRe   = regexp.MustCompile(`\s{2,}`)
)

// ExtractPayload returns the free-text content of a command: text with dates,
// times, repetition, priority, destinations, and the given verb patterns removed,
// then trimmed of dangling particles and request endings.
func ExtractPayload(text string, strip []*regexp.Regexp, mentions *MentionScanner) string {
	if mentions == nil {
		mentions = defaultMentionScanner
	}
	t := Normalize(text)
	t = markSpans(t, recurrenceSpans)
	t = markSpans(t, dateTimeSpans)
	t = markSpans(t, priorityRes())
	t = markSpans(t, mentions.patterns())
	t = replaceUntilStable(t, prepositionRe, spanMark)
	t = markParticleRe.ReplaceAllString(t, " ")
	for _, re := range strip {
		t = re.ReplaceAllString(t, " ")
	}
	return cleanPayload(t)
}

func markSpans(t string, res []*regexp.Regexp) string {
	for _, re := range res {
		t = re.ReplaceAllString(t, spanMark)
	}
	return t
}

// cleanPayload trims dangling particles and request endings until nothing changes.
func cleanPayload(t string) string {
	for {
		prev := t
		t = strings.TrimSpace(t)
		t = politeSuffixRe.ReplaceAllString(t, "")
		t = leadingJunkRe.ReplaceAllString(t, "")
		t = trailingJunkRe.ReplaceAllString(t, "")
		if t == prev {
			break
		}
	}
	return innerSpaceRe.ReplaceAllString(t, " ")
}
