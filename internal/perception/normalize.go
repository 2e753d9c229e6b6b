// Package perception turns raw chat text into structured signals: a canonical text
// form, list positions, timestamps, mentions, and a rule-based intent classification,
// with an optional reasoning-service fallback for inputs the rules cannot place.
package perception

import (
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

// =============================================================================
// NORMALIZER
// =============================================================================

// stopWords are conversational fillers removed before matching. Longer forms come
// first so that "えーっと" is not left as "えー" after "っと" style partial removals.
var stopWords = []string{
	"えーっと", "えーと", "えっと", "あのー", "あの",
	"じゃあ", "とりま", "とりあえず", "ちなみに", "まあ",
}

var (
	englishFillerRe = regexp.MustCompile(`(?i)\b(?:please|pls|plz)\b`)

	// Range separators that render differently but mean "through".
	rangeSeparators = strings.NewReplacer(
		"〜", "-", // wave dash
		"~", "-",
		"—", "-", // em dash
		"–", "-", // en dash
		"‐", "-", // hyphen
		"−", "-", // minus sign
		"―", "-", // horizontal bar
	)

	// A whole run of separated numbers is rewritten at once; matching pairs would
	// consume the shared digit and skip every other separator.
	digitListRunRe  = regexp.MustCompile(`\d+(?:\s*[、・,]\s*\d+)+`)
	listSepRe       = regexp.MustCompile(`\s*[、・,]\s*`)
	digitToDigitRe  = regexp.MustCompile(`(\d)\s*と\s*(\d)`)
	digitKaraDigit  = regexp.MustCompile(`(\d)\s*から\s*(\d)`)
	whitespaceRunRe = regexp.MustCompile(`\s+`)
)

// Normalize canonicalizes text for matching. It folds full-width characters to their
// half-width forms, strips filler words, maps range separators to "-", turns "と" and
// "、" between two numbers into ",", and collapses whitespace. It never fails and is
// idempotent.
func Normalize(text string) string {
	t := width.Fold.String(text)

	t = stripStopWords(t)
	t = rangeSeparators.Replace(t)
	t = replaceUntilStable(t, digitKaraDigit, "$1-$2")
	t = digitListRunRe.ReplaceAllStringFunc(t, func(run string) string {
		return listSepRe.ReplaceAllString(run, ",")
	})
	t = replaceUntilStable(t, digitToDigitRe, "$1,$2")

	t = whitespaceRunRe.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

func stripStopWords(t string) string {
	for {
		prev := t
		for _, sw := range stopWords {
			t = strings.ReplaceAll(t, sw, "")
		}
		t = englishFillerRe.ReplaceAllString(t, "")
		if t == prev {
			return t
		}
	}
}

// replaceUntilStable reapplies re because adjacent matches share a digit
// ("1と2と3" needs two passes).
func replaceUntilStable(t string, re *regexp.Regexp, repl string) string {
	for {
		next := re.ReplaceAllString(t, repl)
		if next == t {
			return t
		}
		t = next
	}
}
