package perception

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// =============================================================================
// INDEX EXTRACTOR
// =============================================================================

// maxRangeSpan bounds a single range when the list size is unknown, so "1-99999"
// cannot allocate an unbounded slice.
const maxRangeSpan = 1000

var (
	allIndicesRe = regexp.MustCompile(`(?i)全部|全て|すべて|ぜんぶ|\ball\b|\beverything\b|\bevery\b`)

	firstNRe = regexp.MustCompile(`(?i)(?:最初の|先頭の?|上から|first\s*|top\s*)(\d+)\s*(番目まで|番目|つ|個|件|項目|items?)?`)
	lastNRe  = regexp.MustCompile(`(?i)(?:最後の|末尾の?|下から|last\s*|bottom\s*)(\d+)\s*(番目まで|番目|つ|個|件|項目|items?)?`)

	bareFirstRe = regexp.MustCompile(`(?i)最初|先頭|一番上|\bfirst\b|\btop\b`)
	bareLastRe  = regexp.MustCompile(`(?i)最後|末尾|一番下|\blast\b|\bbottom\b`)

	rangeRe  = regexp.MustCompile(`(\d+)\s*-\s*(\d+)`)
	numberRe = regexp.MustCompile(`\d+`)
)

// Units that mark a number as part of a date, time, or quantity rather than a list
// position.
var nonIndexSuffixes = []string{
	"時間", "日後", "日前", "週間", "ヶ月", "か月", "カ月",
	"時", "分", "秒", "月", "日", "年", "週", "回", "円", "人", "%",
	":", "/", "am", "pm", "AM", "PM",
}

// ParseIndices extracts 1-based list positions from text. maxIndex is the size of the
// list in view; 0 means unknown, in which case "all" and "last" forms yield nothing.
// Out-of-range values are dropped. The result is sorted and deduplicated; an empty
// result means no valid index, not an error.
func ParseIndices(text string, maxIndex int) []int {
	t := Normalize(text)
	var out []int

	add := func(i int) {
		if i >= 1 && (maxIndex <= 0 || i <= maxIndex) {
			out = append(out, i)
		}
	}
	addSpan := func(from, to int) {
		if from > to {
			from, to = to, from
		}
		if from < 1 {
			from = 1
		}
		if maxIndex > 0 && to > maxIndex {
			to = maxIndex
		}
		if to-from >= maxRangeSpan {
			to = from + maxRangeSpan - 1
		}
		for i := from; i <= to; i++ {
			add(i)
		}
	}

	// calendar dates ("2025-01-02") would otherwise read as ranges
	t = consume(t, ymdRe, func([]string) {})

	// 1. all
	if allIndicesRe.MatchString(t) {
		if maxIndex > 0 {
			addSpan(1, maxIndex)
		}
		t = allIndicesRe.ReplaceAllString(t, " ")
	}

	// 2. first N / last N, then bare first / last
	t = consume(t, firstNRe, func(m []string) {
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "番目":
			add(n)
		default:
			addSpan(1, n)
		}
	})
	t = consume(t, lastNRe, func(m []string) {
		n, _ := strconv.Atoi(m[1])
		if maxIndex <= 0 || n <= 0 {
			return
		}
		switch m[2] {
		case "番目":
			add(maxIndex - n + 1)
		default:
			addSpan(maxIndex-n+1, maxIndex)
		}
	})
	t = consume(t, bareFirstRe, func([]string) { add(1) })
	t = consume(t, bareLastRe, func([]string) {
		if maxIndex > 0 {
			add(maxIndex)
		}
	})

	// 3. ranges
	t = consumeIndex(t, rangeRe, func(m []int) {
		if !isIndexToken(t, m[0], m[1]) {
			return
		}
		a, _ := strconv.Atoi(t[m[2]:m[3]])
		b, _ := strconv.Atoi(t[m[4]:m[5]])
		addSpan(a, b)
	})

	// 4. bare numbers
	for _, m := range numberRe.FindAllStringIndex(t, -1) {
		if !isIndexToken(t, m[0], m[1]) {
			continue
		}
		n, err := strconv.Atoi(t[m[0]:m[1]])
		if err != nil {
			continue
		}
		add(n)
	}

	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// consume calls fn for every match of re and blanks the matched text so later steps
// do not count the same digits twice.
func consume(t string, re *regexp.Regexp, fn func([]string)) string {
	for _, m := range re.FindAllStringSubmatch(t, -1) {
		fn(m)
	}
	return re.ReplaceAllString(t, " ")
}

func consumeIndex(t string, re *regexp.Regexp, fn func([]int)) string {
	matches := re.FindAllStringSubmatchIndex(t, -1)
	if len(matches) == 0 {
		return t
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		fn(m)
		b.WriteString(t[last:m[0]])
		b.WriteString(" ")
		last = m[1]
	}
	b.WriteString(t[last:])
	return b.String()
}

// isIndexToken reports whether the number spanning t[start:end] reads as a list
// position: not part of a time ("18:00", "9時"), a date ("5/10", "3日"), or a decimal.
func isIndexToken(t string, start, end int) bool {
	rest := t[end:]
	rest = strings.TrimLeft(rest, " ")
	for _, suf := range nonIndexSuffixes {
		if strings.HasPrefix(rest, suf) {
			return false
		}
	}
	if strings.HasPrefix(rest, ".") && len(rest) > 1 && isDigit(rest[1]) {
		return false
	}
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(t[:start])
		switch r {
		case ':', '/':
			return false
		case '.':
			if start > 1 && isDigit(t[start-2]) {
				return false
			}
		}
	}
	return true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
