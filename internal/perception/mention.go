package perception

import (
	"regexp"
	"sort"
	"strings"
)

// DefaultMention is the reminder destination used when none is given or learned.
const DefaultMention = "@everyone"

var (
	discordMentionRe = regexp.MustCompile(`<@[!&]?\d+>`)
	atTokenRe        = regexp.MustCompile(`@[A-Za-z0-9_.]+`)
)

// defaultAliases maps spoken names to their canonical destination tag.
var defaultAliases = map[string]string{
	"全員":       "@everyone",
	"みんな":      "@everyone",
	"everyone": "@everyone",
	"MRC":      "@mrc",
	"エムアールシー":  "@mrc",
	"SUPY":     "@supy",
	"スパイ":      "@supy",
}

type mentionAlias struct {
	re  *regexp.Regexp
	tag string
}

// MentionScanner finds the destination of a reminder: explicit @-tokens, chat
// platform mention markup, and a small alias table.
type MentionScanner struct {
	aliases []mentionAlias
}

// NewMentionScanner builds a scanner from the default alias table plus extra.
// Entries in extra override defaults with the same alias.
func NewMentionScanner(extra map[string]string) *MentionScanner {
	merged := make(map[string]string, len(defaultAliases)+len(extra))
	for k, v := range defaultAliases {
		merged[k] = v
	}
	for k, v := range extra {
		if !strings.HasPrefix(v, "@") && !strings.HasPrefix(v, "<@") {
			v = "@" + v
		}
		merged[k] = v
	}

	// Longest alias first so "エムアールシー" wins over any shorter overlap.
	names := make([]string, 0, len(merged))
	for k := range merged {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	s := &MentionScanner{}
	for _, name := range names {
		pat := regexp.QuoteMeta(name)
		if isASCII(name) {
			pat = `(?i)\b` + pat + `\b`
		}
		s.aliases = append(s.aliases, mentionAlias{re: regexp.MustCompile(pat), tag: merged[name]})
	}
	return s
}

var defaultMentionScanner = NewMentionScanner(nil)

// ScanMentions returns the first destination found in text, or "".
func ScanMentions(text string) string {
	return defaultMentionScanner.Scan(text)
}

// Scan returns the earliest destination in text, or "". Explicit tokens are
// lower-cased ("@MRC" and "@mrc" are the same destination); platform markup is kept
// verbatim.
func (s *MentionScanner) Scan(text string) string {
	t := Normalize(text)

	best, bestPos := "", len(t)+1
	consider := func(pos int, tag string) {
		if pos < bestPos {
			best, bestPos = tag, pos
		}
	}

	if loc := discordMentionRe.FindStringIndex(t); loc != nil {
		consider(loc[0], t[loc[0]:loc[1]])
	}
	if loc := atTokenRe.FindStringIndex(t); loc != nil {
		consider(loc[0], strings.ToLower(strings.TrimRight(t[loc[0]:loc[1]], ".")))
	}
	for _, a := range s.aliases {
		if loc := a.re.FindStringIndex(t); loc != nil {
			consider(loc[0], a.tag)
		}
	}
	return best
}

func (s *MentionScanner) patterns() []*regexp.Regexp {
	out := []*regexp.Regexp{discordMentionRe, atTokenRe}
	for _, a := range s.aliases {
		out = append(out, a.re)
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
