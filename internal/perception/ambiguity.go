package perception

import (
	"regexp"
	"strings"
)

// Ambiguity indicators. Each entry that fires contributes one ambiguous point.
var ambiguityIndicators = []struct {
	re    *regexp.Regexp
	point string
}{
	{regexp.MustCompile(`多分|たぶん|おそらく|かもしれない|(?i:\bmaybe\b|\bprobably\b)`), "推測を含む表現"},
	{regexp.MustCompile(`適当に|よしなに|いい感じに|(?i:\bwhatever\b)`), "お任せの指示"},
	{regexp.MustCompile(`それっぽい|なんとなく|だいたい`), "曖昧な表現"},
	{regexp.MustCompile(`よくわからない|曖昧|不明`), "不明確な表現"},
	{regexp.MustCompile(`どれか|どちらか|いくつか`), "対象の選択が曖昧"},
	{regexp.MustCompile(`いつか|後で|あとで|そのうち|(?i:\bsomeday\b|\blater\b)`), "具体的な日時が未指定"},
	{regexp.MustCompile(`これ|それ|あれ|例のやつ`), "対象が不明確"},
}

var broadScopeRe = regexp.MustCompile(`全部|全て|すべて|一括`)

// DetectAmbiguities lists the ambiguous points in text. A sweeping scope word
// ("全部") counts only when nothing qualifies it with "の".
func DetectAmbiguities(text string) []string {
	t := Normalize(text)
	var points []string
	for _, ind := range ambiguityIndicators {
		if ind.re.MatchString(t) {
			points = append(points, ind.point)
		}
	}
	if broadScopeRe.MatchString(t) && !strings.Contains(t, "の") {
		points = append(points, "対象範囲が曖昧")
	}
	return points
}
