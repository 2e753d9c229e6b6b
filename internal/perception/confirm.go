package perception

import (
	"regexp"
	"strings"
)

var (
	yesRe = regexp.MustCompile(`^(?:はい|うん|ええ|yes|y|ok|okay|はーい|いいよ|実行|続行|やって|お願い|お願いします|よろしく|はい[,、]?実行|実行して|続けて|それで)$`)
	noRe  = regexp.MustCompile(`^(?:いいえ|いや|ううん|no|n|nope|やめ|やめて|中止|中止して|キャンセル|取り消し|cancel|stop)$`)

	answerTrimChars = " 。.!！?？、,〜~ー"
)

// ParseConfirmation classifies a reply to a yes/no question. answered is false when
// the text is neither a yes nor a no.
func ParseConfirmation(text string) (answered, yes bool) {
	t := strings.ToLower(Normalize(text))
	t = strings.Trim(t, answerTrimChars)
	switch {
	case yesRe.MatchString(t):
		return true, true
	case noRe.MatchString(t):
		return true, false
	}
	return false, false
}
