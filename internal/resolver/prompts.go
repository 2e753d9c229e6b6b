package resolver

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"tasknerd/internal/types"
)

// User-facing strings.
const (
	ExpiredPrompt   = "前回の操作はタイムアウトしました。最初からやり直してください。"
	CancelledPrompt = "操作をキャンセルしました。"

	clarifyHeader      = "意図が不明確です。何をしますか？（番号で選んでください）"
	confirmQuestion    = "この内容で実行しますか？（はい/いいえ）"
	destructiveWarning = "⚠️ 破壊的な操作です。本当に実行しますか？（はい/いいえ）"
)

var fieldPrompts = map[types.Field]string{
	types.FieldIntent:   "何をしますか？",
	types.FieldPayload:  "内容を教えてください",
	types.FieldIndices:  "番号を指定してください（例: 1,3,5）",
	types.FieldTime:     "いつですか？（例: 明日18時、毎朝9時）",
	types.FieldMention:  "誰に通知しますか？（@everyone/@mrc/@supy）",
	types.FieldPriority: "優先度を教えてください（緊急/高/普通/低）",
	types.FieldRepeat:   "繰り返しを教えてください（例: 毎朝、毎週月曜）",
}

// FieldPrompt returns the question asked for a missing field.
func FieldPrompt(f types.Field) string {
	if p, ok := fieldPrompts[f]; ok {
		return p
	}
	if f == types.FieldConfirmation {
		return confirmQuestion
	}
	return fmt.Sprintf("「%s」を指定してください", f)
}

// Summary renders spec as one line: the intent's display name followed by the
// values it carries.
func Summary(spec *types.IntentSpec) string {
	if spec == nil {
		return ""
	}
	parts := []string{"**" + spec.Intent.DisplayName() + "**"}
	if spec.Payload != "" {
		parts = append(parts, "内容: "+spec.Payload)
	}
	if len(spec.Indices) > 0 {
		nums := make([]string, len(spec.Indices))
		for i, n := range spec.Indices {
			nums[i] = strconv.Itoa(n)
		}
		parts = append(parts, "番号: "+strings.Join(nums, ", "))
	}
	if spec.Time != nil {
		parts = append(parts, "時刻: "+spec.Time.Format("2006-01-02 15:04"))
	}
	if spec.Repeat != "" {
		parts = append(parts, "繰り返し: "+spec.Repeat)
	}
	if spec.Mention != "" {
		parts = append(parts, "宛先: "+spec.Mention)
	}
	if spec.Priority != "" {
		parts = append(parts, "優先度: "+spec.Priority)
	}
	return strings.Join(parts, " | ")
}

func clarifyPrompt(candidates []types.Intent) string {
	var b strings.Builder
	b.WriteString(clarifyHeader)
	for i, c := range candidates {
		fmt.Fprintf(&b, "\n%d. %s", i+1, c.DisplayName())
	}
	return b.String()
}

func confirmPrompt(spec *types.IntentSpec, missing []types.Field) string {
	var b strings.Builder
	b.WriteString(Summary(spec))
	for _, f := range missing {
		if f == types.FieldConfirmation {
			continue
		}
		b.WriteString("\n❓ ")
		b.WriteString(FieldPrompt(f))
	}
	if slices.Contains(missing, types.FieldConfirmation) {
		b.WriteString("\n")
		if spec.Intent.Destructive() {
			b.WriteString(destructiveWarning)
		} else {
			b.WriteString(confirmQuestion)
		}
	}
	return b.String()
}
