package perception

import (
	"regexp"
	"testing"

	"tasknerd/internal/types"
)

func TestExtractPayload(t *testing.T) {
	table := DefaultRuleTable()
	strip := func(intent types.Intent) []*regexp.Regexp {
		r, _ := table.Rule(intent)
		return r.Strip
	}

	tests := []struct {
		name   string
		text   string
		intent types.Intent
		want   string
	}{
		{"reminder with date and time", "明日18時に資料提出をリマインドして", types.IntentRemindCreate, "資料提出"},
		{"reminder with mention", "みんなに明日会議ってリマインド", types.IntentRemindCreate, "会議"},
		{"reminder with recurrence", "毎朝9時に薬を飲むって通知して", types.IntentRemindCreate, "薬を飲む"},
		{"todo add", "買い物をTODOに追加して", types.IntentCreate, "買い物"},
		{"todo add with priority", "緊急で見積もりを追加", types.IntentCreate, "見積もり"},
		{"todo prefix", "タスク: 牛乳を買う", types.IntentCreate, "牛乳を買う"},
		{"word ending in particle kept", "のりを追加", types.IntentCreate, "のり"},
		{"nothing left", "追加して", types.IntentCreate, ""},
		{"english preposition before time", "remind me to call mom tomorrow at 9am", types.IntentRemindCreate, "call mom"},
		{"english preposition before weekday", "remind me about the meeting on friday", types.IntentRemindCreate, "the meeting"},
		{"english deadline", "remind me to pay rent by 18:00", types.IntentRemindCreate, "pay rent"},
		{"preposition kept inside payload", "remind me to put milk in the fridge at 9am", types.IntentRemindCreate, "put milk in the fridge"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractPayload(tt.text, strip(tt.intent), nil); got != tt.want {
				t.Errorf("ExtractPayload(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
