package perception

import "testing"

func TestParseRecurrence(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"毎週月曜に定例", "FREQ=WEEKLY;BYDAY=MO"},
		{"毎週の金曜日", "FREQ=WEEKLY;BYDAY=FR"},
		{"every monday standup", "FREQ=WEEKLY;BYDAY=MO"},
		{"毎月15日に支払い", "FREQ=MONTHLY;BYMONTHDAY=15"},
		{"平日の朝9時", "FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR"},
		{"毎朝9時に薬", "FREQ=DAILY"},
		{"daily report", "FREQ=DAILY"},
		{"毎週週末に掃除", "FREQ=WEEKLY;BYDAY=SA,SU"},
		{"毎週レビュー", "FREQ=WEEKLY"},
		{"毎月の締め", "FREQ=MONTHLY"},
		{"毎年の更新", "FREQ=YEARLY"},
		{"明日18時", ""},
		{"週末に掃除", ""},
	}
	for _, tt := range tests {
		if got := ParseRecurrence(tt.text); got != tt.want {
			t.Errorf("ParseRecurrence(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
