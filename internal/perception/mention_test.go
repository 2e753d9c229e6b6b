package perception

import "testing"

func TestScanMentions(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"@MRC に明日連絡", "@mrc"},
		{"@supy. 確認して", "@supy"},
		{"みんなに明日会議ってリマインド", "@everyone"},
		{"全員へ通知", "@everyone"},
		{"MRCに送って", "@mrc"},
		{"エムアールシーに伝えて", "@mrc"},
		{"<@12345> レビューお願い", "<@12345>"},
		{"<@&987> に周知", "<@&987>"},
		{"スパイと全員", "@supy"},
		{"牛乳を買う", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ScanMentions(tt.text); got != tt.want {
			t.Errorf("ScanMentions(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestMentionScanner_ExtraAliases(t *testing.T) {
	s := NewMentionScanner(map[string]string{
		"開発":  "dev",
		"みんな": "@team",
	})
	if got := s.Scan("開発チームにリマインド"); got != "@dev" {
		t.Errorf("Scan() = %q, want @dev", got)
	}
	if got := s.Scan("みんなに通知"); got != "@team" {
		t.Errorf("override: Scan() = %q, want @team", got)
	}
	if got := s.Scan("全員に通知"); got != "@everyone" {
		t.Errorf("default kept: Scan() = %q, want @everyone", got)
	}
}
