package perception

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseIndices(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxIndex int
		want     []int
	}{
		{"comma list", "1,3,5", 10, []int{1, 3, 5}},
		{"range", "2-4", 10, []int{2, 3, 4}},
		{"all", "全部", 5, []int{1, 2, 3, 4, 5}},
		{"out of range dropped", "10", 5, nil},
		{"all without bound", "全部", 0, nil},
		{"reversed range", "4-2", 10, []int{2, 3, 4}},
		{"wave dash range", "2〜4番を消して", 10, []int{2, 3, 4}},
		{"kara range", "3から5を完了", 10, []int{3, 4, 5}},
		{"to list", "1と3を削除", 10, []int{1, 3}},
		{"mixed range and list", "1,3-5,8", 10, []int{1, 3, 4, 5, 8}},
		{"duplicates removed", "3,1,3", 10, []int{1, 3}},
		{"zero dropped", "0,1", 10, []int{1}},
		{"first n", "最初の3つ", 10, []int{1, 2, 3}},
		{"top n english", "top 2", 10, []int{1, 2}},
		{"nth from top", "上から2番目", 10, []int{2}},
		{"last n", "最後の2件", 10, []int{9, 10}},
		{"last n without bound", "最後の2件", 0, nil},
		{"bare first", "最初のやつ消して", 10, []int{1}},
		{"bare last", "最後", 5, []int{5}},
		{"number prefix", "No.3を完了", 10, []int{3}},
		{"clock time is not an index", "18時に3番", 10, []int{3}},
		{"hh:mm is not an index", "10:30に会議", 10, nil},
		{"date is not an index", "5/10に提出", 10, nil},
		{"iso date is not a range", "2025-01-02に提出", 10, nil},
		{"iso date beside an index", "3番を2025-01-02に", 10, []int{3}},
		{"decimal is not an index", "1.5倍", 10, nil},
		{"relative day count is not an index", "3日後", 10, nil},
		{"full width", "１，３，５", 10, []int{1, 3, 5}},
		{"no numbers", "牛乳を買う", 10, nil},
		{"unbounded range is capped", "1-5000", 0, rangeOf(1, maxRangeSpan)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseIndices(tt.text, tt.maxIndex)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseIndices(%q, %d) mismatch (-want +got):\n%s", tt.text, tt.maxIndex, diff)
			}
		})
	}
}

func rangeOf(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}
