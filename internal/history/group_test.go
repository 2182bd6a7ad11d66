package history

import (
	"testing"
	"time"
)

func at(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestGroupByDay(t *testing.T) {
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, seoul)
	list := []Extraction{
		{ID: 1, CreatedAt: at("2024-05-08T01:00:00Z")},
		{ID: 2, CreatedAt: at("2024-05-09T16:30:00Z")}, // 01:30 on the 10th in Seoul
		{ID: 3},
		{ID: 4, CreatedAt: at("2024-05-09T05:00:00Z")},
		{ID: 5, CreatedAt: at("2024-05-09T14:59:00Z")}, // 23:59 on the 9th
		{ID: 6},
	}

	groups := GroupByDay(list, now)

	want := []struct {
		label string
		ids   []int64
	}{
		{LabelToday, []int64{2}},
		{LabelYesterday, []int64{5, 4}},
		{"2024-05-08", []int64{1}},
		{LabelUnknown, []int64{6, 3}},
	}
	if len(groups) != len(want) {
		t.Fatalf("got %d groups, want %d: %+v", len(groups), len(want), groups)
	}
	for i, w := range want {
		if groups[i].Label != w.label {
			t.Errorf("group %d label = %q, want %q", i, groups[i].Label, w.label)
		}
		if got := ids(groups[i].Items); !equalIDs(got, w.ids) {
			t.Errorf("group %q ids = %v, want %v", w.label, got, w.ids)
		}
	}
}

func TestGroupByDayEmpty(t *testing.T) {
	if groups := GroupByDay(nil, time.Now()); len(groups) != 0 {
		t.Errorf("got %d groups", len(groups))
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want string // RFC3339 in Seoul, "" for nil
	}{
		{"Fri, 10 May 2024 03:00:00 GMT", "2024-05-10T12:00:00+09:00"},
		{"2024-05-10T03:00:00Z", "2024-05-10T12:00:00+09:00"},
		{"2024-05-10T03:00:00+02:00", "2024-05-10T10:00:00+09:00"},
		{"2024-05-10 03:00:00", "2024-05-10T12:00:00+09:00"},
		{"2024-05-10T03:00:00.123456", "2024-05-10T12:00:00+09:00"},
		{"", ""},
		{"yesterday", ""},
	}
	for _, tt := range tests {
		got := ParseTime(tt.in, seoul)
		if tt.want == "" {
			if got != nil {
				t.Errorf("ParseTime(%q) = %v, want nil", tt.in, got)
			}
			continue
		}
		if got == nil || got.Format(time.RFC3339) != tt.want {
			t.Errorf("ParseTime(%q) = %v, want %s", tt.in, got, tt.want)
		}
	}
}
