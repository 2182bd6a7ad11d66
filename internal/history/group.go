package history

import "time"

// Day labels.
const (
	LabelToday     = "오늘"
	LabelYesterday = "어제"
	LabelUnknown   = "날짜 없음"
)

// Group is the records created on one calendar day.
type Group struct {
	Label string
	Day   time.Time // midnight in now's zone; zero for LabelUnknown
	Items []Extraction
}

// GroupByDay buckets list by calendar day in now's location. Groups and
// their members are newest first; records without a timestamp form a
// final LabelUnknown group.
func GroupByDay(list []Extraction, now time.Time) []Group {
	loc := now.Location()
	today := midnight(now)
	yesterday := today.AddDate(0, 0, -1)

	sorted := append([]Extraction(nil), list...)
	sortNewestFirst(sorted)

	var groups []Group
	var unknown []Extraction
	for _, e := range sorted {
		if e.CreatedAt == nil {
			unknown = append(unknown, e)
			continue
		}
		day := midnight(e.CreatedAt.In(loc))
		if n := len(groups); n > 0 && groups[n-1].Day.Equal(day) {
			groups[n-1].Items = append(groups[n-1].Items, e)
			continue
		}
		label := day.Format("2006-01-02")
		switch {
		case day.Equal(today):
			label = LabelToday
		case day.Equal(yesterday):
			label = LabelYesterday
		}
		groups = append(groups, Group{Label: label, Day: day, Items: []Extraction{e}})
	}
	if len(unknown) > 0 {
		groups = append(groups, Group{Label: LabelUnknown, Items: unknown})
	}
	return groups
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
