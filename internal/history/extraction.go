package history

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/mnemion/ocrdesk/internal/api"
	"github.com/mnemion/ocrdesk/internal/storage"
)

// Extraction is one history record with timestamps in the display zone.
type Extraction struct {
	ID            int64
	Filename      string
	ExtractedText string
	Text          string
	CreatedAt     *time.Time
	UpdatedAt     *time.Time
	IsBookmarked  bool
	SourceType    string
	OCRModel      string
	Language      string
}

// Body is the extracted text, whichever field the server filled.
func (e Extraction) Body() string {
	if e.ExtractedText != "" {
		return e.ExtractedText
	}
	return e.Text
}

// Server timestamps come in several shapes depending on the endpoint.
// Zone-less forms are UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	http.TimeFormat,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime parses a server timestamp and shifts it into loc. It returns
// nil for empty or unparseable input.
func ParseTime(s string, loc *time.Location) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		t = t.In(loc)
		return &t
	}
	return nil
}

func fromAPI(e api.Extraction, loc *time.Location) Extraction {
	return Extraction{
		ID:            e.ID,
		Filename:      e.Filename,
		ExtractedText: e.ExtractedText,
		Text:          e.Text,
		CreatedAt:     ParseTime(string(e.CreatedAt), loc),
		UpdatedAt:     ParseTime(string(e.UpdatedAt), loc),
		IsBookmarked:  bool(e.IsBookmarked),
		SourceType:    e.SourceType,
		OCRModel:      e.OCRModel,
		Language:      e.Language,
	}
}

func toRow(e Extraction) storage.ExtractionRow {
	return storage.ExtractionRow{
		ID:            e.ID,
		Filename:      e.Filename,
		ExtractedText: e.Body(),
		CreatedAt:     formatTime(e.CreatedAt),
		UpdatedAt:     formatTime(e.UpdatedAt),
		IsBookmarked:  e.IsBookmarked,
		SourceType:    e.SourceType,
		OCRModel:      e.OCRModel,
		Language:      e.Language,
	}
}

func fromRow(r storage.ExtractionRow, loc *time.Location) Extraction {
	return Extraction{
		ID:            r.ID,
		Filename:      r.Filename,
		ExtractedText: r.ExtractedText,
		CreatedAt:     ParseTime(r.CreatedAt, loc),
		UpdatedAt:     ParseTime(r.UpdatedAt, loc),
		IsBookmarked:  r.IsBookmarked,
		SourceType:    r.SourceType,
		OCRModel:      r.OCRModel,
		Language:      r.Language,
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// sortNewestFirst orders by creation time descending, then id descending.
// Records without a timestamp go last.
func sortNewestFirst(list []Extraction) {
	slices.SortStableFunc(list, func(a, b Extraction) int {
		switch {
		case a.CreatedAt != nil && b.CreatedAt == nil:
			return -1
		case a.CreatedAt == nil && b.CreatedAt != nil:
			return 1
		case a.CreatedAt != nil && !a.CreatedAt.Equal(*b.CreatedAt):
			return b.CreatedAt.Compare(*a.CreatedAt)
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
}
