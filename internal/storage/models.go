package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ExtractionRow is the persisted form of one history record. Timestamps are
// kept as RFC 3339 strings; an empty string means the server sent none.
type ExtractionRow struct {
	ID            int64
	Filename      string
	ExtractedText string
	CreatedAt     string
	UpdatedAt     string
	IsBookmarked  bool
	SourceType    string
	OCRModel      string
	Language      string
}

// UploadRecord journals the outcome of one batch entry.
type UploadRecord struct {
	ID            string
	BatchID       string
	OriginalName  string
	SanitizedName string
	Status        string // "pending", "processing", "success", "error"
	ExtractionID  int64
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
