package upload

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Result is the one shape every OCR response is reduced to.
type Result struct {
	ID       int64
	Text     string
	Filename string
}

// Valid reports whether the result names a stored extraction.
func (r Result) Valid() bool { return r.ID > 0 }

// maxIDDepth bounds how far nested {"id": {...}} objects are unwrapped.
const maxIDDepth = 8

// Normalize reduces a raw OCR response. Text comes from the first
// non-empty of data.text, data.extracted_text, text, extracted_text. The
// id is data.id, else the top-level id, each unwrapped through nested
// {"id": ...} objects and accepted as a number or numeric string. ok is
// false unless the id is positive.
func Normalize(raw json.RawMessage) (Result, bool) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return Result{}, false
	}
	var data map[string]json.RawMessage
	if d, ok := top["data"]; ok {
		_ = json.Unmarshal(d, &data)
	}

	var r Result
	r.Text = firstString(data["text"], data["extracted_text"], top["text"], top["extracted_text"])
	r.Filename = firstString(data["original_filename"], data["filename"], top["original_filename"], top["filename"])
	if id, ok := unwrapID(data["id"], 0); ok && id > 0 {
		r.ID = id
	} else if id, ok := unwrapID(top["id"], 0); ok {
		r.ID = id
	}
	return r, r.Valid()
}

func firstString(candidates ...json.RawMessage) string {
	for _, c := range candidates {
		var s string
		if len(c) == 0 || json.Unmarshal(c, &s) != nil {
			continue
		}
		if s != "" {
			return s
		}
	}
	return ""
}

func unwrapID(raw json.RawMessage, depth int) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || depth > maxIDDepth {
		return 0, false
	}
	switch raw[0] {
	case '{':
		var obj map[string]json.RawMessage
		if json.Unmarshal(raw, &obj) != nil {
			return 0, false
		}
		return unwrapID(obj["id"], depth+1)
	case '"':
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0, false
		}
		return parseID(strings.TrimSpace(s))
	}
	return parseID(string(raw))
}

func parseID(s string) (int64, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
