package upload

import (
	"encoding/json"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   Result
		wantOK bool
	}{
		{"nested id object", `{"id": {"id": 42}, "text": "hello"}`, Result{ID: 42, Text: "hello"}, true},
		{"deeply nested id", `{"id": {"id": {"id": "7"}}, "extracted_text": "x"}`, Result{ID: 7, Text: "x"}, true},
		{"data wins", `{"data": {"id": 3, "text": "inner"}, "id": 9, "text": "outer"}`, Result{ID: 3, Text: "inner"}, true},
		{"data extracted_text before top text", `{"data": {"id": 3, "extracted_text": "a"}, "text": "b"}`, Result{ID: 3, Text: "a"}, true},
		{"top-level text before extracted_text", `{"id": 5, "text": "t", "extracted_text": "e"}`, Result{ID: 5, Text: "t"}, true},
		{"empty data text falls through", `{"data": {"id": 2, "text": ""}, "extracted_text": "e"}`, Result{ID: 2, Text: "e"}, true},
		{"numeric string id", `{"id": "12", "extracted_text": "e"}`, Result{ID: 12, Text: "e"}, true},
		{"float id", `{"id": 12.0, "text": "e"}`, Result{ID: 12, Text: "e"}, true},
		{"zero data id falls back", `{"data": {"id": 0}, "id": 4, "text": "e"}`, Result{ID: 4, Text: "e"}, true},
		{"filename carried", `{"id": 1, "text": "e", "filename": "a.png"}`, Result{ID: 1, Text: "e", Filename: "a.png"}, true},
		{"zero id invalid", `{"id": 0, "text": "e"}`, Result{Text: "e"}, false},
		{"negative id invalid", `{"id": -3, "text": "e"}`, Result{ID: -3, Text: "e"}, false},
		{"missing id", `{"text": "e"}`, Result{Text: "e"}, false},
		{"non-numeric id", `{"id": "abc", "text": "e"}`, Result{Text: "e"}, false},
		{"fractional id", `{"id": 1.5, "text": "e"}`, Result{Text: "e"}, false},
		{"id beyond int64", `{"id": 1e30, "text": "x"}`, Result{Text: "x"}, false},
		{"id at 2^63", `{"id": 9223372036854775808, "text": "x"}`, Result{Text: "x"}, false},
		{"not an object", `[1,2]`, Result{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(json.RawMessage(tt.raw))
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Normalize(%s) = %+v, %v; want %+v, %v", tt.raw, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestNormalizeStopsAtDepthLimit(t *testing.T) {
	raw := `{"id": ` + repeat(`{"id": `, 20) + `1` + repeat(`}`, 20) + `}`
	if _, ok := Normalize(json.RawMessage(raw)); ok {
		t.Error("unbounded nesting accepted")
	}
}

func repeat(s string, n int) string {
	out := ""
	for range n {
		out += s
	}
	return out
}
