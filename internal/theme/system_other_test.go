//go:build !darwin

package theme

import "testing"

func TestModeFromColorFGBG(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"15;0", Dark, true},
		{"0;15", Light, true},
		{"0;default;7", Light, true},
		{"12;8", Dark, true},
		{"", "", false},
		{"x;y", "", false},
	}
	for _, tt := range tests {
		got, ok := modeFromColorFGBG(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("modeFromColorFGBG(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
