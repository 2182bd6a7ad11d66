//go:build !darwin

package theme

import (
	"os"
	"strconv"
	"strings"
)

// systemMode inspects COLORFGBG ("fg;bg" or "fg;default;bg"). Background
// colours 0-6 and 8 are dark in the standard 16-colour palette.
func systemMode() (Mode, bool) {
	return modeFromColorFGBG(os.Getenv("COLORFGBG"))
}

func modeFromColorFGBG(v string) (Mode, bool) {
	if v == "" {
		return "", false
	}
	parts := strings.Split(v, ";")
	bg, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return "", false
	}
	if bg == 7 || bg >= 9 {
		return Light, true
	}
	return Dark, true
}
