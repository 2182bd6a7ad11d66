package theme

import (
	"os/exec"
	"strings"
)

// systemMode reads the global AppleInterfaceStyle default, which is only
// set when dark appearance is on.
func systemMode() (Mode, bool) {
	out, err := exec.Command("defaults", "read", "-g", "AppleInterfaceStyle").Output()
	if err != nil {
		return Light, true
	}
	if strings.EqualFold(strings.TrimSpace(string(out)), "dark") {
		return Dark, true
	}
	return Light, true
}
