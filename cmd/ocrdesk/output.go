package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mnemion/ocrdesk/internal/notify"
	"github.com/mnemion/ocrdesk/internal/theme"
)

const (
	colorReset = "\033[0m"
	colorBold  = "\033[1m"
)

// palette maps message kinds to ANSI colours for one theme.
type palette struct {
	success, err, warning, info, accent, muted string
}

var palettes = map[theme.Mode]palette{
	theme.Light: {
		success: "\033[32m",
		err:     "\033[31m",
		warning: "\033[33m",
		info:    "\033[34m",
		accent:  "\033[36m",
		muted:   "\033[90m",
	},
	theme.Dark: {
		success: "\033[92m",
		err:     "\033[91m",
		warning: "\033[93m",
		info:    "\033[94m",
		accent:  "\033[96m",
		muted:   "\033[37m",
	},
}

var (
	outMu  sync.Mutex
	errOut io.Writer = os.Stderr
	colors           = palettes[theme.Light]
)

func usePalette(m theme.Mode) {
	outMu.Lock()
	defer outMu.Unlock()
	if p, ok := palettes[m]; ok {
		colors = p
	}
}

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func emit(pick func(palette) string, prefix, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintln(errOut, colorize(pick(colors), prefix+msg))
}

func printSuccess(format string, args ...any) {
	emit(func(p palette) string { return p.success }, "✓ ", format, args...)
}

func printError(format string, args ...any) {
	emit(func(p palette) string { return p.err }, "✗ ", format, args...)
}

func printWarning(format string, args ...any) {
	emit(func(p palette) string { return p.warning }, "⚠ ", format, args...)
}

func printInfo(format string, args ...any) {
	emit(func(p palette) string { return p.info }, "ℹ ", format, args...)
}

func printStep(format string, args ...any) {
	emit(func(p palette) string { return p.accent }, "→ ", format, args...)
}

// tinted colours text with the current palette's pick.
func tinted(pick func(palette) string, text string) string {
	outMu.Lock()
	c := pick(colors)
	outMu.Unlock()
	return colorize(c, text)
}

// accent colours a value for stdout listings.
func accent(text string) string {
	return tinted(func(p palette) string { return p.accent }, text)
}

func muted(text string) string {
	return tinted(func(p palette) string { return p.muted }, text)
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(errOut, "  %s %s\n", colorize(colorBold, label+":"), val)
}

// printToast renders a toast as soon as it is shown. Dismissals (nil) are
// ignored; a terminal line cannot be taken back.
func printToast(t *notify.Toast) {
	if t == nil {
		return
	}
	switch t.Type {
	case notify.Success:
		printSuccess("%s", t.Message)
	case notify.Error:
		printError("%s", t.Message)
	case notify.Warning:
		printWarning("%s", t.Message)
	default:
		printInfo("%s", t.Message)
	}
}
