package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "ocrdesk",
	Short:         "Terminal client for the OCR extraction service",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable coloured output")

	rootCmd.AddCommand(
		loginCmd, registerCmd, logoutCmd, whoamiCmd, passwordCmd, accountCmd, profileCmd,
		extractCmd, previewCmd, batchCmd,
		historyCmd, textCmd,
		receiptCmd, businessCardCmd, tableCmd, summarizeCmd, translateCmd, detectLanguageCmd,
		themeCmd, settingsCmd, configCmd, statusCmd, mcpCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			printError("%v", err)
		}
		os.Exit(1)
	}
}

// errReported marks failures the user has already been shown as a toast.
var errReported = errors.New("already reported")

func reported(err error) error {
	return fmt.Errorf("%w: %w", errReported, err)
}

func setupLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}
