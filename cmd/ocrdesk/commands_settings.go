package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnemion/ocrdesk/internal/config"
	"github.com/mnemion/ocrdesk/internal/mcpserver"
	"github.com/mnemion/ocrdesk/internal/theme"
)

// --- theme ---

var themeCmd = &cobra.Command{
	Use:   "theme",
	Short: "Show or change the colour theme",
}

var themeShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current theme",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			fmt.Fprintln(cmd.OutOrStdout(), a.theme.Mode())
			return nil
		})
	},
}

var themeToggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Switch between light and dark",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			m, err := a.theme.Toggle()
			if err != nil {
				return err
			}
			printSuccess("테마: %s", m)
			return nil
		})
	},
}

var themeSetCmd = &cobra.Command{
	Use:       "set <light|dark>",
	Short:     "Set the theme",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(theme.Light), string(theme.Dark)},
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := theme.ParseMode(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			if err := a.theme.Set(m); err != nil {
				return err
			}
			printSuccess("테마: %s", m)
			return nil
		})
	},
}

func init() {
	themeCmd.AddCommand(themeShowCmd, themeToggleCmd, themeSetCmd)
}

// --- settings ---

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change user settings (ocr.model, ocr.language, image.quality, image.zoom, ...)",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show stored settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			raw, err := a.settings.Raw()
			if err != nil {
				return err
			}
			if len(raw) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "저장된 설정이 없습니다.")
				return nil
			}
			keys := make([]string, 0, len(raw))
			for k := range raw {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k), raw[k])
			}
			return nil
		})
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			if err := a.settings.Set(args[0], args[1]); err != nil {
				return err
			}
			printSuccess("Set %s = %s", args[0], args[1])
			return nil
		})
	},
}

var settingsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every stored setting",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			if err := a.settings.Clear(); err != nil {
				return err
			}
			printSuccess("설정을 초기화했습니다")
			return nil
		})
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd, settingsClearCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, muted(k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend, session and local storage status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			fmt.Fprintf(errOut, "%s\n", colorize(colorBold, "ocrdesk "+version))
			printStatus("API", "%s", a.cfg.API.BaseURL)

			if h, err := a.client.Health(cmd.Context()); err != nil {
				printStatus("Backend", "%s", tinted(func(p palette) string { return p.err }, "unreachable: "+err.Error()))
			} else {
				printStatus("Backend", "%s", tinted(func(p palette) string { return p.success }, h.Status))
			}

			if u := a.auth.User(); u != nil {
				printStatus("User", "%s <%s>", displayName(u), u.Email)
				if exp := a.auth.ExpiresAt(); exp != nil {
					printStatus("Session", "expires %s (in %s)", exp.In(a.loc).Format("2006-01-02 15:04"), time.Until(*exp).Round(time.Minute))
				}
			} else {
				printStatus("User", "not signed in")
			}

			printStatus("Theme", "%s", a.theme.Mode())
			printStatus("Data", "%s", a.cfg.Storage.DataDir)
			if rows, err := a.local.Extractions(); err == nil {
				printStatus("Cached", "%d extractions", len(rows))
			}
			if ups, err := a.local.RecentUploads(5); err == nil && len(ups) > 0 {
				printStatus("Last upload", "%s %s (%s)", ups[0].OriginalName, ups[0].Status, ups[0].UpdatedAt.In(a.loc).Format("2006-01-02 15:04"))
			}
			return nil
		})
	},
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve extraction tools to MCP clients over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(a *app) error {
			s := mcpserver.New(mcpserver.Deps{
				History:      a.history,
				Backend:      a.client,
				Uploads:      a.local,
				Model:        a.cfg.OCR.Model,
				Language:     a.cfg.OCR.Language,
				MaxDimension: a.cfg.Image.MaxDimension,
				Location:     a.loc,
			}, version)
			go a.auth.Watch(cmd.Context(), 2*time.Second)
			printInfo("MCP server listening on stdio")
			return mcpserver.ServeStdio(cmd.Context(), s, os.Stdin, os.Stdout)
		})
	},
}
