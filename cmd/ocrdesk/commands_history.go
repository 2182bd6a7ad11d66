package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/mnemion/ocrdesk/internal/config"
	"github.com/mnemion/ocrdesk/internal/editor"
	"github.com/mnemion/ocrdesk/internal/history"
)

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, history.ErrInvalidID
	}
	return id, nil
}

func parseTime(s string, a *app) string {
	t := history.ParseTime(s, a.loc)
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}

func firstLine(s string, n int) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	if utf8.RuneCountInString(s) > n {
		s = string([]rune(s)[:n]) + "…"
	}
	return s
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse and manage extraction history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List extractions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")
		group, _ := cmd.Flags().GetBool("group")
		bookmarked, _ := cmd.Flags().GetBool("bookmarked")
		offline, _ := cmd.Flags().GetBool("offline")

		return withApp(cmd, func(a *app) error {
			var list []history.Extraction
			var err error
			if offline {
				list, err = a.history.Snapshot()
			} else {
				if err := a.requireLogin(); err != nil {
					return err
				}
				list, err = a.history.Fetch(cmd.Context(), refresh)
				if err != nil {
					// Already toasted; fall back to the last snapshot.
					snap, serr := a.history.Snapshot()
					if serr != nil || len(snap) == 0 {
						return reported(err)
					}
					printWarning("마지막으로 저장된 기록을 표시합니다")
					list, err = snap, nil
				}
			}
			if err != nil {
				return err
			}

			if bookmarked {
				kept := list[:0]
				for _, e := range list {
					if e.IsBookmarked {
						kept = append(kept, e)
					}
				}
				list = kept
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "추출 기록이 없습니다.")
				return nil
			}

			out := cmd.OutOrStdout()
			if !group {
				writeHistoryTable(out, list)
				return nil
			}
			for i, g := range history.GroupByDay(list, time.Now().In(a.loc)) {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "%s (%d)\n", colorize(colorBold, g.Label), len(g.Items))
				writeHistoryTable(out, g.Items)
			}
			return nil
		})
	},
}

func writeHistoryTable(w io.Writer, list []history.Extraction) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range list {
		mark := " "
		if e.IsBookmarked {
			mark = "★"
		}
		created := "-"
		if e.CreatedAt != nil {
			created = e.CreatedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			accent(fmt.Sprintf("#%d", e.ID)), mark, e.Filename, muted(created), firstLine(e.Body(), 40))
	}
	tw.Flush()
}

// loaded runs fn after the history cache has been filled, so local
// changes land in the snapshot too.
func loaded(cmd *cobra.Command, fn func(a *app) error) error {
	return withSession(cmd, func(a *app) error {
		if _, err := a.history.Fetch(cmd.Context(), false); err != nil {
			return reported(err)
		}
		return fn(a)
	})
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the text of one extraction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withSession(cmd, func(a *app) error {
			e, err := a.client.GetText(cmd.Context(), id)
			if err != nil {
				return err
			}
			printStatus("file", "%s", e.Filename)
			if t := parseTime(string(e.CreatedAt), a); t != "" {
				printStatus("created", "%s", t)
			}
			text := e.ExtractedText
			if text == "" {
				text = e.Text
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		})
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an extraction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return loaded(cmd, func(a *app) error {
			if !a.history.Delete(cmd.Context(), id) {
				return reported(fmt.Errorf("deleting %d failed", id))
			}
			return nil
		})
	},
}

var historyRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename an extraction",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return loaded(cmd, func(a *app) error {
			if err := a.history.Rename(cmd.Context(), id, args[1]); err != nil {
				return err
			}
			printSuccess("이름을 %q(으)로 변경했습니다", strings.TrimSpace(args[1]))
			return nil
		})
	},
}

var historyBookmarkCmd = &cobra.Command{
	Use:   "bookmark <id>",
	Short: "Toggle the bookmark on an extraction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return loaded(cmd, func(a *app) error {
			on, err := a.history.ToggleBookmark(cmd.Context(), id)
			if err != nil {
				return reported(err)
			}
			if on {
				printSuccess("북마크에 추가했습니다")
			} else {
				printSuccess("북마크를 해제했습니다")
			}
			return nil
		})
	},
}

func init() {
	historyListCmd.Flags().Bool("refresh", false, "bypass the cache")
	historyListCmd.Flags().Bool("group", false, "group by day")
	historyListCmd.Flags().Bool("bookmarked", false, "only bookmarked extractions")
	historyListCmd.Flags().Bool("offline", false, "show the last saved list without contacting the server")
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd, historyRenameCmd, historyBookmarkCmd)
}

// --- text edit ---

var textCmd = &cobra.Command{
	Use:   "text",
	Short: "Edit extracted text",
}

// runEditor opens path in the user's editor and waits for it to exit.
var runEditor = func(ctx context.Context, path string) error {
	name := os.Getenv("VISUAL")
	if name == "" {
		name = os.Getenv("EDITOR")
	}
	if name == "" {
		name = "vi"
	}
	fields := strings.Fields(name)
	c := exec.CommandContext(ctx, fields[0], append(fields[1:], path)...)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return fmt.Errorf("editor exited with error: %w", err)
	}
	return nil
}

// pollInterval is how often the edited file is checked for saves.
var pollInterval = 300 * time.Millisecond

var textEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit an extraction's text in $EDITOR with autosave",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		discard, _ := cmd.Flags().GetBool("discard-draft")

		return withSession(cmd, func(a *app) error {
			e, err := a.client.GetText(cmd.Context(), id)
			if err != nil {
				return err
			}
			text := e.ExtractedText
			if text == "" {
				text = e.Text
			}

			session := editor.NewSession(id, a.client, a.local, editor.Options{
				Delay:    config.Duration(a.cfg.Editor.AutosaveDelay, editor.DefaultDelay),
				Notifier: a.toasts,
				OnSaved: func(at time.Time) {
					printStep("자동 저장됨 %s", at.In(a.loc).Format("15:04:05"))
				},
			})
			defer session.Close()

			if draft, ok := session.Draft(); ok && draft != text && !discard {
				printInfo("저장되지 않은 초안을 복원했습니다")
				text = draft
				session.Update(draft)
			}
			return editWithAutosave(cmd.Context(), session, text)
		})
	},
}

// editWithAutosave writes text to a temp file, opens the editor, and feeds
// every save the editor makes into session.
func editWithAutosave(ctx context.Context, session *editor.Session, text string) error {
	f, err := os.CreateTemp("", "ocrdesk-text-*.txt")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	last := []byte(text)
	check := func() {
		data, err := os.ReadFile(path)
		if err != nil || bytes.Equal(data, last) {
			return
		}
		last = data
		if err := session.Update(string(data)); err != nil && !errors.Is(err, editor.ErrClosed) {
			printError("%v", err)
		}
	}

	watchCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(pollInterval)
		defer t.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-t.C:
				check()
			}
		}
	}()

	editErr := runEditor(ctx, path)
	stop()
	<-done
	check()

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := session.Flush(flushCtx); err != nil {
		return reported(err)
	}
	if editErr != nil {
		return editErr
	}
	if !session.LastSaved().IsZero() {
		printSuccess("저장되었습니다")
	} else {
		printInfo("변경 사항이 없습니다")
	}
	return nil
}

func init() {
	textEditCmd.Flags().Bool("discard-draft", false, "ignore an unsaved draft from an earlier session")
	textCmd.AddCommand(textEditCmd)
}
