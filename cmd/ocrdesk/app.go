package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnemion/ocrdesk/internal/api"
	"github.com/mnemion/ocrdesk/internal/auth"
	"github.com/mnemion/ocrdesk/internal/config"
	"github.com/mnemion/ocrdesk/internal/history"
	"github.com/mnemion/ocrdesk/internal/imageproc"
	"github.com/mnemion/ocrdesk/internal/notify"
	"github.com/mnemion/ocrdesk/internal/settings"
	"github.com/mnemion/ocrdesk/internal/storage"
	"github.com/mnemion/ocrdesk/internal/theme"
)

// app is everything a command needs, wired from configuration.
type app struct {
	cfg      config.Config
	loc      *time.Location
	local    *storage.Store
	client   *api.Client
	toasts   *notify.Store
	theme    *theme.Store
	auth     *auth.Store
	history  *history.Store
	settings *settings.Manager
	previews *imageproc.Previews

	unsubscribe func()
}

// newApp is replaced in tests.
var newApp = func(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg.Log.Level)
	return buildApp(cmd, cfg, config.NewTokenStore())
}

func buildApp(cmd *cobra.Command, cfg config.Config, tokens config.TokenStore) (*app, error) {
	local, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a := &app{local: local, toasts: notify.New()}
	a.unsubscribe = a.toasts.Subscribe(printToast)

	a.settings = settings.NewManager(local)
	if cfg, err = a.settings.Apply(cfg); err != nil {
		a.close()
		return nil, err
	}
	a.cfg = cfg
	if a.loc, err = cfg.Location(); err != nil {
		a.close()
		return nil, err
	}

	a.theme = theme.New(local)
	usePalette(a.theme.Init())
	a.theme.OnChange(usePalette)

	a.client, err = api.New(api.Options{
		BaseURL:       cfg.API.BaseURL,
		Tokens:        tokens,
		Timeout:       config.Duration(cfg.API.Timeout, 30*time.Second),
		LongTimeout:   config.Duration(cfg.API.LongTimeout, 60*time.Second),
		Navigator:     cliNavigator{cmd: cmd},
		RedirectDelay: time.Millisecond,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.auth = auth.New(a.client, local)
	hadToken := a.client.Token() != ""
	if a.auth.Init() == nil && hadToken {
		printWarning("%s", auth.MsgSessionExpired)
	}

	a.history = history.New(a.client, history.Options{
		TTL:      config.Duration(cfg.History.CacheTTL, 10*time.Second),
		Location: a.loc,
		Notifier: a.toasts,
		Snapshot: local,
	})

	if a.previews, err = imageproc.NewPreviews(filepath.Join(cfg.Storage.DataDir, "previews")); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if a.auth != nil {
		if msg := a.auth.LastError(); msg != "" {
			printWarning("%s", msg)
		}
		a.auth.Close()
	}
	if a.client != nil {
		a.client.FlushRedirect()
	}
	if a.previews != nil {
		a.previews.Close()
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	a.local.Close()
}

var errLoginRequired = errors.New("로그인이 필요합니다. `ocrdesk login`으로 로그인하세요")

func (a *app) requireLogin() error {
	if a.auth.IsAuthenticated() {
		return nil
	}
	return errLoginRequired
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

// withSession is withApp for commands that need a signed-in user.
func withSession(cmd *cobra.Command, fn func(a *app) error) error {
	return withApp(cmd, func(a *app) error {
		if err := a.requireLogin(); err != nil {
			return err
		}
		return fn(a)
	})
}

// cliNavigator stands in for the view router: the "current view" is the
// running command and a login redirect becomes a hint.
type cliNavigator struct {
	cmd *cobra.Command
}

func (n cliNavigator) CurrentPath() string {
	if n.cmd == nil {
		return "/"
	}
	return "/" + strings.ReplaceAll(strings.TrimPrefix(n.cmd.CommandPath(), rootCmd.Name()+" "), " ", "/")
}

func (n cliNavigator) Navigate(path string) {
	printWarning("`ocrdesk login`으로 다시 로그인하세요 (%s)", path)
}
