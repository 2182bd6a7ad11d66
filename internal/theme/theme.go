// Package theme owns the light/dark preference. It is the only writer of
// the "theme" key in durable storage.
package theme

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mnemion/ocrdesk/internal/storage"
)

type Mode string

const (
	Light Mode = "light"
	Dark  Mode = "dark"
)

const storageKey = "theme"

// ParseMode accepts "light" or "dark" in any case.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case Light:
		return Light, nil
	case Dark:
		return Dark, nil
	}
	return "", fmt.Errorf("unknown theme %q (want light or dark)", s)
}

// KV is the durable storage the store persists to.
type KV interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

type Store struct {
	mu        sync.Mutex
	kv        KV
	mode      Mode
	listeners []func(Mode)
	system    func() (Mode, bool)
	log       *slog.Logger
}

func New(kv KV) *Store {
	return &Store{
		kv:     kv,
		mode:   Light,
		system: systemMode,
		log:    slog.Default().With("component", "theme"),
	}
}

// Init loads the stored mode, falling back to the OS preference and then to
// light. Listeners are notified with the resulting mode.
func (s *Store) Init() Mode {
	mode := Light
	raw, err := s.kv.Get(storageKey)
	switch {
	case err == nil:
		if m, perr := ParseMode(raw); perr == nil {
			mode = m
		} else {
			s.log.Warn("ignoring stored theme", "value", raw)
			if m, ok := s.system(); ok {
				mode = m
			}
		}
	case errors.Is(err, storage.ErrNotFound):
		if m, ok := s.system(); ok {
			mode = m
		}
	default:
		s.log.Warn("reading theme", "error", err)
	}

	s.mu.Lock()
	s.mode = mode
	listeners := append([]func(Mode){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(mode)
	}
	return mode
}

func (s *Store) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Store) IsDark() bool { return s.Mode() == Dark }

// Toggle flips the mode and persists it.
func (s *Store) Toggle() (Mode, error) {
	next := Dark
	if s.Mode() == Dark {
		next = Light
	}
	return next, s.Set(next)
}

// Set persists mode and notifies listeners.
func (s *Store) Set(mode Mode) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	if err := s.kv.Set(storageKey, string(mode)); err != nil {
		return fmt.Errorf("saving theme: %w", err)
	}

	s.mu.Lock()
	s.mode = mode
	listeners := append([]func(Mode){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(mode)
	}
	return nil
}

// OnChange registers fn for every mode change, including Init.
func (s *Store) OnChange(fn func(Mode)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}
