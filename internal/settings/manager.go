package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mnemion/ocrdesk/internal/config"
	"github.com/mnemion/ocrdesk/internal/storage"
)

// Prefix namespaces settings inside the key/value table.
const Prefix = "settings:"

// KV defines the storage operations the Manager needs.
// Implemented by storage.Store.
type KV interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Keys(prefix string) ([]string, error)
	DeletePrefix(prefix string) (int64, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager provides cached, structured access to settings stored in SQLite.
type Manager struct {
	store KV
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   *Settings
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store KV) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store KV, clock Clock, ttl time.Duration) *Manager {
	return &Manager{store: store, clock: clock, ttl: ttl}
}

// Get reads all settings keys from storage (or cache).
func (m *Manager) Get() (Settings, error) {
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		s := copySettings(m.cached)
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		return copySettings(m.cached), nil
	}

	raw, err := m.loadRaw()
	if err != nil {
		return Settings{}, err
	}
	s := build(raw)
	m.cached = &s
	m.cachedAt = m.clock.Now()
	return copySettings(&s), nil
}

// Raw returns every stored key with its value, without the prefix.
func (m *Manager) Raw() (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadRaw()
}

func (m *Manager) loadRaw() (map[string]string, error) {
	keys, err := m.store.Keys(Prefix)
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	raw := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := m.store.Get(k)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading setting %q: %w", k, err)
		}
		raw[strings.TrimPrefix(k, Prefix)] = v
	}
	return raw, nil
}

// Set validates and persists one dotted key, then invalidates the cache.
func (m *Manager) Set(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" || strings.ContainsAny(key, " \t\n") {
		return fmt.Errorf("invalid settings key %q", key)
	}
	if err := validate(key, value); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Set(Prefix+key, value); err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	m.cached = nil
	return nil
}

// Clear drops every setting. Used on sign-out.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.DeletePrefix(Prefix); err != nil {
		return fmt.Errorf("clearing settings: %w", err)
	}
	m.cached = nil
	return nil
}

// Apply overlays the user's OCR and image preferences onto cfg.
func (m *Manager) Apply(cfg config.Config) (config.Config, error) {
	s, err := m.Get()
	if err != nil {
		return cfg, err
	}
	if s.OCR.Model != "" {
		cfg.OCR.Model = s.OCR.Model
	}
	if s.OCR.Language != "" {
		cfg.OCR.Language = s.OCR.Language
	}
	if s.Image.Quality > 0 {
		cfg.Image.Quality = s.Image.Quality
	}
	if s.Image.Zoom > 0 {
		cfg.Image.Zoom = s.Image.Zoom
	}
	return cfg, nil
}

func validate(key, value string) error {
	switch key {
	case "image.quality":
		q, err := strconv.Atoi(value)
		if err != nil || q < 1 || q > 100 {
			return fmt.Errorf("image.quality must be an integer between 1 and 100")
		}
	case "image.zoom":
		z, err := strconv.ParseFloat(value, 64)
		if err != nil || z < 0.5 || z > 2.0 {
			return fmt.Errorf("image.zoom must be between 0.5 and 2.0")
		}
	}
	return nil
}

// build assembles Settings from flat dotted keys.
func build(raw map[string]string) Settings {
	s := Settings{Extra: make(map[string]string)}
	for k, v := range raw {
		switch k {
		case "ocr.model":
			s.OCR.Model = v
		case "ocr.language":
			s.OCR.Language = v
		case "image.quality":
			q, err := strconv.Atoi(v)
			if err != nil {
				slog.Warn("malformed setting, skipping", "key", k, "error", err)
				continue
			}
			s.Image.Quality = q
		case "image.zoom":
			z, err := strconv.ParseFloat(v, 64)
			if err != nil {
				slog.Warn("malformed setting, skipping", "key", k, "error", err)
				continue
			}
			s.Image.Zoom = z
		default:
			s.Extra[k] = v
		}
	}
	return s
}

func copySettings(s *Settings) Settings {
	if s == nil {
		return Settings{}
	}
	cp := *s
	cp.Extra = maps.Clone(s.Extra)
	return cp
}
