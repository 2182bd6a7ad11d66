package settings

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mnemion/ocrdesk/internal/config"
	"github.com/mnemion/ocrdesk/internal/storage"
)

// --- Mock store ---

type mockStore struct {
	mu   sync.Mutex
	data map[string]string

	keysCalls int
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]string)}
}

func (m *mockStore) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (m *mockStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockStore) Keys(prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keysCalls++
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *mockStore) DeletePrefix(prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Tests ---

func TestGet_Empty(t *testing.T) {
	mgr := NewManager(newMockStore())

	s, err := mgr.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.OCR.Model != "" || s.Image.Quality != 0 || len(s.Extra) != 0 {
		t.Errorf("expected zero settings, got %+v", s)
	}
}

func TestSetAndGet(t *testing.T) {
	mgr := NewManager(newMockStore())

	for k, v := range map[string]string{
		"ocr.model":     "gemini",
		"ocr.language":  "kor+eng",
		"image.quality": "75",
		"image.zoom":    "1.5",
		"editor.wrap":   "true",
	} {
		if err := mgr.Set(k, v); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}

	s, err := mgr.Get()
	if err != nil {
		t.Fatal(err)
	}
	if s.OCR.Model != "gemini" || s.OCR.Language != "kor+eng" {
		t.Errorf("OCR = %+v", s.OCR)
	}
	if s.Image.Quality != 75 || s.Image.Zoom != 1.5 {
		t.Errorf("Image = %+v", s.Image)
	}
	if s.Extra["editor.wrap"] != "true" {
		t.Errorf("Extra = %v", s.Extra)
	}
}

func TestSetRejectsOutOfRange(t *testing.T) {
	mgr := NewManager(newMockStore())
	for _, kv := range [][2]string{
		{"image.quality", "0"},
		{"image.quality", "abc"},
		{"image.zoom", "3"},
		{"", "x"},
		{"has space", "x"},
	} {
		if err := mgr.Set(kv[0], kv[1]); err == nil {
			t.Errorf("Set(%q, %q) succeeded", kv[0], kv[1])
		}
	}
}

func TestCacheHitWithinTTL(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Unix(1_700_000_000, 0)}
	mgr := NewManagerWithClock(store, clock, time.Minute)

	mgr.Get()
	clock.Advance(30 * time.Second)
	mgr.Get()
	if store.keysCalls != 1 {
		t.Errorf("store read %d times within TTL, want 1", store.keysCalls)
	}

	clock.Advance(31 * time.Second)
	mgr.Get()
	if store.keysCalls != 2 {
		t.Errorf("store read %d times after TTL, want 2", store.keysCalls)
	}
}

func TestSetInvalidatesCache(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Unix(1_700_000_000, 0)}
	mgr := NewManagerWithClock(store, clock, time.Hour)

	mgr.Get()
	mgr.Set("ocr.model", "tesseract")

	s, _ := mgr.Get()
	if s.OCR.Model != "tesseract" {
		t.Errorf("stale cache after Set: %+v", s.OCR)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	mgr := NewManager(newMockStore())
	mgr.Set("a.b", "1")

	s, _ := mgr.Get()
	s.Extra["a.b"] = "mutated"

	again, _ := mgr.Get()
	if again.Extra["a.b"] != "1" {
		t.Errorf("cached settings were mutated: %v", again.Extra)
	}
}

func TestClear(t *testing.T) {
	store := newMockStore()
	store.data["draft:1"] = "keep"
	mgr := NewManager(store)
	mgr.Set("ocr.model", "gemini")

	if err := mgr.Clear(); err != nil {
		t.Fatal(err)
	}
	s, _ := mgr.Get()
	if s.OCR.Model != "" {
		t.Errorf("settings survived Clear: %+v", s)
	}
	if store.data["draft:1"] != "keep" {
		t.Error("Clear removed a non-settings key")
	}
}

func TestApplyOverlaysConfig(t *testing.T) {
	mgr := NewManager(newMockStore())
	mgr.Set("ocr.model", "gemini")
	mgr.Set("image.quality", "60")

	var cfg config.Config
	cfg.OCR.Model = "auto"
	cfg.OCR.Language = "auto"
	cfg.Image.Quality = 90
	cfg.Image.Zoom = 1

	got, err := mgr.Apply(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got.OCR.Model != "gemini" || got.OCR.Language != "auto" {
		t.Errorf("OCR = %+v", got.OCR)
	}
	if got.Image.Quality != 60 || got.Image.Zoom != 1 {
		t.Errorf("Image = %+v", got.Image)
	}
}

func TestMalformedStoredValueSkipped(t *testing.T) {
	store := newMockStore()
	store.data[Prefix+"image.quality"] = "high"
	mgr := NewManager(store)

	s, err := mgr.Get()
	if err != nil {
		t.Fatal(err)
	}
	if s.Image.Quality != 0 {
		t.Errorf("Quality = %d, want 0 for malformed value", s.Image.Quality)
	}
}
