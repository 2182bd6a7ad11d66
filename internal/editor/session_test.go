package editor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mnemion/ocrdesk/internal/storage"
)

type mockSaver struct {
	mu    sync.Mutex
	saves []string
	err   error
	block chan struct{} // when set, UpdateText waits for it or ctx
	calls chan string
	ended chan error
}

func (m *mockSaver) UpdateText(ctx context.Context, id int64, text string) error {
	if m.calls != nil {
		m.calls <- text
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			if m.ended != nil {
				m.ended <- ctx.Err()
			}
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves = append(m.saves, text)
	return nil
}

func (m *mockSaver) saved() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.saves...)
}

type mockDrafts struct {
	mu   sync.Mutex
	data map[string]string
}

func newMockDrafts() *mockDrafts { return &mockDrafts{data: make(map[string]string)} }

func (m *mockDrafts) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (m *mockDrafts) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockDrafts) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type errNotifier struct {
	mu   sync.Mutex
	errs []string
}

func (n *errNotifier) Success(string) {}
func (n *errNotifier) Info(string)    {}
func (n *errNotifier) Warning(string) {}

func (n *errNotifier) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, msg)
}

func (n *errNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.errs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUpdateDebouncesToOneSave(t *testing.T) {
	saver := &mockSaver{}
	drafts := newMockDrafts()
	s := NewSession(7, saver, drafts, Options{Delay: 100 * time.Millisecond})
	defer s.Close()

	for _, text := range []string{"a", "ab", "abc"} {
		if err := s.Update(text); err != nil {
			t.Fatalf("Update: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got, err := drafts.Get("draft:7"); err != nil || got != "abc" {
		t.Errorf("draft = %q, %v; want abc", got, err)
	}

	waitFor(t, func() bool { return len(saver.saved()) > 0 })
	time.Sleep(150 * time.Millisecond)

	if got := saver.saved(); len(got) != 1 || got[0] != "abc" {
		t.Errorf("saves = %v, want [abc]", got)
	}
	if _, err := drafts.Get("draft:7"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("draft not cleared after save: %v", err)
	}
	if s.Dirty() {
		t.Error("session still dirty after save")
	}
	if s.LastSaved().IsZero() {
		t.Error("LastSaved not set")
	}
}

func TestFlushSavesImmediately(t *testing.T) {
	saver := &mockSaver{}
	var savedAt time.Time
	s := NewSession(1, saver, newMockDrafts(), Options{
		Delay:   time.Hour,
		OnSaved: func(at time.Time) { savedAt = at },
	})
	defer s.Close()

	s.Update("now")
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := saver.saved(); len(got) != 1 || got[0] != "now" {
		t.Errorf("saves = %v", got)
	}
	if savedAt.IsZero() {
		t.Error("OnSaved not called")
	}

	// Nothing new to save.
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if n := len(saver.saved()); n != 1 {
		t.Errorf("saves = %d after clean flush, want 1", n)
	}
}

func TestSaveFailureToastsAndKeepsDraft(t *testing.T) {
	saver := &mockSaver{err: errors.New("서버 오류")}
	drafts := newMockDrafts()
	n := &errNotifier{}
	s := NewSession(3, saver, drafts, Options{Delay: time.Hour, Notifier: n})
	defer s.Close()

	s.Update("unsaved")
	if err := s.Flush(context.Background()); err == nil {
		t.Fatal("Flush succeeded, want error")
	}
	if n.count() != 1 {
		t.Errorf("toasts = %d, want 1", n.count())
	}
	if !s.Dirty() {
		t.Error("failed save cleared dirty flag")
	}
	if v, _ := drafts.Get("draft:3"); v != "unsaved" {
		t.Errorf("draft = %q, want unsaved", v)
	}

	saver.mu.Lock()
	saver.err = nil
	saver.mu.Unlock()
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("retry Flush: %v", err)
	}
	if s.Dirty() {
		t.Error("still dirty after successful retry")
	}
}

func TestEditDuringSaveKeepsDraft(t *testing.T) {
	saver := &mockSaver{block: make(chan struct{}), calls: make(chan string, 4)}
	drafts := newMockDrafts()
	s := NewSession(5, saver, drafts, Options{Delay: time.Hour})
	defer s.Close()

	s.Update("first")
	done := make(chan error, 1)
	go func() { done <- s.Flush(context.Background()) }()
	<-saver.calls

	s.Update("second")
	close(saver.block)
	if err := <-done; err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if !s.Dirty() {
		t.Error("edit made during save should leave the session dirty")
	}
	if v, _ := drafts.Get("draft:5"); v != "second" {
		t.Errorf("draft = %q, want second", v)
	}
}

func TestCloseAbortsPendingAndInFlightSaves(t *testing.T) {
	saver := &mockSaver{block: make(chan struct{}), calls: make(chan string, 4), ended: make(chan error, 1)}
	drafts := newMockDrafts()
	s := NewSession(9, saver, drafts, Options{Delay: 10 * time.Millisecond})

	s.Update("text")
	<-saver.calls
	s.Close()

	select {
	case err := <-saver.ended:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("in-flight save ended with %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight save was not aborted")
	}
	if len(saver.saved()) != 0 {
		t.Error("save completed after Close")
	}
	if v, _ := drafts.Get("draft:9"); v != "text" {
		t.Errorf("draft = %q, want it kept for recovery", v)
	}
	if err := s.Update("more"); !errors.Is(err, ErrClosed) {
		t.Errorf("Update after Close = %v, want ErrClosed", err)
	}
}

func TestDraftRecovery(t *testing.T) {
	drafts := newMockDrafts()
	drafts.Set("draft:11", "left over")

	s := NewSession(11, &mockSaver{}, drafts, Options{})
	defer s.Close()

	got, ok := s.Draft()
	if !ok || got != "left over" {
		t.Errorf("Draft() = %q, %v", got, ok)
	}

	other := NewSession(12, &mockSaver{}, drafts, Options{})
	defer other.Close()
	if _, ok := other.Draft(); ok {
		t.Error("unexpected draft for a fresh extraction")
	}
}

func TestDefaultDelay(t *testing.T) {
	s := NewSession(1, &mockSaver{}, nil, Options{})
	defer s.Close()
	if s.opts.Delay != DefaultDelay {
		t.Errorf("delay = %v, want %v", s.opts.Delay, DefaultDelay)
	}
}
