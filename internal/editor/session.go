// Package editor autosaves edits to an extraction's text.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mnemion/ocrdesk/internal/notify"
	"github.com/mnemion/ocrdesk/internal/storage"
)

const (
	DraftPrefix  = "draft:"
	DefaultDelay = time.Second

	msgSaveFailed = "저장에 실패했습니다: %s"
)

var ErrClosed = errors.New("editor session is closed")

// Saver persists text. Implemented by api.Client.
type Saver interface {
	UpdateText(ctx context.Context, id int64, text string) error
}

// Drafts holds unsaved text between runs. Implemented by storage.Store.
type Drafts interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

type Options struct {
	// Delay is the quiet period after the last Update before saving.
	Delay    time.Duration
	Notifier notify.Notifier
	// OnSaved is called after every successful save.
	OnSaved func(at time.Time)
}

// Session autosaves one extraction. Every Update restarts a single timer;
// the text is saved once the timer fires without a further edit.
type Session struct {
	id     int64
	saver  Saver
	drafts Drafts
	opts   Options
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer
	saving sync.Mutex // serialises saves

	mu        sync.Mutex
	text      string
	gen       uint64 // bumped by every Update
	savedGen  uint64
	lastSaved time.Time
	closed    bool
}

func NewSession(id int64, saver Saver, drafts Drafts, opts Options) *Session {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     id,
		saver:  saver,
		drafts: drafts,
		opts:   opts,
		log:    slog.Default().With("component", "editor", "extraction", id),
		ctx:    ctx,
		cancel: cancel,
	}
	s.timer = time.AfterFunc(opts.Delay, s.fire)
	s.timer.Stop()
	return s
}

func draftKey(id int64) string { return DraftPrefix + strconv.FormatInt(id, 10) }

// Draft returns text left unsaved by an earlier session, if any.
func (s *Session) Draft() (string, bool) {
	if s.drafts == nil {
		return "", false
	}
	v, err := s.drafts.Get(draftKey(s.id))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("reading draft", "error", err)
		}
		return "", false
	}
	return v, true
}

// Update records text as the latest edit and restarts the save timer.
func (s *Session) Update(text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.text = text
	s.gen++
	s.mu.Unlock()

	if s.drafts != nil {
		if err := s.drafts.Set(draftKey(s.id), text); err != nil {
			s.log.Warn("storing draft", "error", err)
		}
	}
	s.timer.Reset(s.opts.Delay)
	return nil
}

// Dirty reports whether the latest edit has not been saved yet.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != s.savedGen
}

func (s *Session) LastSaved() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSaved
}

// Flush saves the latest edit now instead of waiting for the timer.
func (s *Session) Flush(ctx context.Context) error {
	s.timer.Stop()
	return s.save(ctx)
}

// Close stops the timer and aborts a save in progress. An unsaved edit
// stays in the draft store.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.timer.Stop()
	s.cancel()
}

func (s *Session) fire() {
	if err := s.save(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("autosave failed", "error", err)
	}
}

func (s *Session) save(ctx context.Context) error {
	s.saving.Lock()
	defer s.saving.Unlock()

	s.mu.Lock()
	if s.gen == s.savedGen {
		s.mu.Unlock()
		return nil
	}
	text, gen := s.text, s.gen
	s.mu.Unlock()

	// Close aborts the request whichever context the caller passed.
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	unlink := context.AfterFunc(s.ctx, stop)
	defer unlink()

	if err := s.saver.UpdateText(ctx, s.id, text); err != nil {
		if ctx.Err() == nil && s.opts.Notifier != nil {
			s.opts.Notifier.Error(fmt.Sprintf(msgSaveFailed, err))
		}
		return fmt.Errorf("saving extraction %d: %w", s.id, err)
	}

	now := time.Now()
	s.mu.Lock()
	s.savedGen = gen
	s.lastSaved = now
	current := s.gen == gen
	s.mu.Unlock()

	if current && s.drafts != nil {
		if err := s.drafts.Delete(draftKey(s.id)); err != nil {
			s.log.Warn("clearing draft", "error", err)
		}
	}
	s.log.Debug("saved", "bytes", len(text))
	if s.opts.OnSaved != nil {
		s.opts.OnSaved(now)
	}
	return nil
}
