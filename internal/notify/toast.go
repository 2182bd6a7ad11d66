// Package notify holds the process-wide toast: one transient message at a
// time, replaced by the next and dismissed by timer or by Hide.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

type Type string

const (
	Success Type = "success"
	Error   Type = "error"
	Info    Type = "info"
	Warning Type = "warning"
)

// DefaultDuration applies when Show is given no duration.
const DefaultDuration = 3 * time.Second

type Toast struct {
	ID       int64
	Message  string
	Type     Type
	Duration time.Duration
}

// Store is a single-slot toast store. The zero value is not usable; call New.
type Store struct {
	mu      sync.Mutex
	current *Toast
	timer   *time.Timer
	lastID  int64
	subs    map[int]func(*Toast)
	nextSub int
	now     func() time.Time
	log     *slog.Logger
}

func New() *Store {
	return &Store{
		subs: make(map[int]func(*Toast)),
		now:  time.Now,
		log:  slog.Default().With("component", "notify"),
	}
}

// Show replaces the current toast and schedules its dismissal.
func (s *Store) Show(message string, typ Type, d time.Duration) Toast {
	if d <= 0 {
		d = DefaultDuration
	}

	s.mu.Lock()
	id := s.now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	t := Toast{ID: id, Message: message, Type: typ, Duration: d}
	s.current = &t
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, func() { s.expire(id) })
	subs := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Debug("toast", "type", typ, "message", message)
	notifyAll(subs, &t)
	return t
}

// expire dismisses the toast with the given id if it is still showing, so a
// stale timer never hides a newer toast.
func (s *Store) expire(id int64) {
	s.mu.Lock()
	if s.current == nil || s.current.ID != id {
		s.mu.Unlock()
		return
	}
	s.current = nil
	s.timer = nil
	subs := s.snapshotLocked()
	s.mu.Unlock()

	notifyAll(subs, nil)
}

// Hide dismisses the current toast, if any.
func (s *Store) Hide() {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return
	}
	s.current = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	subs := s.snapshotLocked()
	s.mu.Unlock()

	notifyAll(subs, nil)
}

// Current returns the visible toast.
func (s *Store) Current() (Toast, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Toast{}, false
	}
	return *s.current, true
}

// Subscribe registers fn for every change; fn receives nil on dismissal.
// The returned function unsubscribes.
func (s *Store) Subscribe(fn func(*Toast)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) snapshotLocked() []func(*Toast) {
	out := make([]func(*Toast), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

func notifyAll(subs []func(*Toast), t *Toast) {
	for _, fn := range subs {
		fn(t)
	}
}

func (s *Store) Success(message string) { s.Show(message, Success, 0) }
func (s *Store) Error(message string)   { s.Show(message, Error, 0) }
func (s *Store) Info(message string)    { s.Show(message, Info, 0) }
func (s *Store) Warning(message string) { s.Show(message, Warning, 0) }

// Notifier is the subset of Store that flows report through.
type Notifier interface {
	Success(message string)
	Error(message string)
	Info(message string)
	Warning(message string)
}

var _ Notifier = (*Store)(nil)
