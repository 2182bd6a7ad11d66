// Package history caches the signed-in user's extraction records and
// applies delete, rename and bookmark changes against the server.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mnemion/ocrdesk/internal/api"
	"github.com/mnemion/ocrdesk/internal/notify"
	"github.com/mnemion/ocrdesk/internal/storage"
)

const (
	defaultTTL   = 10 * time.Second
	defaultReuse = 500 * time.Millisecond
)

var (
	// ErrToggleInFlight rejects a second bookmark toggle for a record whose
	// first toggle has not settled.
	ErrToggleInFlight = errors.New("북마크 변경이 이미 진행 중입니다")
	ErrEmptyName      = errors.New("파일명을 입력해주세요.")
	ErrInvalidID      = errors.New("유효하지 않은 추출 ID입니다")
)

// Client is the part of api.Client the store uses.
type Client interface {
	ListExtractions(ctx context.Context, ignoreCache bool) ([]api.Extraction, error)
	DeleteExtraction(ctx context.Context, id int64) error
	RenameExtraction(ctx context.Context, id int64, filename string) error
	ToggleBookmark(ctx context.Context, id int64) (bool, error)
}

// Snapshotter persists the last fetched list for offline reads.
// Implemented by storage.Store.
type Snapshotter interface {
	ReplaceExtractions(rows []storage.ExtractionRow) error
	Extractions() ([]storage.ExtractionRow, error)
}

type Options struct {
	// TTL is how long a fetched list satisfies Fetch(ctx, false).
	TTL time.Duration
	// Reuse is how long a fetched list satisfies Fetch(ctx, true).
	Reuse    time.Duration
	Location *time.Location
	Notifier notify.Notifier
	Snapshot Snapshotter
}

type Store struct {
	client   Client
	snap     Snapshotter
	notifier notify.Notifier
	loc      *time.Location
	ttl      time.Duration
	reuse    time.Duration
	now      func() time.Time
	log      *slog.Logger

	flight singleflight.Group

	mu        sync.Mutex
	list      []Extraction
	fetchedAt time.Time
	toggling  map[int64]bool
}

func New(client Client, opts Options) *Store {
	s := &Store{
		client:   client,
		snap:     opts.Snapshot,
		notifier: opts.Notifier,
		loc:      opts.Location,
		ttl:      opts.TTL,
		reuse:    opts.Reuse,
		now:      time.Now,
		log:      slog.Default().With("component", "history"),
		toggling: make(map[int64]bool),
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}
	if s.reuse <= 0 {
		s.reuse = defaultReuse
	}
	return s
}

// Location is the zone timestamps are shown in.
func (s *Store) Location() *time.Location { return s.loc }

// Fetch returns the records newest first. A cached list younger than the
// TTL is returned without a request unless ignoreCache is set; even then a
// list fetched moments ago is reused. Concurrent calls share one request.
// On failure the previous list is returned with the error.
func (s *Store) Fetch(ctx context.Context, ignoreCache bool) ([]Extraction, error) {
	s.mu.Lock()
	if s.list != nil {
		age := s.now().Sub(s.fetchedAt)
		if age < s.reuse || (!ignoreCache && age < s.ttl) {
			out := clone(s.list)
			s.mu.Unlock()
			return out, nil
		}
	}
	s.mu.Unlock()

	v, err, shared := s.flight.Do("extractions", func() (any, error) {
		return s.fetch(ctx, ignoreCache)
	})
	if shared {
		s.log.Debug("joined in-flight fetch")
	}
	if err != nil {
		s.toast(fmt.Sprintf("추출 기록을 불러오는데 실패했습니다: %s", err))
		return s.List(), err
	}
	return clone(v.([]Extraction)), nil
}

func (s *Store) fetch(ctx context.Context, ignoreCache bool) ([]Extraction, error) {
	raw, err := s.client.ListExtractions(ctx, ignoreCache)
	if err != nil {
		return nil, err
	}
	list := make([]Extraction, 0, len(raw))
	for _, r := range raw {
		list = append(list, fromAPI(r, s.loc))
	}
	sortNewestFirst(list)

	s.mu.Lock()
	s.list = list
	s.fetchedAt = s.now()
	s.mu.Unlock()

	s.persist(list)
	s.log.Debug("fetched history", "count", len(list))
	return list, nil
}

// List returns the cached records without fetching.
func (s *Store) List() []Extraction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.list)
}

// Get looks a record up in the cached list.
func (s *Store) Get(id int64) (Extraction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.list {
		if e.ID == id {
			return e, true
		}
	}
	return Extraction{}, false
}

// Invalidate forces the next Fetch to hit the server.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.fetchedAt = time.Time{}
	s.mu.Unlock()
}

// Snapshot reads the list persisted by the last successful fetch.
func (s *Store) Snapshot() ([]Extraction, error) {
	if s.snap == nil {
		return nil, nil
	}
	rows, err := s.snap.Extractions()
	if err != nil {
		return nil, fmt.Errorf("reading history snapshot: %w", err)
	}
	out := make([]Extraction, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r, s.loc))
	}
	return out, nil
}

// Delete removes a record on the server and, once confirmed, from the
// cached list. Failures are toasted and leave the list untouched.
func (s *Store) Delete(ctx context.Context, id int64) bool {
	if id <= 0 {
		s.toast(ErrInvalidID.Error())
		return false
	}
	if err := s.client.DeleteExtraction(ctx, id); err != nil {
		s.toast(fmt.Sprintf("추출 기록 삭제에 실패했습니다: %s", err))
		return false
	}

	s.mu.Lock()
	kept := s.list[:0:0]
	for _, e := range s.list {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	if s.list != nil {
		s.list = kept
	}
	list := clone(s.list)
	s.mu.Unlock()

	s.persist(list)
	if s.notifier != nil {
		s.notifier.Success("추출 기록이 삭제되었습니다.")
	}
	return true
}

// Rename trims name and applies it locally before asking the server; a
// failed rename is reverted and its error returned for inline display.
func (s *Store) Rename(ctx context.Context, id int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if id <= 0 {
		return ErrInvalidID
	}

	prev, found := s.update(id, func(e *Extraction) { e.Filename = name })
	if err := s.client.RenameExtraction(ctx, id, name); err != nil {
		if found {
			s.update(id, func(e *Extraction) { e.Filename = prev.Filename })
		}
		return err
	}
	s.persist(s.List())
	return nil
}

// ToggleBookmark flips the bookmark on the server and adopts the state the
// server reports.
func (s *Store) ToggleBookmark(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, ErrInvalidID
	}
	s.mu.Lock()
	if s.toggling[id] {
		s.mu.Unlock()
		return false, ErrToggleInFlight
	}
	s.toggling[id] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.toggling, id)
		s.mu.Unlock()
	}()

	state, err := s.client.ToggleBookmark(ctx, id)
	if err != nil {
		s.toast(fmt.Sprintf("북마크 변경에 실패했습니다: %s", err))
		return false, err
	}
	s.update(id, func(e *Extraction) { e.IsBookmarked = state })
	s.persist(s.List())
	return state, nil
}

// Groups buckets the cached list by day relative to now.
func (s *Store) Groups(now time.Time) []Group {
	return GroupByDay(s.List(), now.In(s.loc))
}

// update applies fn to the cached record with id and returns the record
// as it was before.
func (s *Store) update(id int64, fn func(*Extraction)) (Extraction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.list {
		if s.list[i].ID == id {
			prev := s.list[i]
			fn(&s.list[i])
			return prev, true
		}
	}
	return Extraction{}, false
}

func (s *Store) persist(list []Extraction) {
	if s.snap == nil || list == nil {
		return
	}
	rows := make([]storage.ExtractionRow, 0, len(list))
	for _, e := range list {
		rows = append(rows, toRow(e))
	}
	if err := s.snap.ReplaceExtractions(rows); err != nil {
		s.log.Warn("saving history snapshot", "error", err)
	}
}

func (s *Store) toast(msg string) {
	if s.notifier != nil {
		s.notifier.Error(msg)
	}
}

func clone(list []Extraction) []Extraction {
	if list == nil {
		return nil
	}
	return append([]Extraction(nil), list...)
}
