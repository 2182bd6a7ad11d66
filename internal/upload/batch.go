package upload

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mnemion/ocrdesk/internal/api"
	"github.com/mnemion/ocrdesk/internal/notify"
	"github.com/mnemion/ocrdesk/internal/storage"
)

// Status is a batch entry's lifecycle position.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Terminal reports whether no further transition will happen.
func (s Status) Terminal() bool { return s == StatusSuccess || s == StatusError }

// Entry is one queued file.
type Entry struct {
	ID            string
	File          File
	SanitizedName string
	Status        Status
	Progress      int
	Result        *Result
	Error         string
}

// Base64Extractor sends one inline upload. Implemented by api.Client.
type Base64Extractor interface {
	ExtractBase64(ctx context.Context, req api.Base64Request) (json.RawMessage, error)
}

// Journal records entry outcomes. Implemented by storage.Store.
type Journal interface {
	SaveUpload(u storage.UploadRecord) error
}

type BatchOptions struct {
	// Concurrency bounds in-flight uploads; values below 1 mean 1, which
	// keeps uploads strictly sequential.
	Concurrency int
	// RatePerSecond caps upload starts; 0 disables the limiter.
	RatePerSecond float64
	Model         string
	Language      string
	Journal       Journal
	Notifier      notify.Notifier
}

// Update is passed to the progress callback after every entry change.
type Update struct {
	Entry    Entry
	Percent  int // aggregate over the whole batch
	Complete bool
}

// Batch is a queue of files uploaded by Run.
type Batch struct {
	client Base64Extractor
	opts   BatchOptions
	id     string
	now    func() time.Time
	log    *slog.Logger

	mu      sync.Mutex
	entries []*Entry
	running bool
}

func NewBatch(client Base64Extractor, opts BatchOptions) *Batch {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Batch{
		client: client,
		opts:   opts,
		id:     uuid.NewString(),
		now:    time.Now,
		log:    slog.Default().With("component", "batch"),
	}
}

func (b *Batch) ID() string { return b.id }

// Add queues files in order. Invalid files are kept as error entries with
// the reason; a file whose name and size match a queued entry is skipped.
// It returns the entries created.
func (b *Batch) Add(files ...File) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]bool, len(b.entries))
	for _, e := range b.entries {
		seen[e.File.Key()] = true
	}

	var added []Entry
	for _, f := range files {
		if seen[f.Key()] {
			b.log.Debug("skipping duplicate", "file", f.displayName(), "size", f.Size)
			continue
		}
		seen[f.Key()] = true

		e := &Entry{ID: uuid.NewString(), File: f, Status: StatusPending}
		if err := Validate(f); err != nil {
			e.Status = StatusError
			e.Error = err.Error()
		}
		b.entries = append(b.entries, e)
		added = append(added, *e)
	}
	return added
}

// Entries returns a snapshot of the queue.
func (b *Batch) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	for i, e := range b.entries {
		out[i] = *e
	}
	return out
}

// Successful returns the entries that finished with a usable result.
func (b *Batch) Successful() []Entry {
	var out []Entry
	for _, e := range b.Entries() {
		if e.Status == StatusSuccess {
			out = append(out, e)
		}
	}
	return out
}

// Complete reports whether every entry is terminal.
func (b *Batch) Complete() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completeLocked()
}

func (b *Batch) completeLocked() bool {
	for _, e := range b.entries {
		if !e.Status.Terminal() {
			return false
		}
	}
	return true
}

// Percent is the aggregate progress. Terminal entries count as finished.
func (b *Batch) Percent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.percentLocked()
}

func (b *Batch) percentLocked() int {
	if len(b.entries) == 0 {
		return 0
	}
	sum := 0
	for _, e := range b.entries {
		if e.Status.Terminal() {
			sum += ProgressDone
		} else {
			sum += e.Progress
		}
	}
	return sum / len(b.entries)
}

// Remove drops a non-processing entry.
func (b *Batch) Remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.entries {
		if e.ID == id && e.Status != StatusProcessing {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Clear empties the queue unless a run is active.
func (b *Batch) Clear() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return false
	}
	b.entries = nil
	return true
}

var ErrBatchRunning = errors.New("batch is already running")

// Run uploads every pending entry. One entry's failure never stops the
// others. Cancelling ctx aborts in-flight requests and marks them and all
// unstarted entries as cancelled; Run then returns ErrCancelled. onProgress
// may be called from several goroutines when Concurrency > 1.
func (b *Batch) Run(ctx context.Context, onProgress func(Update)) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrBatchRunning
	}
	b.running = true
	var pending []*Entry
	for _, e := range b.entries {
		if e.Status == StatusPending {
			pending = append(pending, e)
		}
	}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	var limiter *rate.Limiter
	if b.opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(b.opts.RatePerSecond), 1)
	}

	var progressMu sync.Mutex
	notifyProgress := func(e *Entry) {
		if onProgress == nil {
			return
		}
		b.mu.Lock()
		u := Update{Entry: *e, Percent: b.percentLocked(), Complete: b.completeLocked()}
		b.mu.Unlock()
		progressMu.Lock()
		defer progressMu.Unlock()
		onProgress(u)
	}

	var g errgroup.Group
	g.SetLimit(b.opts.Concurrency)
	for _, e := range pending {
		if ctx.Err() != nil {
			b.cancel(e)
			notifyProgress(e)
			continue
		}
		g.Go(func() error {
			b.process(ctx, e, limiter, notifyProgress)
			return nil
		})
	}
	g.Wait()

	ok, failed := 0, 0
	for _, e := range b.Entries() {
		switch e.Status {
		case StatusSuccess:
			ok++
		case StatusError:
			failed++
		}
	}
	b.log.Info("batch finished", "batch", b.id, "success", ok, "error", failed)

	if ctx.Err() != nil {
		return ErrCancelled
	}
	if b.opts.Notifier != nil && len(pending) > 0 {
		if failed == 0 {
			b.opts.Notifier.Success("모든 파일의 텍스트 추출이 완료되었습니다.")
		} else {
			b.opts.Notifier.Warning("일부 파일의 텍스트 추출에 실패했습니다.")
		}
	}
	return nil
}

func (b *Batch) process(ctx context.Context, e *Entry, limiter *rate.Limiter, notifyProgress func(*Entry)) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			b.cancel(e)
			notifyProgress(e)
			return
		}
	}
	if ctx.Err() != nil {
		b.cancel(e)
		notifyProgress(e)
		return
	}

	b.mu.Lock()
	e.Status = StatusProcessing
	e.Progress = ProgressPrepared
	e.SanitizedName = SanitizeName(e.File.displayName(), b.now())
	file := e.File
	name := e.SanitizedName
	b.mu.Unlock()
	b.journal(e)
	notifyProgress(e)

	payload := "data:" + normalizeMIME(file.MIMEType) + ";base64," + base64.StdEncoding.EncodeToString(file.Data)
	b.setProgress(e, ProgressSent)
	notifyProgress(e)

	raw, err := b.client.ExtractBase64(ctx, api.Base64Request{
		FileData:         payload,
		Filename:         name,
		OriginalFilename: file.displayName(),
		Language:         b.opts.Language,
		Model:            b.opts.Model,
	})
	switch {
	case ctx.Err() != nil:
		b.cancel(e)
	case err != nil:
		b.finish(e, nil, err.Error())
	default:
		b.setProgress(e, ProgressReceived)
		notifyProgress(e)
		if res, ok := Normalize(raw); ok {
			if res.Filename == "" {
				res.Filename = file.displayName()
			}
			b.finish(e, &res, "")
		} else {
			b.finish(e, nil, ErrNoResult.Error())
		}
	}
	notifyProgress(e)
}

func (b *Batch) setProgress(e *Entry, p int) {
	b.mu.Lock()
	e.Progress = p
	b.mu.Unlock()
}

// finish settles an entry. Status becomes success only with a valid result.
func (b *Batch) finish(e *Entry, res *Result, errMsg string) {
	b.mu.Lock()
	if res != nil && res.Valid() {
		e.Status = StatusSuccess
		e.Progress = ProgressDone
		e.Result = res
		e.Error = ""
	} else {
		e.Status = StatusError
		e.Error = errMsg
	}
	b.mu.Unlock()
	b.journal(e)
}

func (b *Batch) cancel(e *Entry) {
	b.mu.Lock()
	if !e.Status.Terminal() {
		e.Status = StatusError
		e.Error = MsgCancelled
	}
	b.mu.Unlock()
	b.journal(e)
}

func (b *Batch) journal(e *Entry) {
	if b.opts.Journal == nil {
		return
	}
	b.mu.Lock()
	rec := storage.UploadRecord{
		ID:            e.ID,
		BatchID:       b.id,
		OriginalName:  e.File.displayName(),
		SanitizedName: e.SanitizedName,
		Status:        string(e.Status),
		Error:         e.Error,
		CreatedAt:     b.now(),
		UpdatedAt:     b.now(),
	}
	if e.Result != nil {
		rec.ExtractionID = e.Result.ID
	}
	b.mu.Unlock()
	if err := b.opts.Journal.SaveUpload(rec); err != nil {
		b.log.Warn("journaling upload", "entry", e.ID, "error", err)
	}
}
