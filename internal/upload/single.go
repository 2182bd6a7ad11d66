package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mnemion/ocrdesk/internal/api"
	"github.com/mnemion/ocrdesk/internal/imageproc"
	"github.com/mnemion/ocrdesk/internal/notify"
)

type State string

const (
	StateIdle        State = "idle"
	StateValidating  State = "validating"
	StatePreviewing  State = "previewing"
	StateEditingCrop State = "editing-crop"
	StateUploading   State = "uploading"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
)

// Progress milestones reported while a file is processed.
const (
	ProgressPrepared = 10
	ProgressSent     = 40
	ProgressReceived = 90
	ProgressDone     = 100
)

const (
	MsgCancelled   = "업로드가 취소되었습니다"
	msgUploadError = "텍스트 추출에 실패했습니다: %s"
)

var (
	ErrNoFile     = errors.New("선택된 파일이 없습니다")
	ErrWrongState = errors.New("operation not allowed in current state")
	ErrNoResult   = errors.New("서버 응답에 추출 결과가 없습니다")
	ErrCancelled  = errors.New(MsgCancelled)
)

// Extractor sends one multipart upload. Implemented by api.Client.
type Extractor interface {
	Extract(ctx context.Context, req api.ExtractRequest) (json.RawMessage, error)
}

type FlowOptions struct {
	Model    string
	Language string
	// Quality is the JPEG quality used when a crop re-encodes the image.
	Quality      int
	MaxDimension int
	Notifier     notify.Notifier
	// Previews receives rendered previews; nil skips rendering.
	Previews *imageproc.Previews
}

// Flow is the single-file state machine:
// idle → validating → previewing → (editing-crop) → uploading → succeeded.
// A failed upload returns to previewing with the file kept for a retry.
type Flow struct {
	client Extractor
	opts   FlowOptions
	owner  string
	now    func() time.Time
	log    *slog.Logger

	mu       sync.Mutex
	state    State
	file     *File
	img      imageproc.Image
	zoom     float64
	progress int
	result   *Result
	lastErr  string
	preview  string
}

func NewFlow(client Extractor, opts FlowOptions) *Flow {
	return &Flow{
		client: client,
		opts:   opts,
		owner:  "single:" + uuid.NewString(),
		now:    time.Now,
		log:    slog.Default().With("component", "upload"),
		state:  StateIdle,
		zoom:   1,
	}
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// File returns the selected file, possibly cropped.
func (f *Flow) File() (File, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return File{}, false
	}
	return *f.file, true
}

func (f *Flow) Result() (Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.result == nil {
		return Result{}, false
	}
	return *f.result, true
}

func (f *Flow) Progress() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.progress
}

func (f *Flow) Zoom() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.zoom
}

// LastError is the message of the most recent failure.
func (f *Flow) LastError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// PreviewPath is the rendered preview file, if any.
func (f *Flow) PreviewPath() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.preview
}

// Select validates file and, when it passes, decodes it for preview.
// A rejected file leaves the flow idle.
func (f *Flow) Select(file File) error {
	f.mu.Lock()
	if f.state == StateUploading {
		f.mu.Unlock()
		return ErrWrongState
	}
	f.state = StateValidating
	f.mu.Unlock()

	fail := func(err error) error {
		f.mu.Lock()
		f.state = StateIdle
		f.file = nil
		f.lastErr = err.Error()
		f.mu.Unlock()
		f.release()
		f.toast(err.Error())
		return err
	}

	if err := Validate(file); err != nil {
		return fail(err)
	}
	img, err := imageproc.Decode(file.Data)
	if err != nil {
		return fail(&ValidationError{Name: file.displayName(), Reason: MsgInvalidType})
	}

	f.mu.Lock()
	f.file = &file
	f.img = img
	f.zoom = 1
	f.progress = 0
	f.result = nil
	f.lastErr = ""
	f.state = StatePreviewing
	f.mu.Unlock()

	f.render()
	return nil
}

// SetZoom changes the preview scale. The payload is untouched.
func (f *Flow) SetZoom(z float64) float64 {
	z = imageproc.ClampZoom(z)
	f.mu.Lock()
	f.zoom = z
	f.mu.Unlock()
	f.render()
	return z
}

func (f *Flow) BeginCrop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StatePreviewing {
		return ErrWrongState
	}
	f.state = StateEditingCrop
	return nil
}

func (f *Flow) CancelCrop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateEditingCrop {
		f.state = StatePreviewing
	}
}

// Crop rotates by degrees and crops rect, replacing both the preview and
// the upload payload. It may be called from previewing or editing-crop.
func (f *Flow) Crop(rect image.Rectangle, degrees float64) error {
	f.mu.Lock()
	if f.state != StatePreviewing && f.state != StateEditingCrop {
		f.mu.Unlock()
		return ErrWrongState
	}
	img, file := f.img, *f.file
	f.mu.Unlock()

	out, err := img.Transform(rect, degrees)
	if err != nil {
		return err
	}
	data, err := out.Encode(f.opts.Quality)
	if err != nil {
		return err
	}
	file.Data = data
	file.Size = int64(len(data))
	file.MIMEType = out.MIMEType()

	f.mu.Lock()
	f.img = out
	f.file = &file
	f.state = StatePreviewing
	f.mu.Unlock()

	f.render()
	return nil
}

// Upload sends the current payload for OCR. onProgress, if set, sees the
// coarse milestones.
func (f *Flow) Upload(ctx context.Context, onProgress func(int)) (Result, error) {
	f.mu.Lock()
	if f.file == nil {
		f.mu.Unlock()
		return Result{}, ErrNoFile
	}
	if f.state != StatePreviewing {
		f.mu.Unlock()
		return Result{}, ErrWrongState
	}
	f.state = StateUploading
	f.lastErr = ""
	img, file := f.img, *f.file
	f.mu.Unlock()

	report := func(p int) {
		f.mu.Lock()
		f.progress = p
		f.mu.Unlock()
		if onProgress != nil {
			onProgress(p)
		}
	}

	report(ProgressPrepared)
	if shrunk := img.Shrink(f.opts.MaxDimension); shrunk.Img != img.Img {
		data, err := shrunk.Encode(f.opts.Quality)
		if err == nil {
			file.Data, file.Size = data, int64(len(data))
		}
	}
	name := SanitizeName(file.displayName(), f.now())

	report(ProgressSent)
	raw, err := f.client.Extract(ctx, api.ExtractRequest{
		Filename:         name,
		OriginalFilename: file.displayName(),
		ContentType:      file.MIMEType,
		Data:             file.Data,
		Language:         f.opts.Language,
		Model:            f.opts.Model,
	})
	if err != nil {
		if ctx.Err() != nil {
			err = ErrCancelled
		}
		return Result{}, f.fail(err)
	}
	report(ProgressReceived)

	res, ok := Normalize(raw)
	if !ok {
		return Result{}, f.fail(ErrNoResult)
	}
	if res.Filename == "" {
		res.Filename = file.displayName()
	}
	report(ProgressDone)

	f.mu.Lock()
	f.result = &res
	f.state = StateSucceeded
	f.mu.Unlock()
	f.log.Info("extracted", "id", res.ID, "file", file.displayName())
	return res, nil
}

func (f *Flow) fail(err error) error {
	f.mu.Lock()
	f.state = StatePreviewing
	f.progress = 0
	f.lastErr = err.Error()
	f.mu.Unlock()
	f.toast(fmt.Sprintf(msgUploadError, err))
	return err
}

// Reset drops the file and its preview and returns to idle.
func (f *Flow) Reset() {
	f.mu.Lock()
	f.state = StateIdle
	f.file = nil
	f.img = imageproc.Image{}
	f.result = nil
	f.progress = 0
	f.lastErr = ""
	f.zoom = 1
	f.mu.Unlock()
	f.release()
}

// Close releases the preview.
func (f *Flow) Close() { f.Reset() }

func (f *Flow) render() {
	if f.opts.Previews == nil {
		return
	}
	f.mu.Lock()
	img, zoom := f.img, f.zoom
	f.mu.Unlock()
	if img.Img == nil {
		return
	}
	path, err := f.opts.Previews.Put(f.owner, img.Preview(zoom, f.opts.MaxDimension))
	if err != nil {
		f.log.Warn("rendering preview", "error", err)
		return
	}
	f.mu.Lock()
	f.preview = path
	f.mu.Unlock()
}

func (f *Flow) release() {
	if f.opts.Previews != nil {
		f.opts.Previews.Release(f.owner)
	}
	f.mu.Lock()
	f.preview = ""
	f.mu.Unlock()
}

func (f *Flow) toast(msg string) {
	if f.opts.Notifier != nil {
		f.opts.Notifier.Error(msg)
	}
}
