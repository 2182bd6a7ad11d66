package imageproc

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/disintegration/imaging"
)

// Previews owns rendered preview files on disk. Every file belongs to one
// owner; replacing or releasing an owner's preview removes the old file.
type Previews struct {
	dir string

	mu    sync.Mutex
	files map[string]string // owner → path
	log   *slog.Logger
}

// NewPreviews stores previews under dir, creating it if needed. An empty
// dir uses a fresh temporary directory that Close removes.
func NewPreviews(dir string) (*Previews, error) {
	if dir == "" {
		d, err := os.MkdirTemp("", "ocrdesk-preview-")
		if err != nil {
			return nil, fmt.Errorf("creating preview dir: %w", err)
		}
		dir = d
	} else if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating preview dir: %w", err)
	}
	return &Previews{
		dir:   dir,
		files: make(map[string]string),
		log:   slog.Default().With("component", "previews"),
	}, nil
}

func (p *Previews) Dir() string { return p.dir }

// Put renders img as owner's preview PNG and returns its path. Any
// previous preview of owner is released first.
func (p *Previews) Put(owner string, img image.Image) (string, error) {
	f, err := os.CreateTemp(p.dir, "preview-*.png")
	if err != nil {
		return "", fmt.Errorf("creating preview file: %w", err)
	}
	path := f.Name()
	if err := imaging.Encode(f, img, imaging.PNG); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing preview: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("writing preview: %w", err)
	}

	p.mu.Lock()
	old := p.files[owner]
	p.files[owner] = path
	p.mu.Unlock()

	p.remove(old)
	return path, nil
}

// Path returns owner's current preview.
func (p *Previews) Path(owner string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	path, ok := p.files[owner]
	return path, ok
}

// Release deletes owner's preview.
func (p *Previews) Release(owner string) {
	p.mu.Lock()
	path := p.files[owner]
	delete(p.files, owner)
	p.mu.Unlock()

	p.remove(path)
}

// Len is the number of live previews.
func (p *Previews) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.files)
}

// Close releases every preview and removes the directory if it is empty.
func (p *Previews) Close() error {
	p.mu.Lock()
	files := p.files
	p.files = make(map[string]string)
	p.mu.Unlock()

	for _, path := range files {
		p.remove(path)
	}
	entries, err := os.ReadDir(p.dir)
	if err == nil && len(entries) == 0 {
		return os.Remove(p.dir)
	}
	return nil
}

func (p *Previews) remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.log.Debug("releasing preview", "path", filepath.Base(path), "error", err)
	}
}
