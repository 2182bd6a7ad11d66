package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// fileBackend keeps settings in a JSON document grouped by section:
//
//	{"api": {"base_url": "https://ocr.example.com"}, "batch": {"concurrency": 2}}
//
// Flat "section.name" keys are still read so hand-written files work.
type fileBackend struct {
	path string
	doc  map[string]map[string]any
	flat map[string]any
	log  *slog.Logger
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{
		path: path,
		doc:  make(map[string]map[string]any),
		flat: make(map[string]any),
		log:  slog.Default().With("component", "config"),
	}
	b.load()
	return b
}

func (b *fileBackend) load() {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			b.log.Warn("could not read config file, using defaults", "path", b.path, "error", err)
		}
		return
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		b.log.Warn("could not parse config file, using defaults", "path", b.path, "error", err)
		return
	}
	for k, v := range raw {
		if !strings.Contains(k, ".") {
			var section map[string]any
			if json.Unmarshal(v, &section) == nil {
				b.doc[k] = section
				continue
			}
		}
		var val any
		if err := json.Unmarshal(v, &val); err == nil {
			b.flat[k] = val
		}
	}
}

func (b *fileBackend) lookup(key string) (any, bool) {
	section, name, _ := strings.Cut(key, ".")
	if v, ok := b.doc[section][name]; ok {
		return v, true
	}
	v, ok := b.flat[key]
	return v, ok
}

func (b *fileBackend) put(key string, v any) error {
	section, name, _ := strings.Cut(key, ".")
	if b.doc[section] == nil {
		b.doc[section] = make(map[string]any)
	}
	b.doc[section][name] = v
	delete(b.flat, key)
	return b.save()
}

// save replaces the file atomically so a crash never leaves half a document.
func (b *fileBackend) save() error {
	out := make(map[string]any, len(b.doc)+len(b.flat))
	for k, v := range b.flat {
		out[k] = v
	}
	for k, v := range b.doc {
		out[k] = v
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.lookup(key)
	if !ok {
		return "", false, nil
	}
	if s, ok := v.(string); ok {
		return s, true, nil
	}
	return fmt.Sprint(v), true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.lookup(key)
	if !ok {
		return 0, false, nil
	}
	switch val := v.(type) {
	case float64:
		if val < math.MinInt || val > math.MaxInt || val != math.Trunc(val) {
			return 0, true, fmt.Errorf("%s: %v is not an integer", key, val)
		}
		return int(val), true, nil
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, true, fmt.Errorf("%s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("%s: unexpected %T", key, v)
	}
}

func (b *fileBackend) SetString(key, val string) error { return b.put(key, val) }

func (b *fileBackend) SetInt(key string, val int) error { return b.put(key, val) }

func (b *fileBackend) Delete(key string) error {
	section, name, _ := strings.Cut(key, ".")
	if m := b.doc[section]; m != nil {
		delete(m, name)
		if len(m) == 0 {
			delete(b.doc, section)
		}
	}
	delete(b.flat, key)
	return b.save()
}
