//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.ocrdesk.app"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "ocrdesk")
	}
	return "ocrdesk-data"
}

// defaultsBackend stores settings in UserDefaults through the defaults CLI.
// Reads are memoized for the life of the process; a Load touches every key.
type defaultsBackend struct {
	domain string
	cache  map[string]defaultsValue
}

type defaultsValue struct {
	val string
	ok  bool
}

func nativeBackend() ConfigBackend {
	return &defaultsBackend{domain: defaultsDomain, cache: make(map[string]defaultsValue)}
}

// missing reports the defaults exit status for an absent key.
func missing(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 1
}

func (b *defaultsBackend) read(key string) (string, bool, error) {
	if v, ok := b.cache[key]; ok {
		return v.val, v.ok, nil
	}
	out, err := exec.Command("defaults", "read", b.domain, key).CombinedOutput()
	s := strings.TrimSpace(string(out))
	if err != nil {
		if missing(err) {
			b.cache[key] = defaultsValue{}
			return "", false, nil
		}
		return "", false, fmt.Errorf("defaults read %s: %w: %s", key, err, s)
	}
	b.cache[key] = defaultsValue{val: s, ok: true}
	return s, true, nil
}

func (b *defaultsBackend) write(key string, args ...string) error {
	delete(b.cache, key)
	cmd := append([]string{"write", b.domain, key}, args...)
	if out, err := exec.Command("defaults", cmd...).CombinedOutput(); err != nil {
		return fmt.Errorf("defaults write %s: %w: %s", key, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (b *defaultsBackend) GetString(key string) (string, bool, error) {
	return b.read(key)
}

func (b *defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.read(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return i, true, nil
}

func (b *defaultsBackend) SetString(key, val string) error {
	return b.write(key, "-string", val)
}

func (b *defaultsBackend) SetInt(key string, val int) error {
	return b.write(key, "-int", strconv.Itoa(val))
}

func (b *defaultsBackend) Delete(key string) error {
	delete(b.cache, key)
	if err := exec.Command("defaults", "delete", b.domain, key).Run(); err != nil && !missing(err) {
		return fmt.Errorf("defaults delete %s: %w", key, err)
	}
	return nil
}
