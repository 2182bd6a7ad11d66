package upload

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestValidate(t *testing.T) {
	ok := File{Name: "a.png", Size: 100, MIMEType: "image/png"}
	tests := []struct {
		name   string
		mutate func(*File)
		reason string
	}{
		{"accepted png", func(*File) {}, ""},
		{"accepted jpg", func(f *File) { f.Name, f.MIMEType = "a.jpg", "image/jpeg" }, ""},
		{"accepted jpeg uppercase", func(f *File) { f.Name, f.MIMEType = "A.JPEG", "image/jpeg" }, ""},
		{"accepted image/jpg", func(f *File) { f.Name, f.MIMEType = "a.jpg", "image/jpg" }, ""},
		{"exactly 10MB", func(f *File) { f.Size = MaxFileSize }, ""},
		{"too large", func(f *File) { f.Size = MaxFileSize + 1 }, MsgTooLarge},
		{"zero size with image type", func(f *File) { f.Size = 0 }, ""},
		{"gif mime", func(f *File) { f.MIMEType = "image/gif" }, MsgInvalidType},
		{"pdf ext", func(f *File) { f.Name = "a.pdf" }, MsgInvalidType},
		{"jpeg bytes named txt", func(f *File) { f.Name, f.MIMEType = "a.txt", "image/jpeg" }, MsgInvalidType},
		{"png name, text bytes", func(f *File) { f.MIMEType = "text/plain; charset=utf-8" }, MsgInvalidType},
		{"no extension", func(f *File) { f.Name = "png" }, MsgInvalidType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := ok
			tt.mutate(&f)
			err := Validate(f)
			if tt.reason == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || err.Error() != tt.reason {
				t.Fatalf("Validate() = %v, want %q", err, tt.reason)
			}
			if !errors.Is(err, ErrInvalidFile) {
				t.Error("error does not match ErrInvalidFile")
			}
			if !strings.Contains(err.Error(), "JPG, JPEG, PNG") {
				t.Errorf("reason %q does not name the allowed types", err)
			}
		})
	}
}

func TestReadFileSniffsType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.png")
	if err := os.WriteFile(path, pngHeader, 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if f.Name != "scan.png" || f.MIMEType != "image/png" || f.Size != int64(len(pngHeader)) {
		t.Errorf("file = %+v", f)
	}

	if _, err := ReadFile(filepath.Join(dir, "missing.png")); err == nil {
		t.Error("missing file read")
	}
}

func TestSanitizeName(t *testing.T) {
	now := time.UnixMilli(1_715_000_000_123)
	pattern := regexp.MustCompile(`^1715000000123_[0-9a-f]{8}\.png$`)

	a := SanitizeName("내 영수증 (1).PNG", now)
	b := SanitizeName("내 영수증 (1).PNG", now)
	if !pattern.MatchString(a) {
		t.Errorf("SanitizeName = %q", a)
	}
	if a == b {
		t.Error("two names collided")
	}
	if got := SanitizeName("noext", now); !regexp.MustCompile(`^1715000000123_[0-9a-f]{8}$`).MatchString(got) {
		t.Errorf("SanitizeName(noext) = %q", got)
	}
}
