// Package upload validates image files and runs them through OCR, one at a
// time or as a batch.
package upload

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// MaxFileSize is the largest accepted upload.
const MaxFileSize = 10 << 20

// Rejection reasons shown to the user.
const (
	MsgInvalidType = "이미지 파일만 업로드 가능합니다 (JPG, JPEG, PNG)"
	MsgTooLarge    = "파일 크기는 10MB 이하여야 합니다. 이미지 파일만 업로드 가능합니다 (JPG, JPEG, PNG)"
)

// ErrInvalidFile wraps every validation failure.
var ErrInvalidFile = errors.New("invalid file")

var (
	allowedMIME = []string{"image/jpeg", "image/jpg", "image/png"}
	allowedExt  = []string{".jpg", ".jpeg", ".png"}
)

// File is a candidate upload held in memory.
type File struct {
	Name         string // name sent to the server
	OriginalName string // name the user chose
	Size         int64
	MIMEType     string
	Data         []byte
}

// Key identifies a file for duplicate suppression.
func (f File) Key() string {
	return fmt.Sprintf("%s\x00%d", f.displayName(), f.Size)
}

func (f File) displayName() string {
	if f.OriginalName != "" {
		return f.OriginalName
	}
	return f.Name
}

// Ext is the lower-cased extension of the original name.
func (f File) Ext() string {
	return strings.ToLower(filepath.Ext(f.displayName()))
}

// ReadFile loads path and sniffs its content type.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return FromBytes(filepath.Base(path), data), nil
}

// FromBytes wraps data named name, sniffing its content type.
func FromBytes(name string, data []byte) File {
	return File{
		Name:         name,
		OriginalName: name,
		Size:         int64(len(data)),
		MIMEType:     http.DetectContentType(data),
		Data:         data,
	}
}

// ValidationError carries the user-facing reason a file was rejected.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Unwrap() error { return ErrInvalidFile }

// Validate accepts a file only when its size is within MaxFileSize and
// both its content type and its extension are allowed image types.
func Validate(f File) error {
	switch {
	case f.Size > MaxFileSize:
		return &ValidationError{Name: f.displayName(), Reason: MsgTooLarge}
	case !slices.Contains(allowedMIME, normalizeMIME(f.MIMEType)):
		return &ValidationError{Name: f.displayName(), Reason: MsgInvalidType}
	case !slices.Contains(allowedExt, f.Ext()):
		return &ValidationError{Name: f.displayName(), Reason: MsgInvalidType}
	}
	return nil
}

func normalizeMIME(m string) string {
	m, _, _ = strings.Cut(m, ";")
	return strings.ToLower(strings.TrimSpace(m))
}
