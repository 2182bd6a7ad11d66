package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

var ErrUnreadablePDF = errors.New("PDF 파일을 읽을 수 없습니다")

// PDFInfo summarises a PDF before it is sent for table extraction.
type PDFInfo struct {
	Pages int
	// HasText reports whether the document carries a text layer; scanned
	// PDFs have none and rely on OCR alone.
	HasText bool
}

// IsPDF checks the magic header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// InspectPDF opens data as a PDF and counts its pages.
func InspectPDF(data []byte) (info PDFInfo, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			info, err = PDFInfo{}, fmt.Errorf("%w: %v", ErrUnreadablePDF, r)
		}
	}()

	if !IsPDF(data) {
		return PDFInfo{}, ErrUnreadablePDF
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return PDFInfo{}, fmt.Errorf("%w: %v", ErrUnreadablePDF, err)
	}
	info = PDFInfo{Pages: r.NumPage()}
	if info.Pages == 0 {
		return PDFInfo{}, fmt.Errorf("%w: no pages", ErrUnreadablePDF)
	}

	info.HasText = hasText(r)
	return info, nil
}

func hasText(r *pdf.Reader) (found bool) {
	defer func() {
		if recover() != nil {
			found = false
		}
	}()
	text, err := r.GetPlainText()
	if err != nil {
		return false
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, io.LimitReader(text, 64<<10)); err != nil {
		return false
	}
	return strings.TrimSpace(sb.String()) != ""
}
