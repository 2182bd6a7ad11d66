package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

// buildPDF writes a minimal PDF with the given number of empty pages and a
// correct cross-reference table.
func buildPDF(pages int) []byte {
	var objs []string
	kids := ""
	for i := range pages {
		kids += fmt.Sprintf("%d 0 R ", 3+i)
	}
	objs = append(objs, "<< /Type /Catalog /Pages 2 0 R >>")
	objs = append(objs, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages))
	for range pages {
		objs = append(objs, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func TestInspectPDFCountsPages(t *testing.T) {
	info, err := InspectPDF(buildPDF(3))
	if err != nil {
		t.Fatalf("InspectPDF: %v", err)
	}
	if info.Pages != 3 {
		t.Errorf("Pages = %d, want 3", info.Pages)
	}
	if info.HasText {
		t.Error("empty pages reported a text layer")
	}
}

func TestInspectPDFRejectsGarbage(t *testing.T) {
	for name, data := range map[string][]byte{
		"not a pdf": []byte("hello"),
		"truncated": []byte("%PDF-1.4\n1 0 obj\n"),
	} {
		if _, err := InspectPDF(data); !errors.Is(err, ErrUnreadablePDF) {
			t.Errorf("%s: err = %v, want ErrUnreadablePDF", name, err)
		}
	}
}

func TestIsPDF(t *testing.T) {
	if !IsPDF(buildPDF(1)) || IsPDF(testPNGBytes()) {
		t.Error("IsPDF misclassified input")
	}
}

func testPNGBytes() []byte {
	return []byte("\x89PNG\r\n\x1a\n")
}
