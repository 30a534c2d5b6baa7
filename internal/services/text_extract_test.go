package services

import (
	"strings"
	"testing"
)

func TestExtractTextLinesPlainText(t *testing.T) {
	text, err := ExtractTextLines("report.txt", "text/plain", []byte("line one\r\nline two\n\n\nline three"))
	if err != nil {
		t.Fatalf("ExtractTextLines: %v", err)
	}
	lines := strings.Split(text, "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
}

func TestExtractTextLinesSniffsContent(t *testing.T) {
	// Extension lies; the bytes decide. Printable content under a .pdf name
	// still extracts as text rather than failing the pdf parser.
	text, err := ExtractTextLines("report.pdf", "application/pdf", []byte("Hemoglobin  13.0  g/dL"))
	if err != nil {
		t.Fatalf("ExtractTextLines: %v", err)
	}
	if !strings.Contains(text, "Hemoglobin") {
		t.Fatalf("text = %q", text)
	}

	text, err = ExtractTextLines("data.bin", "", []byte("Hemoglobin  13.0  g/dL"))
	if err != nil {
		t.Fatalf("printable bytes should extract as text: %v", err)
	}
	if !strings.Contains(text, "Hemoglobin") {
		t.Fatalf("text = %q", text)
	}
}

func TestExtractTextLinesEmpty(t *testing.T) {
	if _, err := ExtractTextLines("a.txt", "text/plain", nil); err == nil {
		t.Fatal("empty input accepted")
	}
}

func TestExtractTextLinesBinary(t *testing.T) {
	if _, err := ExtractTextLines("blob.bin", "application/octet-stream", []byte{0x00, 0x01, 0x02, 0xFF}); err == nil {
		t.Fatal("binary input accepted")
	}
}
