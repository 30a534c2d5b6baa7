package services

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// ExtractTextLines sniffs the true file type from bytes and extracts text
// with line structure preserved. Lab reports are columnar, so PDF rows are
// reassembled with wide horizontal gaps rendered as multi-space separators
// the line parser can split on.
// Supported: PDF, TXT.
func ExtractTextLines(originalName string, mimeType string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	mt := strings.ToLower(strings.TrimSpace(mimeType))

	if len(data) == 0 {
		return "", fmt.Errorf("empty file: name=%s mime=%s", originalName, mimeType)
	}

	if isPDF(data) {
		return extractPDFRows(data)
	}

	if isProbablyText(data) || mt == "text/plain" || ext == ".txt" {
		return normalizeLines(string(data)), nil
	}

	if mt == "application/pdf" || ext == ".pdf" {
		return "", fmt.Errorf("file claims pdf but missing %%PDF header: name=%s mime=%s", originalName, mimeType)
	}

	return "", fmt.Errorf("unsupported file type: name=%s ext=%s mime=%s", originalName, ext, mimeType)
}

func isPDF(b []byte) bool {
	// PDF starts with "%PDF-"
	return len(b) >= 5 && string(b[:5]) == "%PDF-"
}

func isProbablyText(b []byte) bool {
	// Heuristic: most bytes printable or whitespace, and no NULs.
	sample := b
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	good := 0
	for _, c := range sample {
		if c == 0x00 {
			return false
		}
		if c == '\n' || c == '\r' || c == '\t' || (c >= 0x20 && c <= 0x7E) || c >= 0x80 {
			good++
		}
	}
	return float64(good)/float64(len(sample)) > 0.9
}

// extractPDFRows walks each page row by row. Text fragments in a row are
// sorted by X and joined, with a gap wider than one character width emitted
// as a double space so columns stay distinguishable from words.
func extractPDFRows(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}

	var out strings.Builder
	for pageNum := 1; pageNum <= r.NumPage(); pageNum++ {
		page := r.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return "", fmt.Errorf("pdf page %d rows: %w", pageNum, err)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Position > rows[j].Position })
		for _, row := range rows {
			texts := row.Content
			sort.Slice(texts, func(i, j int) bool { return texts[i].X < texts[j].X })
			var line strings.Builder
			var prevEnd float64
			for i, t := range texts {
				if i > 0 {
					gap := t.X - prevEnd
					switch {
					case gap > t.FontSize:
						line.WriteString("  ")
					case gap > t.FontSize*0.15:
						line.WriteString(" ")
					}
				}
				line.WriteString(t.S)
				prevEnd = t.X + t.W
			}
			if s := strings.TrimRight(line.String(), " "); s != "" {
				out.WriteString(s)
				out.WriteString("\n")
			}
		}
	}

	text := normalizeLines(out.String())
	if text == "" {
		return "", fmt.Errorf("no text extracted from pdf")
	}
	return text, nil
}

// normalizeLines unifies line endings and drops blank lines while keeping
// intra-line spacing intact.
func normalizeLines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, " ", " ")
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, strings.TrimRight(line, " \t"))
		}
	}
	return strings.Join(out, "\n")
}
