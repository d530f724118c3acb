// Package extract wraps the two external collaborators that turn a PDF
// into candidate references: plain-text extraction and an LLM bibliography
// parser.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFText extracts the plain text of a PDF file.
func PDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	return buf.String(), nil
}

// bibliography section headings, checked case-insensitively.
var bibliographyHeadings = []string{
	"references",
	"bibliography",
	"works cited",
	"literature cited",
}

// BibliographyTail returns the portion of the text from the last
// bibliography heading onward. Headings in the first half are ignored
// (a table of contents can mention "References"). Without a heading the
// final maxChars of the document are returned; bibliographies sit at
// the end.
func BibliographyTail(text string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = 30000
	}

	cut := -1
	for _, heading := range bibliographyHeadings {
		if idx := lastIndexFold(text, heading); idx > cut && idx >= len(text)/2 {
			cut = idx
		}
	}
	if cut >= 0 {
		text = text[cut:]
	}
	if len(text) > maxChars {
		text = text[len(text)-maxChars:]
	}
	return text
}

// lastIndexFold finds the last case-insensitive occurrence of substr in s.
// The offset indexes s itself; searching a ToLower copy is not safe because
// lowering can change the byte length of some runes.
func lastIndexFold(s, substr string) int {
	for i := len(s) - len(substr); i >= 0; i-- {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}
