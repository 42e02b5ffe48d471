package parser

import (
	"bytes"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ParsePDF extracts the plain text of every page, joined with blank lines
// between pages.
func ParsePDF(raw []byte) (text string, err error) {
	if len(raw) == 0 {
		return "", parseError("empty PDF payload")
	}
	// The pdf library panics on some malformed xref tables.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = parseError("not a well-formed PDF: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", parseError("not a well-formed PDF: %v", err)
	}

	var pages []string
	for n := 1; n <= reader.NumPage(); n++ {
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			pages = append(pages, trimmed)
		}
	}
	if len(pages) == 0 {
		// Some generators leave per-page extraction empty while the
		// whole-document stream still yields text.
		if text := wholeDocumentText(reader); text != "" {
			return text, nil
		}
		return "", parseError("PDF contains no extractable text")
	}
	return strings.Join(pages, "\n\n"), nil
}

func wholeDocumentText(reader *pdf.Reader) string {
	r, err := reader.GetPlainText()
	if err != nil {
		return ""
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
