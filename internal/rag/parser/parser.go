// Package parser extracts plain text from uploaded document bytes. One
// parser per supported format; all parsers are pure transforms over the
// raw payload and fail fast on corrupt input.
package parser

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mserrat/docser/internal/rag"
)

// Parser converts raw document bytes into extracted plain text.
type Parser interface {
	Parse(raw []byte) (string, error)
}

// ParseFunc adapts a plain function to the Parser interface.
type ParseFunc func(raw []byte) (string, error)

func (f ParseFunc) Parse(raw []byte) (string, error) { return f(raw) }

// MIME types accepted by the registry.
const (
	MIMEPDF      = "application/pdf"
	MIMEDocx     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEMarkdown = "text/markdown"
	MIMEText     = "text/plain"
)

var byMIME = map[string]Parser{
	MIMEPDF:      ParseFunc(ParsePDF),
	MIMEDocx:     ParseFunc(ParseDocx),
	MIMEMarkdown: ParseFunc(ParseMarkdown),
	MIMEText:     ParseFunc(ParseText),
}

var byExtension = map[string]Parser{
	".pdf":      ParseFunc(ParsePDF),
	".docx":     ParseFunc(ParseDocx),
	".md":       ParseFunc(ParseMarkdown),
	".markdown": ParseFunc(ParseMarkdown),
	".txt":      ParseFunc(ParseText),
}

// Resolve maps a declared content type to a parser, falling back to
// filename-extension sniffing when the content type is absent or generic.
func Resolve(contentType, filename string) (Parser, error) {
	ct := contentType
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.TrimSpace(strings.ToLower(ct))
	if p, ok := byMIME[ct]; ok {
		return p, nil
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if p, ok := byExtension[ext]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: content type %q, extension %q", rag.ErrUnsupportedFormat, contentType, ext)
}

func parseError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", rag.ErrParse, fmt.Sprintf(format, args...))
}
