package parser

import (
	"strings"
	"unicode/utf8"
)

// ParseText decodes a UTF-8 text payload.
func ParseText(raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", parseError("text payload is not valid UTF-8")
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", parseError("text contains no content")
	}
	return text, nil
}
