package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	mdCodeBlock  = regexp.MustCompile("(?s)```[^`]*```")
	mdInlineCode = regexp.MustCompile("`[^`]+`")
	mdImage      = regexp.MustCompile(`!\[[^\]]*\]\([^)]+\)`)
	mdLink       = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	mdHeading    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdEmphasis   = regexp.MustCompile(`(\*{1,3}|_{1,3})([^*_]+)(\*{1,3}|_{1,3})`)
	mdListItem   = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	mdBlockquote = regexp.MustCompile(`(?m)^>\s?`)
)

// ParseMarkdown strips markdown formatting and returns the plain text.
func ParseMarkdown(raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", parseError("markdown payload is not valid UTF-8")
	}
	content := string(raw)
	content = mdCodeBlock.ReplaceAllString(content, "")
	content = mdInlineCode.ReplaceAllString(content, "")
	content = mdImage.ReplaceAllString(content, "")
	content = mdLink.ReplaceAllString(content, "$1")
	content = mdHeading.ReplaceAllString(content, "")
	content = mdEmphasis.ReplaceAllString(content, "$2")
	content = mdListItem.ReplaceAllString(content, "")
	content = mdBlockquote.ReplaceAllString(content, "")

	text := strings.TrimSpace(content)
	if text == "" {
		return "", parseError("markdown contains no extractable text")
	}
	return text, nil
}
