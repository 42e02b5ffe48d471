// Package chunker splits extracted document text into overlapping spans
// sized for the embedding provider. Spans are measured in runes; the
// splitter prefers sentence and word boundaries over hard cuts.
package chunker

import (
	"fmt"
	"strings"
	"unicode"
)

// Splitter produces ordered, overlapping chunks of a text stream.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
}

// New validates the configuration and returns a Splitter. Both values are
// rune counts and overlap must be strictly smaller than size.
func New(chunkSize, chunkOverlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 {
		return nil, fmt.Errorf("chunk overlap must not be negative, got %d", chunkOverlap)
	}
	if chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", chunkOverlap, chunkSize)
	}
	return &Splitter{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// Split returns the ordered chunk texts for the given input. Empty or
// blank input yields no chunks; any non-blank input yields at least one.
func (s *Splitter) Split(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	runes := []rune(trimmed)
	if len(runes) <= s.chunkSize {
		return []string{trimmed}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + s.chunkSize
		if end >= len(runes) {
			chunks = append(chunks, strings.TrimSpace(string(runes[start:])))
			break
		}
		cut := boundary(runes, start, end)
		chunk := strings.TrimSpace(string(runes[start:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		next := cut - s.chunkOverlap
		if next <= start {
			// overlap would stall progress; advance past the cut
			next = cut
		}
		start = next
	}
	return chunks
}

// boundary picks the cut position for a window ending at end, looking
// backwards for a sentence break, then any whitespace, before giving up
// and cutting hard at end. It never backtracks past the middle of the
// window so pathological inputs still make progress.
func boundary(runes []rune, start, end int) int {
	min := start + (end-start)/2
	for i := end; i > min; i-- {
		if isSentenceBreak(runes, i-1) {
			return i
		}
	}
	for i := end; i > min; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

func isSentenceBreak(runes []rune, i int) bool {
	switch runes[i] {
	case '.', '!', '?', '\n':
	default:
		return false
	}
	// a period inside a number or abbreviation is not a break
	if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
		return runes[i] == '\n'
	}
	return true
}
