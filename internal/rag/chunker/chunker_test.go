package chunker

import (
	"strings"
	"testing"
)

func TestNewRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative overlap", 100, -1},
		{"overlap equals size", 100, 100},
		{"overlap exceeds size", 100, 150},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.size, tc.overlap); err == nil {
				t.Fatalf("expected error for size=%d overlap=%d", tc.size, tc.overlap)
			}
		})
	}
}

func TestSplitEmptyTextYieldsNoChunks(t *testing.T) {
	s, err := New(512, 80)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := s.Split(""); got != nil {
		t.Fatalf("expected nil for empty text, got %v", got)
	}
	if got := s.Split("   \n\t "); got != nil {
		t.Fatalf("expected nil for blank text, got %v", got)
	}
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	s, _ := New(512, 80)
	chunks := s.Split("Hello world.")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != "Hello world." {
		t.Fatalf("unexpected chunk %q", chunks[0])
	}
}

func TestSplitPrefersSentenceBoundaries(t *testing.T) {
	text := strings.Repeat("This is a sentence that ends properly. ", 40)
	s, _ := New(200, 40)
	chunks := s.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks[:len(chunks)-1] {
		if !strings.HasSuffix(c, ".") {
			t.Fatalf("chunk %d does not end on a sentence boundary: %q", i, c)
		}
	}
}

func TestSplitPreservesOrderAndCoverage(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 120; i++ {
		b.WriteString("Sentence number ")
		b.WriteString(strings.Repeat("x", i%7))
		b.WriteString(" ends here. ")
	}
	text := strings.TrimSpace(b.String())

	s, _ := New(256, 32)
	chunks := s.Split(text)
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}

	// every chunk must appear in the source at a non-decreasing offset
	offset := 0
	for i, c := range chunks {
		at := strings.Index(text[offset:], c)
		if at < 0 {
			t.Fatalf("chunk %d not found in order: %q", i, c)
		}
		offset += at
	}

	// the tail of the document must be covered by the last chunk
	tail := text[len(text)-20:]
	if !strings.Contains(chunks[len(chunks)-1], tail) {
		t.Fatalf("last chunk does not cover document tail %q", tail)
	}
}

func TestSplitOverlapSharedBetweenNeighbours(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta epsilon zeta. ", 30)
	s, _ := New(150, 30)
	chunks := s.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		head := chunks[i]
		if len(head) > 30 {
			head = head[:30]
		}
		// the first words of each chunk must re-appear near the end of
		// its predecessor
		words := strings.Fields(head)
		if len(words) == 0 {
			continue
		}
		if !strings.Contains(chunks[i-1], words[0]) {
			t.Fatalf("chunk %d does not overlap with its predecessor", i)
		}
	}
}

func TestSplitHardCutWithoutBoundaries(t *testing.T) {
	text := strings.Repeat("a", 1000)
	s, _ := New(100, 10)
	chunks := s.Split(text)
	if len(chunks) < 10 {
		t.Fatalf("expected at least 10 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d exceeds chunk size: %d runes", i, len([]rune(c)))
		}
	}
}
