package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mserrat/docser/internal/rag"
	"github.com/mserrat/docser/internal/rag/chunker"
)

type fakeStore struct {
	records   []rag.Record
	ensured   int
	upserts   int
	findErr   error
	upsertErr error
}

func (f *fakeStore) EnsureCollection(ctx context.Context) error {
	f.ensured++
	return nil
}

func (f *fakeStore) Upsert(ctx context.Context, records []rag.Record) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts++
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeStore) FindByMetadata(ctx context.Context, filter rag.Filter) ([]rag.Record, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []rag.Record
	for _, rec := range f.records {
		match := true
		for key, want := range filter {
			if rec.Payload[key] != want {
				match = false
				break
			}
		}
		if match {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeEmbedder struct {
	dim   int
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dim)
		vec[0] = float32(i + 1)
		vectors[i] = vec
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

type recordingNotifier struct {
	stages []string
}

func (r *recordingNotifier) Notify(ctx context.Context, event Event) error {
	r.stages = append(r.stages, event.Stage)
	return nil
}

func newTestIngestor(t *testing.T, store *fakeStore, embedder *fakeEmbedder, opts ...Option) *Ingestor {
	t.Helper()
	splitter, err := chunker.New(512, 80)
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	return New(store, embedder, splitter, opts...)
}

func TestIngestSmallTextSingleChunk(t *testing.T) {
	store := &fakeStore{}
	embedder := &fakeEmbedder{dim: 8}
	notifier := &recordingNotifier{}
	ing := newTestIngestor(t, store, embedder, WithNotifier(notifier))

	res, err := ing.Ingest(context.Background(), Request{
		Filename:    "sample.txt",
		ContentType: "text/plain",
		Data:        []byte("Hello world."),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Chunks != 1 {
		t.Fatalf("expected 1 chunk, got %d", res.Chunks)
	}
	if res.Status != StatusCompleted {
		t.Errorf("expected status %q, got %q", StatusCompleted, res.Status)
	}
	if res.Duplicate {
		t.Fatal("first upload must not be a duplicate")
	}
	if len(store.records) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(store.records))
	}
	rec := store.records[0]
	if rec.Payload[rag.MetaText] != "Hello world." {
		t.Errorf("chunk text not stored: %v", rec.Payload[rag.MetaText])
	}
	if rec.Payload[rag.MetaFilename] != "sample.txt" {
		t.Errorf("filename not stored: %v", rec.Payload[rag.MetaFilename])
	}
	if rec.Payload[rag.MetaChunkIndex] != 0 {
		t.Errorf("chunk index not stored: %v", rec.Payload[rag.MetaChunkIndex])
	}
	if embedder.calls != 1 {
		t.Errorf("expected one embedding batch, got %d calls", embedder.calls)
	}
	if store.upserts != 1 {
		t.Errorf("expected one upsert, got %d", store.upserts)
	}
	want := []string{StageReceived, StageParsing, StageChunking, StageEmbedding, StageUpserting, StageCompleted}
	if strings.Join(notifier.stages, ",") != strings.Join(want, ",") {
		t.Errorf("unexpected stage sequence: %v", notifier.stages)
	}
}

func TestIngestDuplicateShortCircuits(t *testing.T) {
	store := &fakeStore{}
	embedder := &fakeEmbedder{dim: 8}
	ing := newTestIngestor(t, store, embedder)

	first, err := ing.Ingest(context.Background(), Request{
		Filename:    "report.txt",
		ContentType: "text/plain",
		Data:        []byte("Same content, uploaded twice."),
	})
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	second, err := ing.Ingest(context.Background(), Request{
		Filename:    "copy-of-report.txt",
		ContentType: "text/plain",
		Data:        []byte("Same content, uploaded twice."),
	})
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("expected duplicate detection")
	}
	if second.Status != StatusDuplicate {
		t.Errorf("expected status %q, got %q", StatusDuplicate, second.Status)
	}
	if second.OriginalFilename != "report.txt" {
		t.Errorf("expected original filename, got %q", second.OriginalFilename)
	}
	if second.DocumentID != first.DocumentID {
		t.Errorf("duplicate should reference original document id")
	}
	if second.Chunks != first.Chunks {
		t.Errorf("duplicate should report original chunk count: %d vs %d", second.Chunks, first.Chunks)
	}
	if embedder.calls != 1 {
		t.Errorf("duplicate must not re-embed, got %d calls", embedder.calls)
	}
	if store.upserts != 1 {
		t.Errorf("duplicate must not re-upsert, got %d", store.upserts)
	}
}

func TestIngestRejectsDisallowedExtension(t *testing.T) {
	ing := newTestIngestor(t, &fakeStore{}, &fakeEmbedder{dim: 8})

	_, err := ing.Ingest(context.Background(), Request{
		Filename:    "malicious.exe",
		ContentType: "application/octet-stream",
		Data:        []byte{0x4d, 0x5a},
	})
	if err == nil {
		t.Fatal("expected rejection")
	}
	if !rag.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "Unsupported file extension") || !strings.Contains(msg, ".exe") {
		t.Errorf("message should name the extension: %q", msg)
	}
}

func TestIngestRejectsEmptyPayload(t *testing.T) {
	ing := newTestIngestor(t, &fakeStore{}, &fakeEmbedder{dim: 8})

	_, err := ing.Ingest(context.Background(), Request{
		Filename:    "empty.txt",
		ContentType: "text/plain",
	})
	if !rag.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIngestWhitespaceOnlyYieldsNoChunks(t *testing.T) {
	ing := newTestIngestor(t, &fakeStore{}, &fakeEmbedder{dim: 8})

	_, err := ing.Ingest(context.Background(), Request{
		Filename:    "blank.md",
		ContentType: "text/markdown",
		Data:        []byte("   \n\t  \n"),
	})
	if err == nil {
		t.Fatal("expected error for empty content")
	}
	if !rag.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIngestEmbedFailureIsInfrastructure(t *testing.T) {
	embedder := &fakeEmbedder{dim: 8, err: errors.New("connection refused")}
	ing := newTestIngestor(t, &fakeStore{}, embedder)

	_, err := ing.Ingest(context.Background(), Request{
		Filename:    "doc.txt",
		ContentType: "text/plain",
		Data:        []byte("Some content worth embedding."),
	})
	if !rag.IsRetryable(err) {
		t.Fatalf("expected retryable infrastructure error, got %v", err)
	}
	if rag.IsValidation(err) {
		t.Fatalf("embed failure must not be a validation error: %v", err)
	}
}

func TestIngestDuplicateCheckFailureIsInfrastructure(t *testing.T) {
	store := &fakeStore{findErr: errors.New("qdrant unreachable")}
	ing := newTestIngestor(t, store, &fakeEmbedder{dim: 8})

	_, err := ing.Ingest(context.Background(), Request{
		Filename:    "doc.txt",
		ContentType: "text/plain",
		Data:        []byte("content"),
	})
	if !rag.IsRetryable(err) {
		t.Fatalf("expected retryable infrastructure error, got %v", err)
	}
}

func TestIngestDeterministicPointIDs(t *testing.T) {
	storeA := &fakeStore{}
	storeB := &fakeStore{}
	ingA := newTestIngestor(t, storeA, &fakeEmbedder{dim: 8})
	ingB := newTestIngestor(t, storeB, &fakeEmbedder{dim: 8})

	req := Request{Filename: "stable.txt", ContentType: "text/plain", Data: []byte("Deterministic ids.")}
	if _, err := ingA.Ingest(context.Background(), req); err != nil {
		t.Fatalf("Ingest A: %v", err)
	}
	if _, err := ingB.Ingest(context.Background(), req); err != nil {
		t.Fatalf("Ingest B: %v", err)
	}
	if storeA.records[0].ID != storeB.records[0].ID {
		t.Errorf("same content must map to the same point id: %s vs %s", storeA.records[0].ID, storeB.records[0].ID)
	}
}

func TestIngestLargeDocumentMultiChunkOrder(t *testing.T) {
	store := &fakeStore{}
	ing := newTestIngestor(t, store, &fakeEmbedder{dim: 8})

	var sb strings.Builder
	for i := 0; i < 120; i++ {
		fmt.Fprintf(&sb, "Sentence number %d rounds out the paragraph nicely. ", i)
	}
	res, err := ing.Ingest(context.Background(), Request{
		Filename:    "long.txt",
		ContentType: "text/plain",
		Data:        []byte(sb.String()),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Chunks < 2 {
		t.Fatalf("expected multiple chunks, got %d", res.Chunks)
	}
	for i, rec := range store.records {
		if rec.Payload[rag.MetaChunkIndex] != i {
			t.Fatalf("chunk_index out of order at %d: %v", i, rec.Payload[rag.MetaChunkIndex])
		}
	}
	stamp, ok := store.records[0].Payload[rag.MetaUploadedAt].(string)
	if !ok {
		t.Fatal("uploaded_at missing")
	}
	if _, err := time.Parse(time.RFC3339, stamp); err != nil {
		t.Errorf("uploaded_at not RFC3339: %q", stamp)
	}
}
