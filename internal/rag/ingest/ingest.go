// Package ingest orchestrates the document ingestion pipeline: format
// checks, content hashing, duplicate detection, parsing, chunking,
// embedding and vector upsert.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mserrat/docser/internal/provider"
	"github.com/mserrat/docser/internal/rag"
	"github.com/mserrat/docser/internal/rag/chunker"
	"github.com/mserrat/docser/internal/rag/parser"
)

// pointNamespace seeds deterministic point ids so that re-ingesting the
// same content always targets the same points.
var pointNamespace = uuid.MustParse("7a2d5c0e-4b7f-4f8a-9f2a-6d1e8c3b5a90")

// VectorStore is the slice of the vector database the pipeline needs.
type VectorStore interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, records []rag.Record) error
	FindByMetadata(ctx context.Context, filter rag.Filter) ([]rag.Record, error)
}

// Notifier receives pipeline stage events. Delivery is best effort;
// failures are logged and never abort an ingestion.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Event describes one pipeline stage transition for one document.
type Event struct {
	JobID    string `json:"job_id,omitempty"`
	Filename string `json:"file"`
	Stage    string `json:"stage"`
	Detail   string `json:"detail,omitempty"`
	Chunks   int    `json:"chunks,omitempty"`
}

// Pipeline stages, in order of occurrence.
const (
	StageReceived   = "received"
	StageParsing    = "parsing"
	StageDuplicate  = "duplicate"
	StageChunking   = "chunking"
	StageEmbedding  = "embedding"
	StageUpserting  = "upserting"
	StageCompleted  = "completed"
	StageFailed     = "failed"
)

// allowedExtensions is the upload allow-list, checked before any byte of
// the payload is interpreted.
var allowedExtensions = map[string]bool{
	".pdf":      true,
	".docx":     true,
	".txt":      true,
	".md":       true,
	".markdown": true,
}

// Request is one document to ingest.
type Request struct {
	JobID       string
	Filename    string
	ContentType string
	Data        []byte
}

// Outcomes reported in Result.Status.
const (
	StatusCompleted = "completed"
	StatusDuplicate = "duplicate"
)

// Result reports the outcome of an ingestion.
type Result struct {
	DocumentID  string    `json:"document_id"`
	Filename    string    `json:"file"`
	ContentHash string    `json:"content_hash"`
	Chunks      int       `json:"chunks"`
	Status      string    `json:"status"`
	UploadedAt  time.Time `json:"uploaded_at"`

	// Duplicate is set when the exact content was ingested before; the
	// Original* fields then describe the first upload.
	Duplicate          bool      `json:"duplicate,omitempty"`
	OriginalFilename   string    `json:"original_file,omitempty"`
	OriginalUploadedAt time.Time `json:"original_uploaded_at,omitempty"`
}

// Ingestor runs the pipeline. Safe for concurrent use.
type Ingestor struct {
	store    VectorStore
	embedder provider.Embedder
	splitter *chunker.Splitter
	notifier Notifier
	logger   *log.Logger
	now      func() time.Time
}

// Option customises an Ingestor.
type Option func(*Ingestor)

// WithNotifier attaches a stage notifier.
func WithNotifier(n Notifier) Option {
	return func(ing *Ingestor) { ing.notifier = n }
}

// WithClock overrides the upload timestamp source.
func WithClock(now func() time.Time) Option {
	return func(ing *Ingestor) { ing.now = now }
}

// New builds an Ingestor.
func New(store VectorStore, embedder provider.Embedder, splitter *chunker.Splitter, opts ...Option) *Ingestor {
	ing := &Ingestor{
		store:    store,
		embedder: embedder,
		splitter: splitter,
		logger:   log.New(log.Writer(), "[ingest] ", log.LstdFlags),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// Ingest runs the full pipeline for one document. Validation failures
// (unsupported format, empty payload, unparseable content) return a
// ValidationError; backend failures return an InfrastructureError.
func (ing *Ingestor) Ingest(ctx context.Context, req Request) (*Result, error) {
	ing.notify(ctx, req, StageReceived, "", 0)

	res, err := ing.run(ctx, req)
	if err != nil {
		ing.notify(ctx, req, StageFailed, err.Error(), 0)
		return nil, err
	}
	if res.Duplicate {
		ing.notify(ctx, req, StageDuplicate, res.OriginalFilename, res.Chunks)
	} else {
		ing.notify(ctx, req, StageCompleted, "", res.Chunks)
	}
	return res, nil
}

func (ing *Ingestor) run(ctx context.Context, req Request) (*Result, error) {
	if len(req.Data) == 0 {
		return nil, rag.NewValidationError("empty file payload for %q", req.Filename)
	}
	ext := strings.ToLower(filepath.Ext(req.Filename))
	if !allowedExtensions[ext] {
		return nil, rag.NewValidationError("Unsupported file extension %q", ext)
	}

	sum := sha256.Sum256(req.Data)
	hash := hex.EncodeToString(sum[:])

	if dup, err := ing.findOriginal(ctx, hash); err != nil {
		return nil, err
	} else if dup != nil {
		dup.Filename = req.Filename
		return dup, nil
	}

	ing.notify(ctx, req, StageParsing, "", 0)
	parse, err := parser.Resolve(req.ContentType, req.Filename)
	if err != nil {
		return nil, err
	}
	text, err := parse.Parse(req.Data)
	if err != nil {
		return nil, err
	}

	ing.notify(ctx, req, StageChunking, "", 0)
	chunks := ing.splitter.Split(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%q: %w", req.Filename, rag.ErrNoChunks)
	}

	ing.notify(ctx, req, StageEmbedding, "", len(chunks))
	vectors, err := ing.embedder.Embed(ctx, chunks)
	if err != nil {
		if rag.IsRetryable(err) {
			return nil, err
		}
		return nil, rag.NewInfrastructureError("embed", err)
	}
	if len(vectors) != len(chunks) {
		return nil, rag.NewInfrastructureError("embed",
			fmt.Errorf("expected %d vectors, got %d", len(chunks), len(vectors)))
	}

	uploadedAt := ing.now().UTC()
	documentID := uuid.NewSHA1(pointNamespace, []byte(hash)).String()
	records := make([]rag.Record, len(chunks))
	for i, chunk := range chunks {
		records[i] = rag.Record{
			ID:     uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s:%d", hash, i))).String(),
			Vector: vectors[i],
			Payload: map[string]interface{}{
				rag.MetaDocumentID:  documentID,
				rag.MetaFilename:    req.Filename,
				rag.MetaChunkIndex:  i,
				rag.MetaUploadedAt:  uploadedAt.Format(time.RFC3339),
				rag.MetaContentHash: hash,
				rag.MetaText:        chunk,
			},
		}
	}

	ing.notify(ctx, req, StageUpserting, "", len(records))
	if err := ing.store.EnsureCollection(ctx); err != nil {
		return nil, rag.NewInfrastructureError("ensure collection", err)
	}
	if err := ing.store.Upsert(ctx, records); err != nil {
		if rag.IsRetryable(err) {
			return nil, err
		}
		return nil, rag.NewInfrastructureError("upsert", err)
	}

	ing.logger.Printf("ingested %s: %d chunks (document %s)", req.Filename, len(chunks), documentID)
	return &Result{
		DocumentID:  documentID,
		Filename:    req.Filename,
		ContentHash: hash,
		Chunks:      len(records),
		Status:      StatusCompleted,
		UploadedAt:  uploadedAt,
	}, nil
}

// findOriginal looks up a previous ingestion of identical content. A hit
// short-circuits the pipeline; the stored payload identifies the first
// upload.
func (ing *Ingestor) findOriginal(ctx context.Context, hash string) (*Result, error) {
	records, err := ing.store.FindByMetadata(ctx, rag.Filter{rag.MetaContentHash: hash})
	if err != nil {
		return nil, rag.NewInfrastructureError("duplicate check", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	res := &Result{
		ContentHash: hash,
		Chunks:      len(records),
		Status:      StatusDuplicate,
		Duplicate:   true,
	}
	payload := records[0].Payload
	if id, ok := payload[rag.MetaDocumentID].(string); ok {
		res.DocumentID = id
	}
	if name, ok := payload[rag.MetaFilename].(string); ok {
		res.OriginalFilename = name
	}
	if stamp, ok := payload[rag.MetaUploadedAt].(string); ok {
		if t, err := time.Parse(time.RFC3339, stamp); err == nil {
			res.OriginalUploadedAt = t
			res.UploadedAt = t
		}
	}
	return res, nil
}

func (ing *Ingestor) notify(ctx context.Context, req Request, stage, detail string, chunks int) {
	if ing.notifier == nil {
		return
	}
	event := Event{
		JobID:    req.JobID,
		Filename: req.Filename,
		Stage:    stage,
		Detail:   detail,
		Chunks:   chunks,
	}
	if err := ing.notifier.Notify(ctx, event); err != nil {
		ing.logger.Printf("notify %s/%s: %v", req.Filename, stage, err)
	}
}
