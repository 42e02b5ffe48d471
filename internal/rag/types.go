// Package rag defines the domain types shared by the document ingestion
// and retrieval pipeline: documents, chunks, vector records and the error
// taxonomy the orchestrators surface to the HTTP layer.
package rag

import "time"

// Document is the logical unit of ingestion. It is never persisted as a
// row: its identity lives in the metadata of the chunks derived from it.
type Document struct {
	ID          string
	Filename    string
	ContentType string
	ContentHash string
	UploadedAt  time.Time
}

// Chunk is a contiguous span of a document's extracted text, the unit of
// embedding and retrieval. Index is 0-based and order-significant.
type Chunk struct {
	DocumentID string
	Index      int
	Text       string
	Embedding  []float32
}

// Record is the persisted unit in the vector store: one point per chunk.
type Record struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// ScoredRecord is a search hit with its similarity score. Score is a
// pointer because not every backend reports one.
type ScoredRecord struct {
	Record
	Score *float64
}

// Filter is an exact-match metadata filter for lookups and deletes.
type Filter map[string]interface{}

// Job states for asynchronous ingestion.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Job tracks one asynchronous ingestion attempt.
type Job struct {
	ID          string    `json:"job_id"`
	Filename    string    `json:"file"`
	ContentType string    `json:"content_type"`
	Status      string    `json:"status"`
	Chunks      int       `json:"chunks,omitempty"`
	Error       string    `json:"error,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Metadata payload keys used across the vector store.
const (
	MetaDocumentID  = "document_id"
	MetaFilename    = "filename"
	MetaChunkIndex  = "chunk_index"
	MetaUploadedAt  = "uploaded_at"
	MetaContentHash = "content_hash"
	MetaText        = "text"
	MetaPage        = "page"
)
