package server

import "time"

// HTTPError is the unified error body returned by the API.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest is the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest is the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a freshly signed JWT.
type TokenResponse struct {
	Token string `json:"token"`
}

// IngestResponse reports a completed synchronous ingestion.
type IngestResponse struct {
	DocumentID         string     `json:"document_id"`
	Filename           string     `json:"file"`
	Chunks             int        `json:"chunks"`
	Status             string     `json:"status"`
	ContentHash        string     `json:"content_hash"`
	Duplicate          bool       `json:"duplicate,omitempty"`
	OriginalFile       string     `json:"original_file,omitempty"`
	OriginalUploadedAt *time.Time `json:"original_uploaded_at,omitempty"`
	Message            string     `json:"message"`
}

// EnqueueResponse reports an accepted asynchronous ingestion.
type EnqueueResponse struct {
	JobID  string `json:"job_id"`
	File   string `json:"file"`
	Status string `json:"status"`
}

// BatchEnqueueResponse reports an accepted multi-file upload.
type BatchEnqueueResponse struct {
	BatchID string            `json:"batch_id"`
	Jobs    []EnqueueResponse `json:"jobs"`
}

// QueryRequest is the question payload. Query and Question are aliases;
// either satisfies the request.
type QueryRequest struct {
	Query    string `json:"query" query:"query"`
	Question string `json:"question" query:"question"`
	Language string `json:"language" query:"language"`
	TopK     int    `json:"top_k" query:"top_k"`
}

// DocumentSummary describes one ingested document.
type DocumentSummary struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"file"`
	Chunks     int    `json:"chunks"`
	UploadedAt string `json:"uploaded_at,omitempty"`
}

// DocumentChunk is one stored chunk of a document.
type DocumentChunk struct {
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

// DocumentDetail lists a document's chunks in order.
type DocumentDetail struct {
	DocumentID string          `json:"document_id"`
	Filename   string          `json:"file"`
	Chunks     []DocumentChunk `json:"chunks"`
}

// DeleteResponse reports a deletion.
type DeleteResponse struct {
	DeletedCount int    `json:"deleted_count"`
	Message      string `json:"message,omitempty"`
}

// BatchResponse mirrors one ingestion batch.
type BatchResponse struct {
	BatchID   string              `json:"batch_id"`
	Status    string              `json:"status"`
	Total     int                 `json:"total"`
	Completed int                 `json:"completed"`
	Failed    int                 `json:"failed"`
	CreatedAt time.Time           `json:"created_at"`
	Documents []BatchDocumentItem `json:"documents,omitempty"`
}

// BatchDocumentItem is one file's state inside a batch.
type BatchDocumentItem struct {
	JobID      string `json:"job_id"`
	Filename   string `json:"file"`
	Status     string `json:"status"`
	DocumentID string `json:"document_id,omitempty"`
	Chunks     int    `json:"chunks,omitempty"`
	Error      string `json:"error,omitempty"`
}
