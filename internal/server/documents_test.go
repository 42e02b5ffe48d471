package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/mserrat/docser/internal/rag"
)

type vectorAdminStub struct {
	records    []rag.Record
	count      int
	deletedAll int
	deleted    []rag.Filter
	findErr    error
}

func (s *vectorAdminStub) FindByMetadata(ctx context.Context, filter rag.Filter) ([]rag.Record, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if len(filter) == 0 {
		return s.records, nil
	}
	var out []rag.Record
	for _, rec := range s.records {
		match := true
		for k, v := range filter {
			if rec.Payload[k] != v {
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

func (s *vectorAdminStub) CountByMetadata(ctx context.Context, filter rag.Filter) (int, error) {
	return s.count, nil
}

func (s *vectorAdminStub) DeleteByMetadata(ctx context.Context, filter rag.Filter) error {
	s.deleted = append(s.deleted, filter)
	return nil
}

func (s *vectorAdminStub) DeleteAll(ctx context.Context) (int, error) {
	return s.deletedAll, nil
}

func chunkRecord(docID, filename string, index int, text string) rag.Record {
	return rag.Record{
		ID:     docID + ":chunk",
		Vector: []float32{0.1},
		Payload: map[string]interface{}{
			rag.MetaDocumentID: docID,
			rag.MetaFilename:   filename,
			rag.MetaChunkIndex: float64(index),
			rag.MetaText:       text,
			rag.MetaUploadedAt: "2026-03-01T10:00:00Z",
		},
	}
}

func docContext(method, path string, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(params) == 2 {
		c.SetParamNames(params[0])
		c.SetParamValues(params[1])
	}
	return c, rec
}

func TestDocumentsListAggregates(t *testing.T) {
	stub := &vectorAdminStub{records: []rag.Record{
		chunkRecord("doc-b", "zeta.txt", 0, "z0"),
		chunkRecord("doc-a", "alpha.txt", 0, "a0"),
		chunkRecord("doc-a", "alpha.txt", 1, "a1"),
	}}
	h := &DocumentsHandler{Vectors: stub}

	c, rec := docContext(http.MethodGet, "/api/documents")
	if err := h.list(c); err != nil {
		t.Fatalf("list: %v", err)
	}
	var out []DocumentSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(out))
	}
	if out[0].Filename != "alpha.txt" || out[0].Chunks != 2 {
		t.Errorf("unexpected first summary: %+v", out[0])
	}
	if out[1].Filename != "zeta.txt" || out[1].Chunks != 1 {
		t.Errorf("unexpected second summary: %+v", out[1])
	}
}

func TestDocumentsGetOrdersChunks(t *testing.T) {
	stub := &vectorAdminStub{records: []rag.Record{
		chunkRecord("doc-a", "alpha.txt", 2, "third"),
		chunkRecord("doc-a", "alpha.txt", 0, "first"),
		chunkRecord("doc-a", "alpha.txt", 1, "second"),
	}}
	h := &DocumentsHandler{Vectors: stub}

	c, rec := docContext(http.MethodGet, "/api/documents/doc-a", "id", "doc-a")
	if err := h.get(c); err != nil {
		t.Fatalf("get: %v", err)
	}
	var detail DocumentDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.Filename != "alpha.txt" || len(detail.Chunks) != 3 {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	for i, chunk := range detail.Chunks {
		if chunk.ChunkIndex != i {
			t.Errorf("chunk %d out of order: %+v", i, chunk)
		}
	}
	if detail.Chunks[0].Text != "first" {
		t.Errorf("wrong first chunk: %+v", detail.Chunks[0])
	}
}

func TestDocumentsGetNotFound(t *testing.T) {
	h := &DocumentsHandler{Vectors: &vectorAdminStub{}}

	c, _ := docContext(http.MethodGet, "/api/documents/ghost", "id", "ghost")
	err := h.get(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestDocumentsDeleteOne(t *testing.T) {
	stub := &vectorAdminStub{count: 3}
	h := &DocumentsHandler{Vectors: stub}

	c, rec := docContext(http.MethodDelete, "/api/documents/doc-a", "id", "doc-a")
	if err := h.deleteOne(c); err != nil {
		t.Fatalf("deleteOne: %v", err)
	}
	var resp DeleteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.DeletedCount != 3 {
		t.Errorf("expected 3 deleted, got %d", resp.DeletedCount)
	}
	if len(stub.deleted) != 1 || stub.deleted[0][rag.MetaDocumentID] != "doc-a" {
		t.Errorf("delete filter missing: %v", stub.deleted)
	}
}

func TestDocumentsDeleteOneNotFound(t *testing.T) {
	h := &DocumentsHandler{Vectors: &vectorAdminStub{count: 0}}

	c, _ := docContext(http.MethodDelete, "/api/documents/ghost", "id", "ghost")
	err := h.deleteOne(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestDocumentsDeleteAllReportsCount(t *testing.T) {
	h := &DocumentsHandler{Vectors: &vectorAdminStub{deletedAll: 42}}

	c, rec := docContext(http.MethodDelete, "/api/documents")
	if err := h.deleteAll(c); err != nil {
		t.Fatalf("deleteAll: %v", err)
	}
	var resp DeleteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.DeletedCount != 42 {
		t.Errorf("expected 42 deleted, got %d", resp.DeletedCount)
	}
}
