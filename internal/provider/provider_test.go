package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mserrat/docser/internal/rag"
)

func embedBackend(t *testing.T, dimension int, path string, field string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		vectors := make([][]float32, len(req.Input))
		for i := range vectors {
			vec := make([]float32, dimension)
			vec[0] = float32(i + 1)
			vectors[i] = vec
		}
		var resp interface{}
		if field == "embeddings" {
			resp = map[string]interface{}{"embeddings": vectors}
		} else {
			data := make([]map[string]interface{}, len(vectors))
			for i, v := range vectors {
				data[i] = map[string]interface{}{"embedding": v, "index": i}
			}
			resp = map[string]interface{}{"data": data}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestOllamaEmbedBatchContract(t *testing.T) {
	srv := embedBackend(t, 768, "/api/embed", "embeddings")
	defer srv.Close()

	c := NewOllamaClient(Config{BaseURL: srv.URL, EmbeddingModel: "nomic-embed-text", Dimension: 768})
	texts := []string{"first", "second", "third"}
	vecs, err := c.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 768 {
			t.Fatalf("vector %d has dimension %d, want 768", i, len(v))
		}
	}
	if vecs[0][0] != 1 || vecs[2][0] != 3 {
		t.Fatal("positional correspondence broken")
	}
}

func TestOllamaEmbedDimensionMismatch(t *testing.T) {
	srv := embedBackend(t, 128, "/api/embed", "embeddings")
	defer srv.Close()

	c := NewOllamaClient(Config{BaseURL: srv.URL, EmbeddingModel: "nomic-embed-text", Dimension: 768})
	_, err := c.Embed(context.Background(), []string{"text"})
	var dm *rag.DimensionMismatchError
	if !errors.As(err, &dm) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
	if dm.Want != 768 || dm.Got != 128 {
		t.Fatalf("unexpected mismatch detail: %+v", dm)
	}
}

func TestOllamaEmbedEmptyBatch(t *testing.T) {
	c := NewOllamaClient(Config{BaseURL: "http://unused", Dimension: 768})
	vecs, err := c.Embed(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("expected nil/nil for empty batch, got %v/%v", vecs, err)
	}
}

func TestOpenAIEmbedOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// return vectors out of order; the client must reorder by index
		resp := map[string]interface{}{"data": []map[string]interface{}{
			{"embedding": []float32{2, 0}, "index": 1},
			{"embedding": []float32{1, 0}, "index": 0},
		}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{BaseURL: srv.URL, Dimension: 2})
	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Fatalf("vectors not ordered by index: %v", vecs)
	}
}

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"response":          "La respuesta.",
			"prompt_eval_count": 42,
			"eval_count":        7,
		})
	}))
	defer srv.Close()

	c := NewOllamaClient(Config{BaseURL: srv.URL, CompletionModel: "llama3.2:1b", Dimension: 768})
	gen, err := c.Generate(context.Background(), "system", "question")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.Text != "La respuesta." {
		t.Fatalf("unexpected text %q", gen.Text)
	}
	if gen.Metadata["prompt_tokens"] != 42 || gen.Metadata["completion_tokens"] != 7 {
		t.Fatalf("unexpected metadata %v", gen.Metadata)
	}
}

func TestOllamaGenerateBackendDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOllamaClient(Config{BaseURL: srv.URL, CompletionModel: "llama3.2:1b", Dimension: 768})
	if _, err := c.Generate(context.Background(), "", "question"); err == nil {
		t.Fatal("expected error from failing backend")
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	if _, _, err := New(Config{Type: "mystery", Dimension: 768}); err == nil {
		t.Fatal("expected error for unknown provider type")
	}
}
