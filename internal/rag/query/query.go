// Package query answers questions against the ingested corpus: embed the
// question, retrieve the closest chunks and generate a grounded response
// that only draws on the retrieved context.
package query

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mserrat/docser/internal/provider"
	"github.com/mserrat/docser/internal/rag"
)

// DefaultTopK bounds retrieval when the caller does not specify a limit.
const DefaultTopK = 5

// sourceExcerptLimit caps each cited source excerpt, in runes.
const sourceExcerptLimit = 200

// Searcher is the retrieval slice of the vector store.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int) ([]rag.ScoredRecord, error)
}

// Request carries one question.
type Request struct {
	Question string
	Language string
	TopK     int
}

// Source cites one retrieved chunk backing the answer.
type Source struct {
	DocumentID string   `json:"document_id,omitempty"`
	Filename   string   `json:"file,omitempty"`
	ChunkIndex int      `json:"chunk_index"`
	Excerpt    string   `json:"excerpt"`
	Score      *float64 `json:"score,omitempty"`
}

// Response is a grounded answer with its citations.
type Response struct {
	Answer   string                 `json:"answer"`
	Sources  []Source               `json:"sources"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Engine wires retrieval and generation together.
type Engine struct {
	searcher  Searcher
	embedder  provider.Embedder
	generator provider.Generator
	logger    *log.Logger
}

// New builds an Engine.
func New(searcher Searcher, embedder provider.Embedder, generator provider.Generator) *Engine {
	return &Engine{
		searcher:  searcher,
		embedder:  embedder,
		generator: generator,
		logger:    log.New(log.Writer(), "[query] ", log.LstdFlags),
	}
}

// grounding instructions per supported language. Unknown languages fall
// back to Spanish.
var systemPrompts = map[string]string{
	"es": "Eres un asistente que responde preguntas basandose unicamente en el contexto proporcionado. " +
		"Si el contexto no contiene la respuesta, di que no tienes suficiente informacion. " +
		"Responde siempre en espanol.",
	"en": "You are an assistant that answers questions using only the provided context. " +
		"If the context does not contain the answer, say you do not have enough information. " +
		"Always answer in English.",
}

// NormalizeLanguage maps a requested language onto a supported one.
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if _, ok := systemPrompts[lang]; ok {
		return lang
	}
	return "es"
}

// Answer resolves one question. An empty question is a validation error;
// retrieval and generation failures are infrastructure errors. An empty
// corpus still produces an answer, with no sources.
func (e *Engine) Answer(ctx context.Context, req Request) (*Response, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, rag.NewValidationError("question must not be empty")
	}
	language := NormalizeLanguage(req.Language)
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	vectors, err := e.embedder.Embed(ctx, []string{question})
	if err != nil {
		if rag.IsRetryable(err) {
			return nil, err
		}
		return nil, rag.NewInfrastructureError("embed question", err)
	}
	if len(vectors) != 1 {
		return nil, rag.NewInfrastructureError("embed question",
			fmt.Errorf("expected 1 vector, got %d", len(vectors)))
	}

	hits, err := e.searcher.Search(ctx, vectors[0], topK)
	if err != nil {
		return nil, rag.NewInfrastructureError("search", err)
	}

	prompt := buildPrompt(question, hits, language)
	gen, err := e.generator.Generate(ctx, systemPrompts[language], prompt)
	if err != nil {
		return nil, rag.NewInfrastructureError("generate", err)
	}

	sources := buildSources(hits)
	metadata := make(map[string]interface{}, len(gen.Metadata)+3)
	for key, value := range gen.Metadata {
		metadata[key] = value
	}
	metadata["model"] = e.generator.Model()
	metadata["sources"] = len(sources)
	metadata["language"] = language
	return &Response{
		Answer:   strings.TrimSpace(gen.Text),
		Sources:  sources,
		Metadata: metadata,
	}, nil
}

// buildPrompt assembles the grounded prompt: the retrieved chunks as
// numbered context followed by the question.
func buildPrompt(question string, hits []rag.ScoredRecord, language string) string {
	var sb strings.Builder
	if language == "en" {
		sb.WriteString("Context:\n")
	} else {
		sb.WriteString("Contexto:\n")
	}
	if len(hits) == 0 {
		sb.WriteString("(no relevant documents found)\n")
	}
	for i, hit := range hits {
		text, _ := hit.Payload[rag.MetaText].(string)
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, text)
	}
	if language == "en" {
		fmt.Fprintf(&sb, "\nQuestion: %s", question)
	} else {
		fmt.Fprintf(&sb, "\nPregunta: %s", question)
	}
	return sb.String()
}

func buildSources(hits []rag.ScoredRecord) []Source {
	sources := make([]Source, 0, len(hits))
	for _, hit := range hits {
		src := Source{Score: hit.Score}
		if id, ok := hit.Payload[rag.MetaDocumentID].(string); ok {
			src.DocumentID = id
		}
		if name, ok := hit.Payload[rag.MetaFilename].(string); ok {
			src.Filename = name
		}
		switch idx := hit.Payload[rag.MetaChunkIndex].(type) {
		case float64:
			src.ChunkIndex = int(idx)
		case int:
			src.ChunkIndex = idx
		}
		if text, ok := hit.Payload[rag.MetaText].(string); ok {
			src.Excerpt = truncateRunes(text, sourceExcerptLimit)
		}
		sources = append(sources, src)
	}
	return sources
}

// truncateRunes cuts text to at most limit runes.
func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
