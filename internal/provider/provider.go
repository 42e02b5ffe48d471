// Package provider implements the embedding and generation backends the
// pipeline talks to. Providers are plain HTTP clients; both an Ollama
// native client and an OpenAI-compatible client are available, selected
// by configuration.
package provider

import (
	"context"
	"fmt"
	"time"
)

// Embedder maps an ordered batch of texts to an ordered batch of
// fixed-dimension vectors. Implementations must be deterministic for
// identical input and must not return partial results.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Generation is the output of one completion call. Metadata carries
// backend extras (token counts and the like) when the API reports them.
type Generation struct {
	Text     string
	Metadata map[string]interface{}
}

// Generator produces a grounded answer from a system instruction and a
// user prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (Generation, error)
	Model() string
}

// Config selects and parameterises a provider.
type Config struct {
	Type            string // "ollama" or "openai"
	BaseURL         string
	APIKey          string
	EmbeddingModel  string
	CompletionModel string
	Dimension       int
	Temperature     float64
	MaxTokens       int
	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
}

// New builds the embedder and generator for the configured provider type.
func New(cfg Config) (Embedder, Generator, error) {
	if cfg.Dimension <= 0 {
		return nil, nil, fmt.Errorf("provider dimension must be positive, got %d", cfg.Dimension)
	}
	switch cfg.Type {
	case "", "ollama":
		c := NewOllamaClient(cfg)
		return c, c, nil
	case "openai":
		c := NewOpenAIClient(cfg)
		return c, c, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}
