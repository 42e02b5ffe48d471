package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mserrat/docser/internal/rag"
)

// OllamaClient talks to an Ollama server's native API for both embeddings
// and generation.
type OllamaClient struct {
	baseURL         string
	embeddingModel  string
	completionModel string
	dimension       int
	temperature     float64
	embedClient     *http.Client
	generateClient  *http.Client
}

// NewOllamaClient creates a client for the given configuration.
func NewOllamaClient(cfg Config) *OllamaClient {
	embedTimeout := cfg.EmbedTimeout
	if embedTimeout == 0 {
		embedTimeout = 60 * time.Second
	}
	generateTimeout := cfg.GenerateTimeout
	if generateTimeout == 0 {
		generateTimeout = 120 * time.Second
	}
	return &OllamaClient{
		baseURL:         strings.TrimSuffix(cfg.BaseURL, "/"),
		embeddingModel:  cfg.EmbeddingModel,
		completionModel: cfg.CompletionModel,
		dimension:       cfg.Dimension,
		temperature:     cfg.Temperature,
		embedClient:     &http.Client{Timeout: embedTimeout},
		generateClient:  &http.Client{Timeout: generateTimeout},
	}
}

// Dimension returns the declared embedding dimension.
func (c *OllamaClient) Dimension() int { return c.dimension }

// Model returns the completion model identifier.
func (c *OllamaClient) Model() string { return c.completionModel }

// Embed requests embeddings for the whole batch in one call and enforces
// the 1:1 positional and dimension contract.
func (c *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	requestBody := map[string]interface{}{
		"model": c.embeddingModel,
		"input": texts,
	}
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.embedClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API returned status: %d", resp.StatusCode)
	}

	var out struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d vectors, got %d", len(texts), len(out.Embeddings))
	}
	for _, vec := range out.Embeddings {
		if len(vec) != c.dimension {
			return nil, &rag.DimensionMismatchError{Want: c.dimension, Got: len(vec)}
		}
	}
	return out.Embeddings, nil
}

// Generate runs one non-streaming completion.
func (c *OllamaClient) Generate(ctx context.Context, system, prompt string) (Generation, error) {
	requestBody := map[string]interface{}{
		"model":  c.completionModel,
		"prompt": prompt,
		"stream": false,
		"options": map[string]interface{}{
			"temperature": c.temperature,
		},
	}
	if system != "" {
		requestBody["system"] = system
	}
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return Generation{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return Generation{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.generateClient.Do(req)
	if err != nil {
		return Generation{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Generation{}, fmt.Errorf("generation API returned status: %d", resp.StatusCode)
	}

	var out struct {
		Response        string `json:"response"`
		PromptEvalCount int    `json:"prompt_eval_count"`
		EvalCount       int    `json:"eval_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Generation{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if strings.TrimSpace(out.Response) == "" {
		return Generation{}, fmt.Errorf("empty generation response")
	}

	meta := map[string]interface{}{}
	if out.PromptEvalCount > 0 {
		meta["prompt_tokens"] = out.PromptEvalCount
	}
	if out.EvalCount > 0 {
		meta["completion_tokens"] = out.EvalCount
	}
	return Generation{Text: out.Response, Metadata: meta}, nil
}
