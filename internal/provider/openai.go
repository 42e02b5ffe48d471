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

// OpenAIClient talks to an OpenAI-compatible API (api.openai.com or any
// server exposing the same /v1 surface).
type OpenAIClient struct {
	baseURL         string
	apiKey          string
	embeddingModel  string
	completionModel string
	dimension       int
	temperature     float64
	maxTokens       int
	embedClient     *http.Client
	generateClient  *http.Client
}

// NewOpenAIClient creates a client for the given configuration.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com"
	}
	embedTimeout := cfg.EmbedTimeout
	if embedTimeout == 0 {
		embedTimeout = 60 * time.Second
	}
	generateTimeout := cfg.GenerateTimeout
	if generateTimeout == 0 {
		generateTimeout = 120 * time.Second
	}
	return &OpenAIClient{
		baseURL:         base,
		apiKey:          cfg.APIKey,
		embeddingModel:  cfg.EmbeddingModel,
		completionModel: cfg.CompletionModel,
		dimension:       cfg.Dimension,
		temperature:     cfg.Temperature,
		maxTokens:       cfg.MaxTokens,
		embedClient:     &http.Client{Timeout: embedTimeout},
		generateClient:  &http.Client{Timeout: generateTimeout},
	}
}

// Dimension returns the declared embedding dimension.
func (c *OpenAIClient) Dimension() int { return c.dimension }

// Model returns the completion model identifier.
func (c *OpenAIClient) Model() string { return c.completionModel }

// Embed generates embeddings for the given texts in one batch call.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.embedClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API returned status: %d", resp.StatusCode)
	}

	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d vectors, got %d", len(texts), len(out.Data))
	}

	vecs := make([][]float32, len(out.Data))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		if len(d.Embedding) != c.dimension {
			return nil, &rag.DimensionMismatchError{Want: c.dimension, Got: len(d.Embedding)}
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generate runs one chat completion.
func (c *OpenAIClient) Generate(ctx context.Context, system, prompt string) (Generation, error) {
	messages := []chatMessage{}
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	requestBody := map[string]interface{}{
		"model":       c.completionModel,
		"messages":    messages,
		"temperature": c.temperature,
	}
	if c.maxTokens > 0 {
		requestBody["max_tokens"] = c.maxTokens
	}
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return Generation{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return Generation{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.generateClient.Do(req)
	if err != nil {
		return Generation{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Generation{}, fmt.Errorf("generation API returned status: %d", resp.StatusCode)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Generation{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out.Choices) == 0 {
		return Generation{}, fmt.Errorf("no choices in response")
	}

	meta := map[string]interface{}{}
	if out.Usage.PromptTokens > 0 {
		meta["prompt_tokens"] = out.Usage.PromptTokens
	}
	if out.Usage.CompletionTokens > 0 {
		meta["completion_tokens"] = out.Usage.CompletionTokens
	}
	return Generation{Text: out.Choices[0].Message.Content, Metadata: meta}, nil
}
