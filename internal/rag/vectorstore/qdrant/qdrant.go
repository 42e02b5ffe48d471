// Package qdrant is a REST client for the Qdrant vector database. It owns
// the collection lifecycle, point upserts with metadata payloads,
// metadata-filtered lookups and similarity search.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mserrat/docser/internal/rag"
)

// Store is a minimal REST client bound to one collection. All vectors in
// the collection share the configured dimension and distance metric.
type Store struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	distance   string
	client     *http.Client
}

// Config parameterises the store.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Distance   string
	Timeout    time.Duration
}

// New builds a Store. Distance defaults to cosine.
func New(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("qdrant url is required")
	}
	if cfg.Collection == "" {
		return nil, errors.New("qdrant collection is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("qdrant dimension must be positive, got %d", cfg.Dimension)
	}
	distance := cfg.Distance
	if distance == "" {
		distance = "Cosine"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Store{
		url:        strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		distance:   distance,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// Dimension returns the collection's declared vector dimension.
func (s *Store) Dimension() int { return s.dimension }

// Collection returns the bound collection name.
func (s *Store) Collection() string { return s.collection }

// EnsureCollection creates the collection if it is absent and is a no-op
// when it already exists. Existing data is never touched.
func (s *Store) EnsureCollection(ctx context.Context) error {
	exists, err := s.collectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     s.dimension,
			"distance": s.distance,
		},
	}
	return s.doJSON(ctx, http.MethodPut, s.collectionPath(""), body, nil)
}

// collectionExists probes the collection. Backends report a missing
// collection either as a plain HTTP 404 or as a 200/4xx JSON body with an
// error status; both shapes are treated uniformly as "absent".
func (s *Store) collectionExists(ctx context.Context) (bool, error) {
	resp, err := s.do(ctx, http.MethodGet, s.collectionPath(""), nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode == http.StatusOK:
		var out struct {
			Status json.RawMessage `json:"status"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return false, fmt.Errorf("qdrant collection probe: %w", err)
		}
		if isMissingStatus(out.Status) {
			return false, nil
		}
		return true, nil
	default:
		raw, _ := io.ReadAll(resp.Body)
		if isMissingBody(raw) {
			return false, nil
		}
		return false, fmt.Errorf("qdrant collection probe failed: %s", resp.Status)
	}
}

// isMissingStatus detects the {"status":{"error":"... doesn't exist"}}
// response shape.
func isMissingStatus(status json.RawMessage) bool {
	if len(status) == 0 {
		return false
	}
	var detail struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(status, &detail); err != nil {
		return false
	}
	return missingText(detail.Error)
}

func isMissingBody(raw []byte) bool {
	var out struct {
		Status struct {
			Error string `json:"error"`
		} `json:"status"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return false
	}
	return missingText(out.Status.Error)
}

func missingText(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "not found") || strings.Contains(lower, "doesn't exist") || strings.Contains(lower, "does not exist")
}

// Upsert inserts or replaces the given records in one call. Every record
// must carry a vector of the collection's dimension.
func (s *Store) Upsert(ctx context.Context, records []rag.Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]map[string]interface{}, len(records))
	for i, rec := range records {
		if len(rec.Vector) != s.dimension {
			return &rag.DimensionMismatchError{Want: s.dimension, Got: len(rec.Vector)}
		}
		points[i] = map[string]interface{}{
			"id":      rec.ID,
			"vector":  rec.Vector,
			"payload": rec.Payload,
		}
	}
	body := map[string]interface{}{"points": points}
	return s.doJSON(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), body, nil)
}

// FindByMetadata returns all records whose payload matches the filter
// exactly. No matches is an empty result, not an error; pages of 1000 are
// scrolled until exhaustion.
func (s *Store) FindByMetadata(ctx context.Context, filter rag.Filter) ([]rag.Record, error) {
	var records []rag.Record
	var offset interface{}
	for {
		body := map[string]interface{}{
			"filter":       qdrantFilter(filter),
			"limit":        1000,
			"with_payload": true,
			"with_vector":  false,
		}
		if offset != nil {
			body["offset"] = offset
		}
		var out struct {
			Result struct {
				Points []struct {
					ID      json.RawMessage        `json:"id"`
					Payload map[string]interface{} `json:"payload"`
				} `json:"points"`
				NextPageOffset interface{} `json:"next_page_offset"`
			} `json:"result"`
		}
		missing, err := s.doJSONTolerant(ctx, http.MethodPost, s.collectionPath("/points/scroll"), body, &out)
		if err != nil {
			return nil, err
		}
		if missing {
			return nil, nil
		}
		for _, p := range out.Result.Points {
			records = append(records, rag.Record{ID: pointID(p.ID), Payload: p.Payload})
		}
		if out.Result.NextPageOffset == nil {
			return records, nil
		}
		offset = out.Result.NextPageOffset
	}
}

// CountByMetadata returns the exact number of records matching the filter.
func (s *Store) CountByMetadata(ctx context.Context, filter rag.Filter) (int, error) {
	body := map[string]interface{}{
		"filter": qdrantFilter(filter),
		"exact":  true,
	}
	var out struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	missing, err := s.doJSONTolerant(ctx, http.MethodPost, s.collectionPath("/points/count"), body, &out)
	if err != nil {
		return 0, err
	}
	if missing {
		return 0, nil
	}
	return out.Result.Count, nil
}

// Search returns at most topK records ranked by descending similarity.
// A missing or empty collection yields an empty result.
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]rag.ScoredRecord, error) {
	if topK <= 0 {
		topK = 5
	}
	body := map[string]interface{}{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	var out struct {
		Result []struct {
			ID      json.RawMessage        `json:"id"`
			Score   *float64               `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	missing, err := s.doJSONTolerant(ctx, http.MethodPost, s.collectionPath("/points/search"), body, &out)
	if err != nil {
		return nil, err
	}
	if missing {
		return nil, nil
	}
	results := make([]rag.ScoredRecord, 0, len(out.Result))
	for _, r := range out.Result {
		results = append(results, rag.ScoredRecord{
			Record: rag.Record{ID: pointID(r.ID), Payload: r.Payload},
			Score:  r.Score,
		})
	}
	return results, nil
}

// DeleteByMetadata removes all records matching the filter. Deleting a
// non-existent match is a no-op success.
func (s *Store) DeleteByMetadata(ctx context.Context, filter rag.Filter) error {
	body := map[string]interface{}{"filter": qdrantFilter(filter)}
	missing, err := s.doJSONTolerant(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), body, nil)
	if err != nil {
		return err
	}
	_ = missing // absent collection means nothing to delete
	return nil
}

// DeleteAll destroys the collection and recreates it empty with the same
// dimension/metric contract, returning the number of points removed.
func (s *Store) DeleteAll(ctx context.Context) (int, error) {
	count, err := s.pointCount(ctx)
	if err != nil {
		return 0, err
	}
	missing, err := s.doJSONTolerant(ctx, http.MethodDelete, s.collectionPath(""), nil, nil)
	if err != nil {
		return 0, err
	}
	_ = missing
	if err := s.EnsureCollection(ctx); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) pointCount(ctx context.Context) (int, error) {
	var out struct {
		Result struct {
			PointsCount int `json:"points_count"`
		} `json:"result"`
	}
	missing, err := s.doJSONTolerant(ctx, http.MethodGet, s.collectionPath(""), nil, &out)
	if err != nil {
		return 0, err
	}
	if missing {
		return 0, nil
	}
	return out.Result.PointsCount, nil
}

func (s *Store) collectionPath(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

// qdrantFilter converts an exact-match metadata filter into Qdrant's
// must/match form.
func qdrantFilter(filter rag.Filter) map[string]interface{} {
	must := make([]map[string]interface{}, 0, len(filter))
	for key, value := range filter {
		must = append(must, map[string]interface{}{
			"key":   key,
			"match": map[string]interface{}{"value": value},
		})
	}
	return map[string]interface{}{"must": must}
}

// pointID renders a point id that may arrive as a string or a number.
func pointID(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return strings.TrimSpace(string(raw))
}

func (s *Store) do(ctx context.Context, method, url string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("qdrant marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("qdrant build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant %s %s: %w", method, url, err)
	}
	return resp, nil
}

// doJSON performs a request and decodes a 2xx response into out.
func (s *Store) doJSON(ctx context.Context, method, url string, body, out interface{}) error {
	resp, err := s.do(ctx, method, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("qdrant decode response: %w", err)
		}
	}
	return nil
}

// doJSONTolerant behaves like doJSON but reports a missing collection
// (either 404 shape) via its boolean instead of failing.
func (s *Store) doJSONTolerant(ctx context.Context, method, url string, body, out interface{}) (missing bool, err error) {
	resp, err := s.do(ctx, method, url, body)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return true, nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("qdrant read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		if isMissingBody(raw) {
			return true, nil
		}
		return false, fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, strings.TrimSpace(string(raw)))
	}
	if isMissingBody(raw) {
		return true, nil
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return false, fmt.Errorf("qdrant decode response: %w", err)
		}
	}
	return false, nil
}
