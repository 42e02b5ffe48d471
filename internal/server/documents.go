package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"

	"github.com/mserrat/docser/internal/rag"
	"github.com/mserrat/docser/internal/runtime"
)

// VectorAdmin is the slice of the vector store the documents API needs.
type VectorAdmin interface {
	FindByMetadata(ctx context.Context, filter rag.Filter) ([]rag.Record, error)
	CountByMetadata(ctx context.Context, filter rag.Filter) (int, error)
	DeleteByMetadata(ctx context.Context, filter rag.Filter) error
	DeleteAll(ctx context.Context) (int, error)
}

type DocumentsHandler struct {
	Vectors VectorAdmin
}

func (h *DocumentsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.deleteOne)
	g.DELETE("", h.deleteAll, runtime.RequireScopes(runtime.ScopeAdmin))
}

// list aggregates stored chunks into one summary per document.
func (h *DocumentsHandler) list(c echo.Context) error {
	records, err := h.Vectors.FindByMetadata(c.Request().Context(), rag.Filter{})
	if err != nil {
		return httpError(err)
	}
	byDoc := make(map[string]*DocumentSummary)
	for _, rec := range records {
		id, _ := rec.Payload[rag.MetaDocumentID].(string)
		if id == "" {
			continue
		}
		summary, ok := byDoc[id]
		if !ok {
			summary = &DocumentSummary{DocumentID: id}
			if name, ok := rec.Payload[rag.MetaFilename].(string); ok {
				summary.Filename = name
			}
			if stamp, ok := rec.Payload[rag.MetaUploadedAt].(string); ok {
				summary.UploadedAt = stamp
			}
			byDoc[id] = summary
		}
		summary.Chunks++
	}
	out := make([]DocumentSummary, 0, len(byDoc))
	for _, summary := range byDoc {
		out = append(out, *summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return c.JSON(http.StatusOK, out)
}

// get returns a document's chunks ordered by chunk index.
func (h *DocumentsHandler) get(c echo.Context) error {
	id := c.Param("id")
	records, err := h.Vectors.FindByMetadata(c.Request().Context(), rag.Filter{rag.MetaDocumentID: id})
	if err != nil {
		return httpError(err)
	}
	if len(records) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("document %s not found", id))
	}

	detail := DocumentDetail{DocumentID: id}
	if name, ok := records[0].Payload[rag.MetaFilename].(string); ok {
		detail.Filename = name
	}
	for _, rec := range records {
		text, _ := rec.Payload[rag.MetaText].(string)
		detail.Chunks = append(detail.Chunks, DocumentChunk{
			ChunkIndex: payloadInt(rec.Payload[rag.MetaChunkIndex]),
			Text:       text,
		})
	}
	sort.Slice(detail.Chunks, func(i, j int) bool { return detail.Chunks[i].ChunkIndex < detail.Chunks[j].ChunkIndex })
	return c.JSON(http.StatusOK, detail)
}

func (h *DocumentsHandler) deleteOne(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()
	filter := rag.Filter{rag.MetaDocumentID: id}

	count, err := h.Vectors.CountByMetadata(ctx, filter)
	if err != nil {
		return httpError(err)
	}
	if count == 0 {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("document %s not found", id))
	}
	if err := h.Vectors.DeleteByMetadata(ctx, filter); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, DeleteResponse{
		DeletedCount: count,
		Message:      fmt.Sprintf("deleted document %s (%d chunks)", id, count),
	})
}

// deleteAll wipes the whole collection and reports how many points went.
func (h *DocumentsHandler) deleteAll(c echo.Context) error {
	count, err := h.Vectors.DeleteAll(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, DeleteResponse{
		DeletedCount: count,
		Message:      "collection emptied",
	})
}

// payloadInt renders a chunk index that may arrive as int or JSON float.
func payloadInt(raw interface{}) int {
	switch v := raw.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
