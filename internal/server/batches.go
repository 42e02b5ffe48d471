package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mserrat/docser/internal/store"
)

// BatchReader is the slice of the store the batches API needs.
type BatchReader interface {
	GetBatch(ctx context.Context, id string) (store.Batch, bool, error)
	ListBatches(ctx context.Context, userID string, limit int) ([]store.Batch, error)
	ListBatchDocuments(ctx context.Context, batchID string) ([]store.BatchDocument, error)
}

type BatchesHandler struct {
	Store BatchReader
}

func (h *BatchesHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.GET("/:id", h.get)
}

func (h *BatchesHandler) list(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	batches, err := h.Store.ListBatches(c.Request().Context(), userID, 0)
	if err != nil {
		return httpError(err)
	}
	out := make([]BatchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, batchResponse(b, nil))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *BatchesHandler) get(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	batch, found, err := h.Store.GetBatch(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("batch %s not found", id))
	}
	docs, err := h.Store.ListBatchDocuments(ctx, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, batchResponse(batch, docs))
}

func batchResponse(b store.Batch, docs []store.BatchDocument) BatchResponse {
	resp := BatchResponse{
		BatchID:   b.ID,
		Status:    b.Status,
		Total:     b.Total,
		Completed: b.Completed,
		Failed:    b.Failed,
		CreatedAt: b.CreatedAt,
	}
	for _, d := range docs {
		resp.Documents = append(resp.Documents, BatchDocumentItem{
			JobID:      d.JobID,
			Filename:   d.Filename,
			Status:     d.Status,
			DocumentID: d.DocumentID,
			Chunks:     d.Chunks,
			Error:      d.Error,
		})
	}
	return resp
}
