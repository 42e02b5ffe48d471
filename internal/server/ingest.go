package server

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mserrat/docser/internal/queue/streams"
	"github.com/mserrat/docser/internal/rag"
	"github.com/mserrat/docser/internal/rag/ingest"
	"github.com/mserrat/docser/internal/worker"
)

var ingestRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docser_ingest_requests_total",
	Help: "Ingestion API requests, by mode and outcome.",
}, []string{"mode", "outcome"})

// IngestorAPI runs the synchronous pipeline.
type IngestorAPI interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// JobsAPI tracks async job state.
type JobsAPI interface {
	Put(ctx context.Context, job rag.Job) error
	Get(ctx context.Context, id string) (rag.Job, bool, error)
}

// PublisherAPI enqueues ingestion events.
type PublisherAPI interface {
	PublishRaw(ctx context.Context, stream, eventType, version string, payload interface{}, opts ...streams.PublishOption) (string, error)
}

// BatchStore persists batch bookkeeping.
type BatchStore interface {
	CreateBatch(ctx context.Context, userID string, total int) (string, error)
	AddBatchDocument(ctx context.Context, batchID, jobID, filename string) error
}

type IngestHandler struct {
	Ingestor    IngestorAPI
	Jobs        JobsAPI
	Publisher   PublisherAPI
	Store       BatchStore
	SpoolDir    string
	MaxUploadMB int
}

func (h *IngestHandler) Register(g *echo.Group) {
	if h.MaxUploadMB > 0 {
		g.Use(middlewareBodyLimit(h.MaxUploadMB))
	}
	g.POST("", h.ingestSync)
	g.POST("/async", h.ingestAsync)
	g.POST("/batch", h.ingestBatch)
	g.GET("/jobs/:id", h.jobStatus)
}

func middlewareBodyLimit(mb int) echo.MiddlewareFunc {
	limit := int64(mb) << 20
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, limit)
			return next(c)
		}
	}
}

func readUpload(file *multipart.FileHeader) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload %s: %w", file.Filename, err)
	}
	defer src.Close()
	return io.ReadAll(src)
}

func (h *IngestHandler) ingestSync(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field 'file' is required")
	}
	data, err := readUpload(file)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.Ingestor.Ingest(c.Request().Context(), ingest.Request{
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		ingestRequests.WithLabelValues("sync", "error").Inc()
		return httpError(err)
	}
	ingestRequests.WithLabelValues("sync", "ok").Inc()
	return c.JSON(http.StatusOK, ingestResponse(result))
}

func ingestResponse(result *ingest.Result) IngestResponse {
	resp := IngestResponse{
		DocumentID:  result.DocumentID,
		Filename:    result.Filename,
		Chunks:      result.Chunks,
		Status:      result.Status,
		ContentHash: result.ContentHash,
		Duplicate:   result.Duplicate,
	}
	if result.Duplicate {
		resp.OriginalFile = result.OriginalFilename
		if !result.OriginalUploadedAt.IsZero() {
			t := result.OriginalUploadedAt
			resp.OriginalUploadedAt = &t
		}
		resp.Message = fmt.Sprintf("document already ingested as %q (%d chunks)", result.OriginalFilename, result.Chunks)
	} else {
		resp.Message = fmt.Sprintf("ingested %q into %d chunks", result.Filename, result.Chunks)
	}
	return resp
}

// spool writes an upload to the spool directory for the worker to pick up.
func (h *IngestHandler) spool(file *multipart.FileHeader, jobID string) (string, error) {
	data, err := readUpload(file)
	if err != nil {
		return "", err
	}
	dir := h.SpoolDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create spool dir: %w", err)
	}
	path := filepath.Join(dir, jobID+filepath.Ext(file.Filename))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("spool upload: %w", err)
	}
	return path, nil
}

func (h *IngestHandler) enqueue(ctx context.Context, file *multipart.FileHeader, batchID, userID string) (EnqueueResponse, error) {
	jobID := uuid.NewString()
	path, err := h.spool(file, jobID)
	if err != nil {
		return EnqueueResponse{}, err
	}

	job := rag.Job{
		ID:          jobID,
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Status:      rag.JobQueued,
		EnqueuedAt:  time.Now().UTC(),
	}
	if err := h.Jobs.Put(ctx, job); err != nil {
		return EnqueueResponse{}, err
	}

	payload := worker.IngestEnqueuedPayload{
		JobID:       jobID,
		Filename:    file.Filename,
		ContentType: job.ContentType,
		SpoolPath:   path,
		BatchID:     batchID,
		UploadedBy:  userID,
	}
	if _, err := h.Publisher.PublishRaw(ctx, streams.IngestStream, streams.EventIngestEnqueued, "v1", payload); err != nil {
		return EnqueueResponse{}, fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return EnqueueResponse{JobID: jobID, File: file.Filename, Status: rag.JobQueued}, nil
}

func (h *IngestHandler) ingestAsync(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field 'file' is required")
	}
	userID, _ := c.Get("user_id").(string)

	resp, err := h.enqueue(c.Request().Context(), file, "", userID)
	if err != nil {
		ingestRequests.WithLabelValues("async", "error").Inc()
		return httpError(err)
	}
	ingestRequests.WithLabelValues("async", "ok").Inc()
	return c.JSON(http.StatusAccepted, resp)
}

func (h *IngestHandler) ingestBatch(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	files := form.File["files"]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field 'files' is required")
	}
	ctx := c.Request().Context()
	userID, _ := c.Get("user_id").(string)

	batchID, err := h.Store.CreateBatch(ctx, userID, len(files))
	if err != nil {
		return httpError(err)
	}

	resp := BatchEnqueueResponse{BatchID: batchID}
	for _, file := range files {
		item, err := h.enqueue(ctx, file, batchID, userID)
		if err != nil {
			ingestRequests.WithLabelValues("batch", "error").Inc()
			return httpError(err)
		}
		if err := h.Store.AddBatchDocument(ctx, batchID, item.JobID, file.Filename); err != nil {
			return httpError(err)
		}
		resp.Jobs = append(resp.Jobs, item)
	}
	ingestRequests.WithLabelValues("batch", "ok").Inc()
	return c.JSON(http.StatusAccepted, resp)
}

func (h *IngestHandler) jobStatus(c echo.Context) error {
	id := c.Param("id")
	job, found, err := h.Jobs.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("job %s not found", id))
	}
	return c.JSON(http.StatusOK, job)
}
