// Package worker consumes ingestion events from Redis Streams and drives
// the document pipeline, tracking job and batch state as it goes.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mserrat/docser/internal/queue/streams"
	"github.com/mserrat/docser/internal/rag"
	"github.com/mserrat/docser/internal/rag/ingest"
)

// maxAttempts bounds redelivery of retryable failures.
const maxAttempts = 3

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docser_worker_jobs_total",
		Help: "Ingestion jobs processed by the worker, by outcome.",
	}, []string{"outcome"})
	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docser_worker_job_seconds",
		Help:    "Wall-clock duration of ingestion jobs.",
		Buckets: prometheus.DefBuckets,
	})
)

// StoreAPI captures the store methods required by the worker.
type StoreAPI interface {
	ClaimIdempotency(ctx context.Context, scope, key string) (bool, error)
	MarkBatchDocument(ctx context.Context, jobID, status, documentID string, chunks int, errMsg string) error
}

// JobsAPI tracks async job state.
type JobsAPI interface {
	Put(ctx context.Context, job rag.Job) error
	Get(ctx context.Context, id string) (rag.Job, bool, error)
}

// IngestorAPI runs the document pipeline.
type IngestorAPI interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// publisherAPI is the publishing slice of the streams layer.
type publisherAPI interface {
	Publish(ctx context.Context, stream string, envelope streams.Envelope, opts ...streams.PublishOption) (string, error)
	PublishRaw(ctx context.Context, stream, eventType, version string, payload interface{}, opts ...streams.PublishOption) (string, error)
}

// consumerAPI is the consuming slice of the streams layer.
type consumerAPI interface {
	Read(ctx context.Context, stream string, opts ...streams.ConsumerOption) ([]streams.Message, error)
	Ack(ctx context.Context, stream string, ids ...string) error
}

// IngestEnqueuedPayload mirrors the JSON payload published to ingest.enqueued.
type IngestEnqueuedPayload struct {
	JobID       string `json:"job_id"`
	Filename    string `json:"file"`
	ContentType string `json:"content_type"`
	SpoolPath   string `json:"spool_path"`
	BatchID     string `json:"batch_id,omitempty"`
	UploadedBy  string `json:"uploaded_by,omitempty"`
}

// Processor drives ingestion by consuming ingest.enqueued events.
type Processor struct {
	logger    *log.Logger
	store     StoreAPI
	jobs      JobsAPI
	ingestor  IngestorAPI
	consumer  consumerAPI
	publisher publisherAPI
	stream    string
}

// NewProcessor constructs a Processor reading from the ingest stream.
func NewProcessor(store StoreAPI, jobs JobsAPI, ingestor IngestorAPI, pub *streams.Publisher, cons *streams.Consumer) *Processor {
	return &Processor{
		logger:    log.New(log.Writer(), "[worker] ", log.LstdFlags),
		store:     store,
		jobs:      jobs,
		ingestor:  ingestor,
		consumer:  cons,
		publisher: pub,
		stream:    streams.IngestStream,
	}
}

// Start blocks, continuously processing ingest events until the context is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Printf("worker starting; consuming stream %s", p.stream)
	for {
		select {
		case <-ctx.Done():
			p.logger.Printf("worker stopping: %v", ctx.Err())
			return nil
		default:
		}

		msgs, err := p.consumer.Read(ctx, p.stream, streams.WithBlock(5*time.Second), streams.WithCount(16))
		if err != nil {
			p.logger.Printf("error reading stream: %v", err)
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range msgs {
			if err := p.handleEnqueued(ctx, msg); err != nil {
				p.logger.Printf("error handling message %s: %v", msg.ID, err)
			}
			if err := p.consumer.Ack(ctx, p.stream, msg.ID); err != nil {
				p.logger.Printf("warn: failed to ack message %s: %v", msg.ID, err)
			}
		}
	}
}

func (p *Processor) handleEnqueued(ctx context.Context, msg streams.Message) error {
	if msg.Envelope.EventType != streams.EventIngestEnqueued {
		return nil
	}
	claimed, err := p.store.ClaimIdempotency(ctx, msg.Envelope.EventType, msg.Envelope.EventID)
	if err != nil {
		return fmt.Errorf("claim idempotency: %w", err)
	}
	if !claimed {
		p.logger.Printf("skip event %s: already processed", msg.Envelope.EventID)
		return nil
	}

	var payload IngestEnqueuedPayload
	if err := json.Unmarshal(msg.Envelope.Data, &payload); err != nil {
		return fmt.Errorf("unmarshal ingest payload: %w", err)
	}

	p.trackJob(ctx, payload, rag.JobProcessing, 0, "")

	start := time.Now()
	result, err := p.process(ctx, payload)
	jobDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		return p.finishFailed(ctx, msg, payload, err)
	}
	return p.finishCompleted(ctx, payload, result)
}

func (p *Processor) process(ctx context.Context, payload IngestEnqueuedPayload) (*ingest.Result, error) {
	data, err := os.ReadFile(payload.SpoolPath)
	if err != nil {
		return nil, rag.NewInfrastructureError("read spool", err)
	}
	return p.ingestor.Ingest(ctx, ingest.Request{
		JobID:       payload.JobID,
		Filename:    payload.Filename,
		ContentType: payload.ContentType,
		Data:        data,
	})
}

func (p *Processor) finishCompleted(ctx context.Context, payload IngestEnqueuedPayload, result *ingest.Result) error {
	p.removeSpool(payload.SpoolPath)
	p.trackJob(ctx, payload, rag.JobCompleted, result.Chunks, "")
	jobsProcessed.WithLabelValues("completed").Inc()

	if payload.BatchID != "" {
		if err := p.store.MarkBatchDocument(ctx, payload.JobID, "completed", result.DocumentID, result.Chunks, ""); err != nil {
			p.logger.Printf("warn: mark batch document %s: %v", payload.JobID, err)
		}
	}
	_, err := p.publisher.PublishRaw(ctx, p.stream, streams.EventIngestCompleted, "v1", map[string]interface{}{
		"job_id":       payload.JobID,
		"file":         payload.Filename,
		"document_id":  result.DocumentID,
		"chunks":       result.Chunks,
		"duplicate":    result.Duplicate,
		"content_hash": result.ContentHash,
	})
	if err != nil {
		p.logger.Printf("warn: publish completion for %s: %v", payload.JobID, err)
	}
	return nil
}

func (p *Processor) finishFailed(ctx context.Context, msg streams.Message, payload IngestEnqueuedPayload, cause error) error {
	retryable := rag.IsRetryable(cause)
	if retryable && msg.Envelope.Attempt+1 < maxAttempts {
		jobsProcessed.WithLabelValues("retried").Inc()
		p.trackJob(ctx, payload, rag.JobQueued, 0, cause.Error())
		env := streams.Envelope{
			EventType:      streams.EventIngestEnqueued,
			PayloadVersion: msg.Envelope.PayloadVersion,
			Attempt:        msg.Envelope.Attempt + 1,
			Data:           msg.Envelope.Data,
		}
		if _, err := p.publisher.Publish(ctx, p.stream, env); err != nil {
			return fmt.Errorf("requeue job %s: %w", payload.JobID, err)
		}
		return nil
	}

	p.removeSpool(payload.SpoolPath)
	p.trackJob(ctx, payload, rag.JobFailed, 0, cause.Error())
	jobsProcessed.WithLabelValues("failed").Inc()

	if payload.BatchID != "" {
		if err := p.store.MarkBatchDocument(ctx, payload.JobID, "failed", "", 0, cause.Error()); err != nil {
			p.logger.Printf("warn: mark batch document %s: %v", payload.JobID, err)
		}
	}
	_, err := p.publisher.PublishRaw(ctx, p.stream, streams.EventIngestFailed, "v1", map[string]interface{}{
		"job_id":    payload.JobID,
		"file":      payload.Filename,
		"error":     cause.Error(),
		"retryable": retryable,
	})
	if err != nil {
		p.logger.Printf("warn: publish failure for %s: %v", payload.JobID, err)
	}
	return nil
}

func (p *Processor) trackJob(ctx context.Context, payload IngestEnqueuedPayload, status string, chunks int, errMsg string) {
	if p.jobs == nil {
		return
	}
	job, found, err := p.jobs.Get(ctx, payload.JobID)
	if err != nil {
		p.logger.Printf("warn: load job %s: %v", payload.JobID, err)
	}
	if !found {
		// The record expired or was never written. Rebuild what we can
		// from the payload; EnqueuedAt is lost in that case.
		job = rag.Job{
			ID:          payload.JobID,
			Filename:    payload.Filename,
			ContentType: payload.ContentType,
		}
	}
	job.Status = status
	job.Chunks = chunks
	job.Error = errMsg
	if err := p.jobs.Put(ctx, job); err != nil {
		p.logger.Printf("warn: track job %s: %v", payload.JobID, err)
	}
}

func (p *Processor) removeSpool(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.logger.Printf("warn: remove spool %s: %v", path, err)
	}
}
