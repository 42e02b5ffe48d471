package worker_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mserrat/docser/internal/queue/streams"
	"github.com/mserrat/docser/internal/rag/ingest"
	"github.com/mserrat/docser/internal/store"
	"github.com/mserrat/docser/internal/worker"
)

type passthroughIngestor struct{}

func (passthroughIngestor) Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error) {
	return &ingest.Result{
		DocumentID:  "a1b2c3",
		Filename:    req.Filename,
		ContentHash: "a1b2c3",
		Chunks:      2,
		Status:      ingest.StatusCompleted,
		UploadedAt:  time.Now().UTC(),
	}, nil
}

func TestProcessorCompletesBatchEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("docser"),
		tcPostgres.WithUsername("docser"),
		tcPostgres.WithPassword("docser"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	pgHost, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	pgPort, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	redisHost, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	redisPort, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://docser:docser@%s:%s/docser?sslmode=disable", pgHost, pgPort.Port())
	if err := applyMigrations(ctx, dsn); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}

	userID := uuid.NewString()
	if _, err := st.DB.ExecContext(ctx, `INSERT INTO users (id, email, password_hash) VALUES ($1,$2,$3)`,
		userID, "integration@example.com", "hash"); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	batchID, err := st.CreateBatch(ctx, userID, 1)
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	jobID := uuid.NewString()
	if err := st.AddBatchDocument(ctx, batchID, jobID, "sample.txt"); err != nil {
		t.Fatalf("add batch document: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port())})
	defer func() { _ = rdb.Close() }()

	registry := streams.NewSchemaRegistry()
	if err := streams.RegisterBaseSchemas(registry); err != nil {
		t.Fatalf("register schemas: %v", err)
	}
	if err := streams.EnsureGroup(ctx, rdb, streams.IngestStream, streams.IngestGroup); err != nil {
		t.Fatalf("ensure group: %v", err)
	}

	spool := filepath.Join(t.TempDir(), jobID+".txt")
	if err := os.WriteFile(spool, []byte("Hello world."), 0o600); err != nil {
		t.Fatalf("write spool: %v", err)
	}

	publisher := streams.NewPublisher(rdb, registry)
	consumer := streams.NewConsumer(rdb, registry, streams.IngestGroup, "integration-1")
	jobs := worker.NewJobTracker(rdb)

	payload := worker.IngestEnqueuedPayload{
		JobID:     jobID,
		Filename:  "sample.txt",
		SpoolPath: spool,
		BatchID:   batchID,
	}
	if _, err := publisher.PublishRaw(ctx, streams.IngestStream, streams.EventIngestEnqueued, "v1", payload); err != nil {
		t.Fatalf("publish enqueued: %v", err)
	}

	proc := worker.NewProcessor(st, jobs, passthroughIngestor{}, publisher, consumer)
	procCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- proc.Start(procCtx) }()

	deadline := time.Now().Add(15 * time.Second)
	for {
		job, found, err := jobs.Get(ctx, jobID)
		if err != nil {
			t.Fatalf("job lookup: %v", err)
		}
		if found && job.Status == "completed" {
			if job.Chunks != 2 {
				t.Errorf("expected 2 chunks recorded, got %d", job.Chunks)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not complete, last state %+v (found=%v)", job, found)
		}
		time.Sleep(100 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil && !strings.Contains(err.Error(), "context canceled") {
		t.Fatalf("processor exit: %v", err)
	}

	batch, found, err := st.GetBatch(ctx, batchID)
	if err != nil || !found {
		t.Fatalf("get batch: %v (found=%v)", err, found)
	}
	if batch.Status != store.BatchStatusCompleted || batch.Completed != 1 {
		t.Errorf("batch not rolled up: %+v", batch)
	}

	if _, err := os.Stat(spool); !os.IsNotExist(err) {
		t.Errorf("spool file should be removed after completion")
	}
}

func applyMigrations(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	ddl, err := os.ReadFile(filepath.Join("..", "..", "migrations", "0001_init.up.sql"))
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := db.ExecContext(ctx, string(ddl)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
