package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/mserrat/docser/config"
	"github.com/mserrat/docser/internal/notify"
	"github.com/mserrat/docser/internal/provider"
	"github.com/mserrat/docser/internal/queue/streams"
	"github.com/mserrat/docser/internal/rag/chunker"
	"github.com/mserrat/docser/internal/rag/ingest"
	"github.com/mserrat/docser/internal/rag/vectorstore/qdrant"
	"github.com/mserrat/docser/internal/store"
)

// Run wires a processor from configuration and consumes the ingest
// stream until the context is cancelled.
func Run(ctx context.Context, cfg *appconfig.Config) error {
	logger := log.New(log.Writer(), "[WORKER] ", log.LstdFlags)

	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr(),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	vectors, err := qdrant.New(qdrant.Config{
		URL:        cfg.Qdrant.URL,
		APIKey:     cfg.Qdrant.APIKey,
		Collection: cfg.Qdrant.Collection,
		Dimension:  cfg.Provider.Dimension,
		Distance:   cfg.Qdrant.Distance,
		Timeout:    cfg.Qdrant.Timeout,
	})
	if err != nil {
		return err
	}
	if err := vectors.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	embedder, _, err := provider.New(provider.Config{
		Type:            cfg.Provider.Type,
		BaseURL:         cfg.Provider.BaseURL,
		APIKey:          cfg.Provider.APIKey,
		EmbeddingModel:  cfg.Provider.EmbeddingModel,
		CompletionModel: cfg.Provider.CompletionModel,
		Dimension:       cfg.Provider.Dimension,
		Temperature:     cfg.Provider.Temperature,
		MaxTokens:       cfg.Provider.MaxTokens,
		EmbedTimeout:    cfg.Provider.EmbedTimeout,
		GenerateTimeout: cfg.Provider.GenerateTimeout,
	})
	if err != nil {
		return err
	}

	splitter, err := chunker.New(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	if err != nil {
		return err
	}

	registry := streams.NewSchemaRegistry()
	if err := streams.RegisterBaseSchemas(registry); err != nil {
		return err
	}
	if err := streams.EnsureGroup(ctx, rdb, streams.IngestStream, streams.IngestGroup); err != nil {
		return err
	}

	consumerName := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
	consumer := streams.NewConsumer(rdb, registry, streams.IngestGroup, consumerName)
	publisher := streams.NewPublisher(rdb, registry)

	progress := notify.New(rdb)
	ingestor := ingest.New(vectors, embedder, splitter, ingest.WithNotifier(progress))
	jobs := NewJobTracker(rdb)

	go reportLag(ctx, logger, rdb)

	logger.Printf("consuming %s as %s", streams.IngestStream, consumerName)
	processor := NewProcessor(st, jobs, ingestor, publisher, consumer)
	return processor.Start(ctx)
}

// reportLag periodically logs consumer-group lag so stuck queues are
// visible in the worker output.
func reportLag(ctx context.Context, logger *log.Logger, rdb *redis.Client) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics, err := streams.GroupLag(ctx, rdb, streams.IngestStream, streams.IngestGroup)
			if err != nil {
				logger.Printf("warn: queue lag: %v", err)
				continue
			}
			if metrics.Pending > 0 || metrics.Lag > 0 {
				logger.Printf("queue lag: pending=%d lag=%d consumers=%d oldest_idle=%s",
					metrics.Pending, metrics.Lag, metrics.Consumers, metrics.OldestIdle)
			}
		}
	}
}
