// Package server exposes the HTTP API: authentication, document
// ingestion (sync and async), querying and corpus administration.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/mserrat/docser/config"
	"github.com/mserrat/docser/internal/notify"
	"github.com/mserrat/docser/internal/provider"
	"github.com/mserrat/docser/internal/queue/streams"
	"github.com/mserrat/docser/internal/rag"
	"github.com/mserrat/docser/internal/rag/chunker"
	"github.com/mserrat/docser/internal/rag/ingest"
	"github.com/mserrat/docser/internal/rag/query"
	"github.com/mserrat/docser/internal/rag/vectorstore/qdrant"
	"github.com/mserrat/docser/internal/runtime"
	"github.com/mserrat/docser/internal/store"
	"github.com/mserrat/docser/internal/worker"
)

// newEcho builds the echo instance with recovery, CORS, the unified
// error handler and the operational endpoints.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

// httpError maps domain failures onto HTTP status codes. Validation
// failures are the caller's fault; everything else is ours.
func httpError(err error) error {
	if err == nil {
		return nil
	}
	if he, ok := err.(*echo.HTTPError); ok {
		return he
	}
	if rag.IsValidation(err) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// Run wires every dependency and serves the API until the listener fails.
func Run(cfg *appconfig.Config) error {
	ctx := context.Background()

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

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

	embedder, generator, err := provider.New(provider.Config{
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
	publisher := streams.NewPublisher(rdb, registry)
	if err := streams.EnsureGroup(ctx, rdb, streams.IngestStream, streams.IngestGroup); err != nil {
		return err
	}

	progress := notify.New(rdb)
	ingestor := ingest.New(vectors, embedder, splitter, ingest.WithNotifier(progress))
	engine := query.New(vectors, embedder, generator)
	jobs := worker.NewJobTracker(rdb)

	e := newEcho()
	api := e.Group("/api")

	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	protect := runtime.EchoAuthMiddleware(secret)

	ih := &IngestHandler{
		Ingestor:    ingestor,
		Jobs:        jobs,
		Publisher:   publisher,
		Store:       st,
		SpoolDir:    cfg.Ingest.SpoolDir,
		MaxUploadMB: cfg.Server.MaxUploadMB,
	}
	ih.Register(api.Group("/ingest", protect))

	qh := &QueryHandler{Engine: engine, DefaultLanguage: cfg.Query.DefaultLanguage, DefaultTopK: cfg.Query.TopK}
	qh.Register(api.Group("/query", protect))

	dh := &DocumentsHandler{Vectors: vectors}
	dh.Register(api.Group("/documents", protect))

	bh := &BatchesHandler{Store: st}
	bh.Register(api.Group("/batches", protect))

	return e.Start(cfg.Server.Address)
}
