package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mserrat/docser/internal/rag/query"
)

var (
	queryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docser_query_requests_total",
		Help: "Query API requests, by outcome.",
	}, []string{"outcome"})
	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docser_query_seconds",
		Help:    "Wall-clock duration of query requests.",
		Buckets: prometheus.DefBuckets,
	})
)

// Answerer resolves questions against the corpus.
type Answerer interface {
	Answer(ctx context.Context, req query.Request) (*query.Response, error)
}

type QueryHandler struct {
	Engine          Answerer
	DefaultLanguage string
	DefaultTopK     int
}

func (h *QueryHandler) Register(g *echo.Group) {
	g.GET("", h.query)
	g.POST("", h.query)
}

func (h *QueryHandler) query(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		question = strings.TrimSpace(req.Query)
	}
	if question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "parameter 'query' or 'question' is required")
	}
	language := req.Language
	if language == "" {
		language = h.DefaultLanguage
	}
	topK := req.TopK
	if topK <= 0 {
		topK = h.DefaultTopK
	}

	start := time.Now()
	resp, err := h.Engine.Answer(c.Request().Context(), query.Request{
		Question: question,
		Language: language,
		TopK:     topK,
	})
	queryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		queryRequests.WithLabelValues("error").Inc()
		return httpError(err)
	}
	queryRequests.WithLabelValues("ok").Inc()
	return c.JSON(http.StatusOK, resp)
}
