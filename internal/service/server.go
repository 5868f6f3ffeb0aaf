// Package service exposes the public HTTP API over fasthttp.
package service

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/web2img/engine/internal/cache"
	"github.com/web2img/engine/internal/capture/browser"
	"github.com/web2img/engine/internal/capture/queue"
	"github.com/web2img/engine/internal/metrics"
	"github.com/web2img/engine/internal/pipeline"
	"github.com/web2img/engine/internal/storage"
)

// Server bundles the handler dependencies
type Server struct {
	pipeline *pipeline.Pipeline
	pool     *browser.Pool
	queue    *queue.Queue
	cache    *cache.ResultCache
	store    storage.Store
	metrics  *metrics.MetricsCollector
	logger   *zap.Logger

	requestTimeout time.Duration
	startedAt      time.Time
}

// NewServer creates the API server state
func NewServer(p *pipeline.Pipeline, pool *browser.Pool, q *queue.Queue, c *cache.ResultCache,
	st storage.Store, mc *metrics.MetricsCollector, requestTimeout time.Duration, logger *zap.Logger,
) *Server {
	return &Server{
		pipeline:       p,
		pool:           pool,
		queue:          q,
		cache:          c,
		store:          st,
		metrics:        mc,
		logger:         logger,
		requestTimeout: requestTimeout,
		startedAt:      time.Now().UTC(),
	}
}

// Handler returns the main HTTP request handler with routing
func (s *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		method := string(ctx.Method())

		switch {
		case method == "POST" && path == "/screenshot":
			s.handleScreenshot(ctx)
		case method == "GET" && path == "/health":
			s.handleHealth(ctx)
		case method == "GET" && path == "/stats":
			s.handleStats(ctx)
		case method == "GET" && path == "/cache/stats":
			s.handleCacheStats(ctx)
		case method == "DELETE" && path == "/cache":
			s.handleCacheClear(ctx)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			ctx.SetBodyString("Not Found")
			s.metrics.RecordHTTPRequest(path, "404")
		}
	}
}

// NewHTTPServer wraps the handler in a tuned fasthttp server
func (s *Server) NewHTTPServer() *fasthttp.Server {
	return &fasthttp.Server{
		Handler:            s.Handler(),
		Name:               "web2img",
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       s.requestTimeout + 10*time.Second,
		MaxRequestBodySize: 64 * 1024,
		Concurrency:        4096,
	}
}
