package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/web2img/engine/internal/cache"
	"github.com/web2img/engine/internal/capture/browser"
	"github.com/web2img/engine/internal/capture/queue"
	"github.com/web2img/engine/internal/common/httputil"
	"github.com/web2img/engine/internal/common/requestid"
	"github.com/web2img/engine/internal/pipeline"
	"github.com/web2img/engine/internal/storage"
	"github.com/web2img/engine/pkg/types"
)

// HealthResponse is the GET /health body
type HealthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Browsers      int     `json:"browsers"`
	ContextsInUse int     `json:"contexts_in_use"`
	QueueDepth    int     `json:"queue_depth"`
	QueuePressure float64 `json:"queue_pressure"`
}

// StatsResponse is the GET /stats body
type StatsResponse struct {
	UptimeSeconds float64       `json:"uptime_seconds"`
	Pool          browser.Stats `json:"pool"`
	Queue         queue.Stats   `json:"queue"`
	Cache         cache.Stats   `json:"cache"`
	Storage       storage.Stats `json:"storage"`
}

// CacheClearResponse is the DELETE /cache body
type CacheClearResponse struct {
	Cleared int `json:"cleared"`
}

// handleScreenshot is the main capture endpoint
func (s *Server) handleScreenshot(ctx *fasthttp.RequestCtx) {
	requestID := requestid.New(string(ctx.Request.Header.Peek("X-Request-ID")))
	ctx.Response.Header.Set("X-Request-ID", requestID)

	var req types.CaptureRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		s.writeError(ctx, fasthttp.StatusBadRequest, types.ErrorKindInvalidInput,
			"invalid JSON body: "+err.Error(), 0)
		return
	}
	req.CacheEnabled = parseCacheParam(ctx)

	// The handler timeout is the hard ceiling over queue wait plus
	// capture plus upload
	reqCtx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	defer cancel()

	url, err := s.pipeline.Handle(reqCtx, requestID, &req)
	if err != nil {
		status, retryAfter := statusForError(err)
		kind := pipeline.KindOf(err)
		if status >= fasthttp.StatusInternalServerError && kind != types.ErrorKindOverloaded {
			s.logger.Error("Screenshot request failed",
				zap.String("request_id", requestID),
				zap.String("url", req.URL),
				zap.String("kind", kind),
				zap.Error(err))
		} else {
			s.logger.Warn("Screenshot request rejected",
				zap.String("request_id", requestID),
				zap.String("url", req.URL),
				zap.String("kind", kind))
		}
		s.writeError(ctx, status, kind, err.Error(), retryAfter)
		return
	}

	s.writeJSON(ctx, fasthttp.StatusOK, types.CaptureResponse{URL: url})
}

// handleHealth reports liveness plus the headline capacity numbers
func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	poolStats := s.pool.GetStats()
	queueStats := s.queue.GetStats()

	s.writeJSON(ctx, fasthttp.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Browsers:      poolStats.Browsers,
		ContextsInUse: poolStats.ContextsInFlight,
		QueueDepth:    queueStats.Depth,
		QueuePressure: queueStats.Pressure,
	})
}

// handleStats aggregates per-component statistics
func (s *Server) handleStats(ctx *fasthttp.RequestCtx) {
	storageStats, err := s.store.Stats(ctx)
	if err != nil {
		s.logger.Warn("Storage stats unavailable", zap.Error(err))
		storageStats = storage.Stats{}
	}

	s.writeJSON(ctx, fasthttp.StatusOK, StatsResponse{
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Pool:          s.pool.GetStats(),
		Queue:         s.queue.GetStats(),
		Cache:         s.cache.Stats(),
		Storage:       storageStats,
	})
}

func (s *Server) handleCacheStats(ctx *fasthttp.RequestCtx) {
	s.writeJSON(ctx, fasthttp.StatusOK, s.cache.Stats())
}

func (s *Server) handleCacheClear(ctx *fasthttp.RequestCtx) {
	cleared := s.cache.Clear()
	s.logger.Info("Cache cleared", zap.Int("entries", cleared))
	s.writeJSON(ctx, fasthttp.StatusOK, CacheClearResponse{Cleared: cleared})
}

func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, status int, v interface{}) {
	httputil.WriteJSON(ctx, status, v)
	s.metrics.RecordHTTPRequest(string(ctx.Path()), strconv.Itoa(status))
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, status int, kind, message string, retryAfter int) {
	httputil.WriteError(ctx, status, kind, message, retryAfter)
	s.metrics.RecordHTTPRequest(string(ctx.Path()), strconv.Itoa(status))
}

// parseCacheParam reads the cache query parameter, defaulting to enabled
func parseCacheParam(ctx *fasthttp.RequestCtx) bool {
	raw := string(ctx.QueryArgs().Peek("cache"))
	if raw == "" {
		return true
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return enabled
}

// statusForError maps pipeline error kinds to HTTP semantics
func statusForError(err error) (status, retryAfter int) {
	var perr *pipeline.Error
	kind := types.ErrorKindInternal
	if errors.As(err, &perr) {
		kind = perr.Kind
	}

	switch kind {
	case types.ErrorKindInvalidInput:
		return fasthttp.StatusBadRequest, 0
	case types.ErrorKindOverloaded:
		return fasthttp.StatusServiceUnavailable, types.RetryAfterOverloaded
	case types.ErrorKindQueueTimeout:
		return fasthttp.StatusTooManyRequests, types.RetryAfterQueueTimeout
	default:
		return fasthttp.StatusInternalServerError, 0
	}
}
