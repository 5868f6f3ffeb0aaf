// Package metricsserver runs the Prometheus scrape endpoint on its own
// listener, separate from the public API port.
package metricsserver

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Handler serves the metrics exposition format
type Handler interface {
	ServeHTTP(ctx *fasthttp.RequestCtx)
}

// Start launches the metrics listener in the background. Returns nil when
// metrics are disabled; the returned server is shut down by the caller.
func Start(enabled bool, listen, path string, handler Handler, log *zap.Logger) *fasthttp.Server {
	if !enabled {
		log.Info("Metrics collection disabled")
		return nil
	}

	server := &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			if string(ctx.Path()) == path {
				handler.ServeHTTP(ctx)
				return
			}
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			ctx.SetBodyString("Not Found")
		},
		Name:               "web2img-metrics",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxRequestBodySize: 1024,
		Concurrency:        100,
	}

	go func() {
		log.Info("Metrics server listening",
			zap.String("listen", listen),
			zap.String("path", path))
		if err := server.ListenAndServe(listen); err != nil {
			log.Error("Metrics server stopped",
				zap.String("listen", listen),
				zap.Error(err))
		}
	}()

	return server
}
