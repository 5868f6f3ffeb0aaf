package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/web2img/engine/internal/cache"
	"github.com/web2img/engine/internal/capture"
	"github.com/web2img/engine/internal/capture/browser"
	"github.com/web2img/engine/internal/capture/queue"
	"github.com/web2img/engine/internal/common/config"
	logutil "github.com/web2img/engine/internal/common/logger"
	"github.com/web2img/engine/internal/common/metricsserver"
	"github.com/web2img/engine/internal/common/urlutil"
	"github.com/web2img/engine/internal/metrics"
	"github.com/web2img/engine/internal/pipeline"
	"github.com/web2img/engine/internal/service"
	"github.com/web2img/engine/internal/storage"
	"github.com/web2img/engine/pkg/imgproxy"
)

func main() {
	// Bootstrap logger until the configured one is up
	initialLogger := logutil.NewDefaultLogger()

	cfg := config.Load(initialLogger.Logger)
	if err := cfg.Validate(); err != nil {
		initialLogger.Fatal("Invalid configuration", zap.Error(err))
	}

	dynamicLogger := logutil.NewLogger(cfg.Log)
	logger := dynamicLogger.Logger
	defer logger.Sync()

	logger.Info("web2img starting",
		zap.String("listen", cfg.Server.Listen),
		zap.String("storage_mode", cfg.Storage.Mode),
		zap.String("pool_max_size", cfg.Pool.MaxSize))

	if err := capture.EnsureScreenshotDir(cfg.Capture.ScreenshotDir); err != nil {
		logger.Fatal("Failed to create screenshot directory", zap.Error(err))
	}
	stopOrphanSweep := capture.StartOrphanSweep(
		cfg.Capture.ScreenshotDir, cfg.Capture.TempFileRetention, logger)

	metricsCollector := metrics.NewMetricsCollector(cfg.Metrics.Namespace, logger)
	metricsServer := metricsserver.Start(
		cfg.Metrics.Enabled, cfg.Metrics.Listen, cfg.Metrics.Path, metricsCollector, logger)

	// The signer is nil when local storage serves raw files directly
	var signer pipeline.URLSigner
	if cfg.SigningRequired() {
		s, err := imgproxy.NewSigner(cfg.Imgproxy.Key, cfg.Imgproxy.Salt, cfg.Imgproxy.BaseURL)
		if err != nil {
			logger.Fatal("Invalid imgproxy configuration", zap.Error(err))
		}
		signer = s
	}

	store, err := storage.New(context.Background(), cfg.Storage, metricsCollector, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}

	poolConfig := &browser.Config{
		MinSize:               cfg.Pool.MinSize,
		MaxSize:               cfg.Pool.MaxSize,
		IdleTimeout:           cfg.Pool.IdleTimeout,
		MaxAge:                cfg.Pool.MaxAge,
		CleanupInterval:       cfg.Pool.CleanupInterval,
		MaxConcurrentContexts: cfg.Pool.MaxConcurrentContexts,
		MaxTabsPerBrowser:     cfg.Pool.MaxTabsPerBrowser,
		RecycleThreshold:      cfg.Pool.RecycleThreshold,
		AcquireTimeout:        cfg.Pool.AcquireTimeout,
		UserAgent:             cfg.Capture.UserAgent,
		ShutdownTimeout:       30 * time.Second,
	}
	if err := poolConfig.Validate(); err != nil {
		logger.Fatal("Invalid browser pool configuration", zap.Error(err))
	}

	pool, err := browser.NewPool(poolConfig, metricsCollector, logger)
	if err != nil {
		logger.Fatal("Failed to start browser pool", zap.Error(err))
	}

	worker, err := capture.NewWorker(cfg.Capture, pool, metricsCollector, logger)
	if err != nil {
		logger.Fatal("Failed to create capture worker", zap.Error(err))
	}

	admission := queue.New(cfg.Queue, metricsCollector, logger)
	resultCache := cache.NewResultCache(cfg.Cache.TTL, cfg.Cache.MaxItems, metricsCollector, logger)
	transformer := urlutil.NewTransformer(cfg.HostMappings)

	pipe := pipeline.New(resultCache, admission, worker, store,
		transformer, signer, cfg.Queue.QueueTimeout, logger)

	apiServer := service.NewServer(pipe, pool, admission, resultCache, store,
		metricsCollector, cfg.Server.RequestTimeout, logger)
	httpServer := apiServer.NewHTTPServer()

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("listen", cfg.Server.Listen))
		if err := httpServer.ListenAndServe(cfg.Server.Listen); err != nil {
			serverErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		logger.Error("Server error", zap.Error(err))
	}

	dynamicLogger.EnsureInfoLevelForShutdown()
	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := httpServer.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	shutdownCancel()

	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.ShutdownWithContext(metricsShutdownCtx); err != nil {
			logger.Error("Metrics server shutdown error", zap.Error(err))
		}
		metricsShutdownCancel()
	}

	admission.Shutdown()
	pool.Shutdown()
	resultCache.Close()
	stopOrphanSweep()

	logger.Info("Shutdown complete")
}
