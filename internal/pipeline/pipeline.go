// Package pipeline orchestrates a screenshot request: validation,
// fingerprinting, cache probe, single-flight, admission, capture, upload
// and signing.
package pipeline

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/web2img/engine/internal/cache"
	"github.com/web2img/engine/internal/capture/queue"
	"github.com/web2img/engine/internal/common/urlutil"
	"github.com/web2img/engine/internal/storage"
	"github.com/web2img/engine/pkg/types"
)

// Capturer produces a screenshot file for a request
type Capturer interface {
	Capture(ctx context.Context, req *types.CaptureRequest, targetURL string) (string, error)
}

// Submitter admits capture work
type Submitter interface {
	Submit(ctx context.Context, id string, priority int, deadline time.Time, handler queue.Handler) (types.QueueOutcome, error)
}

// URLSigner builds the public transformer URL over a stored image.
// A nil signer passes the storage URL through untouched.
type URLSigner interface {
	SignURL(imageURL string, width, height int, format string) string
}

// Pipeline wires the capture components behind one entry point
type Pipeline struct {
	cache       *cache.ResultCache
	queue       Submitter
	worker      Capturer
	store       storage.Store
	transformer *urlutil.Transformer
	signer      URLSigner

	queueTimeout time.Duration
	logger       *zap.Logger
}

// New assembles the pipeline
func New(c *cache.ResultCache, q Submitter, w Capturer, st storage.Store,
	t *urlutil.Transformer, signer URLSigner, queueTimeout time.Duration, logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		cache:        c,
		queue:        q,
		worker:       w,
		store:        st,
		transformer:  t,
		signer:       signer,
		queueTimeout: queueTimeout,
		logger:       logger,
	}
}

// Handle runs one request end to end and returns the public URL.
// Failures carry an Error kind for the HTTP layer.
func (p *Pipeline) Handle(ctx context.Context, requestID string, req *types.CaptureRequest) (string, error) {
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return "", NewError(types.ErrorKindInvalidInput, err)
	}

	// Fingerprints always derive from the user-visible URL, never the
	// transformed one, so external and internal hostnames share entries
	fp := req.Fingerprint()
	log := p.logger.With(
		zap.String("request_id", requestID),
		zap.String("fingerprint", fp))

	if req.CacheEnabled {
		if url, ok := p.cache.Lookup(fp); ok {
			log.Debug("Cache hit")
			return url, nil
		}

		latch, leader := p.cache.Begin(fp)
		if !leader {
			log.Debug("Joining in-flight capture")
			url, err := latch.Wait(ctx)
			if err == nil {
				return url, nil
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return "", NewError(types.ErrorKindQueueTimeout, err)
			}
			return "", NewError(KindOf(err), err)
		}

		url, err := p.lead(ctx, requestID, req, log)
		// The leader completes exactly once, success or failure, so
		// followers never hang
		p.cache.Complete(fp, url, err)
		return url, err
	}

	return p.lead(ctx, requestID, req, log)
}

// lead runs the capture closure through admission control
func (p *Pipeline) lead(ctx context.Context, requestID string, req *types.CaptureRequest, log *zap.Logger) (string, error) {
	deadline := time.Now().Add(p.queueTimeout)

	var url string
	handler := func(hctx context.Context) error {
		var err error
		url, err = p.capture(hctx, req, log)
		return err
	}

	outcome, err := p.queue.Submit(ctx, requestID, 0, deadline, handler)
	switch outcome {
	case types.OutcomeProcessed:
		if err != nil {
			return "", NewError(KindOf(err), err)
		}
		return url, nil
	case types.OutcomeRejected:
		return "", NewError(types.ErrorKindOverloaded, err)
	case types.OutcomeTimeout:
		return "", NewError(types.ErrorKindQueueTimeout, err)
	default:
		return "", NewError(types.ErrorKindInternal, err)
	}
}

// capture transforms the URL, drives the worker, uploads and signs.
// The temp file is removed on every exit path; a successful local-mode
// upload has already moved it, which the remove tolerates.
func (p *Pipeline) capture(ctx context.Context, req *types.CaptureRequest, log *zap.Logger) (string, error) {
	targetURL := p.transformer.Transform(req.URL)
	if targetURL != req.URL {
		log.Debug("URL transformed",
			zap.String("original", req.URL),
			zap.String("target", targetURL))
	}

	start := time.Now()
	path, err := p.worker.Capture(ctx, req, targetURL)
	if err != nil {
		return "", err
	}
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn("Failed to remove temp file",
				zap.String("path", path),
				zap.Error(rmErr))
		}
	}()

	storeURL, err := p.store.Upload(ctx, path, req.ContentType())
	if err != nil {
		return "", err
	}

	finalURL := storeURL
	if p.signer != nil {
		finalURL = p.signer.SignURL(storeURL, req.Width, req.Height, req.Format)
	}

	log.Info("Request completed",
		zap.String("url", req.URL),
		zap.Duration("duration", time.Since(start)))

	return finalURL, nil
}
