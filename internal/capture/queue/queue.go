// Package queue provides admission control for capture work: a bounded
// FIFO, a concurrency semaphore and pressure-based load shedding.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/web2img/engine/internal/common/config"
	"github.com/web2img/engine/internal/metrics"
	"github.com/web2img/engine/pkg/types"
)

var (
	// ErrQueueFull is returned when the queue cannot accept more entries
	ErrQueueFull = errors.New("request queue is full")

	// ErrShedding is returned when pressure is at or above the shed
	// threshold
	ErrShedding = errors.New("service overloaded, shedding load")

	// ErrQueueTimeout is returned when the deadline passed before the
	// handler was dispatched
	ErrQueueTimeout = errors.New("timed out waiting in queue")

	// ErrShutdown is returned for submissions during shutdown
	ErrShutdown = errors.New("request queue is shutting down")
)

// Handler is the unit of work admitted through the queue
type Handler func(ctx context.Context) error

type item struct {
	id       string
	priority int
	deadline time.Time
	enqueued time.Time
	ctx      context.Context
	handler  Handler

	outcome types.QueueOutcome
	err     error
	done    chan struct{}
}

// Stats is a point-in-time queue summary
type Stats struct {
	Enabled        bool    `json:"enabled"`
	Depth          int     `json:"depth"`
	MaxDepth       int     `json:"max_depth"`
	Busy           int     `json:"busy"`
	MaxConcurrent  int     `json:"max_concurrent"`
	Pressure       float64 `json:"pressure"`
	TotalProcessed int64   `json:"total_processed"`
	TotalRejected  int64   `json:"total_rejected"`
	TotalTimeout   int64   `json:"total_timeout"`
	HandlerErrors  int64   `json:"handler_errors"`
	AvgWaitSeconds float64 `json:"avg_wait_seconds"`
}

// Queue admits capture work. When disabled it degrades to a bare
// semaphore; when enabled a single drainer dispatches FIFO.
type Queue struct {
	config  config.QueueSettings
	metrics *metrics.MetricsCollector
	logger  *zap.Logger

	items chan *item
	sem   chan struct{}

	mu             sync.Mutex
	totalProcessed int64
	totalRejected  int64
	totalTimeout   int64
	handlerErrors  int64
	waitSum        time.Duration
	waitCount      int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the queue and starts the drainer when queuing is enabled
func New(cfg config.QueueSettings, mc *metrics.MetricsCollector, logger *zap.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		config:  cfg,
		metrics: mc,
		logger:  logger,
		items:   make(chan *item, cfg.MaxQueueSize),
		sem:     make(chan struct{}, cfg.MaxConcurrentScreenshots),
		ctx:     ctx,
		cancel:  cancel,
	}

	if cfg.Enabled {
		q.wg.Add(1)
		go q.drain()
	}

	return q
}

// Submit admits handler and blocks until it finishes or the deadline
// passes. Priorities are advisory; dispatch is FIFO.
func (q *Queue) Submit(ctx context.Context, id string, priority int, deadline time.Time, handler Handler) (types.QueueOutcome, error) {
	if !q.config.Enabled {
		return q.runDirect(ctx, handler)
	}

	if q.config.EnableLoadShedding && q.Pressure() >= q.config.LoadSheddingThreshold {
		q.recordOutcome(types.OutcomeRejected, 0)
		q.logger.Warn("Shedding request",
			zap.String("id", id),
			zap.Float64("pressure", q.Pressure()))
		return types.OutcomeRejected, ErrShedding
	}

	it := &item{
		id:       id,
		priority: priority,
		deadline: deadline,
		enqueued: time.Now(),
		ctx:      ctx,
		handler:  handler,
		done:     make(chan struct{}),
	}

	select {
	case q.items <- it:
	default:
		q.recordOutcome(types.OutcomeRejected, 0)
		return types.OutcomeRejected, ErrQueueFull
	}

	q.metrics.UpdateQueueDepth(len(q.items))
	q.metrics.RecordQueueOutcome(types.OutcomeQueued)

	select {
	case <-it.done:
		return it.outcome, it.err
	case <-ctx.Done():
		// The drainer will discard the entry at its deadline
		return types.OutcomeTimeout, ctx.Err()
	case <-q.ctx.Done():
		return types.OutcomeRejected, ErrShutdown
	}
}

// runDirect bypasses the queue and runs under the semaphore alone
func (q *Queue) runDirect(ctx context.Context, handler Handler) (types.QueueOutcome, error) {
	select {
	case q.sem <- struct{}{}:
	case <-ctx.Done():
		q.recordOutcome(types.OutcomeRejected, 0)
		return types.OutcomeRejected, ctx.Err()
	case <-q.ctx.Done():
		return types.OutcomeRejected, ErrShutdown
	}
	defer func() { <-q.sem }()

	err := handler(ctx)
	if err != nil {
		q.mu.Lock()
		q.handlerErrors++
		q.mu.Unlock()
	}
	q.recordOutcome(types.OutcomeProcessed, 0)
	return types.OutcomeProcessed, err
}

// drain is the single dispatch loop. Entries past their deadline are
// discarded as timeouts before a semaphore slot is taken; admitted
// handlers run concurrently under the semaphore.
func (q *Queue) drain() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case it := <-q.items:
			q.metrics.UpdateQueueDepth(len(q.items))
			q.dispatch(it)
		}
	}
}

func (q *Queue) dispatch(it *item) {
	if !time.Now().Before(it.deadline) {
		q.finish(it, types.OutcomeTimeout, ErrQueueTimeout, 0)
		return
	}

	wait := time.NewTimer(time.Until(it.deadline))
	defer wait.Stop()

	select {
	case q.sem <- struct{}{}:
	case <-wait.C:
		q.finish(it, types.OutcomeTimeout, ErrQueueTimeout, 0)
		return
	case <-q.ctx.Done():
		q.finish(it, types.OutcomeRejected, ErrShutdown, 0)
		return
	}

	waited := time.Since(it.enqueued)
	q.metrics.RecordQueueWait(waited)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer func() { <-q.sem }()

		err := it.handler(it.ctx)
		if err != nil {
			q.mu.Lock()
			q.handlerErrors++
			q.mu.Unlock()
			q.logger.Debug("Queued handler failed",
				zap.String("id", it.id),
				zap.Error(err))
		}
		q.finish(it, types.OutcomeProcessed, err, waited)
	}()
}

func (q *Queue) finish(it *item, outcome types.QueueOutcome, err error, waited time.Duration) {
	it.outcome = outcome
	it.err = err
	close(it.done)
	q.recordOutcome(outcome, waited)
}

func (q *Queue) recordOutcome(outcome types.QueueOutcome, waited time.Duration) {
	q.mu.Lock()
	switch outcome {
	case types.OutcomeProcessed:
		q.totalProcessed++
		q.waitSum += waited
		q.waitCount++
	case types.OutcomeRejected:
		q.totalRejected++
	case types.OutcomeTimeout:
		q.totalTimeout++
	}
	q.mu.Unlock()
	q.metrics.RecordQueueOutcome(outcome)
}

// Pressure is the max of queue utilization and semaphore utilization
func (q *Queue) Pressure() float64 {
	depth := float64(len(q.items)) / float64(cap(q.items))
	busy := float64(len(q.sem)) / float64(cap(q.sem))
	if depth > busy {
		return depth
	}
	return busy
}

// GetStats returns current queue statistics
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	avgWait := 0.0
	if q.waitCount > 0 {
		avgWait = (q.waitSum / time.Duration(q.waitCount)).Seconds()
	}
	return Stats{
		Enabled:        q.config.Enabled,
		Depth:          len(q.items),
		MaxDepth:       cap(q.items),
		Busy:           len(q.sem),
		MaxConcurrent:  cap(q.sem),
		Pressure:       q.Pressure(),
		TotalProcessed: q.totalProcessed,
		TotalRejected:  q.totalRejected,
		TotalTimeout:   q.totalTimeout,
		HandlerErrors:  q.handlerErrors,
		AvgWaitSeconds: avgWait,
	}
}

// Shutdown stops the drainer. Waiting submitters observe ErrShutdown.
func (q *Queue) Shutdown() {
	q.cancel()
	q.wg.Wait()
}
