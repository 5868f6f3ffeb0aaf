// Package cache holds the fingerprint-keyed result cache with TTL,
// bounded size and per-fingerprint single-flight coordination.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/web2img/engine/internal/metrics"
)

type entry struct {
	url        string
	createdAt  time.Time
	expiresAt  time.Time
	lastAccess time.Time
}

// Latch is the single-flight rendezvous for one fingerprint. The leader
// completes it exactly once; followers block on Wait.
type Latch struct {
	done chan struct{}
	url  string
	err  error
}

// Wait blocks until the leader completes the latch or ctx is done
func (l *Latch) Wait(ctx context.Context) (string, error) {
	select {
	case <-l.done:
		return l.url, l.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Stats is a point-in-time cache summary
type Stats struct {
	Items    int     `json:"items"`
	MaxItems int     `json:"max_items"`
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	HitRate  float64 `json:"hit_rate"`
	TTL      float64 `json:"ttl_seconds"`
}

// ResultCache maps request fingerprints to signed URLs
type ResultCache struct {
	mu      sync.Mutex
	entries map[string]*entry
	latches map[string]*Latch
	hits    uint64
	misses  uint64

	ttl      time.Duration
	maxItems int

	metrics *metrics.MetricsCollector
	logger  *zap.Logger
	stop    chan struct{}
	stopped sync.Once
}

// sweepInterval bounds how long an expired entry can occupy a slot unread
const sweepInterval = time.Minute

// NewResultCache creates a cache and starts its background sweep
func NewResultCache(ttl time.Duration, maxItems int, mc *metrics.MetricsCollector, logger *zap.Logger) *ResultCache {
	c := &ResultCache{
		entries:  make(map[string]*entry),
		latches:  make(map[string]*Latch),
		ttl:      ttl,
		maxItems: maxItems,
		metrics:  mc,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Close stops the sweep loop
func (c *ResultCache) Close() {
	c.stopped.Do(func() { close(c.stop) })
}

// Lookup returns the cached URL for fp when present and unexpired.
// Reading an expired entry removes it.
func (c *ResultCache) Lookup(fp string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fp]
	if !ok {
		c.misses++
		c.metrics.RecordCacheMiss()
		return "", false
	}

	now := time.Now()
	if !now.Before(e.expiresAt) {
		delete(c.entries, fp)
		c.misses++
		c.metrics.RecordCacheMiss()
		c.metrics.UpdateCacheSize(len(c.entries))
		return "", false
	}

	e.lastAccess = now
	c.hits++
	c.metrics.RecordCacheHit()
	return e.url, true
}

// Begin returns the latch for fp and whether the caller is the leader.
// The leader must call Complete exactly once; followers Wait on the latch.
func (c *ResultCache) Begin(fp string) (*Latch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.latches[fp]; ok {
		return l, false
	}

	l := &Latch{done: make(chan struct{})}
	c.latches[fp] = l
	return l, true
}

// Complete finishes the leader's flight for fp. On success the value is
// stored with a fresh expiry; either way the latch is signaled and removed
// so followers observe exactly the leader's result.
func (c *ResultCache) Complete(fp, url string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		now := time.Now()
		c.entries[fp] = &entry{
			url:        url,
			createdAt:  now,
			expiresAt:  now.Add(c.ttl),
			lastAccess: now,
		}
		c.evictLocked()
		c.metrics.UpdateCacheSize(len(c.entries))
	}

	l, ok := c.latches[fp]
	if !ok {
		c.logger.Error("Complete called without an in-flight latch",
			zap.String("fingerprint", fp))
		return
	}
	l.url = url
	l.err = err
	close(l.done)
	delete(c.latches, fp)
}

// Invalidate removes one fingerprint
func (c *ResultCache) Invalidate(fp string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, fp)
	c.metrics.UpdateCacheSize(len(c.entries))
}

// Clear removes all entries. In-flight latches are left alone so leaders
// still complete and followers still resolve.
func (c *ResultCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*entry)
	c.metrics.UpdateCacheSize(0)
	return n
}

// Stats reports counters and sizing
func (c *ResultCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Items:    len(c.entries),
		MaxItems: c.maxItems,
		Hits:     c.hits,
		Misses:   c.misses,
		HitRate:  rate,
		TTL:      c.ttl.Seconds(),
	}
}

// evictLocked enforces the size cap by dropping the least recently
// accessed 10% of entries, at least one. Caller holds mu.
func (c *ResultCache) evictLocked() {
	if c.maxItems <= 0 || len(c.entries) <= c.maxItems {
		return
	}

	type aged struct {
		fp   string
		last time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for fp, e := range c.entries {
		all = append(all, aged{fp, e.lastAccess})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].last.Before(all[j].last) })

	drop := len(c.entries) / 10
	if drop < 1 {
		drop = 1
	}
	for _, a := range all[:drop] {
		delete(c.entries, a.fp)
	}

	c.logger.Debug("Evicted cache entries",
		zap.Int("dropped", drop),
		zap.Int("remaining", len(c.entries)))
}

func (c *ResultCache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *ResultCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for fp, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, fp)
			removed++
		}
	}
	if removed > 0 {
		c.metrics.UpdateCacheSize(len(c.entries))
		c.logger.Debug("Swept expired cache entries", zap.Int("removed", removed))
	}
}
