package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/web2img/engine/internal/cache"
	"github.com/web2img/engine/internal/capture"
	"github.com/web2img/engine/internal/capture/queue"
	"github.com/web2img/engine/internal/common/urlutil"
	"github.com/web2img/engine/internal/storage"
	"github.com/web2img/engine/pkg/types"
)

// fakeCapturer writes a real temp file so upload and cleanup paths run
type fakeCapturer struct {
	dir   string
	calls atomic.Int64
	err   error

	mu      sync.Mutex
	lastURL string
}

func (f *fakeCapturer) Capture(ctx context.Context, req *types.CaptureRequest, targetURL string) (string, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.lastURL = targetURL
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	path := filepath.Join(f.dir, fmt.Sprintf("shot-%d.png", n))
	if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// fakeSubmitter runs handlers inline or forces a fixed outcome
type fakeSubmitter struct {
	outcome types.QueueOutcome
	err     error
}

func (f *fakeSubmitter) Submit(ctx context.Context, id string, priority int, deadline time.Time, handler queue.Handler) (types.QueueOutcome, error) {
	if f.outcome != types.OutcomeProcessed {
		return f.outcome, f.err
	}
	return types.OutcomeProcessed, handler(ctx)
}

type fakeStore struct {
	uploads atomic.Int64
	err     error
}

func (f *fakeStore) Upload(ctx context.Context, path, contentType string) (string, error) {
	f.uploads.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.example.com/screenshots/" + filepath.Base(path), nil
}

func (f *fakeStore) Stats(ctx context.Context) (storage.Stats, error) {
	return storage.Stats{Backend: "fake"}, nil
}

type fakeSigner struct{}

func (fakeSigner) SignURL(imageURL string, width, height int, format string) string {
	return "https://img.example.com/signed/" + filepath.Base(imageURL)
}

type fixture struct {
	pipeline *Pipeline
	capturer *fakeCapturer
	store    *fakeStore
	cache    *cache.ResultCache
}

func newFixture(t *testing.T, mutate func(*fakeCapturer, *fakeSubmitter, *fakeStore)) *fixture {
	t.Helper()

	capturer := &fakeCapturer{dir: t.TempDir()}
	submitter := &fakeSubmitter{outcome: types.OutcomeProcessed}
	store := &fakeStore{}
	if mutate != nil {
		mutate(capturer, submitter, store)
	}

	c := cache.NewResultCache(time.Hour, 100, nil, zap.NewNop())
	t.Cleanup(c.Close)

	p := New(c, submitter, capturer, store,
		urlutil.NewTransformer(map[string]string{"mapped.example.com": "internal-frontend"}),
		fakeSigner{}, 5*time.Second, zap.NewNop())

	return &fixture{pipeline: p, capturer: capturer, store: store, cache: c}
}

func request(url string) *types.CaptureRequest {
	return &types.CaptureRequest{URL: url, CacheEnabled: true}
}

func TestHandleSuccess(t *testing.T) {
	f := newFixture(t, nil)

	url, err := f.pipeline.Handle(context.Background(), "r1", request("https://example.com/page"))
	require.NoError(t, err)

	assert.Contains(t, url, "https://img.example.com/signed/")
	assert.Equal(t, int64(1), f.capturer.calls.Load())
	assert.Equal(t, int64(1), f.store.uploads.Load())

	// Temp file cleaned up after upload
	entries, err := os.ReadDir(f.capturer.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHandleInvalidInput(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.pipeline.Handle(context.Background(), "r1", request("ftp://example.com"))
	require.Error(t, err)
	assert.Equal(t, types.ErrorKindInvalidInput, KindOf(err))
	assert.Equal(t, int64(0), f.capturer.calls.Load())
}

func TestHandleCacheHit(t *testing.T) {
	f := newFixture(t, nil)

	first, err := f.pipeline.Handle(context.Background(), "r1", request("https://example.com/page"))
	require.NoError(t, err)

	second, err := f.pipeline.Handle(context.Background(), "r2", request("https://example.com/page"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), f.capturer.calls.Load(), "second request must be served from cache")
}

func TestHandleWWWVariantSharesCache(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.pipeline.Handle(context.Background(), "r1", request("https://example.com/page"))
	require.NoError(t, err)

	_, err = f.pipeline.Handle(context.Background(), "r2", request("https://www.example.com/page"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), f.capturer.calls.Load())
}

func TestHandleCacheDisabled(t *testing.T) {
	f := newFixture(t, nil)

	req := request("https://example.com/page")
	req.CacheEnabled = false

	for i := 0; i < 2; i++ {
		_, err := f.pipeline.Handle(context.Background(), "r", req)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), f.capturer.calls.Load())
}

func TestHandleSingleFlight(t *testing.T) {
	block := make(chan struct{})
	f := newFixture(t, nil)

	// A slow capturer holds the flight open while followers join
	slow := &slowCapturer{inner: f.capturer, release: block}
	f.pipeline.worker = slow

	var wg sync.WaitGroup
	urls := make([]string, 5)
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			urls[i], errs[i] = f.pipeline.Handle(context.Background(),
				fmt.Sprintf("r%d", i), request("https://example.com/page"))
		}(i)
	}

	require.Eventually(t, func() bool {
		return slow.started.Load() > 0
	}, time.Second, time.Millisecond)
	close(block)
	wg.Wait()

	for i := range urls {
		require.NoError(t, errs[i])
		assert.Equal(t, urls[0], urls[i])
	}
	assert.Equal(t, int64(1), f.capturer.calls.Load(), "concurrent requests must share one capture")
}

type slowCapturer struct {
	inner   *fakeCapturer
	release chan struct{}
	started atomic.Int64
}

func (s *slowCapturer) Capture(ctx context.Context, req *types.CaptureRequest, targetURL string) (string, error) {
	s.started.Add(1)
	<-s.release
	return s.inner.Capture(ctx, req, targetURL)
}

func TestHandleHostMapping(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.pipeline.Handle(context.Background(), "r1", request("https://mapped.example.com/page"))
	require.NoError(t, err)

	f.capturer.mu.Lock()
	defer f.capturer.mu.Unlock()
	assert.Equal(t, "http://internal-frontend/page", f.capturer.lastURL)
}

func TestHandleFailureKinds(t *testing.T) {
	t.Run("capture failure", func(t *testing.T) {
		f := newFixture(t, func(c *fakeCapturer, _ *fakeSubmitter, _ *fakeStore) {
			c.err = fmt.Errorf("%w: navigation", capture.ErrCaptureFailed)
		})

		_, err := f.pipeline.Handle(context.Background(), "r1", request("https://example.com/x"))
		require.Error(t, err)
		assert.Equal(t, types.ErrorKindCaptureFailed, KindOf(err))
	})

	t.Run("storage failure cleans temp file", func(t *testing.T) {
		f := newFixture(t, func(_ *fakeCapturer, _ *fakeSubmitter, s *fakeStore) {
			s.err = fmt.Errorf("%w: bucket gone", storage.ErrUploadFailed)
		})

		_, err := f.pipeline.Handle(context.Background(), "r1", request("https://example.com/x"))
		require.Error(t, err)
		assert.Equal(t, types.ErrorKindStorageFailed, KindOf(err))

		entries, err := os.ReadDir(f.capturer.dir)
		require.NoError(t, err)
		assert.Empty(t, entries, "temp file must not leak on upload failure")
	})

	t.Run("rejected maps to overloaded", func(t *testing.T) {
		f := newFixture(t, func(_ *fakeCapturer, s *fakeSubmitter, _ *fakeStore) {
			s.outcome = types.OutcomeRejected
			s.err = queue.ErrShedding
		})

		_, err := f.pipeline.Handle(context.Background(), "r1", request("https://example.com/x"))
		require.Error(t, err)
		assert.Equal(t, types.ErrorKindOverloaded, KindOf(err))
	})

	t.Run("timeout maps to queue_timeout", func(t *testing.T) {
		f := newFixture(t, func(_ *fakeCapturer, s *fakeSubmitter, _ *fakeStore) {
			s.outcome = types.OutcomeTimeout
			s.err = queue.ErrQueueTimeout
		})

		_, err := f.pipeline.Handle(context.Background(), "r1", request("https://example.com/x"))
		require.Error(t, err)
		assert.Equal(t, types.ErrorKindQueueTimeout, KindOf(err))
	})

	t.Run("failures are not cached", func(t *testing.T) {
		f := newFixture(t, func(c *fakeCapturer, _ *fakeSubmitter, _ *fakeStore) {
			c.err = errCaptureStub
		})

		_, err := f.pipeline.Handle(context.Background(), "r1", request("https://example.com/x"))
		require.Error(t, err)

		f.capturer.err = nil
		_, err = f.pipeline.Handle(context.Background(), "r2", request("https://example.com/x"))
		require.NoError(t, err)
		assert.Equal(t, int64(2), f.capturer.calls.Load())
	})
}

var errCaptureStub = errors.New("capture failed")
