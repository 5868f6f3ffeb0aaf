package capture

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/web2img/engine/internal/common/config"
)

func testCaptureSettings() config.CaptureSettings {
	return config.CaptureSettings{
		NavigationTimeoutRegular: 30 * time.Second,
		NavigationTimeoutComplex: 60 * time.Second,
		ScreenshotTimeout:        30 * time.Second,
		MaxRetriesRegular:        2,
		MaxRetriesComplex:        3,
		RetryBaseDelay:           10 * time.Millisecond,
		RetryMaxDelay:            40 * time.Millisecond,
		ComplexSitePatterns:      []string{"*instagram.com*", "*facebook.com*"},
		ScreenshotDir:            "/tmp/web2img-test",
	}
}

func TestNewWorkerCompilesPatterns(t *testing.T) {
	w, err := NewWorker(testCaptureSettings(), nil, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, w.complexSites, 2)
}

func TestNewWorkerRejectsBadPatterns(t *testing.T) {
	cfg := testCaptureSettings()
	cfg.ComplexSitePatterns = []string{"~[broken"}

	_, err := NewWorker(cfg, nil, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestIsTimeoutClass(t *testing.T) {
	assert.True(t, isTimeoutClass(ErrWaitTimeout))
	assert.True(t, isTimeoutClass(fmt.Errorf("wrapped: %w", ErrWaitTimeout)))
	assert.True(t, isTimeoutClass(context.DeadlineExceeded))
	assert.False(t, isTimeoutClass(ErrNavigateFailed))
	assert.False(t, isTimeoutClass(errors.New("other")))
}

func TestIsBrowserFault(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", ErrWaitTimeout, true},
		{"websocket drop", errors.New("websocket: close 1006"), true},
		{"target closed", errors.New("chrome target closed"), true},
		{"target crashed", errors.New("inspected target crashed"), true},
		{"context canceled", errors.New("context canceled"), true},
		{"dns failure", errors.New("net::ERR_NAME_NOT_RESOLVED"), false},
		{"http error", errors.New("page returned 500"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isBrowserFault(tt.err))
		})
	}
}

func TestBackoff(t *testing.T) {
	cfg := testCaptureSettings()
	w := &Worker{config: cfg, logger: zap.NewNop()}

	t.Run("delay grows then caps", func(t *testing.T) {
		start := time.Now()
		require.NoError(t, w.backoff(context.Background(), 1))
		first := time.Since(start)

		start = time.Now()
		require.NoError(t, w.backoff(context.Background(), 4))
		capped := time.Since(start)

		assert.GreaterOrEqual(t, first, 10*time.Millisecond)
		assert.Less(t, capped, 100*time.Millisecond, "delay must cap at RetryMaxDelay")
	})

	t.Run("cancellable", func(t *testing.T) {
		w := &Worker{config: cfg, logger: zap.NewNop()}
		w.config.RetryBaseDelay = 10 * time.Second
		w.config.RetryMaxDelay = 10 * time.Second

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		err := w.backoff(ctx, 1)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("jitter keeps delay non-negative", func(t *testing.T) {
		w := &Worker{config: cfg, logger: zap.NewNop()}
		w.config.RetryBaseDelay = time.Millisecond
		w.config.RetryJitter = 1.0

		for i := 0; i < 20; i++ {
			require.NoError(t, w.backoff(context.Background(), 1))
		}
	})
}
