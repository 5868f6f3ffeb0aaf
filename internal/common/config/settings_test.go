package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	s := Load(zap.NewNop())

	assert.Equal(t, ":8000", s.Server.Listen)
	assert.Equal(t, 120*time.Second, s.Server.RequestTimeout)
	assert.Equal(t, 2, s.Pool.MinSize)
	assert.Equal(t, "10", s.Pool.MaxSize)
	assert.Equal(t, 30*time.Second, s.Capture.NavigationTimeoutRegular)
	assert.Equal(t, 60*time.Second, s.Capture.NavigationTimeoutComplex)
	assert.Equal(t, StorageModeLocal, s.Storage.Mode)
	assert.True(t, s.Queue.Enabled)
	assert.Equal(t, 0.9, s.Queue.LoadSheddingThreshold)
	assert.Equal(t, time.Hour, s.Cache.TTL)
	assert.NotEmpty(t, s.Capture.ComplexSitePatterns)
	assert.Empty(t, s.HostMappings)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LISTEN", ":9000")
	t.Setenv("REQUEST_TIMEOUT", "60")
	t.Setenv("NAVIGATION_TIMEOUT_COMPLEX", "90s")
	t.Setenv("BROWSER_POOL_MAX_SIZE", "auto")
	t.Setenv("MAX_RETRIES_REGULAR", "5")
	t.Setenv("ENABLE_LOAD_SHEDDING", "false")
	t.Setenv("RETRY_JITTER", "0.5")
	t.Setenv("TEMP_FILE_RETENTION_HOURS", "2")
	t.Setenv("COMPLEX_SITE_PATTERNS", "*a.com*, *b.com*")
	t.Setenv("HOST_MAPPINGS", "example.com=frontend:3000")

	s := Load(zap.NewNop())

	assert.Equal(t, ":9000", s.Server.Listen)
	assert.Equal(t, time.Minute, s.Server.RequestTimeout)
	assert.Equal(t, 90*time.Second, s.Capture.NavigationTimeoutComplex)
	assert.Equal(t, PoolSizeAuto, s.Pool.MaxSize)
	assert.Equal(t, 5, s.Capture.MaxRetriesRegular)
	assert.False(t, s.Queue.EnableLoadShedding)
	assert.Equal(t, 0.5, s.Capture.RetryJitter)
	assert.Equal(t, 2*time.Hour, s.Capture.TempFileRetention)
	assert.Equal(t, []string{"*a.com*", "*b.com*"}, s.Capture.ComplexSitePatterns)
	assert.Equal(t, map[string]string{"example.com": "frontend:3000"}, s.HostMappings)
}

func TestLoadMalformedValuesFallBack(t *testing.T) {
	t.Setenv("MAX_QUEUE_SIZE", "lots")
	t.Setenv("ENABLE_REQUEST_QUEUE", "si")
	t.Setenv("QUEUE_TIMEOUT", "soon")

	s := Load(zap.NewNop())

	assert.Equal(t, 100, s.Queue.MaxQueueSize)
	assert.True(t, s.Queue.Enabled)
	assert.Equal(t, 30*time.Second, s.Queue.QueueTimeout)
}

func TestParseHostMappings(t *testing.T) {
	t.Run("multiple pairs", func(t *testing.T) {
		m, err := ParseHostMappings("Example.com=Frontend:3000, shop.io=shop-internal")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			"example.com": "frontend:3000",
			"shop.io":     "shop-internal",
		}, m)
	})

	t.Run("empty input", func(t *testing.T) {
		m, err := ParseHostMappings("")
		require.NoError(t, err)
		assert.Empty(t, m)
	})

	t.Run("missing target", func(t *testing.T) {
		_, err := ParseHostMappings("example.com=")
		assert.Error(t, err)
	})

	t.Run("missing separator", func(t *testing.T) {
		_, err := ParseHostMappings("example.com")
		assert.Error(t, err)
	})
}

func validSettings() *Settings {
	s := Load(zap.NewNop())
	s.Storage.UseImgproxyForLocal = false
	return s
}

func TestValidate(t *testing.T) {
	t.Run("defaults without signing pass", func(t *testing.T) {
		assert.NoError(t, validSettings().Validate())
	})

	t.Run("local signing needs secrets", func(t *testing.T) {
		s := validSettings()
		s.Storage.UseImgproxyForLocal = true
		assert.Error(t, s.Validate())

		s.Imgproxy.Key = "6b6579"
		s.Imgproxy.Salt = "73616c74"
		s.Imgproxy.BaseURL = "https://img.example.com"
		assert.NoError(t, s.Validate())
	})

	t.Run("remote mode needs credentials", func(t *testing.T) {
		s := validSettings()
		s.Storage.Mode = StorageModeRemote
		assert.Error(t, s.Validate())
	})

	t.Run("unknown storage mode", func(t *testing.T) {
		s := validSettings()
		s.Storage.Mode = "ftp"
		assert.Error(t, s.Validate())
	})

	t.Run("shedding threshold bounds", func(t *testing.T) {
		s := validSettings()
		s.Queue.LoadSheddingThreshold = 0
		assert.Error(t, s.Validate())

		s.Queue.LoadSheddingThreshold = 1.5
		assert.Error(t, s.Validate())

		s.Queue.LoadSheddingThreshold = 1
		assert.NoError(t, s.Validate())
	})

	t.Run("pool min size bounds", func(t *testing.T) {
		s := validSettings()
		s.Pool.MinSize = -1
		assert.Error(t, s.Validate())

		s.Pool.MinSize = 51
		assert.Error(t, s.Validate())
	})

	t.Run("queue sizes", func(t *testing.T) {
		s := validSettings()
		s.Queue.MaxQueueSize = 0
		assert.Error(t, s.Validate())

		s = validSettings()
		s.Queue.MaxConcurrentScreenshots = 0
		assert.Error(t, s.Validate())
	})
}

func TestSigningRequired(t *testing.T) {
	s := validSettings()
	assert.False(t, s.SigningRequired())

	s.Storage.UseImgproxyForLocal = true
	assert.True(t, s.SigningRequired())

	s.Storage.UseImgproxyForLocal = false
	s.Storage.Mode = StorageModeRemote
	assert.True(t, s.SigningRequired())
}
