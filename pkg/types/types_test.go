package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	t.Run("fills missing fields", func(t *testing.T) {
		req := CaptureRequest{URL: "https://example.com"}
		req.ApplyDefaults()

		assert.Equal(t, DefaultWidth, req.Width)
		assert.Equal(t, DefaultHeight, req.Height)
		assert.Equal(t, FormatPNG, req.Format)
	})

	t.Run("preserves explicit values", func(t *testing.T) {
		req := CaptureRequest{URL: "https://example.com", Width: 800, Height: 600, Format: FormatWebP}
		req.ApplyDefaults()

		assert.Equal(t, 800, req.Width)
		assert.Equal(t, 600, req.Height)
		assert.Equal(t, FormatWebP, req.Format)
	})
}

func TestValidate(t *testing.T) {
	valid := func() CaptureRequest {
		return CaptureRequest{URL: "https://example.com/page", Width: 1280, Height: 720, Format: FormatPNG}
	}

	tests := []struct {
		name    string
		mutate  func(*CaptureRequest)
		wantErr string
	}{
		{"valid request", func(r *CaptureRequest) {}, ""},
		{"minimum dimensions", func(r *CaptureRequest) { r.Width, r.Height = 1, 1 }, ""},
		{"maximum dimensions", func(r *CaptureRequest) { r.Width, r.Height = 5000, 5000 }, ""},
		{"jpeg format", func(r *CaptureRequest) { r.Format = FormatJPEG }, ""},
		{"webp format", func(r *CaptureRequest) { r.Format = FormatWebP }, ""},

		{"missing url", func(r *CaptureRequest) { r.URL = "" }, "url field is required"},
		{"relative url", func(r *CaptureRequest) { r.URL = "/just/a/path" }, "scheme"},
		{"ftp scheme", func(r *CaptureRequest) { r.URL = "ftp://example.com" }, "scheme"},
		{"width too small", func(r *CaptureRequest) { r.Width = 0 }, "width"},
		{"width too large", func(r *CaptureRequest) { r.Width = 5001 }, "width"},
		{"height too small", func(r *CaptureRequest) { r.Height = 0 }, "height"},
		{"height too large", func(r *CaptureRequest) { r.Height = 5001 }, "height"},
		{"unknown format", func(r *CaptureRequest) { r.Format = "gif" }, "format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)

			err := req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", ContentTypeForFormat(FormatPNG))
	assert.Equal(t, "image/jpeg", ContentTypeForFormat(FormatJPEG))
	assert.Equal(t, "image/webp", ContentTypeForFormat(FormatWebP))
	assert.Equal(t, "application/octet-stream", ContentTypeForFormat("bmp"))

	req := CaptureRequest{Format: FormatJPEG}
	assert.Equal(t, "image/jpeg", req.ContentType())
}

func TestCacheEnabledNotSerialized(t *testing.T) {
	body, err := json.Marshal(CaptureRequest{URL: "https://example.com", CacheEnabled: true})
	require.NoError(t, err)
	assert.NotContains(t, string(body), "cache")

	var req CaptureRequest
	require.NoError(t, json.Unmarshal([]byte(`{"url":"https://example.com","width":640}`), &req))
	assert.False(t, req.CacheEnabled)
	assert.Equal(t, 640, req.Width)
}

func TestQueueOutcomeString(t *testing.T) {
	assert.Equal(t, "processed", OutcomeProcessed.String())
	assert.Equal(t, "queued", OutcomeQueued.String())
	assert.Equal(t, "rejected", OutcomeRejected.String())
	assert.Equal(t, "timeout", OutcomeTimeout.String())
	assert.Equal(t, "unknown", QueueOutcome(99).String())
}
