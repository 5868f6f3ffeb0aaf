package types

import (
	"fmt"
	"net/url"
)

// Supported output image formats
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatWebP = "webp"
)

// Dimension limits for capture requests
const (
	MinDimension = 1
	MaxDimension = 5000

	DefaultWidth  = 1280
	DefaultHeight = 720
)

// Error kinds surfaced at the API boundary
const (
	ErrorKindInvalidInput  = "invalid_input"
	ErrorKindOverloaded    = "overloaded"
	ErrorKindQueueTimeout  = "queue_timeout"
	ErrorKindCaptureFailed = "capture_failed"
	ErrorKindStorageFailed = "storage_failed"
	ErrorKindInternal      = "internal"
)

// Retry-after hints (seconds) exposed at the API boundary
const (
	RetryAfterOverloaded   = 30
	RetryAfterQueueTimeout = 10
)

// CaptureRequest describes a single screenshot capture.
// Immutable after Validate has been applied.
type CaptureRequest struct {
	URL          string `json:"url"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Format       string `json:"format"`
	CacheEnabled bool   `json:"-"`
}

// CaptureResponse is the success body of POST /screenshot
type CaptureResponse struct {
	URL string `json:"url"`
}

// ErrorResponse is the failure body of POST /screenshot
type ErrorResponse struct {
	Error      string `json:"error"`
	Kind       string `json:"kind,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// ApplyDefaults fills zero-valued optional fields with their documented defaults
func (r *CaptureRequest) ApplyDefaults() {
	if r.Width == 0 {
		r.Width = DefaultWidth
	}
	if r.Height == 0 {
		r.Height = DefaultHeight
	}
	if r.Format == "" {
		r.Format = FormatPNG
	}
}

// Validate checks the request against the documented input constraints.
// Defaults must be applied first.
func (r *CaptureRequest) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("url field is required")
	}

	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url must be absolute")
	}

	if r.Width < MinDimension || r.Width > MaxDimension {
		return fmt.Errorf("width must be between %d and %d, got %d", MinDimension, MaxDimension, r.Width)
	}
	if r.Height < MinDimension || r.Height > MaxDimension {
		return fmt.Errorf("height must be between %d and %d, got %d", MinDimension, MaxDimension, r.Height)
	}

	switch r.Format {
	case FormatPNG, FormatJPEG, FormatWebP:
	default:
		return fmt.Errorf("format must be png, jpeg or webp, got %q", r.Format)
	}

	return nil
}

// ContentType returns the MIME type for the requested format
func (r *CaptureRequest) ContentType() string {
	return ContentTypeForFormat(r.Format)
}

// ContentTypeForFormat maps an image format to its MIME type
func ContentTypeForFormat(format string) string {
	switch format {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// QueueOutcome is the admission result for a submitted request
type QueueOutcome int

const (
	// OutcomeProcessed means the handler ran to completion
	OutcomeProcessed QueueOutcome = iota
	// OutcomeQueued means the request was accepted into the queue
	OutcomeQueued
	// OutcomeRejected means admission was refused (full queue or load shedding)
	OutcomeRejected
	// OutcomeTimeout means the deadline passed before the request was dispatched
	OutcomeTimeout
)

// String returns the lowercase name of the outcome
func (o QueueOutcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeQueued:
		return "queued"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}
