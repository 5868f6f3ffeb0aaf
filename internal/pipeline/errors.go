package pipeline

import (
	"errors"

	"github.com/web2img/engine/internal/capture"
	"github.com/web2img/engine/internal/capture/browser"
	"github.com/web2img/engine/internal/storage"
	"github.com/web2img/engine/pkg/types"
)

// Error carries the taxonomy kind alongside the cause so the HTTP layer
// can map failures without string matching
type Error struct {
	Kind string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind
func NewError(kind string, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the error kind, classifying untagged errors by their
// sentinel
func KindOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, storage.ErrUploadFailed):
		return types.ErrorKindStorageFailed
	case errors.Is(err, capture.ErrCaptureFailed),
		errors.Is(err, browser.ErrPoolExhausted),
		errors.Is(err, browser.ErrBrowserLaunchFailed),
		errors.Is(err, browser.ErrContextCreationFailed):
		return types.ErrorKindCaptureFailed
	default:
		return types.ErrorKindInternal
	}
}
