package capture

import "errors"

var (
	// ErrNavigateFailed wraps navigation errors from the page
	ErrNavigateFailed = errors.New("navigation failed")

	// ErrWaitTimeout is returned when the page never reached the wait
	// condition within the navigation timeout
	ErrWaitTimeout = errors.New("page wait timed out")

	// ErrScreenshotFailed wraps screenshot capture errors
	ErrScreenshotFailed = errors.New("screenshot failed")

	// ErrCaptureFailed is returned after all attempts, including the
	// emergency fallback, are exhausted
	ErrCaptureFailed = errors.New("capture failed")
)
