package browser

import "errors"

var (
	// ErrPoolExhausted is returned when no browser slot frees up within
	// the checkout timeout
	ErrPoolExhausted = errors.New("browser pool exhausted")

	// ErrBrowserLaunchFailed is returned when a Chrome process could not
	// be started
	ErrBrowserLaunchFailed = errors.New("browser launch failed")

	// ErrContextCreationFailed is returned when a context could not be
	// created inside an otherwise live browser
	ErrContextCreationFailed = errors.New("context creation failed")

	// ErrPoolShutdown is returned when the pool is shutting down
	ErrPoolShutdown = errors.New("browser pool is shutting down")
)
