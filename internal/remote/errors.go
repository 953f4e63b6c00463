package remote

import "errors"

var (
	// ErrNetworkUnavailable marks any failure to complete a remote call:
	// transport errors, timeouts, and 5xx responses. Callers treat it as a
	// signal to take the offline path, never as a business failure.
	ErrNetworkUnavailable = errors.New("remote store unavailable")

	// ErrRowNotFound is a 404 from the remote store.
	ErrRowNotFound = errors.New("remote row not found")
)
