package engine

import "errors"

// backendUnavailableError signals that no model can serve requests (not
// loaded, file missing, or llama support not built) so callers can return
// 503 or fall back to demo output instead of 500.
type backendUnavailableError struct{ msg string }

func (e backendUnavailableError) Error() string { return e.msg }

// ErrBackendUnavailable constructs a backendUnavailableError.
func ErrBackendUnavailable(msg string) error { return backendUnavailableError{msg: msg} }

// IsBackendUnavailable reports whether err indicates a missing model or runtime.
func IsBackendUnavailable(err error) bool {
	_, ok := err.(backendUnavailableError)
	return ok
}

// tooBusyError signals queue overflow or queue wait timeout.
type tooBusyError struct{ model string }

func (e tooBusyError) Error() string { return "too busy: " + e.model }

// IsBusy reports whether err indicates backpressure from the admission gate.
func IsBusy(err error) bool {
	_, ok := err.(tooBusyError)
	return ok
}

// queueWaitError wraps the context error of a request that gave up while
// waiting for admission. The backend never saw its prompt.
type queueWaitError struct{ err error }

func (e queueWaitError) Error() string { return "waiting for generation slot: " + e.err.Error() }

func (e queueWaitError) Unwrap() error { return e.err }

// IsQueued reports whether err ended a generation before it started.
func IsQueued(err error) bool {
	var q queueWaitError
	return errors.As(err, &q)
}
