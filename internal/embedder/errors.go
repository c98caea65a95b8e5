package embedder

import (
	"errors"
	"net/http"
	"strings"
)

// notReadyError is returned by every embedding call before Initialize succeeded.
type notReadyError struct{ state State }

func (e notReadyError) Error() string   { return "embedder not ready (state: " + string(e.state) + ")" }
func (e notReadyError) StatusCode() int { return http.StatusServiceUnavailable }

// IsNotReady reports whether err indicates an unready facade (return 503).
func IsNotReady(err error) bool {
	var e notReadyError
	return errors.As(err, &e)
}

// unsupportedError reports an operation the loaded artifact cannot perform.
type unsupportedError struct{ msg string }

func (e unsupportedError) Error() string   { return "unsupported operation: " + e.msg }
func (e unsupportedError) StatusCode() int { return http.StatusNotImplemented }

// IsUnsupported reports whether err is an UnsupportedOperation (return 501).
func IsUnsupported(err error) bool {
	var e unsupportedError
	return errors.As(err, &e)
}

// loadFailedError means the marker was present but the artifact did not load.
type loadFailedError struct {
	path string
	err  error
}

func (e *loadFailedError) Error() string { return "load " + e.path + ": " + e.err.Error() }
func (e *loadFailedError) Unwrap() error { return e.err }

// IsLoadFailed reports whether err is a LoadFailed error.
func IsLoadFailed(err error) bool {
	var e *loadFailedError
	return errors.As(err, &e)
}

// noUsableOutputError means none of the known output names was produced.
type noUsableOutputError struct {
	modality  string
	available []string
}

func (e noUsableOutputError) Error() string {
	return "no usable " + e.modality + " embedding output among [" + strings.Join(e.available, ", ") + "]"
}

// IsNoUsableOutput reports whether err is a NoUsableOutput error.
func IsNoUsableOutput(err error) bool {
	var e noUsableOutputError
	return errors.As(err, &e)
}

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{}

func (tooBusyError) Error() string   { return "too busy" }
func (tooBusyError) StatusCode() int { return http.StatusTooManyRequests }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}

// imageNotFoundError is returned when an image path does not exist.
type imageNotFoundError struct{ path string }

func (e imageNotFoundError) Error() string   { return "image not found: " + e.path }
func (e imageNotFoundError) StatusCode() int { return http.StatusNotFound }

// IsImageNotFound reports whether err refers to a missing image file.
func IsImageNotFound(err error) bool {
	var e imageNotFoundError
	return errors.As(err, &e)
}

// invalidInputError wraps request-level problems such as undecodable images.
type invalidInputError struct {
	msg string
	err error
}

func (e invalidInputError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}
func (e invalidInputError) Unwrap() error   { return e.err }
func (e invalidInputError) StatusCode() int { return http.StatusBadRequest }

// IsInvalidInput reports whether err is a caller input error (return 400).
func IsInvalidInput(err error) bool {
	var e invalidInputError
	return errors.As(err, &e)
}
