package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Reason classifies a download failure.
type Reason string

const (
	// ReasonNetwork covers connection resets, refused connections and truncated bodies.
	ReasonNetwork Reason = "network"
	// ReasonTimeout means no bytes arrived within the configured timeout.
	ReasonTimeout Reason = "timeout"
	// ReasonHTTPStatus means the server answered with a non-200 status.
	ReasonHTTPStatus Reason = "http_status"
	// ReasonOther covers malformed URLs, cancellation, local write errors and
	// permanent FTP replies.
	ReasonOther Reason = "other"
)

// DownloadError represents a failed download after retries were exhausted or
// a non-transient failure was hit.
type DownloadError struct {
	URL        string
	Reason     Reason
	StatusCode int
	Attempts   int
	Message    string
	Cause      error
}

func (e *DownloadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("download error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("download error for %s: %s", e.URL, e.Message)
}

func (e *DownloadError) Unwrap() error {
	return e.Cause
}

// Transient reports whether retrying the same request may succeed.
func (e *DownloadError) Transient() bool {
	switch e.Reason {
	case ReasonNetwork, ReasonTimeout:
		return true
	case ReasonHTTPStatus:
		return e.StatusCode >= 500
	default:
		return false
	}
}

type attemptStep int

const (
	stepSuccess attemptStep = iota
	stepTransient
	stepFatal
)

func classifyAttempt(err *DownloadError) attemptStep {
	switch {
	case err == nil:
		return stepSuccess
	case err.Transient():
		return stepTransient
	default:
		return stepFatal
	}
}

// transportError maps a client or body-read error to a DownloadError. A
// cancelled parent context is fatal; an expired idle timer is a timeout.
func transportError(ctx context.Context, watchdog *idleWatchdog, u *url.URL, message string, err error) *DownloadError {
	derr := &DownloadError{URL: u.Redacted(), Message: message, Cause: err}

	var netErr net.Error
	switch {
	case ctx.Err() != nil:
		derr.Reason = ReasonOther
		derr.Message = "cancelled"
		derr.Cause = ctx.Err()
	case watchdog.expired():
		derr.Reason = ReasonTimeout
		derr.Message = fmt.Sprintf("no data received for %s", watchdog.timeout)
	case errors.As(err, &netErr) && netErr.Timeout():
		derr.Reason = ReasonTimeout
	default:
		derr.Reason = ReasonNetwork
	}
	return derr
}

// writeError marks a failure writing to the local file, as opposed to reading
// from the remote end.
type writeError struct {
	err error
}

func (e *writeError) Error() string {
	return e.err.Error()
}

func (e *writeError) Unwrap() error {
	return e.err
}
