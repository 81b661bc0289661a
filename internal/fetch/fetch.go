// Package fetch downloads firmware archives over HTTP(S) and FTP.
// Transfers are streamed to disk, retried on transient failures, and report
// byte-level progress to a caller-supplied callback.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultTimeout is the default inactivity timeout for a single attempt.
const DefaultTimeout = 30 * time.Second

// DefaultRetries is the default number of retries after the first attempt.
const DefaultRetries = 3

// DefaultUserAgent mimics a desktop browser; several vendor sites reject bare clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Options configures the downloader.
type Options struct {
	// Timeout aborts an attempt when no bytes arrive for this long.
	Timeout    time.Duration
	MaxRetries int
	UserAgent  string
	Backoff    BackoffPolicy
	// ResolveLandingPages follows the first archive link of an HTML response.
	ResolveLandingPages bool
}

// DefaultOptions returns sensible defaults for downloading archives.
func DefaultOptions() *Options {
	return &Options{
		Timeout:             DefaultTimeout,
		MaxRetries:          DefaultRetries,
		UserAgent:           DefaultUserAgent,
		Backoff:             DefaultBackoff(),
		ResolveLandingPages: true,
	}
}

// Progress is a snapshot of one transfer.
// BytesTotal is -1 when the server did not announce a size.
type Progress struct {
	URL             string
	BytesDownloaded int64
	BytesTotal      int64
}

// ProgressFunc receives progress snapshots with monotonically increasing byte counts.
type ProgressFunc func(Progress)

// Downloader fetches URLs into local files with retry.
type Downloader struct {
	client *http.Client
	opts   Options
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewDownloader creates a downloader. A nil opts uses DefaultOptions and a nil
// logger discards log output.
func NewDownloader(opts *Options, logger *slog.Logger) *Downloader {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Backoff == nil {
		o.Backoff = DefaultBackoff()
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Downloader{
		client: &http.Client{
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		opts:   o,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Fetch downloads rawURL into destPath and returns the number of bytes written.
// Transient failures are retried up to MaxRetries times; the returned error is
// always a *DownloadError. A partially written destPath is left in place on
// failure for the caller to remove.
func (d *Downloader) Fetch(ctx context.Context, rawURL, destPath string, onProgress ProgressFunc) (int64, error) {
	u, err := parseSourceURL(rawURL)
	if err != nil {
		return 0, err
	}

	n, contentType, err := d.fetchWithRetry(ctx, u, destPath, onProgress)
	if err != nil {
		return n, err
	}

	if d.opts.ResolveLandingPages && isHTML(contentType) {
		link, lerr := resolveFromFile(destPath, u)
		if lerr != nil || link == "" {
			d.logger.Debug("html response without archive link", "url", u.Redacted())
			return n, nil
		}
		target, perr := parseSourceURL(link)
		if perr != nil {
			return n, nil
		}
		d.logger.Info("following archive link from landing page", "url", u.Redacted(), "link", target.Redacted())
		n, _, err = d.fetchWithRetry(ctx, target, destPath, onProgress)
		return n, err
	}

	return n, nil
}

// fetchWithRetry drives the attempt state machine:
// attempt -> success | transient failure (back off, retry) | fatal failure.
func (d *Downloader) fetchWithRetry(ctx context.Context, u *url.URL, destPath string, onProgress ProgressFunc) (int64, string, error) {
	for attempt := 1; ; attempt++ {
		n, contentType, err := d.attempt(ctx, u, destPath, onProgress)

		switch classifyAttempt(err) {
		case stepSuccess:
			return n, contentType, nil

		case stepFatal:
			err.Attempts = attempt
			return n, "", err

		case stepTransient:
			err.Attempts = attempt
			if attempt > d.opts.MaxRetries {
				return n, "", err
			}
			delay := d.opts.Backoff.Delay(attempt)
			d.logger.Warn("download attempt failed",
				"url", u.Redacted(),
				"attempt", attempt,
				"max_retries", d.opts.MaxRetries,
				"reason", string(err.Reason),
				"error", err.Error(),
				"backoff", delay)
			if serr := d.sleep(ctx, delay); serr != nil {
				return n, "", &DownloadError{
					URL:      u.Redacted(),
					Reason:   ReasonOther,
					Message:  "cancelled during backoff",
					Attempts: attempt,
					Cause:    serr,
				}
			}
		}
	}
}

func (d *Downloader) attempt(ctx context.Context, u *url.URL, destPath string, onProgress ProgressFunc) (int64, string, *DownloadError) {
	switch u.Scheme {
	case "ftp":
		n, err := d.fetchFTP(ctx, u, destPath, onProgress)
		return n, "", err
	default:
		return d.fetchHTTP(ctx, u, destPath, onProgress)
	}
}

func (d *Downloader) fetchHTTP(ctx context.Context, u *url.URL, destPath string, onProgress ProgressFunc) (int64, string, *DownloadError) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchdog := newIdleWatchdog(d.opts.Timeout, cancel)
	defer watchdog.stop()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, "", &DownloadError{URL: u.Redacted(), Reason: ReasonOther, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("User-Agent", d.opts.UserAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", transportError(ctx, watchdog, u, "HTTP request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, "", &DownloadError{
			URL:        u.Redacted(),
			Reason:     ReasonHTTPStatus,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP status %d", resp.StatusCode),
		}
	}

	n, derr := d.writeBody(ctx, attemptCtx, watchdog, u, destPath, resp.Body, resp.ContentLength, onProgress)
	return n, resp.Header.Get("Content-Type"), derr
}

// writeBody streams body into destPath, truncating any earlier partial attempt.
func (d *Downloader) writeBody(ctx, attemptCtx context.Context, watchdog *idleWatchdog, u *url.URL, destPath string, body io.Reader, total int64, onProgress ProgressFunc) (int64, *DownloadError) {
	f, err := os.Create(destPath)
	if err != nil {
		return 0, &DownloadError{URL: u.Redacted(), Reason: ReasonOther, Message: "failed to create archive file", Cause: err}
	}

	report := func(n int64) {
		if onProgress != nil {
			onProgress(Progress{URL: u.Redacted(), BytesDownloaded: n, BytesTotal: total})
		}
	}

	n, copyErr := copyWithProgress(attemptCtx, f, body, watchdog.kick, report)
	closeErr := f.Close()

	var werr *writeError
	switch {
	case errors.As(copyErr, &werr):
		return n, &DownloadError{URL: u.Redacted(), Reason: ReasonOther, Message: "failed to write archive file", Cause: werr.err}
	case copyErr != nil:
		return n, transportError(ctx, watchdog, u, "failed to read response body", copyErr)
	case closeErr != nil:
		return n, &DownloadError{URL: u.Redacted(), Reason: ReasonOther, Message: "failed to close archive file", Cause: closeErr}
	}
	return n, nil
}

// parseSourceURL rejects URLs the downloader cannot fetch. These failures are
// never retried.
func parseSourceURL(rawURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(rawURL)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return nil, &DownloadError{URL: trimmed, Reason: ReasonOther, Message: "invalid URL", Cause: err}
	}
	u.Scheme = strings.ToLower(u.Scheme)
	switch u.Scheme {
	case "http", "https", "ftp":
		return u, nil
	default:
		return nil, &DownloadError{URL: trimmed, Reason: ReasonOther, Message: fmt.Sprintf("unsupported URL scheme %q", u.Scheme)}
	}
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// IsLocalIOError reports whether a download failed because of the local filesystem
// rather than the network.
func IsLocalIOError(err error) bool {
	var pathErr *fs.PathError
	return errors.As(err, &pathErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
