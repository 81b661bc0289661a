package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"net/url"
	"path"
	"time"

	"github.com/jlaffaye/ftp"
)

const defaultFTPPort = "21"

// fetchFTP retrieves one file over FTP. Anonymous login is used unless the URL
// carries credentials. 4xx replies are transient, 5xx replies are permanent.
func (d *Downloader) fetchFTP(ctx context.Context, u *url.URL, destPath string, onProgress ProgressFunc) (int64, *DownloadError) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchdog := newIdleWatchdog(d.opts.Timeout, cancel)
	defer watchdog.stop()

	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), defaultFTPPort)
	}

	dialOpts := []ftp.DialOption{ftp.DialWithContext(attemptCtx)}
	if d.opts.Timeout > 0 {
		dialOpts = append(dialOpts, ftp.DialWithTimeout(d.opts.Timeout))
	}

	conn, err := ftp.Dial(addr, dialOpts...)
	if err != nil {
		return 0, ftpError(ctx, watchdog, u, "FTP connect failed", err)
	}
	defer func() { _ = conn.Quit() }()

	user, pass := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		return 0, ftpError(ctx, watchdog, u, "FTP login failed", err)
	}

	remotePath := u.Path
	if remotePath == "" {
		remotePath = "/"
	}
	remotePath = path.Clean(remotePath)

	// SIZE is optional on many servers.
	total, err := conn.FileSize(remotePath)
	if err != nil {
		total = -1
	}

	resp, err := conn.Retr(remotePath)
	if err != nil {
		return 0, ftpError(ctx, watchdog, u, "FTP RETR failed", err)
	}
	defer func() { _ = resp.Close() }()

	// Unblock a pending read when the attempt is cancelled or goes idle.
	stopDeadline := context.AfterFunc(attemptCtx, func() {
		_ = resp.SetDeadline(time.Now())
	})
	defer stopDeadline()

	return d.writeBody(ctx, attemptCtx, watchdog, u, destPath, resp, total, onProgress)
}

func ftpError(ctx context.Context, watchdog *idleWatchdog, u *url.URL, message string, err error) *DownloadError {
	var protoErr *textproto.Error
	if ctx.Err() == nil && !watchdog.expired() && errors.As(err, &protoErr) {
		reason := ReasonOther
		if protoErr.Code >= 400 && protoErr.Code < 500 {
			reason = ReasonNetwork
		}
		return &DownloadError{
			URL:        u.Redacted(),
			Reason:     reason,
			StatusCode: protoErr.Code,
			Message:    fmt.Sprintf("%s (reply %d)", message, protoErr.Code),
			Cause:      err,
		}
	}
	return transportError(ctx, watchdog, u, message, err)
}
