package fetch

import (
	"context"
	"io"
	"sync/atomic"
	"time"
)

// readBufferSize bounds how much is read before cancellation is checked again.
const readBufferSize = 8 * 1024

// copyWithProgress streams src into dst one buffer at a time. It stops within
// one buffer of ctx being cancelled, calls kick after every read that returned
// data, and reports the running byte count after every write.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, kick func(), report func(int64)) (int64, error) {
	buf := make([]byte, readBufferSize)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			kick()
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, &writeError{err: werr}
			}
			if nw != nr {
				return written, &writeError{err: io.ErrShortWrite}
			}
			report(written)
		}

		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// idleWatchdog cancels an attempt when no data has been seen for timeout.
// A zero timeout disables it.
type idleWatchdog struct {
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newIdleWatchdog(timeout time.Duration, cancel context.CancelFunc) *idleWatchdog {
	w := &idleWatchdog{timeout: timeout}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() {
			w.fired.Store(true)
			cancel()
		})
	}
	return w
}

func (w *idleWatchdog) kick() {
	if w.timer != nil && !w.fired.Load() {
		w.timer.Reset(w.timeout)
	}
}

func (w *idleWatchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *idleWatchdog) expired() bool {
	return w.fired.Load()
}
