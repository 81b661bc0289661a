package observability

import (
	"fmt"
	"io"

	"github.com/jonathan/firmware-harvester/internal/pipeline"
)

// ProgressPrinter renders batch progress events as console lines. Download
// progress is printed in 10% steps when the size is known.
type ProgressPrinter struct {
	out   io.Writer
	steps map[int]int64
}

// NewProgressPrinter creates a printer writing to out.
func NewProgressPrinter(out io.Writer) *ProgressPrinter {
	return &ProgressPrinter{out: out, steps: make(map[int]int64)}
}

// Callback returns the printer as a pipeline progress callback. The batch
// runner serialises calls, so no locking is needed here.
func (p *ProgressPrinter) Callback() pipeline.ProgressCallback {
	return p.handle
}

//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *ProgressPrinter) handle(e pipeline.ProgressEvent) {
	switch e.Kind {
	case pipeline.EventItemStarted:
		p.steps[e.Row] = -1
		fmt.Fprintf(p.out, "[%d/%d] %s: downloading\n", e.Row+1, e.Total, e.Label)
	case pipeline.EventDownload:
		if e.BytesTotal <= 0 {
			return
		}
		step := e.BytesDownloaded * 10 / e.BytesTotal
		if last, ok := p.steps[e.Row]; ok && step <= last {
			return
		}
		p.steps[e.Row] = step
		fmt.Fprintf(p.out, "    %s: %d%% (%s / %s)\n", e.Label, step*10, formatBytes(e.BytesDownloaded), formatBytes(e.BytesTotal))
	case pipeline.EventItemFinished:
		delete(p.steps, e.Row)
		fmt.Fprintf(p.out, "[%d/%d done] %s: %s\n", e.Completed, e.Total, e.Label, e.Outcome)
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
