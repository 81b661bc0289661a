package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/firmware-harvester/internal/analysis"
	"github.com/jonathan/firmware-harvester/internal/pipeline"
	"github.com/jonathan/firmware-harvester/internal/review"
	"github.com/jonathan/firmware-harvester/internal/types"
)

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	summary := pipeline.Summarize([]types.ItemResult{
		{Row: types.ManifestRow{Index: 0, Label: "Archer C50"}, Outcome: types.OutcomeSuccess,
			Produced: []types.ProducedFile{{Path: "/out/Archer_C50.bin"}}},
		{Row: types.ManifestRow{Index: 1, Label: "Deco"}, Outcome: types.OutcomeDownloadFailed, Reason: "HTTP status 404"},
		{Row: types.ManifestRow{Index: 2}, Outcome: types.OutcomeSkippedInvalidRow},
	}, 1500*time.Millisecond)

	p.PrintSummary(summary)
	output := buf.String()

	assert.Contains(t, output, "HARVEST SUMMARY")
	assert.Contains(t, output, "Rows:      3")
	assert.Contains(t, output, "Succeeded: 1")
	assert.Contains(t, output, "download_failed")
	assert.Contains(t, output, "Archer_C50.bin")
	assert.Contains(t, output, "row 2 Deco: download_failed")
	assert.Contains(t, output, "HTTP status 404")
	assert.Contains(t, output, "row 3 (no label)")
	assert.Contains(t, output, "1.5s")
}

func TestPrintSummary_TruncatesLongLists(t *testing.T) {
	var buf bytes.Buffer
	results := make([]types.ItemResult, 15)
	for i := range results {
		results[i] = types.ItemResult{Row: types.ManifestRow{Index: i, Label: "x"}, Outcome: types.OutcomeExtractFailed}
	}

	NewPrinter(&buf).PrintSummary(pipeline.Summarize(results, 0))
	assert.Contains(t, buf.String(), "... and 5 more")
}

func TestPrintBox_TruncatesLongLines(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).printBox("T", strings.Repeat("a", 200))
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		assert.LessOrEqual(t, len([]rune(line)), boxWidth)
	}
	assert.Contains(t, buf.String(), "...")
}

func TestPrintAnalysisResults(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintAnalysisResults([]analysis.Result{
		{PayloadPath: "/out/a.bin", Report: &analysis.Report{Status: analysis.StatusCompleted}},
		{PayloadPath: "/out/b.bin", Report: &analysis.Report{Status: analysis.StatusPartial, Error: "timed out"}},
		{PayloadPath: "/out/c.bin", Err: errors.New("scan failed")},
	})
	output := buf.String()
	assert.Contains(t, output, "✓ a.bin")
	assert.Contains(t, output, "~ b.bin: partial (timed out)")
	assert.Contains(t, output, "⚠ c.bin: scan failed")
	assert.Contains(t, output, "Analysed 2/3 payloads")
}

func TestPrintReviewResults(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintReviewResults([]review.Result{
		{ReportPath: "/r/a_analysis.json", ReviewPath: "/r/a_review.md"},
		{ReportPath: "/r/b_analysis.json", Err: errors.New("quota")},
	})
	assert.Contains(t, buf.String(), "✓ a_review.md")
	assert.Contains(t, buf.String(), "Reviewed 1/2 reports")
}

func TestPrintResults_Empty(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.PrintAnalysisResults(nil)
	p.PrintReviewResults(nil)
	assert.Empty(t, buf.String())
}

func TestProgressPrinter_TenPercentSteps(t *testing.T) {
	var buf bytes.Buffer
	cb := NewProgressPrinter(&buf).Callback()

	cb(pipeline.ProgressEvent{Kind: pipeline.EventItemStarted, Label: "fw", Row: 0, Total: 2})
	for _, n := range []int64{0, 5, 10, 15, 50, 51, 100} {
		cb(pipeline.ProgressEvent{Kind: pipeline.EventDownload, Label: "fw", Row: 0, BytesDownloaded: n, BytesTotal: 100})
	}
	cb(pipeline.ProgressEvent{Kind: pipeline.EventDownload, Label: "fw", Row: 0, BytesDownloaded: 100, BytesTotal: -1})
	cb(pipeline.ProgressEvent{Kind: pipeline.EventItemFinished, Label: "fw", Row: 0, Completed: 1, Total: 2, Outcome: types.OutcomeSuccess})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"[1/2] fw: downloading",
		"    fw: 0% (0 B / 100 B)",
		"    fw: 10% (10 B / 100 B)",
		"    fw: 50% (50 B / 100 B)",
		"    fw: 100% (100 B / 100 B)",
		"[1/2 done] fw: success",
	}, lines)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "2.0 MiB", formatBytes(2*1024*1024))
}

func TestNewLogger_FileFanout(t *testing.T) {
	var console bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "logs", "harvest.log")

	logger, closeFn, err := NewLogger(LogOptions{Console: &console, LogFile: logFile})
	require.NoError(t, err)

	logger.Debug("debug detail", "row", 1)
	logger.With("component", "fetch").Info("item finished", "outcome", "success")
	require.NoError(t, closeFn())

	assert.NotContains(t, console.String(), "debug detail", "console is info level unless verbose")
	assert.Contains(t, console.String(), "item finished")
	assert.Contains(t, console.String(), "component=fetch")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "item finished", rec["msg"])
	assert.Equal(t, "fetch", rec["component"])
}

func TestNewLogger_Verbose(t *testing.T) {
	var console bytes.Buffer
	logger, closeFn, err := NewLogger(LogOptions{Console: &console, Verbose: true})
	require.NoError(t, err)
	defer closeFn()

	logger.Debug("debug detail")
	assert.Contains(t, console.String(), "debug detail")
}

func TestNewLogger_BadLogFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, _, err := NewLogger(LogOptions{Console: &bytes.Buffer{}, LogFile: filepath.Join(blocker, "x.log")})
	assert.Error(t, err)
}
