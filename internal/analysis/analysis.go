// Package analysis runs binwalk over harvested payloads and writes a JSON
// report per payload.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonathan/firmware-harvester/internal/naming"
)

// Default command timeouts.
const (
	DefaultScanTimeout    = 60 * time.Second
	DefaultExtractTimeout = 300 * time.Second
)

// Report statuses.
const (
	StatusCompleted = "completed"
	// StatusPartial means the scan ran but extraction did not.
	StatusPartial = "partial"
)

// CommandResult captures one binwalk invocation.
type CommandResult struct {
	Command    string `json:"command"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	ReturnCode int    `json:"return_code"`
	DurationMS int64  `json:"duration_ms"`
}

// ExtractedStructure summarises what extraction produced.
type ExtractedStructure struct {
	ExtractionSuccess   bool           `json:"extraction_success"`
	SquashfsFound       bool           `json:"squashfs_found"`
	FilesystemStructure []string       `json:"filesystem_structure,omitempty"`
	FileCounts          map[string]int `json:"file_counts,omitempty"`
	CompressedFiles     []string       `json:"compressed_files,omitempty"`
}

// Report is the analysis record for one payload.
type Report struct {
	FirmwareName       string              `json:"firmware_name"`
	PayloadPath        string              `json:"payload_path"`
	SizeBytes          int64               `json:"size_bytes"`
	Checksum           string              `json:"checksum,omitempty"`
	AnalysisTimestamp  time.Time           `json:"analysis_timestamp"`
	AnalysisMethod     string              `json:"analysis_method"`
	Status             string              `json:"status"`
	SignatureScan      CommandResult       `json:"signature_scan"`
	Extraction         *CommandResult      `json:"extraction,omitempty"`
	ExtractDirectory   string              `json:"extract_directory,omitempty"`
	ExtractedStructure *ExtractedStructure `json:"extracted_structure,omitempty"`
	Error              string              `json:"error,omitempty"`
}

// Options configures a BinwalkAnalyzer.
type Options struct {
	BinwalkPath string
	// ReportDir receives <name>_analysis.json; extraction goes below
	// ReportDir/extracted/<name>.
	ReportDir      string
	ScanTimeout    time.Duration
	ExtractTimeout time.Duration
	// SkipExtraction runs only the signature scan.
	SkipExtraction bool
}

// BinwalkAnalyzer analyses payload files with the binwalk command.
type BinwalkAnalyzer struct {
	opts   Options
	runner Runner
	logger *slog.Logger
	now    func() time.Time
}

// NewBinwalkAnalyzer creates an analyzer. A nil runner executes real processes.
func NewBinwalkAnalyzer(opts Options, runner Runner, logger *slog.Logger) *BinwalkAnalyzer {
	if opts.BinwalkPath == "" {
		opts.BinwalkPath = "binwalk"
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = DefaultScanTimeout
	}
	if opts.ExtractTimeout <= 0 {
		opts.ExtractTimeout = DefaultExtractTimeout
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &BinwalkAnalyzer{opts: opts, runner: runner, logger: logger, now: time.Now}
}

// Analyze scans payloadPath, extracts it, and saves the report. It returns the
// report and the path it was written to. A failed scan is an error; a failed
// extraction is recorded in a partial report.
func (a *BinwalkAnalyzer) Analyze(ctx context.Context, payloadPath string) (*Report, string, error) {
	info, err := os.Stat(payloadPath)
	if err != nil {
		return nil, "", &AnalysisError{Path: payloadPath, Message: "payload not readable", Cause: err}
	}
	if info.IsDir() {
		return nil, "", &AnalysisError{Path: payloadPath, Message: "payload is a directory"}
	}

	name := FirmwareName(payloadPath)
	report := &Report{
		FirmwareName:      name,
		PayloadPath:       payloadPath,
		SizeBytes:         info.Size(),
		AnalysisTimestamp: a.now().UTC(),
		AnalysisMethod:    "command",
		Status:            StatusCompleted,
	}
	if sum, err := naming.Checksum(payloadPath); err == nil {
		report.Checksum = sum
	}

	a.logger.Info("scanning payload", "payload", payloadPath)
	scan, err := a.run(ctx, a.opts.ScanTimeout, payloadPath)
	if err != nil {
		return nil, "", &AnalysisError{Path: payloadPath, Message: "signature scan failed", Cause: err}
	}
	report.SignatureScan = scan

	if !a.opts.SkipExtraction {
		extractDir := filepath.Join(a.opts.ReportDir, "extracted", name)
		report.ExtractDirectory = extractDir

		if err := os.MkdirAll(extractDir, 0o755); err != nil {
			report.Status = StatusPartial
			report.Error = fmt.Sprintf("create extraction directory: %v", err)
		} else {
			a.logger.Info("extracting payload", "payload", payloadPath, "dir", extractDir)
			extract, err := a.run(ctx, a.opts.ExtractTimeout, "--extract", "--matryoshka", payloadPath, "--directory", extractDir)
			if err != nil {
				report.Status = StatusPartial
				report.Error = err.Error()
				a.logger.Warn("extraction failed", "payload", payloadPath, "error", err)
			} else {
				report.Extraction = &extract
				structure := InspectExtraction(extractDir)
				report.ExtractedStructure = &structure
			}
		}
	}

	reportPath, err := SaveReport(report, a.opts.ReportDir)
	if err != nil {
		return report, "", err
	}
	a.logger.Info("analysis report saved", "payload", payloadPath, "report", reportPath, "status", report.Status)
	return report, reportPath, nil
}

// run executes binwalk with a per-command timeout. A non-zero exit status is
// recorded in the result rather than returned.
func (a *BinwalkAnalyzer) run(ctx context.Context, timeout time.Duration, args ...string) (CommandResult, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := a.runner.Run(cmdCtx, a.opts.BinwalkPath, args...)
	result := CommandResult{
		Command:    strings.Join(append([]string{a.opts.BinwalkPath}, args...), " "),
		Stdout:     out.Stdout,
		Stderr:     out.Stderr,
		ReturnCode: out.ExitCode,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return result, fmt.Errorf("%s timed out after %s", result.Command, timeout)
		}
		return result, err
	}
	return result, nil
}

// FirmwareName is the payload's file name without its extension.
func FirmwareName(payloadPath string) string {
	base := filepath.Base(payloadPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Result is the outcome of analysing one payload in a batch.
type Result struct {
	PayloadPath string
	ReportPath  string
	Report      *Report
	Err         error
}

// AnalyzeAll analyses each payload in turn. Failures are recorded per payload
// and never retried; cancellation stops the remaining payloads.
func (a *BinwalkAnalyzer) AnalyzeAll(ctx context.Context, payloads []string) []Result {
	results := make([]Result, 0, len(payloads))
	for i, p := range payloads {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{PayloadPath: p, Err: &AnalysisError{Path: p, Message: "cancelled", Cause: err}})
			continue
		}
		a.logger.Info("analysis progress", "current", i+1, "total", len(payloads))
		report, reportPath, err := a.Analyze(ctx, p)
		if err != nil {
			a.logger.Error("analysis failed", "payload", p, "error", err)
		}
		results = append(results, Result{PayloadPath: p, ReportPath: reportPath, Report: report, Err: err})
	}
	return results
}

// FindPayloads lists regular files in dir with the given extension, sorted.
func FindPayloads(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload directory: %w", err)
	}
	var payloads []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ext) {
			payloads = append(payloads, filepath.Join(dir, e.Name()))
		}
	}
	return payloads, nil
}
