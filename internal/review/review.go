// Package review asks a language model to review binwalk analysis reports and
// writes the answer as markdown next to each report.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/firmware-harvester/internal/analysis"
	"github.com/jonathan/firmware-harvester/internal/llm"
	"github.com/jonathan/firmware-harvester/internal/prompts"
)

// ReviewSuffix names written reviews: <firmware>_review.md.
const ReviewSuffix = "_review.md"

// maxScanOutput caps how much binwalk output is sent to the model.
const maxScanOutput = 16 * 1024

// Reviewer turns analysis reports into model-written reviews.
type Reviewer struct {
	client llm.Client
	tier   llm.ModelTier
	logger *slog.Logger
	now    func() time.Time
}

// NewReviewer creates a reviewer using the advanced model tier.
func NewReviewer(client llm.Client, logger *slog.Logger) *Reviewer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reviewer{client: client, tier: llm.TierAdvanced, logger: logger, now: time.Now}
}

// BuildPrompt renders the review prompt for one report.
func BuildPrompt(report *analysis.Report) (string, error) {
	extraction := "Extraction was not attempted."
	if report.Extraction != nil {
		extraction = fmt.Sprintf("Command: %s\nReturn code: %d\n```\n%s\n```",
			report.Extraction.Command, report.Extraction.ReturnCode, truncate(report.Extraction.Stdout, maxScanOutput))
	} else if report.Error != "" {
		extraction = "Extraction failed: " + report.Error
	}

	structure := "{}"
	if report.ExtractedStructure != nil {
		data, err := json.MarshalIndent(report.ExtractedStructure, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal extracted structure: %w", err)
		}
		structure = string(data)
	}

	checksum := report.Checksum
	if checksum == "" {
		checksum = "unknown"
	}

	return prompts.Render("review.json", "review-report", map[string]string{
		"FirmwareName": report.FirmwareName,
		"PayloadPath":  report.PayloadPath,
		"SizeBytes":    strconv.FormatInt(report.SizeBytes, 10),
		"Checksum":     checksum,
		"Status":       report.Status,
		"ScanCommand":  report.SignatureScan.Command,
		"ScanOutput":   truncate(report.SignatureScan.Stdout, maxScanOutput),
		"Extraction":   extraction,
		"Structure":    structure,
	})
}

// Review reads the report at reportPath, asks the model for a review, and
// writes <firmware>_review.md next to the report. Service failures are
// returned as *ServiceError and never retried.
func (r *Reviewer) Review(ctx context.Context, reportPath string) (string, error) {
	report, err := analysis.LoadReport(reportPath)
	if err != nil {
		return "", err
	}

	prompt, err := BuildPrompt(report)
	if err != nil {
		return "", err
	}
	system, err := prompts.Get("review.json", "system")
	if err != nil {
		return "", err
	}

	model := r.client.GetModel(r.tier)
	r.logger.Info("requesting review", "firmware", report.FirmwareName, "model", model)
	text, err := r.client.GenerateContent(ctx, system, prompt, r.tier)
	if err != nil {
		return "", &ServiceError{Report: reportPath, Model: model, Message: "review request failed", Cause: err}
	}
	text = llm.StripCodeFence(text)
	if text == "" {
		return "", &ServiceError{Report: reportPath, Model: model, Message: "model returned an empty review"}
	}

	out := filepath.Join(filepath.Dir(reportPath), report.FirmwareName+ReviewSuffix)
	if err := os.WriteFile(out, []byte(r.render(report, model, text)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write review: %w", err)
	}
	r.logger.Info("review saved", "firmware", report.FirmwareName, "review", out)
	return out, nil
}

func (r *Reviewer) render(report *analysis.Report, model, body string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Binwalk Results Review: %s\n\n", report.FirmwareName))
	sb.WriteString(fmt.Sprintf("**Generated**: %s\n", r.now().UTC().Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("**Model**: %s\n", model))
	sb.WriteString(fmt.Sprintf("**Payload**: `%s` (%d bytes)\n", report.PayloadPath, report.SizeBytes))
	sb.WriteString(fmt.Sprintf("**Analysis status**: %s\n\n---\n\n", report.Status))
	sb.WriteString(body)
	sb.WriteString("\n")
	return sb.String()
}

// Result is the outcome of reviewing one report.
type Result struct {
	ReportPath string
	ReviewPath string
	Err        error
}

// ReviewAll reviews each report in turn; one failure does not stop the rest.
func (r *Reviewer) ReviewAll(ctx context.Context, reportPaths []string) []Result {
	results := make([]Result, 0, len(reportPaths))
	for _, p := range reportPaths {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{ReportPath: p, Err: err})
			continue
		}
		out, err := r.Review(ctx, p)
		if err != nil {
			r.logger.Error("review failed", "report", p, "error", err)
		}
		results = append(results, Result{ReportPath: p, ReviewPath: out, Err: err})
	}
	return results
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n... (truncated)"
}
