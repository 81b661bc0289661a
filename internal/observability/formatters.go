// Package observability provides the process logger and formatted console
// output for harvest, analysis and review runs.
package observability

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonathan/firmware-harvester/internal/analysis"
	"github.com/jonathan/firmware-harvester/internal/pipeline"
	"github.com/jonathan/firmware-harvester/internal/review"
	"github.com/jonathan/firmware-harvester/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 10
)

// Printer handles formatted console output
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len([]rune(line)) > boxWidth-4 {
			line = string([]rune(line)[:boxWidth-7]) + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintSummary outputs the batch summary: counts per outcome, produced files,
// and failed labels with reasons.
func (p *Printer) PrintSummary(s pipeline.Summary) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Rows:      %d\n", s.Total))
	sb.WriteString(fmt.Sprintf("Succeeded: %d\n", s.Successes()))
	sb.WriteString(fmt.Sprintf("Duration:  %s\n", s.Duration.Round(time.Millisecond)))
	sb.WriteString("\n")

	for _, kind := range types.AllOutcomes {
		if n := s.Counts[kind]; n > 0 {
			sb.WriteString(fmt.Sprintf("  %-20s %d\n", kind, n))
		}
	}

	if len(s.Produced) > 0 {
		sb.WriteString(fmt.Sprintf("\nProduced %d files:\n", len(s.Produced)))
		count := min(len(s.Produced), maxItemsToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  • %s\n", filepath.Base(s.Produced[i])))
		}
		if len(s.Produced) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(s.Produced)-maxItemsToShow))
		}
	}

	if len(s.Failures) > 0 {
		sb.WriteString(fmt.Sprintf("\nFailed %d rows:\n", len(s.Failures)))
		count := min(len(s.Failures), maxItemsToShow)
		for i := 0; i < count; i++ {
			f := s.Failures[i]
			label := f.Label
			if label == "" {
				label = "(no label)"
			}
			sb.WriteString(fmt.Sprintf("⚠ row %d %s: %s\n", f.Row, label, f.Outcome))
			if f.Reason != "" {
				sb.WriteString(fmt.Sprintf("  %s\n", f.Reason))
			}
		}
		if len(s.Failures) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(s.Failures)-maxItemsToShow))
		}
	}

	p.printBox("HARVEST SUMMARY", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintAnalysisResults outputs one line per analysed payload.
func (p *Printer) PrintAnalysisResults(results []analysis.Result) {
	if len(results) == 0 {
		return
	}

	var sb strings.Builder
	ok := 0
	for _, r := range results {
		name := filepath.Base(r.PayloadPath)
		switch {
		case r.Err != nil:
			sb.WriteString(fmt.Sprintf("⚠ %s: %v\n", name, r.Err))
		case r.Report != nil && r.Report.Status == analysis.StatusPartial:
			ok++
			sb.WriteString(fmt.Sprintf("~ %s: partial (%s)\n", name, r.Report.Error))
		default:
			ok++
			sb.WriteString(fmt.Sprintf("✓ %s\n", name))
		}
	}
	sb.WriteString(fmt.Sprintf("\nAnalysed %d/%d payloads", ok, len(results)))

	p.printBox("BINWALK ANALYSIS", sb.String())
}

// PrintReviewResults outputs one line per reviewed report.
func (p *Printer) PrintReviewResults(results []review.Result) {
	if len(results) == 0 {
		return
	}

	var sb strings.Builder
	ok := 0
	for _, r := range results {
		name := filepath.Base(r.ReportPath)
		if r.Err != nil {
			sb.WriteString(fmt.Sprintf("⚠ %s: %v\n", name, r.Err))
			continue
		}
		ok++
		sb.WriteString(fmt.Sprintf("✓ %s\n", filepath.Base(r.ReviewPath)))
	}
	sb.WriteString(fmt.Sprintf("\nReviewed %d/%d reports", ok, len(results)))

	p.printBox("AI REVIEW", sb.String())
}
