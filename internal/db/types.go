package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/firmware-harvester/internal/types"
)

// Run status constants
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
)

// Analysis kinds and statuses
const (
	AnalysisKindBinwalk = "binwalk"
	AnalysisKindReview  = "review"

	AnalysisStatusCompleted = "completed"
	AnalysisStatusFailed    = "failed"
)

// Run represents a harvest run
type Run struct {
	ID          uuid.UUID                 `json:"id"`
	Manifest    string                    `json:"manifest"`
	TotalRows   int                       `json:"total_rows"`
	Status      string                    `json:"status"`
	Succeeded   int                       `json:"succeeded"`
	Failed      int                       `json:"failed"`
	Counts      map[types.OutcomeKind]int `json:"counts,omitempty"`
	StartedAt   time.Time                 `json:"started_at"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
}

// ItemRecord is a stored item result
type ItemRecord struct {
	ID              uuid.UUID            `json:"id"`
	RunID           uuid.UUID            `json:"run_id"`
	RowIndex        int                  `json:"row_index"`
	Label           string               `json:"label"`
	SourceURL       string               `json:"source_url"`
	Outcome         types.OutcomeKind    `json:"outcome"`
	Reason          *string              `json:"reason,omitempty"`
	ArchiveFormat   *string              `json:"archive_format,omitempty"`
	BytesDownloaded int64                `json:"bytes_downloaded"`
	DurationMs      int64                `json:"duration_ms"`
	Produced        []types.ProducedFile `json:"produced,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

// AnalysisRecord is the stored outcome of analysing or reviewing one payload.
type AnalysisRecord struct {
	RunID       *uuid.UUID
	PayloadPath string
	Kind        string
	Status      string
	ReportPath  string
	Error       string
}

// RunStatusFor derives a run's final status from its outcome counts:
// completed when nothing failed, failed when nothing succeeded, partial otherwise.
func RunStatusFor(counts map[types.OutcomeKind]int) (status string, succeeded, failed int) {
	total := 0
	for kind, n := range counts {
		total += n
		if kind.IsFailure() {
			failed += n
		}
	}
	succeeded = counts[types.OutcomeSuccess]

	switch {
	case failed == 0:
		status = RunStatusCompleted
	case total > 0 && succeeded == 0:
		status = RunStatusFailed
	default:
		status = RunStatusPartial
	}
	return status, succeeded, failed
}
