// Package pipeline orchestrates the firmware harvest: every manifest row is
// downloaded, extracted, filtered and placed, with results aggregated per batch.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/firmware-harvester/internal/archive"
	"github.com/jonathan/firmware-harvester/internal/db"
	"github.com/jonathan/firmware-harvester/internal/fetch"
	"github.com/jonathan/firmware-harvester/internal/naming"
	"github.com/jonathan/firmware-harvester/internal/payload"
	"github.com/jonathan/firmware-harvester/internal/types"
)

// RunOptions holds configuration for a harvest batch
type RunOptions struct {
	ManifestPath string
	Rows         []types.ManifestRow
	OutputDir    string
	// ScratchDir defaults to <OutputDir>/.scratch so payload moves stay on one filesystem.
	ScratchDir       string
	Download         *fetch.Options
	TargetExtension  string
	RequireSignature bool
	PacingDelay      time.Duration
	ConcurrencyLimit int
	MinFreeMB        uint64
	DatabaseURL      string
	Logger           *slog.Logger
	OnProgress       ProgressCallback
}

// records shares one naming.Record per output directory across every batch in
// the process.
var records = naming.NewRegistry()

// DefaultScratchDir returns the scratch root used when none is configured.
func DefaultScratchDir(outputDir string) string {
	return filepath.Join(outputDir, ".scratch")
}

// RunHarvest runs one batch over opts.Rows. It only returns an error when the
// batch cannot start; per-row failures are reported in the result.
func RunHarvest(ctx context.Context, opts RunOptions) (*BatchResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	scratchDir := opts.ScratchDir
	if scratchDir == "" {
		scratchDir = DefaultScratchDir(opts.OutputDir)
	}

	record, err := records.Record(opts.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open output directory: %w", err)
	}

	if _, err := CheckFreeSpace(ctx, record.Dir(), opts.MinFreeMB, logger); err != nil {
		logger.Warn("disk space check skipped", "error", err)
	}

	runID := uuid.New()
	var recorder Recorder
	var database *db.DB
	if opts.DatabaseURL != "" {
		database, err = db.Connect(ctx, opts.DatabaseURL)
		if err != nil {
			logger.Warn("failed to connect to database, continuing without persistence", "error", err)
		} else {
			defer database.Close()
			if err := database.CreateRun(ctx, runID, opts.ManifestPath, len(opts.Rows)); err != nil {
				logger.Warn("failed to create run record, continuing without persistence", "error", err)
				database = nil
			} else {
				recorder = database
			}
		}
	}

	processor := NewItemProcessor(ProcessorConfig{
		Fetcher:    fetch.NewDownloader(opts.Download, logger),
		Extractor:  archive.NewExtractor(logger),
		Filter:     payload.NewFilter(opts.TargetExtension, opts.RequireSignature),
		Record:     record,
		ScratchDir: scratchDir,
		Gate:       NewRateGate(opts.PacingDelay),
		Logger:     logger,
	})

	runner := NewBatchRunner(processor, BatchOptions{
		ConcurrencyLimit: opts.ConcurrencyLimit,
		OnProgress:       opts.OnProgress,
		Recorder:         recorder,
		RunID:            runID,
		Logger:           logger,
	})

	result := runner.Run(ctx, opts.Rows)
	result.Persisted = recorder != nil

	if opts.ScratchDir == "" {
		// Only succeeds once every workspace is gone.
		_ = os.Remove(scratchDir)
	}

	if database != nil {
		if err := database.CompleteRun(context.WithoutCancel(ctx), runID, result.Summary.Counts); err != nil {
			logger.Warn("failed to complete run record", "error", err)
		}
	}
	return result, nil
}
