package pipeline

import (
	"context"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/firmware-harvester/internal/fetch"
	"github.com/jonathan/firmware-harvester/internal/types"
)

// Processor handles one manifest row.
type Processor interface {
	Process(ctx context.Context, row types.ManifestRow, onProgress fetch.ProgressFunc) types.ItemResult
}

// Recorder persists item results as they complete.
type Recorder interface {
	RecordItem(ctx context.Context, runID uuid.UUID, result types.ItemResult) error
}

// BatchOptions configures a BatchRunner.
type BatchOptions struct {
	// ConcurrencyLimit bounds the number of rows in flight; values < 1 mean 1.
	ConcurrencyLimit int
	OnProgress       ProgressCallback
	Recorder         Recorder
	RunID            uuid.UUID
	Logger           *slog.Logger
}

// BatchResult is the outcome of a whole batch, in manifest order.
type BatchResult struct {
	RunID   uuid.UUID
	Results []types.ItemResult
	Summary Summary
	// Persisted is set when RunID names a row in the results store.
	Persisted bool
}

// BatchRunner dispatches rows to a Processor with bounded concurrency. A row's
// failure never stops the batch.
type BatchRunner struct {
	processor Processor
	opts      BatchOptions
	logger    *slog.Logger

	emitMu sync.Mutex
}

// NewBatchRunner creates a runner.
func NewBatchRunner(processor Processor, opts BatchOptions) *BatchRunner {
	if opts.ConcurrencyLimit < 1 {
		opts.ConcurrencyLimit = 1
	}
	if opts.RunID == uuid.Nil {
		opts.RunID = uuid.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &BatchRunner{processor: processor, opts: opts, logger: logger}
}

// tally is the running count shared by the workers.
type tally struct {
	mu        sync.Mutex
	completed int
	counts    map[types.OutcomeKind]int
}

func (t *tally) add(outcome types.OutcomeKind) (int, map[types.OutcomeKind]int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed++
	t.counts[outcome]++
	return t.completed, maps.Clone(t.counts)
}

// Run processes every row and returns one result per row. Rows not yet
// dispatched when ctx is cancelled are reported as cancelled.
func (b *BatchRunner) Run(ctx context.Context, rows []types.ManifestRow) *BatchResult {
	start := time.Now()
	total := len(rows)
	results := make([]types.ItemResult, total)
	t := &tally{counts: make(map[types.OutcomeKind]int)}

	b.logger.Info("batch started", "run_id", b.opts.RunID, "rows", total, "concurrency", b.opts.ConcurrencyLimit)

	g := new(errgroup.Group)
	g.SetLimit(b.opts.ConcurrencyLimit)

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			results[i] = types.ItemResult{Row: row, Outcome: types.OutcomeCancelled, Reason: err.Error()}
			b.complete(ctx, t, total, results[i])
			continue
		}

		g.Go(func() error {
			results[i] = b.runItem(ctx, row, t, total)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(a, c int) bool {
		return results[a].Row.Index < results[c].Row.Index
	})

	summary := Summarize(results, time.Since(start))
	b.logger.Info("batch finished",
		"run_id", b.opts.RunID,
		"rows", total,
		"succeeded", summary.Successes(),
		"failed", len(summary.Failures),
		"duration", summary.Duration)

	return &BatchResult{RunID: b.opts.RunID, Results: results, Summary: summary}
}

func (b *BatchRunner) runItem(ctx context.Context, row types.ManifestRow, t *tally, total int) types.ItemResult {
	b.logger.Info("item started", "row", row.Index+1, "label", row.Label, "url", row.SourceURL)
	b.emit(ProgressEvent{Kind: EventItemStarted, Label: row.Label, Row: row.Index, Total: total})

	result := b.processor.Process(ctx, row, func(p fetch.Progress) {
		b.emit(ProgressEvent{
			Kind:            EventDownload,
			Label:           row.Label,
			Row:             row.Index,
			BytesDownloaded: p.BytesDownloaded,
			BytesTotal:      p.BytesTotal,
			Total:           total,
		})
	})

	level := slog.LevelInfo
	if result.Outcome.IsFailure() {
		level = slog.LevelWarn
	}
	b.logger.Log(ctx, level, "item finished",
		"row", row.Index+1,
		"label", row.Label,
		"outcome", result.Outcome,
		"reason", result.Reason,
		"produced", len(result.Produced),
		"bytes", result.BytesDownloaded,
		"duration", result.Duration)

	b.complete(ctx, t, total, result)
	return result
}

func (b *BatchRunner) complete(ctx context.Context, t *tally, total int, result types.ItemResult) {
	completed, counts := t.add(result.Outcome)
	b.emit(ProgressEvent{
		Kind:      EventItemFinished,
		Label:     result.Row.Label,
		Row:       result.Row.Index,
		Outcome:   result.Outcome,
		Completed: completed,
		Total:     total,
		Counts:    counts,
	})

	if b.opts.Recorder != nil {
		// Recording must survive batch cancellation.
		recordCtx := context.WithoutCancel(ctx)
		if err := b.opts.Recorder.RecordItem(recordCtx, b.opts.RunID, result); err != nil {
			b.logger.Warn("failed to record item result", "row", result.Row.Index+1, "error", err)
		}
	}
}

func (b *BatchRunner) emit(event ProgressEvent) {
	if b.opts.OnProgress == nil {
		return
	}
	b.emitMu.Lock()
	defer b.emitMu.Unlock()
	b.opts.OnProgress(event)
}
