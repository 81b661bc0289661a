package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/firmware-harvester/internal/fetch"
	"github.com/jonathan/firmware-harvester/internal/types"
)

// fakeProcessor returns canned outcomes and tracks concurrency.
type fakeProcessor struct {
	outcome  func(row types.ManifestRow) types.OutcomeKind
	delay    func(row types.ManifestRow) time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (p *fakeProcessor) Process(ctx context.Context, row types.ManifestRow, onProgress fetch.ProgressFunc) types.ItemResult {
	p.calls.Add(1)
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if onProgress != nil {
		onProgress(fetch.Progress{BytesDownloaded: 10, BytesTotal: 20})
		onProgress(fetch.Progress{BytesDownloaded: 20, BytesTotal: 20})
	}
	if p.delay != nil {
		select {
		case <-time.After(p.delay(row)):
		case <-ctx.Done():
			return types.ItemResult{Row: row, Outcome: types.OutcomeCancelled}
		}
	}
	outcome := types.OutcomeSuccess
	if p.outcome != nil {
		outcome = p.outcome(row)
	}
	return types.ItemResult{Row: row, Outcome: outcome}
}

func makeRows(n int) []types.ManifestRow {
	rows := make([]types.ManifestRow, n)
	for i := range rows {
		rows[i] = types.ManifestRow{Index: i, Label: fmt.Sprintf("item-%d", i), SourceURL: fmt.Sprintf("https://example.com/%d.zip", i)}
	}
	return rows
}

func TestBatchRunner_OneResultPerRowInManifestOrder(t *testing.T) {
	proc := &fakeProcessor{
		// Earlier rows finish last.
		delay: func(row types.ManifestRow) time.Duration { return time.Duration(10-row.Index) * 5 * time.Millisecond },
	}
	runner := NewBatchRunner(proc, BatchOptions{ConcurrencyLimit: 4})

	result := runner.Run(context.Background(), makeRows(10))

	require.Len(t, result.Results, 10)
	for i, r := range result.Results {
		assert.Equal(t, i, r.Row.Index)
	}
	assert.Equal(t, 10, result.Summary.Successes())
	assert.NotEqual(t, uuid.Nil, result.RunID)
}

func TestBatchRunner_RespectsConcurrencyLimit(t *testing.T) {
	for _, limit := range []int{1, 3} {
		t.Run(fmt.Sprintf("limit %d", limit), func(t *testing.T) {
			proc := &fakeProcessor{delay: func(types.ManifestRow) time.Duration { return 20 * time.Millisecond }}
			runner := NewBatchRunner(proc, BatchOptions{ConcurrencyLimit: limit})

			runner.Run(context.Background(), makeRows(9))

			assert.Equal(t, int32(9), proc.calls.Load())
			assert.LessOrEqual(t, proc.peak.Load(), int32(limit))
			if limit > 1 {
				assert.Greater(t, proc.peak.Load(), int32(1))
			}
		})
	}
}

func TestBatchRunner_FailuresDoNotAbortBatch(t *testing.T) {
	proc := &fakeProcessor{outcome: func(row types.ManifestRow) types.OutcomeKind {
		switch row.Index % 3 {
		case 0:
			return types.OutcomeDownloadFailed
		case 1:
			return types.OutcomeExtractFailed
		default:
			return types.OutcomeSuccess
		}
	}}
	runner := NewBatchRunner(proc, BatchOptions{ConcurrencyLimit: 2})

	result := runner.Run(context.Background(), makeRows(6))

	assert.Equal(t, int32(6), proc.calls.Load())
	assert.Equal(t, 2, result.Summary.Counts[types.OutcomeDownloadFailed])
	assert.Equal(t, 2, result.Summary.Counts[types.OutcomeExtractFailed])
	assert.Equal(t, 2, result.Summary.Successes())
	assert.Len(t, result.Summary.Failures, 4)
	assert.False(t, result.Summary.AllFailed())
}

func TestBatchRunner_ProgressStream(t *testing.T) {
	var events []ProgressEvent
	runner := NewBatchRunner(&fakeProcessor{}, BatchOptions{
		ConcurrencyLimit: 1,
		OnProgress:       func(e ProgressEvent) { events = append(events, e) },
	})

	runner.Run(context.Background(), makeRows(3))

	var started, downloads int
	var finished []ProgressEvent
	for _, e := range events {
		switch e.Kind {
		case EventItemStarted:
			started++
		case EventDownload:
			downloads++
			assert.NotEmpty(t, e.Label)
			assert.Equal(t, int64(20), e.BytesTotal)
		case EventItemFinished:
			finished = append(finished, e)
		}
	}
	assert.Equal(t, 3, started)
	assert.Equal(t, 6, downloads)
	require.Len(t, finished, 3)
	for i, e := range finished {
		assert.Equal(t, i+1, e.Completed)
		assert.Equal(t, 3, e.Total)
		assert.Equal(t, i+1, e.Counts[types.OutcomeSuccess])
	}
}

func TestBatchRunner_CancellationReportsEveryRow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	proc := &fakeProcessor{delay: func(row types.ManifestRow) time.Duration {
		if row.Index == 0 {
			cancel()
		}
		return time.Hour
	}}
	runner := NewBatchRunner(proc, BatchOptions{ConcurrencyLimit: 1})

	result := runner.Run(ctx, makeRows(5))

	require.Len(t, result.Results, 5)
	for _, r := range result.Results {
		assert.Equal(t, types.OutcomeCancelled, r.Outcome)
	}
	// At most the row already waiting for a worker slot reaches the processor.
	assert.LessOrEqual(t, proc.calls.Load(), int32(2))
	assert.True(t, result.Summary.AllFailed())
}

type memoryRecorder struct {
	mu      sync.Mutex
	runIDs  map[uuid.UUID]bool
	results []types.ItemResult
	fail    bool
}

func (r *memoryRecorder) RecordItem(_ context.Context, runID uuid.UUID, result types.ItemResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return fmt.Errorf("database unavailable")
	}
	if r.runIDs == nil {
		r.runIDs = make(map[uuid.UUID]bool)
	}
	r.runIDs[runID] = true
	r.results = append(r.results, result)
	return nil
}

func TestBatchRunner_RecordsEveryItem(t *testing.T) {
	rec := &memoryRecorder{}
	runID := uuid.New()
	runner := NewBatchRunner(&fakeProcessor{}, BatchOptions{ConcurrencyLimit: 3, Recorder: rec, RunID: runID})

	result := runner.Run(context.Background(), makeRows(7))

	assert.Equal(t, runID, result.RunID)
	assert.Len(t, rec.results, 7)
	assert.Equal(t, map[uuid.UUID]bool{runID: true}, rec.runIDs)
}

func TestBatchRunner_RecorderFailureIsNotFatal(t *testing.T) {
	runner := NewBatchRunner(&fakeProcessor{}, BatchOptions{Recorder: &memoryRecorder{fail: true}})
	result := runner.Run(context.Background(), makeRows(2))
	assert.Equal(t, 2, result.Summary.Successes())
}

func TestBatchRunner_EmptyManifest(t *testing.T) {
	result := NewBatchRunner(&fakeProcessor{}, BatchOptions{}).Run(context.Background(), nil)
	assert.Empty(t, result.Results)
	assert.Equal(t, 0, result.Summary.Total)
	assert.False(t, result.Summary.AllFailed())
}
