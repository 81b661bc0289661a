package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jonathan/firmware-harvester/internal/archive"
	"github.com/jonathan/firmware-harvester/internal/fetch"
	"github.com/jonathan/firmware-harvester/internal/naming"
	"github.com/jonathan/firmware-harvester/internal/payload"
	"github.com/jonathan/firmware-harvester/internal/types"
)

// Fetcher downloads a URL into a local file.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, destPath string, onProgress fetch.ProgressFunc) (int64, error)
}

// Extractor unpacks an archive and lists the regular files it produced.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string) ([]string, error)
}

// Classifier sorts extracted files into keep and discard.
type Classifier interface {
	Classify(files []string) []payload.PayloadFile
	Extension() string
}

// formatDetector is implemented by extractors that can name an archive's format.
type formatDetector interface {
	Detect(archivePath string) (string, error)
}

// ProcessorConfig wires the collaborators of an ItemProcessor.
type ProcessorConfig struct {
	Fetcher    Fetcher
	Extractor  Extractor
	Filter     Classifier
	Record     *naming.Record
	ScratchDir string
	Gate       Gate
	Logger     *slog.Logger
}

// ItemProcessor runs one manifest row through
// download -> extract -> filter -> place -> cleanup.
type ItemProcessor struct {
	fetcher    Fetcher
	extractor  Extractor
	filter     Classifier
	record     *naming.Record
	scratchDir string
	gate       Gate
	logger     *slog.Logger
}

// NewItemProcessor creates a processor. A nil Gate disables pacing.
func NewItemProcessor(cfg ProcessorConfig) *ItemProcessor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	gate := cfg.Gate
	if gate == nil {
		gate = NewRateGate(0)
	}
	return &ItemProcessor{
		fetcher:    cfg.Fetcher,
		extractor:  cfg.Extractor,
		filter:     cfg.Filter,
		record:     cfg.Record,
		scratchDir: cfg.ScratchDir,
		gate:       gate,
		logger:     logger,
	}
}

// itemRun carries the mutable state of one Process call.
type itemRun struct {
	state  State
	result types.ItemResult
	logger *slog.Logger
}

func (r *itemRun) advance(to State) {
	if !r.state.CanTransition(to) {
		r.logger.Error("state machine violation", "error", &TransitionError{From: r.state, To: to})
	}
	r.logger.Debug("state transition", "from", r.state, "to", to)
	r.state = to
}

func (r *itemRun) fail(outcome types.OutcomeKind, err error) {
	r.advance(StateFailed)
	r.result.Outcome = outcome
	if err != nil {
		r.result.Reason = err.Error()
	}
}

func (r *itemRun) finish(outcome types.OutcomeKind) {
	r.advance(StateFinalized)
	r.result.Outcome = outcome
}

// Process handles one row and always returns exactly one result. Every error is
// converted into an outcome; the workspace is deleted before Process returns.
func (p *ItemProcessor) Process(ctx context.Context, row types.ManifestRow, onProgress fetch.ProgressFunc) types.ItemResult {
	start := time.Now()
	run := &itemRun{
		state:  StateStart,
		result: types.ItemResult{Row: row},
		logger: p.logger.With("row", row.Index+1, "label", row.Label),
	}

	p.process(ctx, run, onProgress)

	run.result.Duration = time.Since(start)
	return run.result
}

func (p *ItemProcessor) process(ctx context.Context, run *itemRun, onProgress fetch.ProgressFunc) {
	row := run.result.Row

	if err := row.Validate(); err != nil {
		run.fail(types.OutcomeSkippedInvalidRow, err)
		return
	}
	run.advance(StateValidated)

	if err := ctx.Err(); err != nil {
		run.fail(types.OutcomeCancelled, err)
		return
	}

	ws, err := NewWorkspace(p.scratchDir)
	if err != nil {
		run.fail(types.OutcomeIOError, err)
		return
	}
	defer func() { _ = ws.Release(run.logger) }()

	if err := p.gate.Wait(ctx); err != nil {
		run.fail(types.OutcomeCancelled, err)
		return
	}

	archivePath := ws.ArchivePath()
	n, err := p.fetcher.Fetch(ctx, row.SourceURL, archivePath, onProgress)
	run.result.BytesDownloaded = n
	if err != nil {
		switch {
		case ctx.Err() != nil:
			run.fail(types.OutcomeCancelled, err)
		case fetch.IsLocalIOError(err):
			run.fail(types.OutcomeIOError, err)
		default:
			run.fail(types.OutcomeDownloadFailed, err)
		}
		return
	}
	run.advance(StateDownloaded)

	if d, ok := p.extractor.(formatDetector); ok {
		if format, derr := d.Detect(archivePath); derr == nil {
			run.result.ArchiveFormat = format
		}
	}

	files, err := p.extractor.Extract(ctx, archivePath, ws.ExtractDir())
	if err != nil {
		var extractErr *archive.ExtractError
		switch {
		case ctx.Err() != nil:
			run.fail(types.OutcomeCancelled, err)
		case errors.As(err, &extractErr) && extractErr.Reason == archive.ReasonIOError:
			run.fail(types.OutcomeIOError, err)
		default:
			run.fail(types.OutcomeExtractFailed, err)
		}
		return
	}
	if err := os.Remove(archivePath); err != nil {
		run.fail(types.OutcomeIOError, err)
		return
	}
	run.advance(StateExtracted)

	kept := payload.Kept(p.filter.Classify(files))
	run.advance(StateFiltered)
	run.logger.Debug("classified extracted files", "files", len(files), "kept", len(kept))

	if len(kept) == 0 {
		run.finish(types.OutcomeNoPayloadFound)
		return
	}

	ext := p.filter.Extension()
	for i, k := range kept {
		placed, err := p.record.Place(row.Label, ext, i+1, k.SourcePath)
		if placed.Path != "" {
			run.result.Produced = append(run.result.Produced, types.ProducedFile{
				Path:        placed.Path,
				SourceEntry: filepath.Base(k.SourcePath),
				Size:        placed.Size,
				Checksum:    placed.Checksum,
			})
			run.logger.Info("payload placed", "path", placed.Path, "checksum", placed.Checksum, "size", placed.Size)
		}
		if err != nil {
			run.fail(types.OutcomeIOError, err)
			return
		}
	}
	run.finish(types.OutcomeSuccess)
}
