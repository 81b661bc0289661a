package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jonathan/firmware-harvester/internal/config"
	"github.com/jonathan/firmware-harvester/internal/fetch"
	"github.com/jonathan/firmware-harvester/internal/manifest"
	"github.com/jonathan/firmware-harvester/internal/observability"
	"github.com/jonathan/firmware-harvester/internal/pipeline"
)

var fetchCommand = &cobra.Command{
	Use:   "fetch",
	Short: "Download, extract and rename the firmware listed in a manifest",
	Long: `Processes every manifest row: download -> extract -> filter -> rename -> cleanup.

Each row ends in exactly one outcome. A failing row never stops the batch; the
command exits non-zero only when no row succeeded.

Configuration can be loaded from a JSON file using --config. Command-line arguments override config file values.`,
	RunE: runFetchCmd,
}

var fetchFlags cliFlags

func init() {
	bindFetchFlags(fetchCommand)
	rootCmd.AddCommand(fetchCommand)
}

func bindFetchFlags(cmd *cobra.Command) {
	fetchFlags = cliFlags{}
	addCommonFlags(cmd, &fetchFlags)
	addOutputFlag(cmd, &fetchFlags)
	addHarvestFlags(cmd, &fetchFlags)
}

func runFetchCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := fetchFlags.resolve(cmd)
	if err != nil {
		return err
	}
	if cfg.Manifest == "" {
		return fmt.Errorf("--manifest must be provided (via flag or config)")
	}

	logger, closeLog, err := openLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	result, err := harvest(commandContext(cmd), cfg, logger, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return batchStatus(result.Summary)
}

// harvest reads the manifest and runs one batch, printing progress and the
// summary to out.
func harvest(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer) (*pipeline.BatchResult, error) {
	rows, err := manifest.Read(cfg.Manifest)
	if err != nil {
		return nil, err
	}
	logger.Info("manifest loaded", "manifest", cfg.Manifest, "rows", len(rows))

	result, err := pipeline.RunHarvest(ctx, pipeline.RunOptions{
		ManifestPath:     cfg.Manifest,
		Rows:             rows,
		OutputDir:        cfg.OutputDir,
		ScratchDir:       cfg.ScratchDir,
		Download:         downloadOptions(cfg),
		TargetExtension:  cfg.NormalizedExtension(),
		RequireSignature: cfg.RequireSignature,
		PacingDelay:      cfg.PacingDelay(),
		ConcurrencyLimit: cfg.ConcurrencyLimit,
		MinFreeMB:        cfg.MinFree(),
		DatabaseURL:      cfg.DatabaseURL,
		Logger:           logger,
		OnProgress:       observability.NewProgressPrinter(out).Callback(),
	})
	if err != nil {
		return nil, err
	}

	observability.NewPrinter(out).PrintSummary(result.Summary)
	return result, nil
}

func downloadOptions(cfg config.Config) *fetch.Options {
	opts := fetch.DefaultOptions()
	opts.Timeout = cfg.Timeout()
	opts.MaxRetries = cfg.Retries()
	if cfg.UserAgent != "" {
		opts.UserAgent = cfg.UserAgent
	}
	opts.ResolveLandingPages = cfg.LandingPages()
	return opts
}

// batchStatus turns a batch with no successful row into an error so the
// process exits non-zero.
func batchStatus(s pipeline.Summary) error {
	if s.AllFailed() {
		return fmt.Errorf("no row succeeded (%d rows)", s.Total)
	}
	return nil
}
