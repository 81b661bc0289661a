package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/firmware-harvester/internal/analysis"
	"github.com/jonathan/firmware-harvester/internal/config"
	"github.com/jonathan/firmware-harvester/internal/db"
	"github.com/jonathan/firmware-harvester/internal/observability"
)

var analyzeCommand = &cobra.Command{
	Use:   "analyze",
	Short: "Run binwalk over the payloads in the output directory",
	Long: `Runs a binwalk signature scan and a recursive extraction on every payload with
the target extension in --out, and writes <name>_analysis.json to --report-dir.

A failing payload is reported and never retried.`,
	RunE: runAnalyzeCmd,
}

var analyzeFlags cliFlags

func init() {
	bindAnalyzeFlags(analyzeCommand)
	rootCmd.AddCommand(analyzeCommand)
}

func bindAnalyzeFlags(cmd *cobra.Command) {
	analyzeFlags = cliFlags{}
	addCommonFlags(cmd, &analyzeFlags)
	addOutputFlag(cmd, &analyzeFlags)
	addAnalysisFlags(cmd, &analyzeFlags)
	cmd.Flags().StringVarP(&analyzeFlags.targetExtension, "ext", "e", "", "Payload file extension to analyse (default .bin)")
}

func runAnalyzeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := analyzeFlags.resolve(cmd)
	if err != nil {
		return err
	}

	logger, closeLog, err := openLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	payloads, err := analysis.FindPayloads(cfg.OutputDir, cfg.NormalizedExtension())
	if err != nil {
		return err
	}
	if len(payloads) == 0 {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "No %s payloads found in %s\n", cfg.NormalizedExtension(), cfg.OutputDir)
		return nil
	}

	results := analyzePayloads(commandContext(cmd), cfg, analyzeFlags.skipExtract, payloads, nil, logger)
	observability.NewPrinter(cmd.OutOrStdout()).PrintAnalysisResults(results)
	return nil
}

// analyzePayloads runs binwalk over payloads and, when a database is
// configured, records each outcome against runID.
func analyzePayloads(ctx context.Context, cfg config.Config, skipExtract bool, payloads []string, runID *uuid.UUID, logger *slog.Logger) []analysis.Result {
	analyzer := analysis.NewBinwalkAnalyzer(analysis.Options{
		BinwalkPath:    cfg.BinwalkPath,
		ReportDir:      cfg.ReportDir,
		ScanTimeout:    analysis.DefaultScanTimeout,
		ExtractTimeout: analysis.DefaultExtractTimeout,
		SkipExtraction: skipExtract,
	}, nil, logger)
	results := analyzer.AnalyzeAll(ctx, payloads)

	records := make([]db.AnalysisRecord, 0, len(results))
	for _, r := range results {
		rec := db.AnalysisRecord{
			RunID:       runID,
			PayloadPath: r.PayloadPath,
			Kind:        db.AnalysisKindBinwalk,
			Status:      db.AnalysisStatusCompleted,
			ReportPath:  r.ReportPath,
		}
		switch {
		case r.Err != nil:
			rec.Status = db.AnalysisStatusFailed
			rec.Error = r.Err.Error()
		case r.Report != nil:
			rec.Status = r.Report.Status
			rec.Error = r.Report.Error
		}
		records = append(records, rec)
	}
	recordAnalyses(ctx, cfg.DatabaseURL, records, logger)
	return results
}

// recordAnalyses stores records when databaseURL is set. Failures are logged
// and never affect the command's result.
func recordAnalyses(ctx context.Context, databaseURL string, records []db.AnalysisRecord, logger *slog.Logger) {
	if databaseURL == "" || len(records) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	database, err := db.Connect(ctx, databaseURL)
	if err != nil {
		logger.Warn("failed to connect to database, analysis results not recorded", "error", err)
		return
	}
	defer database.Close()

	for _, rec := range records {
		if err := database.RecordAnalysis(ctx, rec); err != nil {
			logger.Warn("failed to record analysis", "payload", rec.PayloadPath, "kind", rec.Kind, "error", err)
		}
	}
}
