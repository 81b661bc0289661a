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
	"github.com/jonathan/firmware-harvester/internal/llm"
	"github.com/jonathan/firmware-harvester/internal/observability"
	"github.com/jonathan/firmware-harvester/internal/review"
)

var reviewCommand = &cobra.Command{
	Use:   "review",
	Short: "Ask an LLM to review saved binwalk reports",
	Long: `Sends every <name>_analysis.json in --report-dir to the review model and writes
<name>_review.md next to it. Requires GEMINI_API_KEY or --api-key.

A failing review is reported and never retried.`,
	RunE: runReviewCmd,
}

var reviewFlags cliFlags

func init() {
	bindReviewFlags(reviewCommand)
	rootCmd.AddCommand(reviewCommand)
}

func bindReviewFlags(cmd *cobra.Command) {
	reviewFlags = cliFlags{}
	addCommonFlags(cmd, &reviewFlags)
	addOutputFlag(cmd, &reviewFlags)
	cmd.Flags().StringVar(&reviewFlags.reportDir, "report-dir", "", "Directory holding analysis reports (default <out>/analysis)")
	addReviewFlags(cmd, &reviewFlags)
}

func runReviewCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := reviewFlags.resolve(cmd)
	if err != nil {
		return err
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable or --api-key flag is required")
	}

	logger, closeLog, err := openLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	reports, err := analysis.FindReports(cfg.ReportDir)
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}
	if len(reports) == 0 {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "No analysis reports found in %s\n", cfg.ReportDir)
		return nil
	}

	ctx := commandContext(cmd)
	results, err := reviewReports(ctx, cfg, reports, nil, logger)
	if err != nil {
		return err
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintReviewResults(results)
	return nil
}

// newReviewClient builds the LLM client, overriding the advanced tier model
// when one is configured.
func newReviewClient(ctx context.Context, cfg config.Config) (llm.Client, error) {
	llmConfig := llm.DefaultConfig()
	if cfg.Model != "" {
		llmConfig = llmConfig.WithModel(llm.TierAdvanced, cfg.Model)
	}
	client, err := llm.NewClient(ctx, llmConfig, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return client, nil
}

// reviewReports reviews each report and records the outcomes when a database
// is configured.
func reviewReports(ctx context.Context, cfg config.Config, reports []string, runID *uuid.UUID, logger *slog.Logger) ([]review.Result, error) {
	client, err := newReviewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	results := review.NewReviewer(client, logger).ReviewAll(ctx, reports)

	records := make([]db.AnalysisRecord, 0, len(results))
	for _, r := range results {
		rec := db.AnalysisRecord{
			RunID:       runID,
			PayloadPath: r.ReportPath,
			Kind:        db.AnalysisKindReview,
			Status:      db.AnalysisStatusCompleted,
			ReportPath:  r.ReviewPath,
		}
		if r.Err != nil {
			rec.Status = db.AnalysisStatusFailed
			rec.Error = r.Err.Error()
		}
		records = append(records, rec)
	}
	recordAnalyses(ctx, cfg.DatabaseURL, records, logger)
	return results, nil
}
