package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/firmware-harvester/internal/observability"
	"github.com/jonathan/firmware-harvester/internal/pipeline/steps"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Harvest a manifest, then analyse and review the new payloads",
	Long: `Orchestrates the whole process: fetch -> analyze -> review.

Analysis and review only see the payloads produced by this batch. Use --stages to
drop trailing stages; a stage cannot run without the stages it depends on.

Configuration can be loaded from a JSON file using --config. Command-line arguments override config file values.`,
	RunE: runPipelineCmd,
}

var (
	runFlags  cliFlags
	runStages string
)

func init() {
	bindRunFlags(runCommand)
	rootCmd.AddCommand(runCommand)
}

func bindRunFlags(cmd *cobra.Command) {
	runFlags = cliFlags{}
	addCommonFlags(cmd, &runFlags)
	addOutputFlag(cmd, &runFlags)
	addHarvestFlags(cmd, &runFlags)
	addAnalysisFlags(cmd, &runFlags)
	addReviewFlags(cmd, &runFlags)
	cmd.Flags().StringVar(&runStages, "stages", strings.Join(steps.AllStages(), ","), "Comma-separated stages to run")
}

func runPipelineCmd(cmd *cobra.Command, _ []string) error {
	// Step 1: Plan stages before touching anything
	stages, err := steps.Plan(steps.ParseStages(runStages))
	if err != nil {
		return err
	}
	planned := make(map[string]bool, len(stages))
	for _, s := range stages {
		planned[s] = true
	}

	// Step 2: Resolve configuration
	cfg, err := runFlags.resolve(cmd)
	if err != nil {
		return err
	}
	if cfg.Manifest == "" {
		return fmt.Errorf("--manifest must be provided (via flag or config)")
	}
	if planned[steps.StageReview] && cfg.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable or --api-key flag is required for the review stage")
	}

	logger, closeLog, err := openLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()
	printer := observability.NewPrinter(out)

	// Step 3: Fetch
	result, err := harvest(ctx, cfg, logger, out)
	if err != nil {
		return err
	}
	status := batchStatus(result.Summary)

	// Analyses only reference the run when its row exists.
	var runID *uuid.UUID
	if result.Persisted {
		id := result.RunID
		runID = &id
	}

	// Step 4: Analyze this batch's payloads
	if !planned[steps.StageAnalyze] || len(result.Summary.Produced) == 0 || ctx.Err() != nil {
		return status
	}
	analyses := analyzePayloads(ctx, cfg, runFlags.skipExtract, result.Summary.Produced, runID, logger)
	printer.PrintAnalysisResults(analyses)

	// Step 5: Review the reports that were written
	if !planned[steps.StageReview] || ctx.Err() != nil {
		return status
	}
	var reports []string
	for _, a := range analyses {
		if a.ReportPath != "" {
			reports = append(reports, a.ReportPath)
		}
	}
	if len(reports) == 0 {
		logger.Warn("no analysis reports to review")
		return status
	}
	reviews, err := reviewReports(ctx, cfg, reports, runID, logger)
	if err != nil {
		return err
	}
	printer.PrintReviewResults(reviews)

	return status
}
