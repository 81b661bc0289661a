package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jonathan/firmware-harvester/internal/config"
	"github.com/jonathan/firmware-harvester/internal/observability"
)

// reportSubdir holds analysis reports when no report_dir is configured.
const reportSubdir = "analysis"

// cliFlags holds the flag values shared by the subcommands. Each command
// registers only the groups it needs.
type cliFlags struct {
	configPath string
	verbose    bool
	logFile    string
	dbURL      string

	manifest         string
	outputDir        string
	scratchDir       string
	timeoutSeconds   int
	maxRetries       int
	pacingDelayMS    int
	concurrency      int
	userAgent        string
	landingPages     bool
	minFreeMB        int
	targetExtension  string
	requireSignature bool

	reportDir   string
	binwalkPath string
	skipExtract bool

	apiKey string
	model  string
}

func addCommonFlags(cmd *cobra.Command, f *cliFlags) {
	// Config file flag (processed first)
	cmd.Flags().StringVar(&f.configPath, "config", "", "Path to config.json file (values can be overridden by other flags)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Print detailed debug information")
	cmd.Flags().StringVar(&f.logFile, "log-file", "", "Append JSON logs to this file")
	cmd.Flags().StringVar(&f.dbURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")
}

func addOutputFlag(cmd *cobra.Command, f *cliFlags) {
	cmd.Flags().StringVarP(&f.outputDir, "out", "o", "", "Directory for renamed payloads (default \"firmware\")")
}

func addHarvestFlags(cmd *cobra.Command, f *cliFlags) {
	cmd.Flags().StringVarP(&f.manifest, "manifest", "m", "", "Path to CSV or XLSX manifest")
	cmd.Flags().StringVar(&f.scratchDir, "scratch", "", "Root for per-item scratch workspaces (default <out>/.scratch)")
	cmd.Flags().IntVar(&f.timeoutSeconds, "timeout", 0, "Abort a download attempt after this many idle seconds (default 30)")
	cmd.Flags().IntVar(&f.maxRetries, "retries", 0, "Retries after a transient download failure (default 3)")
	cmd.Flags().IntVar(&f.pacingDelayMS, "pacing-ms", 0, "Minimum milliseconds between download starts (default 1000)")
	cmd.Flags().IntVarP(&f.concurrency, "concurrency", "c", 0, "Rows processed in parallel (default 1)")
	cmd.Flags().StringVar(&f.userAgent, "user-agent", "", "User-Agent header sent with downloads")
	cmd.Flags().BoolVar(&f.landingPages, "resolve-landing-pages", true, "Follow the first archive link of an HTML response")
	cmd.Flags().IntVar(&f.minFreeMB, "min-free-mb", 0, "Warn when the output filesystem has less free space (default 256)")
	cmd.Flags().StringVarP(&f.targetExtension, "ext", "e", "", "Payload file extension to keep (default .bin)")
	cmd.Flags().BoolVar(&f.requireSignature, "require-signature", false, "Keep only payloads with a known firmware signature")
}

func addAnalysisFlags(cmd *cobra.Command, f *cliFlags) {
	cmd.Flags().StringVar(&f.reportDir, "report-dir", "", "Directory for analysis reports and reviews (default <out>/analysis)")
	cmd.Flags().StringVar(&f.binwalkPath, "binwalk", "", "Path to the binwalk executable (default \"binwalk\")")
	cmd.Flags().BoolVar(&f.skipExtract, "skip-extract", false, "Run only the binwalk signature scan")
}

func addReviewFlags(cmd *cobra.Command, f *cliFlags) {
	// API key can be passed as a flag, or read from env var GEMINI_API_KEY
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "Gemini API Key (optional, defaults to GEMINI_API_KEY env var)")
	cmd.Flags().StringVar(&f.model, "model", "", "Review model (optional, defaults to REVIEW_MODEL env var or the advanced tier model)")
}

// resolve builds the effective configuration: config file, then HARVEST_*
// environment, then explicitly set flags, then defaults.
func (f *cliFlags) resolve(cmd *cobra.Command) (config.Config, error) {
	// Step 1: Load config file if provided
	var cfg config.Config
	if f.configPath != "" {
		loaded, err := config.LoadConfig(f.configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	}

	// Step 2: Environment overrides
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return config.Config{}, err
	}

	// Step 3: Apply CLI overrides (command-line args take priority)
	// Only override if the flag was explicitly set
	flags := cmd.Flags()
	if flags.Changed("verbose") {
		cfg.Verbose = f.verbose
	}
	if flags.Changed("log-file") {
		cfg.LogFile = f.logFile
	}
	if flags.Changed("db-url") {
		cfg.DatabaseURL = f.dbURL
	}
	if flags.Changed("manifest") {
		cfg.Manifest = f.manifest
	}
	if flags.Changed("out") {
		cfg.OutputDir = f.outputDir
	}
	if flags.Changed("scratch") {
		cfg.ScratchDir = f.scratchDir
	}
	if flags.Changed("timeout") {
		cfg.TimeoutSeconds = f.timeoutSeconds
	}
	if flags.Changed("retries") {
		cfg.MaxRetries = config.IntPtr(f.maxRetries)
	}
	if flags.Changed("pacing-ms") {
		cfg.PacingDelayMS = config.IntPtr(f.pacingDelayMS)
	}
	if flags.Changed("concurrency") {
		cfg.ConcurrencyLimit = f.concurrency
	}
	if flags.Changed("user-agent") {
		cfg.UserAgent = f.userAgent
	}
	if flags.Changed("resolve-landing-pages") {
		cfg.ResolveLandingPages = config.BoolPtr(f.landingPages)
	}
	if flags.Changed("min-free-mb") {
		cfg.MinFreeMB = config.IntPtr(f.minFreeMB)
	}
	if flags.Changed("ext") {
		cfg.TargetExtension = f.targetExtension
	}
	if flags.Changed("require-signature") {
		cfg.RequireSignature = f.requireSignature
	}
	if flags.Changed("report-dir") {
		cfg.ReportDir = f.reportDir
	}
	if flags.Changed("binwalk") {
		cfg.BinwalkPath = f.binwalkPath
	}
	if flags.Changed("api-key") {
		cfg.APIKey = f.apiKey
	}
	if flags.Changed("model") {
		cfg.Model = f.model
	}

	// Step 4: Apply defaults for unset values
	cfg = cfg.MergeWithDefaults(config.Defaults())
	if cfg.ReportDir == "" {
		cfg.ReportDir = filepath.Join(cfg.OutputDir, reportSubdir)
	}

	// Step 5: Validate
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openLogger builds the process logger for cfg. The returned function closes
// the log file, if any.
func openLogger(cfg config.Config, console io.Writer) (*slog.Logger, func() error, error) {
	return observability.NewLogger(observability.LogOptions{
		Verbose: cfg.Verbose,
		LogFile: cfg.LogFile,
		Console: console,
	})
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
