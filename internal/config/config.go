// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/firmware-harvester/internal/payload"
)

// Defaults
const (
	DefaultTimeoutSeconds   = 30
	DefaultMaxRetries       = 3
	DefaultPacingDelayMS    = 1000
	DefaultConcurrencyLimit = 1
	DefaultTargetExtension  = payload.DefaultExtension
	DefaultBinwalkPath      = "binwalk"
	DefaultMinFreeMB        = 256
	DefaultOutputDir        = "firmware"
)

// Config represents the CLI configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults or must be provided via CLI flags.
//
// Pointer fields distinguish "unset" from an explicit zero, which is a valid
// value for retries and pacing.
type Config struct {
	// Paths
	Manifest   string `json:"manifest,omitempty"`    // CSV or XLSX manifest
	OutputDir  string `json:"output_dir,omitempty"`  // Destination for renamed payloads
	ScratchDir string `json:"scratch_dir,omitempty"` // Root for per-item workspaces
	ReportDir  string `json:"report_dir,omitempty"`  // Destination for analysis and review reports
	LogFile    string `json:"log_file,omitempty"`    // Optional JSON log sink

	// Download
	TimeoutSeconds      int    `json:"timeout_seconds,omitempty" validate:"gte=0,lte=3600"`
	MaxRetries          *int   `json:"max_retries,omitempty" validate:"omitempty,gte=0,lte=20"`
	PacingDelayMS       *int   `json:"pacing_delay_ms,omitempty" validate:"omitempty,gte=0"`
	ConcurrencyLimit    int    `json:"concurrency_limit,omitempty" validate:"gte=0,lte=64"`
	UserAgent           string `json:"user_agent,omitempty"`
	ResolveLandingPages *bool  `json:"resolve_landing_pages,omitempty"`
	MinFreeMB           *int   `json:"min_free_mb,omitempty" validate:"omitempty,gte=0"`

	// Filter
	TargetExtension  string `json:"target_extension,omitempty" validate:"omitempty,max=16"`
	RequireSignature bool   `json:"require_signature,omitempty"`

	// Analysis and review
	BinwalkPath string `json:"binwalk_path,omitempty"`
	APIKey      string `json:"api_key,omitempty"` // Gemini API key
	Model       string `json:"model,omitempty"`   // Review model name

	// Behavior
	Verbose     bool   `json:"verbose,omitempty"`      // Print detailed debug information
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL connection URL
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
// Note: This doesn't check for required fields since those are handled
// by CLI flag validation after merging.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config error: '%s' failed %s=%s", jsonName(fe.StructField()), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("config error: %w", err)
	}

	if c.TargetExtension != "" {
		if strings.ContainsAny(c.TargetExtension, `/\`) {
			return fmt.Errorf("config error: 'target_extension' must not contain path separators")
		}
		// Payloads are matched on their final extension only.
		bare := strings.TrimPrefix(strings.TrimSpace(c.TargetExtension), ".")
		if bare == "" || strings.Contains(bare, ".") {
			return fmt.Errorf("config error: 'target_extension' must be a single extension such as \"bin\", got %q", c.TargetExtension)
		}
	}

	if c.Manifest != "" {
		if _, err := os.Stat(c.Manifest); os.IsNotExist(err) {
			return fmt.Errorf("config error: manifest file not found: %s", c.Manifest)
		}
	}

	if c.OutputDir != "" && c.ScratchDir != "" && filepath.Clean(c.OutputDir) == filepath.Clean(c.ScratchDir) {
		return fmt.Errorf("config error: 'scratch_dir' must differ from 'output_dir'")
	}

	return nil
}

// MergeWithDefaults returns a new Config with unset fields filled from defaults.
// This is used to apply config file values as defaults for CLI flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.Manifest == "" {
		result.Manifest = defaults.Manifest
	}
	if result.OutputDir == "" {
		result.OutputDir = defaults.OutputDir
	}
	if result.ScratchDir == "" {
		result.ScratchDir = defaults.ScratchDir
	}
	if result.ReportDir == "" {
		result.ReportDir = defaults.ReportDir
	}
	if result.LogFile == "" {
		result.LogFile = defaults.LogFile
	}
	if result.UserAgent == "" {
		result.UserAgent = defaults.UserAgent
	}
	if result.TargetExtension == "" {
		result.TargetExtension = defaults.TargetExtension
	}
	if result.BinwalkPath == "" {
		result.BinwalkPath = defaults.BinwalkPath
	}
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.Model == "" {
		result.Model = defaults.Model
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}

	// Int fields: use default if zero
	if result.TimeoutSeconds == 0 {
		result.TimeoutSeconds = defaults.TimeoutSeconds
	}
	if result.ConcurrencyLimit == 0 {
		result.ConcurrencyLimit = defaults.ConcurrencyLimit
	}

	// Pointer fields: use default if unset
	if result.MaxRetries == nil {
		result.MaxRetries = defaults.MaxRetries
	}
	if result.PacingDelayMS == nil {
		result.PacingDelayMS = defaults.PacingDelayMS
	}
	if result.MinFreeMB == nil {
		result.MinFreeMB = defaults.MinFreeMB
	}
	if result.ResolveLandingPages == nil {
		result.ResolveLandingPages = defaults.ResolveLandingPages
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// Defaults returns the built-in configuration, with secrets and the database
// URL taken from the environment.
func Defaults() Config {
	return Config{
		OutputDir:           DefaultOutputDir,
		TimeoutSeconds:      DefaultTimeoutSeconds,
		MaxRetries:          IntPtr(DefaultMaxRetries),
		PacingDelayMS:       IntPtr(DefaultPacingDelayMS),
		ConcurrencyLimit:    DefaultConcurrencyLimit,
		TargetExtension:     DefaultTargetExtension,
		ResolveLandingPages: BoolPtr(true),
		MinFreeMB:           IntPtr(DefaultMinFreeMB),
		BinwalkPath:         DefaultBinwalkPath,
		APIKey:              os.Getenv("GEMINI_API_KEY"),
		Model:               os.Getenv("REVIEW_MODEL"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
	}
}

// ApplyEnv overrides download settings from HARVEST_* environment variables.
// A malformed numeric value is an error rather than silently ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	ints := []struct {
		key string
		set func(int)
	}{
		{"HARVEST_TIMEOUT_SECONDS", func(v int) { c.TimeoutSeconds = v }},
		{"HARVEST_MAX_RETRIES", func(v int) { c.MaxRetries = IntPtr(v) }},
		{"HARVEST_PACING_DELAY_MS", func(v int) { c.PacingDelayMS = IntPtr(v) }},
		{"HARVEST_CONCURRENCY_LIMIT", func(v int) { c.ConcurrencyLimit = v }},
	}
	for _, e := range ints {
		raw, ok := lookup(e.key)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("config error: %s must be an integer, got %q", e.key, raw)
		}
		e.set(v)
	}

	if ext, ok := lookup("HARVEST_TARGET_EXTENSION"); ok && strings.TrimSpace(ext) != "" {
		c.TargetExtension = strings.TrimSpace(ext)
	}
	return nil
}

// NormalizedExtension returns the target extension lower-cased with a leading dot.
func (c *Config) NormalizedExtension() string {
	return payload.NormalizeExtension(c.TargetExtension)
}

// Timeout returns the per-attempt download timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PacingDelay returns the minimum spacing between download starts.
func (c *Config) PacingDelay() time.Duration {
	if c.PacingDelayMS == nil {
		return 0
	}
	return time.Duration(*c.PacingDelayMS) * time.Millisecond
}

// Retries returns the configured retry count, zero when unset.
func (c *Config) Retries() int {
	if c.MaxRetries == nil {
		return 0
	}
	return *c.MaxRetries
}

// LandingPages reports whether HTML landing pages are followed.
func (c *Config) LandingPages() bool {
	return c.ResolveLandingPages == nil || *c.ResolveLandingPages
}

// MinFree returns the free-space warning threshold in MiB.
func (c *Config) MinFree() uint64 {
	if c.MinFreeMB == nil || *c.MinFreeMB < 0 {
		return 0
	}
	return uint64(*c.MinFreeMB)
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool { return &v }

func jsonName(field string) string {
	names := map[string]string{
		"TimeoutSeconds":   "timeout_seconds",
		"MaxRetries":       "max_retries",
		"PacingDelayMS":    "pacing_delay_ms",
		"ConcurrencyLimit": "concurrency_limit",
		"MinFreeMB":        "min_free_mb",
		"TargetExtension":  "target_extension",
	}
	if n, ok := names[field]; ok {
		return n
	}
	return field
}
