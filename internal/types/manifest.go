// Package types provides the records that flow through the firmware harvest pipeline.
package types

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ManifestRow is one label/URL entry read from the manifest.
// Index is the 0-based position of the row among the manifest's data rows.
type ManifestRow struct {
	Index     int    `json:"index"`
	Label     string `json:"label" validate:"required,max=256"`
	SourceURL string `json:"source_url" validate:"required,max=4096"`
}

// String returns a short human-readable form used in log lines.
func (r ManifestRow) String() string {
	return fmt.Sprintf("row %d (%s)", r.Index+1, r.Label)
}

// Validate reports whether the row carries a usable label and source URL.
// Blank strings and whitespace-only values fail the required check.
// URL well-formedness is left to the downloader, which reports it as a
// download failure.
func (r *ManifestRow) Validate() error {
	trimmed := ManifestRow{
		Index:     r.Index,
		Label:     strings.TrimSpace(r.Label),
		SourceURL: strings.TrimSpace(r.SourceURL),
	}
	validate := validator.New()
	if err := validate.Struct(trimmed); err != nil {
		return &InvalidRowError{Row: *r, Cause: err}
	}
	return nil
}

// InvalidRowError is returned when a manifest row fails validation.
type InvalidRowError struct {
	Row   ManifestRow
	Cause error
}

func (e *InvalidRowError) Error() string {
	var fields []string
	if verrs, ok := e.Cause.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	if len(fields) > 0 {
		return fmt.Sprintf("invalid manifest row %d: %s", e.Row.Index+1, strings.Join(fields, ", "))
	}
	return fmt.Sprintf("invalid manifest row %d: %v", e.Row.Index+1, e.Cause)
}

func (e *InvalidRowError) Unwrap() error {
	return e.Cause
}
