package schemas

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validReport = `{
	"firmware_name": "Archer_C50_V3",
	"payload_path": "/out/Archer_C50_V3.bin",
	"size_bytes": 4096,
	"checksum": "0123456789abcdef",
	"analysis_timestamp": "2026-01-02T15:04:05Z",
	"analysis_method": "command",
	"status": "completed",
	"signature_scan": {"command": "binwalk /out/Archer_C50_V3.bin", "stdout": "0 0x0 uImage header", "return_code": 0, "duration_ms": 120},
	"extraction": {"command": "binwalk --extract", "return_code": 0},
	"extracted_structure": {
		"extraction_success": true,
		"squashfs_found": true,
		"filesystem_structure": ["bin", "etc"],
		"file_counts": {"executables": 3}
	}
}`

func TestAnalysisReportSchema_IsValidJSON(t *testing.T) {
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(AnalysisReportSchema()), &v))
	assert.Equal(t, "AnalysisReport", v["title"])
}

func TestValidateReportJSON_Valid(t *testing.T) {
	assert.NoError(t, ValidateReportJSON([]byte(validReport)))
}

func TestValidateReportJSON_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m map[string]any)
		field  string
	}{
		{"missing scan", func(m map[string]any) { delete(m, "signature_scan") }, "(root)"},
		{"unknown status", func(m map[string]any) { m["status"] = "maybe" }, "status"},
		{"negative size", func(m map[string]any) { m["size_bytes"] = -1 }, "size_bytes"},
		{"bad checksum", func(m map[string]any) { m["checksum"] = "XYZ" }, "checksum"},
		{"scan without command", func(m map[string]any) {
			m["signature_scan"] = map[string]any{"return_code": 1}
		}, "signature_scan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m map[string]any
			require.NoError(t, json.Unmarshal([]byte(validReport), &m))
			tt.mutate(m)
			data, err := json.Marshal(m)
			require.NoError(t, err)

			err = ValidateReportJSON(data)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.NotEmpty(t, verr.Errors)
			assert.Contains(t, verr.Errors[0].Field, tt.field)
		})
	}
}

func TestValidateReportJSON_Malformed(t *testing.T) {
	err := ValidateReportJSON([]byte(`{not json`))
	var loadErr *SchemaLoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestValidateReportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, os.WriteFile(path, []byte(validReport), 0o644))
	assert.NoError(t, ValidateReportFile(path))

	err := ValidateReportFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "failed to read report")
}

func TestValidateJSON_Files(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.json")
	goodPath := filepath.Join(dir, "good.json")
	badPath := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(schemaPath, []byte(`{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`), 0o644))
	require.NoError(t, os.WriteFile(goodPath, []byte(`{"name":"router"}`), 0o644))
	require.NoError(t, os.WriteFile(badPath, []byte(`{"name":7}`), 0o644))

	assert.NoError(t, ValidateJSON(schemaPath, goodPath))

	err := ValidateJSON(schemaPath, badPath)
	validationErr, ok := err.(*ValidationError)
	require.True(t, ok, "error should be ValidationError type")
	assert.Equal(t, "name", validationErr.Errors[0].Field)

	err = ValidateJSON(filepath.Join(dir, "nope.json"), goodPath)
	assert.ErrorContains(t, err, "not found")
	err = ValidateJSON(schemaPath, filepath.Join(dir, "nope.json"))
	assert.ErrorContains(t, err, "not found")
}

func TestValidateJSONString(t *testing.T) {
	schema := `{"type":"array","items":{"type":"integer"}}`
	assert.NoError(t, ValidateJSONString(schema, `[1,2,3]`))
	assert.Error(t, ValidateJSONString(schema, `[1,"two"]`))
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Errors: []FieldError{
		{Field: "status", Message: "must be one of the following"},
		{Field: "(root)", Message: "signature_scan is required"},
	}}
	msg := err.Error()
	assert.Contains(t, msg, "validation failed")
	assert.Contains(t, msg, "1. status")
	assert.Contains(t, msg, "2. (root)")
}
