package analysis

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jonathan/firmware-harvester/internal/schemas"
)

// ReportSuffix names saved reports: <firmware>_analysis.json.
const ReportSuffix = "_analysis.json"

var compressedSuffixes = []string{".squashfs", ".gz", ".7z", ".xz", ".lzma"}

// SaveReport validates report against the report schema and writes it to
// reportDir. It returns the written path.
func SaveReport(report *Report, reportDir string) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", &AnalysisError{Path: report.PayloadPath, Message: "failed to marshal report", Cause: err}
	}
	if err := schemas.ValidateReportJSON(data); err != nil {
		return "", &AnalysisError{Path: report.PayloadPath, Message: "report failed schema validation", Cause: err}
	}

	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return "", &AnalysisError{Path: report.PayloadPath, Message: "failed to create report directory", Cause: err}
	}
	path := filepath.Join(reportDir, report.FirmwareName+ReportSuffix)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", &AnalysisError{Path: report.PayloadPath, Message: "failed to write report", Cause: err}
	}
	return path, nil
}

// LoadReport reads and validates a saved report.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &AnalysisError{Path: path, Message: "failed to read report", Cause: err}
	}
	if err := schemas.ValidateReportJSON(data); err != nil {
		return nil, &AnalysisError{Path: path, Message: "report failed schema validation", Cause: err}
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, &AnalysisError{Path: path, Message: "failed to parse report", Cause: err}
	}
	return &report, nil
}

// FindReports lists saved reports in dir, sorted.
func FindReports(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+ReportSuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// InspectExtraction walks an extraction directory and summarises it: the top
// level of the first squashfs root found, file counts by kind, and nested
// compressed blobs.
func InspectExtraction(dir string) ExtractedStructure {
	s := ExtractedStructure{FileCounts: map[string]int{}}

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped.
			return nil
		}
		if path == dir {
			return nil
		}
		if d.IsDir() {
			s.FileCounts["directories"]++
			if d.Name() == "squashfs-root" && !s.SquashfsFound {
				s.SquashfsFound = true
				s.FilesystemStructure = topLevelDirs(path)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		s.ExtractionSuccess = true

		name := d.Name()
		ext := strings.ToLower(filepath.Ext(name))
		switch {
		case ext == ".so" || ext == ".a" || strings.Contains(name, ".so."):
			s.FileCounts["libraries"]++
		case ext == ".conf" || ext == ".cfg" || ext == ".ini" || ext == ".xml":
			s.FileCounts["configs"]++
		case isExecutable(d):
			s.FileCounts["executables"]++
		default:
			s.FileCounts["other"]++
		}
		for _, suffix := range compressedSuffixes {
			if ext == suffix {
				rel, _ := filepath.Rel(dir, path)
				s.CompressedFiles = append(s.CompressedFiles, filepath.ToSlash(rel))
				break
			}
		}
		return nil
	})

	if len(s.FileCounts) == 0 {
		s.FileCounts = nil
	}
	return s
}

func topLevelDirs(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs
}

func isExecutable(d fs.DirEntry) bool {
	info, err := d.Info()
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

// AnalysisError represents a failure to analyse one payload.
type AnalysisError struct {
	Path    string
	Message string
	Cause   error
}

func (e *AnalysisError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("analysis error: %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("analysis error: %s: %s", e.Path, e.Message)
}

func (e *AnalysisError) Unwrap() error {
	return e.Cause
}
