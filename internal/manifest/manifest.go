// Package manifest reads the label/URL table that drives a harvest batch.
package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/jonathan/firmware-harvester/internal/types"
)

const byteOrderMark = "\ufeff"

var (
	labelHeaders = []string{"label", "keyword", "name", "model"}
	urlHeaders   = []string{"sourceurl", "source_url", "source url", "url", "download link", "download_link", "link"}
)

// Columns identifies which column of the table holds each field.
type Columns struct {
	Label     int
	SourceURL int
	// FromHeader is false when the positional fallback was used.
	FromHeader bool
}

// Read loads a manifest from path. The format is chosen by extension: .xlsx
// and .xlsm are read as spreadsheets, everything else as CSV. The first row is
// always a header.
func Read(path string) ([]types.ManifestRow, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(path, "")
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, &ParseError{Path: path, Message: "failed to open manifest", Cause: err}
		}
		defer func() { _ = f.Close() }()
		rows, err := ReadCSV(f)
		if err != nil {
			return nil, withPath(err, path)
		}
		return rows, nil
	}
}

// ReadCSV parses a CSV manifest. Rows may have differing field counts.
func ReadCSV(r io.Reader) ([]types.ManifestRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, &ParseError{Message: "malformed CSV", Cause: err}
	}
	return FromTable(records)
}

// ReadXLSX parses a spreadsheet manifest. An empty sheet name selects the
// first sheet.
func ReadXLSX(path, sheet string) ([]types.ManifestRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Message: "failed to open workbook", Cause: err}
	}
	defer func() { _ = f.Close() }()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, &ParseError{Path: path, Message: "workbook has no sheets"}
		}
		sheet = sheets[0]
	}

	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, &ParseError{Path: path, Message: fmt.Sprintf("failed to read sheet %q", sheet), Cause: err}
	}
	rows, err := FromTable(records)
	if err != nil {
		return nil, withPath(err, path)
	}
	return rows, nil
}

// withPath records path on a *ParseError that was raised without one.
func withPath(err error, path string) error {
	var pe *ParseError
	if errors.As(err, &pe) && pe.Path == "" {
		pe.Path = path
	}
	return err
}

// FromTable converts a header row plus data rows into manifest rows. Rows are
// not validated here; invalid rows are reported by the pipeline.
func FromTable(records [][]string) ([]types.ManifestRow, error) {
	if len(records) == 0 {
		return nil, &ParseError{Message: "manifest is empty"}
	}

	cols, err := DetectColumns(records[0])
	if err != nil {
		return nil, err
	}

	rows := make([]types.ManifestRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		rows = append(rows, types.ManifestRow{
			Index:     i,
			Label:     cell(rec, cols.Label),
			SourceURL: cell(rec, cols.SourceURL),
		})
	}
	return rows, nil
}

// DetectColumns finds the label and URL columns by header name, falling back to
// position: the first column is the label and the URL is the third column when
// there are at least three, otherwise the second. A UTF-8 byte order mark, as
// written by spreadsheet CSV exports, is ignored.
func DetectColumns(header []string) (Columns, error) {
	label, url := -1, -1
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, byteOrderMark)))
		if label < 0 && contains(labelHeaders, name) {
			label = i
		}
		if url < 0 && contains(urlHeaders, name) {
			url = i
		}
	}
	if label >= 0 && url >= 0 && label != url {
		return Columns{Label: label, SourceURL: url, FromHeader: true}, nil
	}

	switch {
	case len(header) >= 3:
		return Columns{Label: 0, SourceURL: 2}, nil
	case len(header) == 2:
		return Columns{Label: 0, SourceURL: 1}, nil
	default:
		return Columns{}, &ParseError{Message: fmt.Sprintf("manifest needs at least two columns, found %d", len(header))}
	}
}

// cell returns the trimmed value at i, treating spreadsheet NaN placeholders as empty.
func cell(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	v := strings.TrimSpace(rec[i])
	if strings.EqualFold(v, "nan") {
		return ""
	}
	return v
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
