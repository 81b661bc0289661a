// Package payload decides which extracted files are firmware payloads worth keeping.
package payload

import (
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultExtension is the payload extension kept when none is configured.
const DefaultExtension = ".bin"

// Classification is the keep/discard verdict for one file.
type Classification string

const (
	Keep    Classification = "keep"
	Discard Classification = "discard"
)

// PayloadFile is one classified file from an extracted archive.
type PayloadFile struct {
	SourcePath     string
	Classification Classification
}

// Filter classifies extracted files by extension and, optionally, by a known
// firmware signature in the file's leading bytes. It never modifies the files.
type Filter struct {
	extension        string
	requireSignature bool
	signatures       []Signature
}

// NewFilter returns a filter keeping files with the given extension. When
// requireSignature is set, a kept file must also carry a known firmware signature.
func NewFilter(extension string, requireSignature bool) *Filter {
	return &Filter{
		extension:        NormalizeExtension(extension),
		requireSignature: requireSignature,
		signatures:       FirmwareSignatures,
	}
}

// Extension returns the normalised target extension.
func (f *Filter) Extension() string {
	return f.extension
}

// Classify returns one PayloadFile per input path, in input order.
func (f *Filter) Classify(files []string) []PayloadFile {
	out := make([]PayloadFile, 0, len(files))
	for _, path := range files {
		out = append(out, PayloadFile{SourcePath: path, Classification: f.classify(path)})
	}
	return out
}

// Kept returns only the Keep entries of classified.
func Kept(classified []PayloadFile) []PayloadFile {
	var kept []PayloadFile
	for _, p := range classified {
		if p.Classification == Keep {
			kept = append(kept, p)
		}
	}
	return kept
}

func (f *Filter) classify(path string) Classification {
	if !f.MatchesExtension(path) {
		return Discard
	}

	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return Discard
	}

	if f.requireSignature && !f.hasSignature(path) {
		return Discard
	}
	return Keep
}

// MatchesExtension reports whether name ends in the target extension, ignoring case.
func (f *Filter) MatchesExtension(name string) bool {
	ext := filepath.Ext(name)
	return ext != "" && strings.EqualFold(ext, f.extension)
}

func (f *Filter) hasSignature(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = file.Close() }()

	head := make([]byte, SignatureWindow)
	n, err := io.ReadFull(file, head)
	if err != nil && n == 0 {
		return false
	}
	_, ok := MatchSignature(head[:n], f.signatures)
	return ok
}

// NormalizeExtension lower-cases ext and ensures a leading dot. An empty value
// yields DefaultExtension.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
