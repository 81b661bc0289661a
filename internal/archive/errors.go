package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// Reason classifies an extraction failure.
type Reason string

const (
	ReasonNotAnArchive  Reason = "not_an_archive"
	ReasonCorrupted     Reason = "corrupted"
	ReasonPathTraversal Reason = "path_traversal"
	ReasonIOError       Reason = "io_error"
)

// ExtractError represents a failed extraction. Extraction errors are never retried.
type ExtractError struct {
	Reason  Reason
	Archive string
	// Entry is the offending archive entry, when one is known.
	Entry   string
	Message string
	Cause   error
}

func (e *ExtractError) Error() string {
	msg := fmt.Sprintf("extract %s: %s", filepath.Base(e.Archive), e.Message)
	if e.Entry != "" {
		msg += fmt.Sprintf(" (entry %q)", e.Entry)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExtractError) Unwrap() error {
	return e.Cause
}

func corrupted(entry, message string, cause error) *ExtractError {
	return &ExtractError{Reason: ReasonCorrupted, Entry: entry, Message: message, Cause: cause}
}

func ioFailure(entry, message string, cause error) *ExtractError {
	return &ExtractError{Reason: ReasonIOError, Entry: entry, Message: message, Cause: cause}
}

// layoutFailure classifies an error from creating an entry's file or
// directory. Entries that collide with each other, such as a file "x" followed
// by "x/fw.bin", make the archive itself unusable.
func layoutFailure(entry, message string, cause error) *ExtractError {
	if errors.Is(cause, syscall.ENOTDIR) || errors.Is(cause, syscall.EISDIR) {
		return corrupted(entry, "conflicting entry layout", cause)
	}
	return ioFailure(entry, message, cause)
}

// safeJoin resolves an archive entry name below destDir. Both slash styles are
// treated as separators. Absolute names and names that climb out of destDir are
// rejected with ReasonPathTraversal.
func safeJoin(destDir, name string) (string, error) {
	normalized := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(normalized, "/") || filepath.VolumeName(normalized) != "" || hasDriveLetter(normalized) {
		return "", &ExtractError{Reason: ReasonPathTraversal, Entry: name, Message: "absolute entry path"}
	}

	target := filepath.Join(destDir, filepath.FromSlash(normalized))
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", &ExtractError{Reason: ReasonPathTraversal, Entry: name, Message: "entry escapes destination"}
	}
	return target, nil
}

func hasDriveLetter(p string) bool {
	return len(p) >= 2 && p[1] == ':' && ((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z'))
}
