// Package archive unpacks downloaded firmware archives into a scratch directory.
//
// The container format is detected from the file's leading bytes and dispatched
// to a registered Unpacker; zip, tar and gzip-compressed tar are built in.
// Every entry path is checked against the destination directory before anything
// is written, so a crafted archive fails as a whole instead of escaping it.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// headerSize is enough to see the tar "ustar" magic at offset 257.
const headerSize = 512

// Unpacker handles one container format.
type Unpacker interface {
	// Name identifies the format in logs, e.g. "zip".
	Name() string
	// Detect reports whether header (up to 512 leading bytes) belongs to this format.
	Detect(header []byte) bool
	// Unpack writes the archive's regular files below destDir. It must return an
	// *ExtractError and must not write anything when any entry escapes destDir.
	Unpack(ctx context.Context, archivePath, destDir string) error
}

// Extractor detects an archive's format and unpacks it.
type Extractor struct {
	unpackers []Unpacker
	logger    *slog.Logger
}

// NewExtractor returns an extractor with the zip, tar.gz and tar unpackers registered.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Extractor{logger: logger}
	e.Register(ZipUnpacker{})
	e.Register(TarUnpacker{Gzip: true})
	e.Register(TarUnpacker{})
	return e
}

// Register adds an unpacker. Unpackers are tried in registration order.
func (e *Extractor) Register(u Unpacker) {
	e.unpackers = append(e.unpackers, u)
}

// Extract unpacks archivePath into destDir and returns the absolute paths of
// every regular file produced, in lexical order.
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir string) ([]string, error) {
	header, err := readHeader(archivePath)
	if err != nil {
		return nil, &ExtractError{Reason: ReasonIOError, Archive: archivePath, Message: "failed to read archive header", Cause: err}
	}

	u := e.detect(header)
	if u == nil {
		return nil, &ExtractError{Reason: ReasonNotAnArchive, Archive: archivePath, Message: "unrecognised container format"}
	}

	absDest, err := filepath.Abs(destDir)
	if err != nil {
		return nil, &ExtractError{Reason: ReasonIOError, Archive: archivePath, Message: "failed to resolve destination", Cause: err}
	}
	if err := os.MkdirAll(absDest, 0o755); err != nil {
		return nil, &ExtractError{Reason: ReasonIOError, Archive: archivePath, Message: "failed to create destination", Cause: err}
	}

	e.logger.Debug("extracting archive", "archive", archivePath, "format", u.Name())
	if err := u.Unpack(ctx, archivePath, absDest); err != nil {
		var extractErr *ExtractError
		if errors.As(err, &extractErr) {
			if extractErr.Archive == "" {
				extractErr.Archive = archivePath
			}
			return nil, extractErr
		}
		return nil, &ExtractError{Reason: ReasonIOError, Archive: archivePath, Message: "unpack failed", Cause: err}
	}

	files, err := regularFiles(absDest)
	if err != nil {
		return nil, &ExtractError{Reason: ReasonIOError, Archive: archivePath, Message: "failed to list extracted files", Cause: err}
	}
	return files, nil
}

// Detect returns the name of the format that would handle archivePath, or ""
// when no registered unpacker recognises it.
func (e *Extractor) Detect(archivePath string) (string, error) {
	header, err := readHeader(archivePath)
	if err != nil {
		return "", err
	}
	if u := e.detect(header); u != nil {
		return u.Name(), nil
	}
	return "", nil
}

func (e *Extractor) detect(header []byte) Unpacker {
	for _, u := range e.unpackers {
		if u.Detect(header) {
			return u
		}
	}
	return nil
}

func readHeader(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, headerSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

func regularFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}
