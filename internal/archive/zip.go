package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
)

var zipMagics = [][]byte{
	[]byte("PK\x03\x04"),
	[]byte("PK\x05\x06"), // empty archive
	[]byte("PK\x07\x08"), // spanned archive
}

// ZipUnpacker handles zip archives.
type ZipUnpacker struct{}

// Name implements Unpacker.
func (ZipUnpacker) Name() string { return "zip" }

// Detect implements Unpacker.
func (ZipUnpacker) Detect(header []byte) bool {
	for _, magic := range zipMagics {
		if bytes.HasPrefix(header, magic) {
			return true
		}
	}
	return false
}

// Unpack implements Unpacker. All entry names are validated before the first
// file is written.
func (ZipUnpacker) Unpack(ctx context.Context, archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	// ErrInsecurePath still yields a usable reader; names are checked below.
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return corrupted("", "invalid zip archive", err)
	}
	defer func() { _ = r.Close() }()

	targets := make([]string, len(r.File))
	for i, f := range r.File {
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}
		targets[i] = target
	}

	for i, f := range r.File {
		if err := ctx.Err(); err != nil {
			return ioFailure(f.Name, "extraction cancelled", err)
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(targets[i], 0o755); err != nil {
				return layoutFailure(f.Name, "failed to create directory", err)
			}
		case mode.IsRegular():
			if err := writeZipEntry(f, targets[i]); err != nil {
				return err
			}
		default:
			// Symlinks and special files are never materialised.
			continue
		}
	}
	return nil
}

func writeZipEntry(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return corrupted(f.Name, "failed to open entry", err)
	}
	defer func() { _ = src.Close() }()

	return writeEntry(f.Name, target, src, f.Mode().Perm())
}

// writeEntry copies one entry to target. Read failures mean the archive is
// damaged; write failures are local I/O problems.
func writeEntry(name, target string, src io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return layoutFailure(name, "failed to create parent directory", err)
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o600)
	if err != nil {
		return layoutFailure(name, "failed to create file", err)
	}

	_, copyErr := io.Copy(&entryWriter{w: out}, src)
	closeErr := out.Close()

	if copyErr != nil {
		var werr *entryWriteError
		if errors.As(copyErr, &werr) {
			return ioFailure(name, "failed to write file", werr.err)
		}
		return corrupted(name, "failed to read entry", copyErr)
	}
	if closeErr != nil {
		return ioFailure(name, "failed to close file", closeErr)
	}
	return nil
}

type entryWriteError struct{ err error }

func (e *entryWriteError) Error() string { return e.err.Error() }

// entryWriter tags write-side errors so io.Copy failures can be attributed.
type entryWriter struct{ w io.Writer }

func (e *entryWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil {
		return n, &entryWriteError{err: err}
	}
	return n, nil
}
