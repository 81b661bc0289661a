package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
)

var gzipMagic = []byte{0x1f, 0x8b}

const (
	tarMagicOffset = 257
	tarMagic       = "ustar"
)

// TarUnpacker handles tar archives, optionally gzip-compressed.
type TarUnpacker struct {
	Gzip bool
}

// Name implements Unpacker.
func (t TarUnpacker) Name() string {
	if t.Gzip {
		return "tar.gz"
	}
	return "tar"
}

// Detect implements Unpacker.
func (t TarUnpacker) Detect(header []byte) bool {
	if t.Gzip {
		return bytes.HasPrefix(header, gzipMagic)
	}
	end := tarMagicOffset + len(tarMagic)
	return len(header) >= end && string(header[tarMagicOffset:end]) == tarMagic
}

// Unpack implements Unpacker. Tar is a stream, so the archive is read twice:
// once to validate every entry name, once to write.
func (t TarUnpacker) Unpack(ctx context.Context, archivePath, destDir string) error {
	if err := t.walk(archivePath, func(hdr *tar.Header, _ io.Reader) error {
		_, err := safeJoin(destDir, hdr.Name)
		return err
	}); err != nil {
		return err
	}

	return t.walk(archivePath, func(hdr *tar.Header, r io.Reader) error {
		if err := ctx.Err(); err != nil {
			return ioFailure(hdr.Name, "extraction cancelled", err)
		}
		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return layoutFailure(hdr.Name, "failed to create directory", err)
			}
		case tar.TypeReg:
			return writeEntry(hdr.Name, target, r, hdr.FileInfo().Mode().Perm())
		}
		// Links, devices and FIFOs are never materialised.
		return nil
	})
}

func (t TarUnpacker) walk(archivePath string, visit func(*tar.Header, io.Reader) error) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return ioFailure("", "failed to open archive", err)
	}
	defer func() { _ = f.Close() }()

	var src io.Reader = f
	if t.Gzip {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return corrupted("", "invalid gzip stream", err)
		}
		defer func() { _ = gz.Close() }()
		src = gz
	}

	tr := tar.NewReader(src)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return &ExtractError{Reason: ReasonPathTraversal, Entry: hdr.Name, Message: "entry escapes destination", Cause: err}
		}
		if err != nil {
			return corrupted("", "failed to read tar header", err)
		}
		if err := visit(hdr, tr); err != nil {
			return err
		}
	}
}
