package naming

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Placement describes a payload moved into the output directory.
type Placement struct {
	Name     string
	Path     string
	Size     int64
	Checksum string
}

// Record is the live set of names in one output directory. Name resolution and
// the move that claims a name happen under the record's lock, so concurrent
// items with the same label never receive the same file name.
type Record struct {
	dir   string
	mu    sync.Mutex
	names map[string]struct{}
}

// OpenRecord creates dir if needed and seeds the record from its current entries.
func OpenRecord(dir string) (*Record, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read output dir: %w", err)
	}

	r := &Record{dir: abs, names: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		r.names[e.Name()] = struct{}{}
	}
	return r, nil
}

// Dir returns the absolute output directory.
func (r *Record) Dir() string {
	return r.dir
}

// ResolveName returns the first free name for label, starting the suffix scan at
// sequenceHint (values <= 1 start at the bare name). It does not reserve the name.
// An error means the output directory can no longer be inspected.
func (r *Record) ResolveName(label, ext string, sequenceHint int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(Sanitize(label), ext, sequenceHint)
}

// Place resolves a free name for label and moves srcPath there. The record only
// grows; a failed move leaves it unchanged.
func (r *Record) Place(label, ext string, sequenceHint int, srcPath string) (Placement, error) {
	r.mu.Lock()
	name, err := r.resolveLocked(Sanitize(label), ext, sequenceHint)
	if err != nil {
		r.mu.Unlock()
		return Placement{}, fmt.Errorf("place %s: %w", filepath.Base(srcPath), err)
	}
	dest := filepath.Join(r.dir, name)
	err = MoveFile(srcPath, dest)
	if err == nil {
		r.names[name] = struct{}{}
	}
	r.mu.Unlock()

	if err != nil {
		return Placement{}, fmt.Errorf("place %s as %s: %w", filepath.Base(srcPath), name, err)
	}

	p := Placement{Name: name, Path: dest}
	if info, statErr := os.Stat(dest); statErr == nil {
		p.Size = info.Size()
	}
	sum, err := Checksum(dest)
	if err != nil {
		return p, fmt.Errorf("checksum %s: %w", name, err)
	}
	p.Checksum = sum
	return p, nil
}

func (r *Record) resolveLocked(base, ext string, hint int) (string, error) {
	for n := max(hint, 1); ; n++ {
		name := FileName(base, ext, n)
		if _, taken := r.names[name]; taken {
			continue
		}
		exists, err := r.existsOnDisk(name)
		if err != nil {
			return "", err
		}
		if !exists {
			return name, nil
		}
	}
}

// existsOnDisk catches files written by another process since the record was
// seeded. Any error other than not-exist is returned so the scan stops.
func (r *Record) existsOnDisk(name string) (bool, error) {
	_, err := os.Lstat(filepath.Join(r.dir, name))
	switch {
	case err == nil:
		r.names[name] = struct{}{}
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("inspect output dir: %w", err)
	}
}

// Registry hands out one Record per output directory, so batches sharing a
// directory in one process also share its lock.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Record returns the shared record for dir, opening it on first use.
func (g *Registry) Record(dir string) (*Record, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.records[abs]; ok {
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
		return r, nil
	}
	r, err := OpenRecord(abs)
	if err != nil {
		return nil, err
	}
	g.records[abs] = r
	return r, nil
}
