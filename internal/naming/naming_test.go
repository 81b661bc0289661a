package naming

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSanitize pins the exact character rule for labels.
func TestSanitize(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{"Archer C50 V3", "Archer_C50_V3"},
		{"  Archer   C50\tV3  ", "Archer_C50_V3"},
		{"RT-AX88U/Pro", "RT-AX88U_Pro"},
		{`a\b`, "a_b"},
		{"fw_v1.2.3", "fw_v1_2_3"},
		{"Größe  1.0", "Gr__e_1_0"},
		{"../../etc/passwd", "______etc_passwd"},
		{"路由器", "___"},
		{"", "payload"},
		{"   ", "payload"},
		{"keep-dash_and_underscore", "keep-dash_and_underscore"},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.label))
		})
	}
}

func TestSanitize_Truncates(t *testing.T) {
	got := Sanitize(strings.Repeat("a", 300))
	assert.Len(t, got, MaxBaseLength)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "fw.bin", FileName("fw", ".bin", 0))
	assert.Equal(t, "fw.bin", FileName("fw", ".bin", 1))
	assert.Equal(t, "fw_2.bin", FileName("fw", ".bin", 2))
	assert.Equal(t, "fw_10.bin", FileName("fw", ".bin", 10))
}

func TestRecord_ResolveNameSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"Archer_C50_V3.bin", "Archer_C50_V3_2.bin"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("old"), 0o644))
	}

	r, err := OpenRecord(dir)
	require.NoError(t, err)
	for _, tt := range []struct {
		label string
		hint  int
		want  string
	}{
		{"Archer C50 V3", 0, "Archer_C50_V3_3.bin"},
		{"Other", 0, "Other.bin"},
		{"Other", 4, "Other_4.bin"},
	} {
		name, err := r.ResolveName(tt.label, ".bin", tt.hint)
		require.NoError(t, err)
		assert.Equal(t, tt.want, name)
	}
}

func TestRecord_ResolveNameSeesLateFiles(t *testing.T) {
	dir := t.TempDir()
	r, err := OpenRecord(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "fw.bin"), []byte("x"), 0o644))
	name, err := r.ResolveName("fw", ".bin", 0)
	require.NoError(t, err)
	assert.Equal(t, "fw_2.bin", name)
}

func TestRecord_UnreadableDirStopsResolution(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	r, err := OpenRecord(dir)
	require.NoError(t, err)

	// Replace the directory with a file: every Lstat below it is ENOTDIR.
	require.NoError(t, os.Remove(dir))
	require.NoError(t, os.WriteFile(dir, []byte("not a dir"), 0o644))

	done := make(chan error, 1)
	go func() {
		_, err := r.ResolveName("fw", ".bin", 0)
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorContains(t, err, "inspect output dir")
	case <-time.After(3 * time.Second):
		t.Fatal("ResolveName did not return")
	}

	src := filepath.Join(t.TempDir(), "fw.bin")
	require.NoError(t, os.WriteFile(src, []byte("fw"), 0o644))
	_, err = r.Place("fw", ".bin", 0, src)
	assert.ErrorContains(t, err, "inspect output dir")
	assert.FileExists(t, src, "source stays in place when no name can be resolved")
}

func TestRecord_PlaceConsecutive(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	r, err := OpenRecord(out)
	require.NoError(t, err)

	var names []string
	for i := range 3 {
		path := filepath.Join(src, fmt.Sprintf("fw%d.bin", i))
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("image %d", i)), 0o644))

		p, err := r.Place("Archer C50 V3", ".bin", 0, path)
		require.NoError(t, err)
		names = append(names, p.Name)

		assert.NoFileExists(t, path, "source is moved, not copied")
		data, err := os.ReadFile(p.Path)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("image %d", i), string(data))
		assert.Equal(t, int64(len(data)), p.Size)
		assert.Equal(t, fmt.Sprintf("%016x", xxhash.Sum64(data)), p.Checksum)
	}

	assert.Equal(t, []string{"Archer_C50_V3.bin", "Archer_C50_V3_2.bin", "Archer_C50_V3_3.bin"}, names)
	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, len(names))
}

func TestRecord_PlaceFailureLeavesRecordUnchanged(t *testing.T) {
	r, err := OpenRecord(t.TempDir())
	require.NoError(t, err)

	_, err = r.Place("fw", ".bin", 0, filepath.Join(t.TempDir(), "missing.bin"))
	require.Error(t, err)
	name, err := r.ResolveName("fw", ".bin", 0)
	require.NoError(t, err)
	assert.Equal(t, "fw.bin", name, "a failed move does not claim the name")
}

func TestRecord_ConcurrentPlaceNeverCollides(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	r, err := OpenRecord(out)
	require.NoError(t, err)

	const workers = 24
	var wg sync.WaitGroup
	results := make([]string, workers)
	errs := make([]error, workers)
	for i := range workers {
		path := filepath.Join(src, fmt.Sprintf("%d.bin", i))
		require.NoError(t, os.WriteFile(path, []byte{byte(i)}, 0o644))

		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := r.Place("Same Label", ".bin", 0, path)
			results[i] = p.Name
			errs[i] = err
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := range workers {
		require.NoError(t, errs[i])
		assert.False(t, seen[results[i]], "duplicate name %s", results[i])
		seen[results[i]] = true
	}

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, workers)
}

func TestRecord_RerunDoesNotOverwrite(t *testing.T) {
	out := t.TempDir()
	existing := filepath.Join(out, "fw.bin")
	require.NoError(t, os.WriteFile(existing, []byte("first run"), 0o644))

	r, err := OpenRecord(out)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "new.bin")
	require.NoError(t, os.WriteFile(src, []byte("second run"), 0o644))
	p, err := r.Place("fw", ".bin", 0, src)
	require.NoError(t, err)
	assert.Equal(t, "fw_2.bin", p.Name)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "first run", string(data))
}

func TestRegistry_SharesRecordPerDirectory(t *testing.T) {
	dir := t.TempDir()
	g := NewRegistry()

	a, err := g.Record(dir)
	require.NoError(t, err)
	b, err := g.Record(filepath.Join(dir, ".", ""))
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := g.Record(t.TempDir())
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestRegistry_RecreatesRemovedDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	g := NewRegistry()
	_, err := g.Record(dir)
	require.NoError(t, err)
	require.NoError(t, os.Remove(dir))

	_, err = g.Record(dir)
	require.NoError(t, err)
	assert.DirExists(t, dir)
}

func TestMoveFile_CopyFallback(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.bin")
	dest := filepath.Join(dir, "b.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	require.NoError(t, copyAndRemove(src, dest))
	assert.NoFileExists(t, src)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, os.WriteFile(src, []byte("again"), 0o644))
	assert.Error(t, copyAndRemove(src, dest), "existing destination is never overwritten")
}
