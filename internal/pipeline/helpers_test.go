package pipeline

import (
	"archive/zip"
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonathan/firmware-harvester/internal/archive"
	"github.com/jonathan/firmware-harvester/internal/fetch"
	"github.com/jonathan/firmware-harvester/internal/naming"
	"github.com/jonathan/firmware-harvester/internal/payload"
)

type zipEntry struct {
	name string
	body string
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// archiveServer serves fixed archives by path and counts requests per path.
type archiveServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newArchiveServer(t *testing.T, archives map[string][]byte) *archiveServer {
	t.Helper()
	s := &archiveServer{hits: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()

		data, ok := archives[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(data)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *archiveServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

type testEnv struct {
	outputDir  string
	scratchDir string
	record     *naming.Record
	processor  *ItemProcessor
}

// newTestEnv wires a processor with real components and no backoff sleeping.
func newTestEnv(t *testing.T, opts *fetch.Options) *testEnv {
	t.Helper()
	root := t.TempDir()
	env := &testEnv{
		outputDir:  filepath.Join(root, "out"),
		scratchDir: filepath.Join(root, "scratch"),
	}

	record, err := naming.OpenRecord(env.outputDir)
	require.NoError(t, err)
	env.record = record

	if opts == nil {
		opts = &fetch.Options{MaxRetries: 0, Timeout: 5 * time.Second}
	}
	if opts.Backoff == nil {
		opts.Backoff = fetch.FixedBackoff(0)
	}

	env.processor = NewItemProcessor(ProcessorConfig{
		Fetcher:    fetch.NewDownloader(opts, nil),
		Extractor:  archive.NewExtractor(nil),
		Filter:     payload.NewFilter(".bin", false),
		Record:     record,
		ScratchDir: env.scratchDir,
	})
	return env
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}
