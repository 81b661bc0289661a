package main

import (
	"archive/zip"
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func zipWith(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// serveArchives serves archives by URL path; anything else is a 404.
func serveArchives(t *testing.T, archives map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := archives[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeManifest writes a label,url CSV and returns its path.
func writeManifest(t *testing.T, dir string, rows ...[2]string) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("label,url\n")
	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s\n", r[0], r[1]))
	}
	path := filepath.Join(dir, "manifest.csv")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

// fakeBinwalk writes a shell script that behaves like binwalk closely enough
// for report generation.
func fakeBinwalk(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script")
	}
	script := filepath.Join(t.TempDir(), "binwalk")
	body := "#!/bin/sh\n" +
		"if [ \"$1\" = \"--extract\" ]; then mkdir -p \"$5\" && echo extracted; exit 0; fi\n" +
		"echo \"0 0x0 uImage header\"\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))
	return script
}
