package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunTestCommand(t *testing.T, args ...string) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	cmd := &cobra.Command{Use: "run"}
	bindRunFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	return cmd, &out
}

func TestRunCommand_FetchAndAnalyze(t *testing.T) {
	clearEnv(t)
	binwalk := fakeBinwalk(t)
	srv := serveArchives(t, map[string][]byte{
		"/deco.zip": zipWith(t, map[string]string{"deco.bin": "firmware"}),
	})
	dir := t.TempDir()
	outDir := filepath.Join(dir, "firmware")
	reportDir := filepath.Join(dir, "reports")
	manifestPath := writeManifest(t, dir, [2]string{"Deco M5", srv.URL + "/deco.zip"})

	// A stale payload from an earlier batch must not be analysed.
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "Old.bin"), []byte("old"), 0o644))

	cmd, out := newRunTestCommand(t,
		"--manifest", manifestPath, "--out", outDir, "--report-dir", reportDir,
		"--binwalk", binwalk, "--stages", "fetch,analyze", "--pacing-ms", "0")
	require.NoError(t, runPipelineCmd(cmd, nil))

	assert.FileExists(t, filepath.Join(outDir, "Deco_M5.bin"))
	assert.FileExists(t, filepath.Join(reportDir, "Deco_M5_analysis.json"))
	assert.NoFileExists(t, filepath.Join(reportDir, "Old_analysis.json"))
	assert.Contains(t, out.String(), "BINWALK ANALYSIS")
	assert.NotContains(t, out.String(), "AI REVIEW")
}

func TestRunCommand_FetchOnly(t *testing.T) {
	clearEnv(t)
	srv := serveArchives(t, map[string][]byte{
		"/a.zip": zipWith(t, map[string]string{"a.bin": "firmware"}),
	})
	dir := t.TempDir()
	manifestPath := writeManifest(t, dir, [2]string{"A", srv.URL + "/a.zip"})

	cmd, out := newRunTestCommand(t, "--manifest", manifestPath, "--out", filepath.Join(dir, "out"), "--stages", "fetch", "--pacing-ms", "0")
	require.NoError(t, runPipelineCmd(cmd, nil))
	assert.NotContains(t, out.String(), "BINWALK ANALYSIS")
	assert.NoDirExists(t, filepath.Join(dir, "out", reportSubdir))
}

func TestRunCommand_StagePlanErrors(t *testing.T) {
	clearEnv(t)

	t.Run("missing dependency", func(t *testing.T) {
		cmd, _ := newRunTestCommand(t, "--stages", "fetch,review")
		assert.ErrorContains(t, runPipelineCmd(cmd, nil), "missing dependencies")
	})

	t.Run("unknown stage", func(t *testing.T) {
		cmd, _ := newRunTestCommand(t, "--stages", "fetch,upload")
		assert.ErrorContains(t, runPipelineCmd(cmd, nil), "unknown step: upload")
	})
}

func TestRunCommand_ReviewNeedsAPIKey(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	manifestPath := writeManifest(t, dir, [2]string{"A", "https://example.invalid/a.zip"})

	cmd, _ := newRunTestCommand(t, "--manifest", manifestPath, "--out", filepath.Join(dir, "out"))
	err := runPipelineCmd(cmd, nil)
	assert.ErrorContains(t, err, "GEMINI_API_KEY")
	assert.NoDirExists(t, filepath.Join(dir, "out"), "nothing runs before the key check")
}
