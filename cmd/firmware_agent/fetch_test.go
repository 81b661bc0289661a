package main

import (
	"bytes"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/firmware-harvester/internal/pipeline"
	"github.com/jonathan/firmware-harvester/internal/types"
)

func newFetchTestCommand(t *testing.T, args ...string) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	cmd := &cobra.Command{Use: "fetch"}
	bindFetchFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	return cmd, &out
}

func TestFetchCommand_HarvestsManifest(t *testing.T) {
	clearEnv(t)
	srv := serveArchives(t, map[string][]byte{
		"/c50.zip": zipWith(t, map[string]string{"fw/c50.bin": "firmware", "readme.txt": "x"}),
	})
	dir := t.TempDir()
	outDir := filepath.Join(dir, "firmware")
	manifestPath := writeManifest(t, dir,
		[2]string{"Archer C50", srv.URL + "/c50.zip"},
		[2]string{"Missing", srv.URL + "/missing.zip"},
	)

	cmd, out := newFetchTestCommand(t, "--manifest", manifestPath, "--out", outDir, "--pacing-ms", "0", "--retries", "0", "--min-free-mb", "0")
	require.NoError(t, runFetchCmd(cmd, nil))

	assert.FileExists(t, filepath.Join(outDir, "Archer_C50.bin"))
	assert.NoDirExists(t, filepath.Join(outDir, ".scratch"))
	assert.Contains(t, out.String(), "HARVEST SUMMARY")
	assert.Contains(t, out.String(), "[1/2] Archer C50: downloading")
	assert.Contains(t, out.String(), "download_failed")
}

func TestFetchCommand_AllFailedIsAnError(t *testing.T) {
	clearEnv(t)
	srv := serveArchives(t, nil)
	dir := t.TempDir()
	manifestPath := writeManifest(t, dir, [2]string{"Gone", srv.URL + "/gone.zip"})

	cmd, _ := newFetchTestCommand(t, "--manifest", manifestPath, "--out", filepath.Join(dir, "out"), "--pacing-ms", "0", "--retries", "0")
	err := runFetchCmd(cmd, nil)
	assert.ErrorContains(t, err, "no row succeeded")
}

func TestFetchCommand_RequiresManifest(t *testing.T) {
	clearEnv(t)
	cmd, _ := newFetchTestCommand(t, "--out", t.TempDir())
	assert.ErrorContains(t, runFetchCmd(cmd, nil), "--manifest must be provided")
}

func TestFetchCommand_EmptyManifestSucceeds(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	manifestPath := writeManifest(t, dir)

	cmd, out := newFetchTestCommand(t, "--manifest", manifestPath, "--out", filepath.Join(dir, "out"))
	require.NoError(t, runFetchCmd(cmd, nil))
	assert.Contains(t, out.String(), "Rows:      0")
}

func TestBatchStatus(t *testing.T) {
	assert.NoError(t, batchStatus(pipeline.Summary{}))
	assert.NoError(t, batchStatus(pipeline.Summary{Total: 2, Counts: map[types.OutcomeKind]int{types.OutcomeSuccess: 1}}))
	assert.Error(t, batchStatus(pipeline.Summary{Total: 2, Counts: map[types.OutcomeKind]int{types.OutcomeNoPayloadFound: 2}}))
}

func TestFetchBinary_MissingManifest(t *testing.T) {
	binaryPath := getBinaryPath(t)

	cmd := exec.Command(binaryPath, "fetch", "--out", t.TempDir())
	output, err := cmd.CombinedOutput()

	assert.Error(t, err)
	assert.Contains(t, string(output), "--manifest must be provided")
}
