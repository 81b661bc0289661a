package db

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/firmware-harvester/internal/types"
)

func TestRunStatusConstants(t *testing.T) {
	assert.Equal(t, "running", RunStatusRunning)
	assert.Equal(t, "completed", RunStatusCompleted)
	assert.Equal(t, "partial", RunStatusPartial)
	assert.Equal(t, "failed", RunStatusFailed)
}

func TestRunStatusFor(t *testing.T) {
	tests := []struct {
		name          string
		counts        map[types.OutcomeKind]int
		wantStatus    string
		wantSucceeded int
		wantFailed    int
	}{
		{
			name:       "empty batch",
			counts:     map[types.OutcomeKind]int{},
			wantStatus: RunStatusCompleted,
		},
		{
			name:          "all succeeded",
			counts:        map[types.OutcomeKind]int{types.OutcomeSuccess: 3},
			wantStatus:    RunStatusCompleted,
			wantSucceeded: 3,
		},
		{
			name:          "no payload is not a failure",
			counts:        map[types.OutcomeKind]int{types.OutcomeSuccess: 1, types.OutcomeNoPayloadFound: 2},
			wantStatus:    RunStatusCompleted,
			wantSucceeded: 1,
		},
		{
			name:          "mixed",
			counts:        map[types.OutcomeKind]int{types.OutcomeSuccess: 1, types.OutcomeDownloadFailed: 2},
			wantStatus:    RunStatusPartial,
			wantSucceeded: 1,
			wantFailed:    2,
		},
		{
			name:       "everything failed",
			counts:     map[types.OutcomeKind]int{types.OutcomeExtractFailed: 1, types.OutcomeSkippedInvalidRow: 1},
			wantStatus: RunStatusFailed,
			wantFailed: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, succeeded, failed := RunStatusFor(tt.counts)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantSucceeded, succeeded)
			assert.Equal(t, tt.wantFailed, failed)
		})
	}
}

func TestSchema_DefinesTables(t *testing.T) {
	schema := Schema()
	for _, table := range []string{"harvest_runs", "item_results", "produced_files", "payload_analyses"} {
		assert.True(t, strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table), table)
	}
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	got := nullIfEmpty("reason")
	if assert.NotNil(t, got) {
		assert.Equal(t, "reason", *got)
	}
}

func TestDurationMillis(t *testing.T) {
	assert.Equal(t, int64(1500), durationMillis(1500*time.Millisecond))
}
