package pipeline

import "github.com/jonathan/firmware-harvester/internal/types"

// Progress event kinds.
const (
	EventItemStarted  = "item_started"
	EventDownload     = "download"
	EventItemFinished = "item_finished"
)

// ProgressEvent represents a progress update during a batch.
// Download events carry byte counts; BytesTotal is -1 when unknown. Item
// events carry the running tally.
type ProgressEvent struct {
	Kind            string                    `json:"kind"`
	Label           string                    `json:"label"`
	Row             int                       `json:"row"`
	BytesDownloaded int64                     `json:"bytes_downloaded,omitempty"`
	BytesTotal      int64                     `json:"bytes_total,omitempty"`
	Outcome         types.OutcomeKind         `json:"outcome,omitempty"`
	Completed       int                       `json:"completed"`
	Total           int                       `json:"total"`
	Counts          map[types.OutcomeKind]int `json:"counts,omitempty"`
}

// ProgressCallback receives progress events. Calls are serialised by the batch
// runner, so a callback need not be safe for concurrent use.
type ProgressCallback func(event ProgressEvent)
