package types

import "time"

// OutcomeKind classifies how a single manifest row ended.
type OutcomeKind string

const (
	// OutcomeSuccess means at least one payload file was moved to the output directory.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeSkippedInvalidRow means the row failed validation; no I/O was performed.
	OutcomeSkippedInvalidRow OutcomeKind = "skipped_invalid_row"
	// OutcomeDownloadFailed means the archive could not be fetched.
	OutcomeDownloadFailed OutcomeKind = "download_failed"
	// OutcomeExtractFailed means the archive could not be unpacked.
	OutcomeExtractFailed OutcomeKind = "extract_failed"
	// OutcomeNoPayloadFound means the archive was processed but held no payload file.
	OutcomeNoPayloadFound OutcomeKind = "no_payload_found"
	// OutcomeIOError means a local filesystem operation failed.
	OutcomeIOError OutcomeKind = "io_error"
	// OutcomeCancelled means the batch was cancelled before or while the row ran.
	OutcomeCancelled OutcomeKind = "cancelled"
)

// AllOutcomes lists every outcome kind in report order.
var AllOutcomes = []OutcomeKind{
	OutcomeSuccess,
	OutcomeNoPayloadFound,
	OutcomeSkippedInvalidRow,
	OutcomeDownloadFailed,
	OutcomeExtractFailed,
	OutcomeIOError,
	OutcomeCancelled,
}

// IsFailure reports whether the outcome should be listed as a failure in summaries.
// NoPayloadFound is informational and is not a failure.
func (k OutcomeKind) IsFailure() bool {
	switch k {
	case OutcomeSuccess, OutcomeNoPayloadFound:
		return false
	default:
		return true
	}
}

// ProducedFile is a payload placed in the output directory.
type ProducedFile struct {
	Path string `json:"path"`
	// SourceEntry is the file's name inside the archive.
	SourceEntry string `json:"source_entry"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
}

// ItemResult is the immutable record of one processed manifest row.
type ItemResult struct {
	Row             ManifestRow    `json:"row"`
	Outcome         OutcomeKind    `json:"outcome"`
	Reason          string         `json:"reason,omitempty"`
	Produced        []ProducedFile `json:"produced,omitempty"`
	ArchiveFormat   string         `json:"archive_format,omitempty"`
	BytesDownloaded int64          `json:"bytes_downloaded"`
	Duration        time.Duration  `json:"duration"`
}

// ProducedPaths returns the output paths of every placed payload.
func (r ItemResult) ProducedPaths() []string {
	paths := make([]string, 0, len(r.Produced))
	for _, p := range r.Produced {
		paths = append(paths, p.Path)
	}
	return paths
}
