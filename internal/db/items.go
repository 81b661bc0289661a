package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/firmware-harvester/internal/types"
)

// RecordItem stores one item result and its produced files in a single
// transaction. Re-recording the same row of a run replaces the earlier entry.
func (db *DB) RecordItem(ctx context.Context, runID uuid.UUID, result types.ItemResult) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var itemID uuid.UUID
	err = tx.QueryRow(ctx,
		`INSERT INTO item_results
		   (run_id, row_index, label, source_url, outcome, reason, archive_format, bytes_downloaded, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (run_id, row_index) DO UPDATE SET
		   outcome = EXCLUDED.outcome, reason = EXCLUDED.reason,
		   archive_format = EXCLUDED.archive_format,
		   bytes_downloaded = EXCLUDED.bytes_downloaded, duration_ms = EXCLUDED.duration_ms
		 RETURNING id`,
		runID, result.Row.Index, result.Row.Label, result.Row.SourceURL, string(result.Outcome),
		nullIfEmpty(result.Reason), nullIfEmpty(result.ArchiveFormat),
		result.BytesDownloaded, durationMillis(result.Duration),
	).Scan(&itemID)
	if err != nil {
		return fmt.Errorf("failed to insert item result: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM produced_files WHERE item_id = $1`, itemID); err != nil {
		return fmt.Errorf("failed to clear produced files: %w", err)
	}

	if len(result.Produced) > 0 {
		batch := &pgx.Batch{}
		for _, p := range result.Produced {
			batch.Queue(
				`INSERT INTO produced_files (item_id, path, source_entry, size_bytes, checksum)
				 VALUES ($1, $2, $3, $4, $5)`,
				itemID, p.Path, p.SourceEntry, p.Size, p.Checksum,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert produced files: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit item result: %w", err)
	}
	return nil
}

// ListItemResults returns a run's item results in manifest order.
func (db *DB) ListItemResults(ctx context.Context, runID uuid.UUID) ([]ItemRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, row_index, label, source_url, outcome, reason, archive_format,
		        bytes_downloaded, duration_ms, created_at
		 FROM item_results WHERE run_id = $1 ORDER BY row_index`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list item results: %w", err)
	}

	var items []ItemRecord
	for rows.Next() {
		var it ItemRecord
		var outcome string
		if err := rows.Scan(&it.ID, &it.RunID, &it.RowIndex, &it.Label, &it.SourceURL, &outcome,
			&it.Reason, &it.ArchiveFormat, &it.BytesDownloaded, &it.DurationMs, &it.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan item result: %w", err)
		}
		it.Outcome = types.OutcomeKind(outcome)
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list item results: %w", err)
	}

	for i := range items {
		produced, err := db.listProducedFiles(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Produced = produced
	}
	return items, nil
}

func (db *DB) listProducedFiles(ctx context.Context, itemID uuid.UUID) ([]types.ProducedFile, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT path, source_entry, size_bytes, checksum
		 FROM produced_files WHERE item_id = $1 ORDER BY created_at, path`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list produced files: %w", err)
	}
	defer rows.Close()

	var files []types.ProducedFile
	for rows.Next() {
		var f types.ProducedFile
		if err := rows.Scan(&f.Path, &f.SourceEntry, &f.Size, &f.Checksum); err != nil {
			return nil, fmt.Errorf("failed to scan produced file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// FindProducedByChecksum returns paths of earlier payloads with the same digest.
func (db *DB) FindProducedByChecksum(ctx context.Context, checksum string) ([]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT path FROM produced_files WHERE checksum = $1 ORDER BY created_at`,
		checksum,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query produced files: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan produced file: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// RecordAnalysis stores the outcome of analysing or reviewing one payload.
func (db *DB) RecordAnalysis(ctx context.Context, rec AnalysisRecord) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO payload_analyses (run_id, payload_path, kind, status, report_path, error)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.RunID, rec.PayloadPath, rec.Kind, rec.Status,
		nullIfEmpty(rec.ReportPath), nullIfEmpty(rec.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to record analysis: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
