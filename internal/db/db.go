// Package db provides PostgreSQL storage for harvest runs and their item results.
package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/firmware-harvester/internal/types"
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the DDL applied by EnsureSchema.
func Schema() string {
	return schemaSQL
}

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// EnsureSchema creates the tables if they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateRun creates a new harvest run record with the given ID.
func (db *DB) CreateRun(ctx context.Context, runID uuid.UUID, manifest string, totalRows int) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO harvest_runs (id, manifest, total_rows, status)
		 VALUES ($1, $2, $3, $4)`,
		runID, manifest, totalRows, RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun stores the final tally and status of a run.
func (db *DB) CompleteRun(ctx context.Context, runID uuid.UUID, counts map[types.OutcomeKind]int) error {
	status, succeeded, failed := RunStatusFor(counts)
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("failed to marshal counts: %w", err)
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE harvest_runs
		 SET status = $1, succeeded = $2, failed = $3, counts = $4, completed_at = NOW()
		 WHERE id = $5`,
		status, succeeded, failed, countsJSON, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to complete run: run %s not found", runID)
	}
	return nil
}

// GetRun retrieves a run by ID. It returns nil, nil when the run does not exist.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	var run Run
	var countsJSON []byte
	err := db.pool.QueryRow(ctx,
		`SELECT id, manifest, total_rows, status, succeeded, failed, counts, started_at, completed_at
		 FROM harvest_runs WHERE id = $1`,
		runID,
	).Scan(&run.ID, &run.Manifest, &run.TotalRows, &run.Status, &run.Succeeded, &run.Failed,
		&countsJSON, &run.StartedAt, &run.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if countsJSON != nil {
		if err := json.Unmarshal(countsJSON, &run.Counts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal counts: %w", err)
		}
	}
	return &run, nil
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, manifest, total_rows, status, succeeded, failed, started_at, completed_at
		 FROM harvest_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Manifest, &r.TotalRows, &r.Status, &r.Succeeded, &r.Failed,
			&r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func durationMillis(d time.Duration) int64 {
	return d.Milliseconds()
}
