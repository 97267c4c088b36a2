package shape

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// JobRecord is one completed toolkit operation.
type JobRecord struct {
	ID         int64     `json:"id"`
	Tool       string    `json:"tool"`
	Dataset    string    `json:"dataset"`
	Features   int       `json:"features"`
	Removed    int       `json:"removed"`
	DurationMS int64     `json:"durationMs"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"createdAt"`
}

// JobHistory persists completed operations to a sqlite database.
type JobHistory struct {
	db *sql.DB
}

// OpenJobHistory opens (creating if needed) the history database at path.
func OpenJobHistory(ctx context.Context, path string) (*JobHistory, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tool TEXT NOT NULL,
			dataset TEXT NOT NULL,
			features INTEGER NOT NULL,
			removed INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			detail TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}

	return &JobHistory{db: db}, nil
}

// Record inserts a completed job. The record's ID is filled in on success;
// a zero CreatedAt is replaced with the current time.
func (h *JobHistory) Record(ctx context.Context, rec *JobRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	res, err := h.db.ExecContext(ctx, `
		INSERT INTO jobs (tool, dataset, features, removed, duration_ms, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.Tool, rec.Dataset, rec.Features, rec.Removed, rec.DurationMS, rec.Detail, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// Recent returns the most recent jobs, newest first. A non-positive limit
// defaults to 50.
func (h *JobHistory) Recent(ctx context.Context, limit int) ([]*JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, tool, dataset, features, removed, duration_ms, detail, created_at
		FROM jobs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var records []*JobRecord
	for rows.Next() {
		rec := &JobRecord{}
		err := rows.Scan(&rec.ID, &rec.Tool, &rec.Dataset, &rec.Features,
			&rec.Removed, &rec.DurationMS, &rec.Detail, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return records, nil
}

// Close releases the underlying database handle.
func (h *JobHistory) Close() error {
	return h.db.Close()
}
