// Package progress implements the durable per-table snapshot cursor: how
// many rows have been copied, where to resume from, and whether the table
// finished, so a killed snapshot can restart without re-copying rows or
// skipping them.
package progress

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Status is one node of the PENDING -> IN_PROGRESS -> {COMPLETED, FAILED}
// status DAG; FAILED can be reset back to PENDING by an explicit operator
// action (Reset).
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

const tableName = "_dbmirror_progress"

// Record is one table's snapshot cursor.
type Record struct {
	Table         string
	TotalRows     int64
	MigratedRows  int64
	LastPK        sql.NullString
	Status        Status
	StartTime     time.Time
	LastUpdate    time.Time
	CompleteTime  sql.NullTime
	ErrorMessage  sql.NullString
}

// Store persists Records in a bookkeeping table on the target connection.
type Store struct {
	db *sql.DB
}

// NewStore returns a Store backed by db. Call EnsureSchema once before use.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the bookkeeping table if it doesn't already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+tableName+` (
			table_name VARCHAR(255) NOT NULL PRIMARY KEY,
			total_rows BIGINT NOT NULL DEFAULT 0,
			migrated_rows BIGINT NOT NULL DEFAULT 0,
			last_pk_value VARCHAR(255) DEFAULT NULL,
			status VARCHAR(16) NOT NULL,
			start_time DATETIME NOT NULL,
			last_update_time DATETIME NOT NULL,
			complete_time DATETIME DEFAULT NULL,
			error_message TEXT DEFAULT NULL
		)`)
	if err != nil {
		return fmt.Errorf("creating progress table: %w", err)
	}
	return nil
}

// Start begins tracking table. If no record exists it's created PENDING;
// if one exists and is COMPLETED it's reset to start a fresh copy;
// otherwise it's marked IN_PROGRESS (this covers resuming a table that was
// PENDING, IN_PROGRESS or FAILED).
func (s *Store) Start(ctx context.Context, table string, totalRows int64) (Record, error) {
	existing, err := s.Get(ctx, table)
	now := time.Now().UTC()
	switch {
	case err == sql.ErrNoRows:
		rec := Record{
			Table:        table,
			TotalRows:    totalRows,
			MigratedRows: 0,
			Status:       StatusPending,
			StartTime:    now,
			LastUpdate:   now,
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO `+tableName+`
				(table_name, total_rows, migrated_rows, status, start_time, last_update_time)
			VALUES (?, ?, 0, ?, ?, ?)`,
			table, totalRows, rec.Status, now, now); err != nil {
			return Record{}, fmt.Errorf("starting progress for %s: %w", table, err)
		}
		return rec, nil
	case err != nil:
		return Record{}, err
	case existing.Status == StatusCompleted:
		if err := s.resetLocked(ctx, table, totalRows); err != nil {
			return Record{}, fmt.Errorf("resetting completed progress for %s: %w", table, err)
		}
		return Record{
			Table:      table,
			TotalRows:  totalRows,
			Status:     StatusInProgress,
			StartTime:  now,
			LastUpdate: now,
		}, nil
	default:
		if _, err := s.db.ExecContext(ctx, `
			UPDATE `+tableName+` SET status = ?, total_rows = ?, last_update_time = ?
			WHERE table_name = ?`, StatusInProgress, totalRows, now, table); err != nil {
			return Record{}, fmt.Errorf("marking %s in progress: %w", table, err)
		}
		existing.Status = StatusInProgress
		existing.TotalRows = totalRows
		existing.LastUpdate = now
		return existing, nil
	}
}

// resetLocked rewrites a COMPLETED record back to a fresh IN_PROGRESS one
// for Start to return; it's folded into Start rather than exposed since a
// COMPLETED table re-running the snapshot starts over by definition.
func (s *Store) resetLocked(ctx context.Context, table string, totalRows int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE `+tableName+` SET
			total_rows = ?, migrated_rows = 0, last_pk_value = NULL,
			status = ?, start_time = ?, last_update_time = ?, complete_time = NULL, error_message = NULL
		WHERE table_name = ?`, totalRows, StatusInProgress, now, now, table)
	return err
}

// Update records progress without touching status; safe to call at any
// frequency (the snapshot engine calls it once per committed batch).
func (s *Store) Update(ctx context.Context, table string, migratedRows int64, lastPK sql.NullString) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE `+tableName+` SET migrated_rows = ?, last_pk_value = ?, last_update_time = ?
		WHERE table_name = ?`, migratedRows, lastPK, time.Now().UTC(), table)
	if err != nil {
		return fmt.Errorf("updating progress for %s: %w", table, err)
	}
	return nil
}

// Complete marks table COMPLETED.
func (s *Store) Complete(ctx context.Context, table string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE `+tableName+` SET status = ?, last_update_time = ?, complete_time = ?
		WHERE table_name = ?`, StatusCompleted, now, now, table)
	if err != nil {
		return fmt.Errorf("completing progress for %s: %w", table, err)
	}
	return nil
}

// Fail marks table FAILED and records cause's message.
func (s *Store) Fail(ctx context.Context, table string, cause error) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE `+tableName+` SET status = ?, last_update_time = ?, error_message = ?
		WHERE table_name = ?`, StatusFailed, now, cause.Error(), table)
	if err != nil {
		return fmt.Errorf("failing progress for %s: %w", table, err)
	}
	return nil
}

// Get returns table's record, or sql.ErrNoRows if none exists.
func (s *Store) Get(ctx context.Context, table string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT table_name, total_rows, migrated_rows, last_pk_value, status,
		       start_time, last_update_time, complete_time, error_message
		FROM `+tableName+` WHERE table_name = ?`, table)
	return scanRecord(row)
}

// GetAll returns every tracked table's record.
func (s *Store) GetAll(ctx context.Context) ([]Record, error) {
	return s.query(ctx, `
		SELECT table_name, total_rows, migrated_rows, last_pk_value, status,
		       start_time, last_update_time, complete_time, error_message
		FROM `+tableName+` ORDER BY table_name`)
}

// GetIncomplete returns records whose status is not COMPLETED.
func (s *Store) GetIncomplete(ctx context.Context) ([]Record, error) {
	return s.query(ctx, `
		SELECT table_name, total_rows, migrated_rows, last_pk_value, status,
		       start_time, last_update_time, complete_time, error_message
		FROM `+tableName+` WHERE status != ? ORDER BY table_name`, StatusCompleted)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// rowScanner abstracts over *sql.Row and *sql.Rows, both of which satisfy
// it, so scanRecord can serve Get and the list queries alike.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var status string
	if err := row.Scan(&rec.Table, &rec.TotalRows, &rec.MigratedRows, &rec.LastPK, &status,
		&rec.StartTime, &rec.LastUpdate, &rec.CompleteTime, &rec.ErrorMessage); err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	return rec, nil
}

// Reset clears a table's progress back to PENDING so the next Start call
// begins a fresh copy; used by operators to retry a FAILED table or force
// a re-copy of a COMPLETED one.
func (s *Store) Reset(ctx context.Context, table string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE `+tableName+` SET
			status = ?, migrated_rows = 0, last_pk_value = NULL,
			last_update_time = ?, complete_time = NULL, error_message = NULL
		WHERE table_name = ?`, StatusPending, now, table)
	if err != nil {
		return fmt.Errorf("resetting progress for %s: %w", table, err)
	}
	return nil
}

// ClearAll drops every tracked record, for a full re-snapshot from scratch.
func (s *Store) ClearAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+tableName)
	return err
}
