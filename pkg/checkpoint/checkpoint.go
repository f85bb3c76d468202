// Package checkpoint implements the single-row durable record of how far
// the target has consumed the source's binlog: the snapshot worker writes
// it once before the first row read, and the replayer advances it after
// every successfully applied batch.
package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"

	"github.com/mangoGood/dbmirror/pkg/position"
)

const tableName = "_dbmirror_checkpoint"

// id is the sole row's primary key; there is exactly one checkpoint per
// pipeline instance.
const id = 1

// Store persists a single Position on the target connection.
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
			id INT NOT NULL PRIMARY KEY,
			binlog_file VARCHAR(255) NOT NULL,
			binlog_position INT UNSIGNED NOT NULL,
			gtid TEXT DEFAULT NULL,
			updated_at DATETIME NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("creating checkpoint table: %w", err)
	}
	return nil
}

// Save overwrites the checkpoint with p. This is the only write path; both
// the pre-snapshot "snapshot start position" write and every subsequent
// replayer advance go through it.
func (s *Store) Save(ctx context.Context, p position.Position) error {
	var gtid sql.NullString
	if p.GTID != nil {
		gtid = sql.NullString{String: p.GTID.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+tableName+` (id, binlog_file, binlog_position, gtid, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			binlog_file = VALUES(binlog_file),
			binlog_position = VALUES(binlog_position),
			gtid = VALUES(gtid),
			updated_at = VALUES(updated_at)`,
		id, p.File, p.Pos, gtid, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

// Load returns the stored checkpoint, or the zero Position and false if
// none has ever been saved (a brand new pipeline instance).
func (s *Store) Load(ctx context.Context) (position.Position, bool, error) {
	var file string
	var pos uint32
	var gtid sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT binlog_file, binlog_position, gtid FROM `+tableName+` WHERE id = ?`, id).
		Scan(&file, &pos, &gtid)
	switch {
	case err == sql.ErrNoRows:
		return position.Position{}, false, nil
	case err != nil:
		return position.Position{}, false, fmt.Errorf("loading checkpoint: %w", err)
	}

	p := position.Position{File: file, Pos: pos}
	if gtid.Valid && gtid.String != "" {
		set, err := gomysql.ParseMysqlGTIDSet(gtid.String)
		if err != nil {
			return position.Position{}, false, fmt.Errorf("parsing stored gtid %q: %w", gtid.String, err)
		}
		p.GTID = set
	}
	return p, true, nil
}
