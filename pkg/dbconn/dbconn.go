// Package dbconn contains database connection and retry helpers shared by
// every component that talks to the source or target MySQL server.
package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/mangoGood/dbmirror/pkg/utils"
)

const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
	errCannotConnect   = 2003
	errConnLost        = 2013
	errReadOnly        = 1290
	errQueryKilled     = 1836
)

// DBConfig controls session-level behavior and retry policy for a
// connection. Use NewDBConfig for sane defaults.
type DBConfig struct {
	LockWaitTimeout          int
	InnodbLockWaitTimeout    int
	MaxRetries               int
	MaxOpenConnections       int
	InterpolateParams        bool
	RangeOptimizerMaxMemSize int64
	TLSMode                  string // DISABLED, PREFERRED, REQUIRED, VERIFY_CA, VERIFY_IDENTITY
	TLSCertificatePath       string
}

// NewDBConfig returns a DBConfig with the defaults used throughout the
// engine: a short innodb lock wait so snapshot batches fail fast and retry
// rather than pile up behind a long-running transaction on the target.
func NewDBConfig() *DBConfig {
	return &DBConfig{
		LockWaitTimeout:          30,
		InnodbLockWaitTimeout:    3,
		MaxRetries:               5,
		MaxOpenConnections:       16,
		RangeOptimizerMaxMemSize: 8388608,
		TLSMode:                  "PREFERRED",
	}
}

func standardizeTrx(ctx context.Context, trx *sql.Tx, config *DBConfig) error {
	// Unsetting sql_mode matches the source's on-disk data even if a
	// stricter mode is enabled server-wide; this mirrors what mysqldump
	// and most bulk-load tools do.
	stmts := []string{
		"SET time_zone='+00:00'",
		"SET sql_mode=''",
		"SET NAMES 'binary'",
	}
	for _, stmt := range stmts {
		if _, err := trx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := trx.ExecContext(ctx, "SET innodb_lock_wait_timeout=?", config.InnodbLockWaitTimeout); err != nil {
		return err
	}
	if _, err := trx.ExecContext(ctx, "SET lock_wait_timeout=?", config.LockWaitTimeout); err != nil {
		return err
	}
	return nil
}

// canRetryError looks at the MySQL error and decides if it is a transient
// failure worth rolling back and retrying the whole transaction for.
func canRetryError(err error) bool {
	var errNumber uint16
	if val, ok := err.(*mysql.MySQLError); ok {
		errNumber = val.Number
	}
	switch errNumber {
	case errLockWaitTimeout, errDeadlock, errCannotConnect,
		errConnLost, errReadOnly, errQueryKilled:
		return true
	default:
		return false
	}
}

// RetryableTransaction executes stmts inside a single transaction, retrying
// the whole transaction up to config.MaxRetries times on a transient error.
// Empty statements are skipped so callers can pass a sparse slice built
// from conditional DELETE/INSERT fragments.
func RetryableTransaction(ctx context.Context, db *sql.DB, ignoreDupKeyWarnings bool, config *DBConfig, stmts ...string) (int64, error) {
	var err error
	var trx *sql.Tx
	var rowsAffected int64
RETRYLOOP:
	for i := 0; i < config.MaxRetries; i++ {
		if trx, err = db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}); err != nil {
			backoff(i)
			continue RETRYLOOP
		}
		if err = standardizeTrx(ctx, trx, config); err != nil {
			utils.ErrInErr(trx.Rollback())
			backoff(i)
			continue RETRYLOOP
		}
		for _, stmt := range stmts {
			if stmt == "" {
				continue
			}
			var res sql.Result
			if res, err = trx.ExecContext(ctx, stmt); err != nil {
				if canRetryError(err) {
					utils.ErrInErr(trx.Rollback())
					backoff(i)
					continue RETRYLOOP
				}
				utils.ErrInErr(trx.Rollback())
				return rowsAffected, err
			}
			if werr := drainWarnings(ctx, trx, stmt, ignoreDupKeyWarnings); werr != nil {
				utils.ErrInErr(trx.Rollback())
				return rowsAffected, werr
			}
			if count, cerr := res.RowsAffected(); cerr == nil {
				rowsAffected += count
			}
		}
		if err != nil {
			utils.ErrInErr(trx.Rollback())
			backoff(i)
			continue RETRYLOOP
		}
		if err = trx.Commit(); err != nil {
			utils.ErrInErr(trx.Rollback())
			backoff(i)
			continue RETRYLOOP
		}
		return rowsAffected, nil
	}
	return rowsAffected, err
}

// drainWarnings inspects SHOW WARNINGS after a statement executes.
// Duplicate-key (1062) warnings are tolerated when ignoreDupKeyWarnings is
// set, as the direct-apply sink does for its INSERT ... ON DUPLICATE KEY
// UPDATE statements; the snapshot's batch inserts pass false. Anything
// else is surfaced.
func drainWarnings(ctx context.Context, trx *sql.Tx, stmt string, ignoreDupKeyWarnings bool) error {
	rows, err := trx.QueryContext(ctx, "SHOW WARNINGS") //nolint: execinquery
	if err != nil {
		return err
	}
	defer rows.Close()
	var level, code, message string
	for rows.Next() {
		if err := rows.Scan(&level, &code, &message); err != nil {
			return err
		}
		if code == "1062" && ignoreDupKeyWarnings {
			continue
		}
		return fmt.Errorf("unsafe warning applying statement: %s, query: %s", message, stmt)
	}
	return rows.Err()
}

// backoff sleeps a randomized, increasing amount of time before a retry.
func backoff(i int) {
	randFactor := i * rand.Intn(10) * int(time.Millisecond)
	time.Sleep(time.Duration(randFactor))
}

// DBExec runs a single statement in its own standardized transaction.
// Used for schema-phase DDL where there is nothing to retry beyond the
// statement itself.
func DBExec(ctx context.Context, db *sql.DB, config *DBConfig, query string) error {
	trx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	if err := standardizeTrx(ctx, trx, config); err != nil {
		utils.ErrInErr(trx.Rollback())
		return err
	}
	if _, err = trx.ExecContext(ctx, query); err != nil {
		utils.ErrInErr(trx.Rollback())
		return err
	}
	return trx.Commit()
}
