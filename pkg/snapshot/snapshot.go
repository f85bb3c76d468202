// Package snapshot implements the resumable full-table copy: a schema
// phase that creates target tables from the source's normalized DDL, and a
// data phase that streams rows in primary-key order, batches them into the
// target, and persists a resumable cursor after every batch.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/siddontang/loggers"

	"github.com/mangoGood/dbmirror/pkg/binlog"
	"github.com/mangoGood/dbmirror/pkg/checkpoint"
	"github.com/mangoGood/dbmirror/pkg/dbconn"
	"github.com/mangoGood/dbmirror/pkg/dbconn/sqlescape"
	"github.com/mangoGood/dbmirror/pkg/metadata"
	"github.com/mangoGood/dbmirror/pkg/position"
	"github.com/mangoGood/dbmirror/pkg/progress"
)

// Config controls the schema and data phases, corresponding directly to
// the migration.* keys in the external configuration.
type Config struct {
	BatchSize       int
	DropTables      bool
	CreateTables    bool
	MigrateData     bool
	ContinueOnError bool
	EnableResume    bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:    1000,
		CreateTables: true,
		MigrateData:  true,
		EnableResume: true,
	}
}

// Engine copies tables from source to target.
type Engine struct {
	source *sql.DB
	target *sql.DB
	reader *metadata.Reader
	store  *progress.Store
	ckpt   *checkpoint.Store
	dbCfg  *dbconn.DBConfig
	cfg    Config
	logger loggers.Advanced
}

// New builds an Engine. reader must be scoped to the source schema being
// copied; store persists progress on the target connection. ckpt, if
// non-nil, receives the source's binlog position before any row is read —
// the fixed starting point a tailer or replayer resumes from, per spec
// §2's checkpoint-before-snapshot ordering. A nil ckpt skips this (the
// caller has no use for incremental replication).
func New(source, target *sql.DB, reader *metadata.Reader, store *progress.Store, ckpt *checkpoint.Store, cfg Config, logger loggers.Advanced) *Engine {
	return &Engine{
		source: source,
		target: target,
		reader: reader,
		store:  store,
		ckpt:   ckpt,
		dbCfg:  dbconn.NewDBConfig(),
		cfg:    cfg,
		logger: logger,
	}
}

// Run records the source's current binlog position as the checkpoint
// (unless one already exists, so a resumed or re-run snapshot never
// clobbers it) before touching a single row, then executes the schema
// phase (if enabled) and the data phase (if enabled) over tables, in the
// order given — the caller's discovery order, per spec.
func (e *Engine) Run(ctx context.Context, tables []metadata.Table) error {
	if err := e.recordStartingCheckpoint(ctx); err != nil {
		return err
	}
	if e.cfg.CreateTables {
		if err := e.schemaPhase(ctx, tables); err != nil {
			return err
		}
	}
	if e.cfg.MigrateData {
		for _, t := range tables {
			if err := e.copyTable(ctx, t); err != nil {
				if !e.cfg.ContinueOnError {
					return fmt.Errorf("copying %s: %w", t.Name, err)
				}
				e.logger.Errorf("copying %s: %v (continuing, continue_on_error=true)", t.Name, err)
			}
		}
	}
	return nil
}

// recordStartingCheckpoint writes the source's current binlog position to
// the checkpoint store exactly once, before any row read: a tail or replay
// process started later resumes from this position rather than from
// whatever happens to be current when it first runs, which would silently
// drop any write landing between snapshot start and that later run (spec
// §9's "checkpoint race").
func (e *Engine) recordStartingCheckpoint(ctx context.Context) error {
	if e.ckpt == nil {
		return nil
	}
	if err := e.ckpt.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("preparing checkpoint store: %w", err)
	}
	_, ok, err := e.ckpt.Load(ctx)
	if err != nil {
		return fmt.Errorf("checking for existing checkpoint: %w", err)
	}
	if ok {
		return nil
	}
	pos, err := binlog.CurrentPosition(ctx, e.source)
	if err != nil {
		return fmt.Errorf("reading source binlog position: %w", err)
	}
	if err := e.ckpt.Save(ctx, pos); err != nil {
		return fmt.Errorf("saving starting checkpoint: %w", err)
	}
	e.logger.Infof("snapshot: recorded starting checkpoint %s", pos)
	return nil
}

// schemaPhase applies each table's normalized CREATE statement to the
// target. A per-table failure is logged and does not halt the phase,
// unless every table fails — an operator may be intentionally re-running
// against a target that already has compatible tables.
func (e *Engine) schemaPhase(ctx context.Context, tables []metadata.Table) error {
	failures := 0
	for _, t := range tables {
		if e.cfg.DropTables {
			dropStmt := fmt.Sprintf("DROP TABLE IF EXISTS %s", sqlescape.QuoteIdentifier(t.Name))
			if err := dbconn.DBExec(ctx, e.target, e.dbCfg, dropStmt); err != nil {
				e.logger.Errorf("dropping %s: %v", t.Name, err)
			}
		}
		if err := dbconn.DBExec(ctx, e.target, e.dbCfg, t.CreateStatement); err != nil {
			e.logger.Errorf("creating %s: %v", t.Name, err)
			failures++
		}
	}
	if len(tables) > 0 && failures == len(tables) {
		return fmt.Errorf("schema phase: every table (%d) failed to create", failures)
	}
	return nil
}

// copyTable runs the data phase for one table: consult progress, seek from
// the last resumable PK (or start fresh), stream and batch-apply rows,
// and persist progress after every batch.
func (e *Engine) copyTable(ctx context.Context, t metadata.Table) error {
	if t.RowCount == 0 {
		if _, err := e.store.Start(ctx, t.Name, 0); err != nil {
			return err
		}
		return e.store.Complete(ctx, t.Name)
	}

	var resumeFrom sql.NullString
	if e.cfg.EnableResume {
		if rec, err := e.store.Get(ctx, t.Name); err == nil && rec.Status != progress.StatusCompleted {
			resumeFrom = rec.LastPK
		}
	}

	rec, err := e.store.Start(ctx, t.Name, t.RowCount)
	if err != nil {
		return err
	}
	migrated := rec.MigratedRows

	rows, err := e.openCursor(ctx, t, resumeFrom)
	if err != nil {
		return fmt.Errorf("opening cursor for %s: %w", t.Name, err)
	}
	defer rows.Close()

	cols := t.ColumnNames()
	batch := make([][]any, 0, e.cfg.BatchSize)
	var lastPK sql.NullString

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.insertBatch(ctx, t, cols, batch); err != nil {
			if e.cfg.ContinueOnError {
				e.logger.Errorf("batch insert into %s failed, skipping batch: %v", t.Name, err)
			} else {
				return err
			}
		}
		migrated += int64(len(batch))
		if err := e.store.Update(ctx, t.Name, migrated, lastPK); err != nil {
			return fmt.Errorf("persisting progress for %s: %w", t.Name, err)
		}
		batch = batch[:0]
		return nil
	}

	pkIndex := columnIndex(cols, t.PrimaryKey)
	for rows.Next() {
		vals, err := scanRow(rows, len(cols))
		if err != nil {
			return err
		}
		batch = append(batch, vals)
		if pkIndex >= 0 {
			pkVal := position.NewColumnValue(vals[pkIndex])
			pkStr := fmt.Sprintf("%v", pkVal.Interface())
			if pkVal.Kind == position.KindBytes {
				// The text protocol hands every column back as []byte.
				pkStr = string(pkVal.Bytes)
			}
			lastPK = sql.NullString{String: pkStr, Valid: true}
		}
		if len(batch) >= e.cfg.BatchSize {
			if err := flush(); err != nil {
				if err2 := e.store.Fail(ctx, t.Name, err); err2 != nil {
					e.logger.Errorf("recording failure for %s: %v", t.Name, err2)
				}
				return err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if err := flush(); err != nil {
		if err2 := e.store.Fail(ctx, t.Name, err); err2 != nil {
			e.logger.Errorf("recording failure for %s: %v", t.Name, err2)
		}
		return err
	}

	return e.store.Complete(ctx, t.Name)
}

// openCursor issues the seek query when a single-column PK and a resume
// point are available, a full scan ordered by the PK when there is a PK but
// no resume point, or an unordered full scan when the PK is composite or
// absent (which disables resume for the table, per spec §4.4/§9).
func (e *Engine) openCursor(ctx context.Context, t metadata.Table, resumeFrom sql.NullString) (*sql.Rows, error) {
	colList := quotedColumnList(t.ColumnNames())
	tbl := sqlescape.QuoteIdentifier(t.Name)

	if t.PrimaryKey == "" {
		return e.source.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", colList, tbl))
	}

	pk := sqlescape.QuoteIdentifier(t.PrimaryKey)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s > ? ORDER BY %s", colList, tbl, pk, pk)
	if !resumeFrom.Valid {
		return e.source.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", colList, tbl, pk))
	}
	return e.source.QueryContext(ctx, query, resumeFrom.String)
}

// insertBatch issues one multi-row INSERT per batch, with the values
// rendered as SQL literals, run
// through dbconn.RetryableTransaction so a lock-wait or deadlock against
// the target retries rather than failing the whole table.
func (e *Engine) insertBatch(ctx context.Context, t metadata.Table, cols []string, batch [][]any) error {
	colList := quotedColumnList(cols)
	placeholders := make([]string, len(batch))
	args := make([]any, 0, len(batch)*len(cols))
	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",") + ")"
	for i, row := range batch {
		placeholders[i] = rowPlaceholder
		args = append(args, row...)
	}
	placeholderStmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		sqlescape.QuoteIdentifier(t.Name), colList, strings.Join(placeholders, ","))

	// The batch is rendered as literals rather than passed as ?-bound
	// args, since dbconn.RetryableTransaction's interface is string
	// statements (it retries by re-running the whole transaction, which
	// needs the statement to be self-contained).
	stmt, err := renderLiteralInsert(placeholderStmt, args)
	if err != nil {
		return err
	}
	_, err = dbconn.RetryableTransaction(ctx, e.target, false, e.dbCfg, stmt)
	return err
}

// renderLiteralInsert substitutes each '?' placeholder in stmt with the
// corresponding arg rendered as a SQL literal.
func renderLiteralInsert(stmt string, args []any) (string, error) {
	var b strings.Builder
	argIdx := 0
	for _, r := range stmt {
		if r == '?' {
			if argIdx >= len(args) {
				return "", fmt.Errorf("more placeholders than arguments")
			}
			b.WriteString(sqlescape.Literal(position.NewColumnValue(args[argIdx])))
			argIdx++
			continue
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}

func quotedColumnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = sqlescape.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

func columnIndex(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}

// scanRow reads one row into a slice of any, using sql.RawBytes-free
// generic scanning so each driver type round-trips untouched for re-use as
// INSERT arguments.
func scanRow(rows *sql.Rows, n int) ([]any, error) {
	vals := make([]any, n)
	ptrs := make([]any, n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}
