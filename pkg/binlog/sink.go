package binlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mangoGood/dbmirror/pkg/dbconn"
	"github.com/mangoGood/dbmirror/pkg/dbconn/sqlescape"
	"github.com/mangoGood/dbmirror/pkg/ddlrewrite"
	"github.com/mangoGood/dbmirror/pkg/journal"
	"github.com/mangoGood/dbmirror/pkg/position"
)

// Sink applies one decoded Event to wherever change data is headed: the
// target database directly, or a journal file for a downstream replayer.
type Sink interface {
	Apply(ctx context.Context, e Event) error
}

// DirectApplySink executes each Event against the target connection as it
// arrives — the low-latency path when the target is reachable and the
// caller doesn't need crash-safe replay semantics.
type DirectApplySink struct {
	target *sql.DB
	dbCfg  *dbconn.DBConfig
}

// NewDirectApplySink returns a Sink that applies events straight to target.
func NewDirectApplySink(target *sql.DB, dbCfg *dbconn.DBConfig) *DirectApplySink {
	return &DirectApplySink{target: target, dbCfg: dbCfg}
}

// Apply renders e to SQL and runs it through a retryable transaction, so a
// lock wait or deadlock on the target retries rather than stalling the
// whole pipeline. DDL is excluded from retry classification: CREATE/ALTER/
// DROP aren't idempotent the way INSERT ... ON DUPLICATE KEY UPDATE is, so
// a conflicting DDL retried verbatim would fail identically every time —
// it's executed once and the error surfaced.
func (s *DirectApplySink) Apply(ctx context.Context, e Event) error {
	stmts, err := RenderEventStatements(e)
	if err != nil {
		return err
	}
	if e.Kind == KindDDL {
		return dbconn.DBExec(ctx, s.target, s.dbCfg, stmts[0])
	}
	_, err = dbconn.RetryableTransaction(ctx, s.target, true, s.dbCfg, stmts...)
	return err
}

// JournalSink appends each Event's rendered statements to a file journal
// instead of applying them, decoupling the tail from the target's
// availability — a downstream replayer is the retry point for apply
// failures.
type JournalSink struct {
	writer *journal.Writer
}

// NewJournalSink returns a Sink that appends to the journal behind writer.
func NewJournalSink(writer *journal.Writer) *JournalSink {
	return &JournalSink{writer: writer}
}

// Apply never fails because of a target error — there is no target
// involved here — only because the journal itself can't be written to,
// which is a durability failure the caller should treat as fatal.
func (s *JournalSink) Apply(ctx context.Context, e Event) error {
	stmts, err := RenderEventStatements(e)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if err := s.writer.Append(journal.Entry{Position: e.Position, SQL: stmt}); err != nil {
			return fmt.Errorf("appending to journal: %w", err)
		}
	}
	return nil
}

// RenderEventStatements produces the literal SQL statements an Event
// corresponds to. It's exported so the journal writer can record the exact
// text applied, keeping the direct-apply and journaled-apply paths
// byte-identical. DDL and inserts render as a single statement; updates and
// deletes render one statement per row in the event.
func RenderEventStatements(e Event) ([]string, error) {
	switch e.Kind {
	case KindDDL:
		normalized, err := ddlrewrite.NormalizeCreate(e.DDLQuery)
		if err != nil {
			// Not every DDL statement is a CREATE TABLE (ALTER, DROP, etc.);
			// those pass through unmodified since there's no schema prefix
			// or AUTO_INCREMENT value to rewrite.
			return []string{e.DDLQuery}, nil
		}
		return []string{normalized}, nil
	case KindInsert:
		return []string{renderInsert(e)}, nil
	case KindUpdate:
		return renderUpdate(e), nil
	case KindDelete:
		return renderDelete(e), nil
	default:
		return nil, fmt.Errorf("unsupported event kind %v", e.Kind)
	}
}

func renderInsert(e Event) string {
	cols := quotedCols(e.Columns)
	rows := make([]string, len(e.Rows))
	for i, rc := range e.Rows {
		vals := make([]string, len(rc.After))
		for j, v := range rc.After {
			vals[j] = sqlescape.Literal(v)
		}
		rows[i] = "(" + strings.Join(vals, ", ") + ")"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON DUPLICATE KEY UPDATE %s",
		qualifiedTable(e), strings.Join(cols, ", "), strings.Join(rows, ", "),
		onDuplicateUpdateClause(e.Columns))
}

func renderUpdate(e Event) []string {
	stmts := make([]string, 0, len(e.Rows))
	for _, rc := range e.Rows {
		sets := make([]string, len(e.Columns))
		for i, col := range e.Columns {
			sets[i] = fmt.Sprintf("%s = %s", sqlescape.QuoteIdentifier(col), sqlescape.Literal(rc.After[i]))
		}
		stmts = append(stmts, fmt.Sprintf("UPDATE %s SET %s WHERE %s",
			qualifiedTable(e), strings.Join(sets, ", "), whereFromRow(e.Columns, rc.Before)))
	}
	return stmts
}

func renderDelete(e Event) []string {
	stmts := make([]string, 0, len(e.Rows))
	for _, rc := range e.Rows {
		stmts = append(stmts, fmt.Sprintf("DELETE FROM %s WHERE %s",
			qualifiedTable(e), whereFromRow(e.Columns, rc.Before)))
	}
	return stmts
}

// whereFromRow matches on every column rather than just the primary key:
// the row image is captured at binlog time, so matching the full image is
// safe even for tables without (or with composite) primary keys.
func whereFromRow(cols []string, vals []position.ColumnValue) string {
	clauses := make([]string, len(cols))
	for i, col := range cols {
		if vals[i].IsNull() {
			clauses[i] = fmt.Sprintf("%s IS NULL", sqlescape.QuoteIdentifier(col))
			continue
		}
		clauses[i] = fmt.Sprintf("%s = %s", sqlescape.QuoteIdentifier(col), sqlescape.Literal(vals[i]))
	}
	return strings.Join(clauses, " AND ")
}

func onDuplicateUpdateClause(cols []string) string {
	sets := make([]string, len(cols))
	for i, c := range cols {
		q := sqlescape.QuoteIdentifier(c)
		sets[i] = fmt.Sprintf("%s = VALUES(%s)", q, q)
	}
	return strings.Join(sets, ", ")
}

// qualifiedTable renders e's table identifier qualified by its source
// schema, so a statement applied against the target names the same
// database the row came from rather than whatever database the target
// connection happens to be using.
func qualifiedTable(e Event) string {
	return sqlescape.QuoteIdentifier(e.Schema) + "." + sqlescape.QuoteIdentifier(e.Table)
}

func quotedCols(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = sqlescape.QuoteIdentifier(c)
	}
	return out
}
