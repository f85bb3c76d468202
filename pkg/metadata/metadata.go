// Package metadata reads table shape from a source MySQL database: the
// table list, column definitions, primary key, row count and the CREATE
// statement the snapshot engine will replay against the target.
package metadata

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mangoGood/dbmirror/pkg/ddlrewrite"
)

// Column describes one column of a table.
type Column struct {
	Name          string
	Type          string
	Nullable      bool
	Default       sql.NullString
	AutoIncrement bool
}

// Table is the immutable descriptor for one source table, captured once
// at the start of a snapshot.
type Table struct {
	Name string
	// Columns are ordered as MySQL reports them (ORDINAL_POSITION).
	Columns []Column
	// PrimaryKey is the single-column primary key, or "" if there isn't
	// one (including composite keys, which this engine can't resume on).
	PrimaryKey string
	RowCount   int64
	// CreateStatement is the normalized (schema-stripped,
	// AUTO_INCREMENT-reset) CREATE TABLE ready to run against the target.
	CreateStatement string
}

// ColumnNames returns the table's column names in order, useful for
// building INSERT/SELECT column lists.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Reader enumerates tables on a single source database connection.
type Reader struct {
	db     *sql.DB
	schema string
}

// NewReader returns a Reader over db scoped to schema.
func NewReader(db *sql.DB, schema string) *Reader {
	return &Reader{db: db, schema: schema}
}

// ListTables returns the base table names in the reader's schema, in
// alphabetical order (discovery order, per spec, drives both the schema
// and data phases).
func (r *Reader) ListTables(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT TABLE_NAME FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`, r.schema)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Describe reads the full descriptor for one table: columns, primary key,
// row count and normalized CREATE statement.
func (r *Reader) Describe(ctx context.Context, table string) (Table, error) {
	columns, pk, err := r.columns(ctx, table)
	if err != nil {
		return Table{}, err
	}
	rowCount, err := r.rowCount(ctx, table)
	if err != nil {
		return Table{}, err
	}
	createStmt, err := r.createStatement(ctx, table)
	if err != nil {
		return Table{}, err
	}
	normalized, err := ddlrewrite.NormalizeCreate(createStmt)
	if err != nil {
		return Table{}, fmt.Errorf("normalizing CREATE for %s: %w", table, err)
	}

	return Table{
		Name:            table,
		Columns:         columns,
		PrimaryKey:      pk,
		RowCount:        rowCount,
		CreateStatement: normalized,
	}, nil
}

func (r *Reader) columns(ctx context.Context, table string) ([]Column, string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_DEFAULT, EXTRA, COLUMN_KEY
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, r.schema, table)
	if err != nil {
		return nil, "", fmt.Errorf("listing columns for %s: %w", table, err)
	}
	defer rows.Close()

	var columns []Column
	var pkColumns []string
	for rows.Next() {
		var name, colType, nullable, extra, key string
		var def sql.NullString
		if err := rows.Scan(&name, &colType, &nullable, &def, &extra, &key); err != nil {
			return nil, "", err
		}
		columns = append(columns, Column{
			Name:          name,
			Type:          colType,
			Nullable:      nullable == "YES",
			Default:       def,
			AutoIncrement: extra == "auto_increment",
		})
		if key == "PRI" {
			pkColumns = append(pkColumns, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	// A composite primary key degrades resumability per spec §4.4 and §9,
	// so only a single-column PK is reported as usable.
	var pk string
	if len(pkColumns) == 1 {
		pk = pkColumns[0]
	}
	return columns, pk, nil
}

func (r *Reader) rowCount(ctx context.Context, table string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM `%s`", table)
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", table, err)
	}
	return count, nil
}

func (r *Reader) createStatement(ctx context.Context, table string) (string, error) {
	var name, ddl string
	query := fmt.Sprintf("SHOW CREATE TABLE `%s`", table)
	if err := r.db.QueryRowContext(ctx, query).Scan(&name, &ddl); err != nil {
		return "", fmt.Errorf("getting CREATE TABLE for %s: %w", table, err)
	}
	return ddl, nil
}
