// Package ddlrewrite normalizes a source CREATE TABLE statement so it can
// be applied, unmodified in every other respect, against a target
// database: the schema qualifier is stripped (the target may use a
// different database name) and any AUTO_INCREMENT high-water mark is reset
// so the target starts counting from 1 rather than inheriting the
// source's current position.
package ddlrewrite

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/format"
)

// NormalizeCreate strips any db.table schema qualifier from ddl's table
// name and rewrites a trailing AUTO_INCREMENT=<n> table option to
// AUTO_INCREMENT=1. It returns an error if ddl does not parse as a single
// CREATE TABLE statement.
func NormalizeCreate(ddl string) (string, error) {
	p := parser.New()
	stmtNodes, _, err := p.Parse(ddl, "", "")
	if err != nil {
		return "", fmt.Errorf("parsing CREATE TABLE: %w", err)
	}
	if len(stmtNodes) != 1 {
		return "", fmt.Errorf("expected exactly one statement, got %d", len(stmtNodes))
	}
	createStmt, ok := stmtNodes[0].(*ast.CreateTableStmt)
	if !ok {
		return "", fmt.Errorf("expected CREATE TABLE, got %T", stmtNodes[0])
	}

	// Clearing Schema drops the "db." qualifier when the AST is
	// re-rendered below, regardless of whether the source wrote it
	// back-ticked, quoted, or bare.
	createStmt.Table.Schema.O = ""
	createStmt.Table.Schema.L = ""

	var sb strings.Builder
	restoreFlags := format.RestoreKeyWordUppercase | format.RestoreStringSingleQuotes | format.RestoreNameBackQuotes
	ctx := format.NewRestoreCtx(restoreFlags, &sb)
	if err := createStmt.Restore(ctx); err != nil {
		return "", fmt.Errorf("rendering normalized CREATE TABLE: %w", err)
	}

	return rewriteAutoIncrement(sb.String(), 1), nil
}

// autoIncrementClause matches a table-level AUTO_INCREMENT = <n> option.
// It only fires outside of back-ticked identifiers because the restored
// DDL always back-quotes column/table names, so a literal AUTO_INCREMENT
// preceded by whitespace or a closing paren and followed by digits is
// unambiguously the table option, never a column name.
var autoIncrementClause = regexp.MustCompile(`(?i)(AUTO_INCREMENT\s*=\s*)(\d+)`)

// rewriteAutoIncrement rewrites every AUTO_INCREMENT=<n> table option
// found in ddl to AUTO_INCREMENT=<start>, dropping any spaces around the
// "=" (the restored AST writes "AUTO_INCREMENT = <n>").
func rewriteAutoIncrement(ddl string, start int) string {
	return autoIncrementClause.ReplaceAllString(ddl, fmt.Sprintf("AUTO_INCREMENT=%d", start))
}
