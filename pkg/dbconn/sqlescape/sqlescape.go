// Package sqlescape renders Go values as SQL literals for the journal
// sink, which writes fully-interpolated statements rather than
// placeholder/argument pairs (the journal has to be replayable as plain
// text with no driver involved).
package sqlescape

import (
	"fmt"
	"strings"

	"github.com/mangoGood/dbmirror/pkg/position"
)

// EscapeString escapes the characters spec.md requires for a string
// literal embedded between single quotes: backslash, single quote,
// newline, carriage return and tab.
func EscapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EscapeBytes renders binary data as a hex literal (X'..'), which avoids
// any ambiguity from non-UTF8 bytes that EscapeString's rune-based walk
// would otherwise mangle.
func EscapeBytes(b []byte) string {
	return fmt.Sprintf("X'%x'", b)
}

// Literal renders a ColumnValue as a SQL literal suitable for splicing
// directly into an INSERT/REPLACE/DELETE statement.
func Literal(v position.ColumnValue) string {
	switch v.Kind {
	case position.KindNull:
		return "NULL"
	case position.KindInt:
		return fmt.Sprintf("%d", v.Int)
	case position.KindFloat:
		return fmt.Sprintf("%v", v.Float)
	case position.KindDecimal:
		return v.Decimal.String()
	case position.KindBool:
		if v.Bool {
			return "1"
		}
		return "0"
	case position.KindString:
		return "'" + EscapeString(v.Str) + "'"
	case position.KindBytes:
		return EscapeBytes(v.Bytes)
	case position.KindTime:
		return "'" + v.Time.Format("2006-01-02 15:04:05.999999") + "'"
	default:
		return "NULL"
	}
}

// QuoteIdentifier backtick-quotes an identifier, doubling any embedded
// backtick per MySQL's escaping rule for quoted identifiers.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
