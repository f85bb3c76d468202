package sqlescape

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/mangoGood/dbmirror/pkg/position"
)

func TestEscapeString(t *testing.T) {
	assert.Equal(t, `it\'s \\ a\ttab\nline`, EscapeString("it's \\ a\ttab\nline"))
	assert.Equal(t, "plain", EscapeString("plain"))
}

func TestEscapeBytes(t *testing.T) {
	assert.Equal(t, "X'68656c6c6f'", EscapeBytes([]byte("hello")))
}

func TestLiteral(t *testing.T) {
	assert.Equal(t, "NULL", Literal(position.NewColumnValue(nil)))
	assert.Equal(t, "42", Literal(position.NewColumnValue(int64(42))))
	assert.Equal(t, "1", Literal(position.NewColumnValue(true)))
	assert.Equal(t, "0", Literal(position.NewColumnValue(false)))
	assert.Equal(t, `'o\'reilly'`, Literal(position.NewColumnValue("o'reilly")))
	assert.Equal(t, "1.5", Literal(position.NewColumnValue(decimal.NewFromFloat(1.50))))
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, "`orders`", QuoteIdentifier("orders"))
	assert.Equal(t, "`weird``name`", QuoteIdentifier("weird`name"))
}
