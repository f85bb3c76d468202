package position

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind tags the variant held by a ColumnValue.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindDecimal
	KindBool
	KindString
	KindBytes
	KindTime
)

// ColumnValue is a small tagged union over the Go types canal hands back
// for decoded row data. Carrying a single concrete type per column lets the
// journal writer and the direct-apply sink render literals without a type
// switch at every call site.
type ColumnValue struct {
	Kind    Kind
	Int     int64
	Float   float64
	Decimal decimal.Decimal
	Bool    bool
	Str     string
	Bytes   []byte
	Time    time.Time
}

// NewColumnValue classifies a raw value decoded from a row event. Canal
// decodes row images using the Go driver's native type mapping, so the
// switch below covers every concrete type it is documented to produce.
func NewColumnValue(v any) ColumnValue {
	switch t := v.(type) {
	case nil:
		return ColumnValue{Kind: KindNull}
	case int8:
		return ColumnValue{Kind: KindInt, Int: int64(t)}
	case int16:
		return ColumnValue{Kind: KindInt, Int: int64(t)}
	case int32:
		return ColumnValue{Kind: KindInt, Int: int64(t)}
	case int64:
		return ColumnValue{Kind: KindInt, Int: t}
	case int:
		return ColumnValue{Kind: KindInt, Int: int64(t)}
	case uint8:
		return ColumnValue{Kind: KindInt, Int: int64(t)}
	case uint16:
		return ColumnValue{Kind: KindInt, Int: int64(t)}
	case uint32:
		return ColumnValue{Kind: KindInt, Int: int64(t)}
	case uint64:
		return ColumnValue{Kind: KindInt, Int: int64(t)}
	case float32:
		return ColumnValue{Kind: KindFloat, Float: float64(t)}
	case float64:
		return ColumnValue{Kind: KindFloat, Float: t}
	case decimal.Decimal:
		return ColumnValue{Kind: KindDecimal, Decimal: t}
	case bool:
		return ColumnValue{Kind: KindBool, Bool: t}
	case string:
		return ColumnValue{Kind: KindString, Str: t}
	case []byte:
		return ColumnValue{Kind: KindBytes, Bytes: t}
	case time.Time:
		return ColumnValue{Kind: KindTime, Time: t.UTC()}
	default:
		// Unrecognized driver type; fall back to its default string form
		// rather than dropping the value.
		return ColumnValue{Kind: KindString, Str: fmt.Sprintf("%v", t)}
	}
}

// Interface returns the value in the form callers building database/sql
// arguments expect.
func (c ColumnValue) Interface() any {
	switch c.Kind {
	case KindNull:
		return nil
	case KindInt:
		return c.Int
	case KindFloat:
		return c.Float
	case KindDecimal:
		return c.Decimal
	case KindBool:
		return c.Bool
	case KindString:
		return c.Str
	case KindBytes:
		return c.Bytes
	case KindTime:
		return c.Time
	default:
		return nil
	}
}

// IsNull reports whether the value is SQL NULL.
func (c ColumnValue) IsNull() bool { return c.Kind == KindNull }
