// Package binlog streams row-based and DDL changes off a source server's
// binary log and turns them into Events a Sink can apply to the target,
// resuming from wherever the checkpoint or snapshot start position left off.
package binlog

import "github.com/mangoGood/dbmirror/pkg/position"

// Kind discriminates the variant stored in an Event.
type Kind int

const (
	KindInsert Kind = iota
	KindUpdate
	KindDelete
	KindDDL
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "INSERT"
	case KindUpdate:
		return "UPDATE"
	case KindDelete:
		return "DELETE"
	case KindDDL:
		return "DDL"
	default:
		return "UNKNOWN"
	}
}

// RowChange is one row's before/after image. Before is nil for an insert,
// After is nil for a delete; both are populated for an update.
type RowChange struct {
	Before []position.ColumnValue
	After  []position.ColumnValue
}

// Event is one unit of replicated change: either a batch of row mutations
// against a single table, or a single DDL statement against a schema.
type Event struct {
	Kind     Kind
	Position position.Position

	// Row-change fields (Kind == KindInsert/KindUpdate/KindDelete).
	Schema  string
	Table   string
	Columns []string
	Rows    []RowChange

	// DDL fields (Kind == KindDDL).
	DDLSchema string
	DDLQuery  string
}

// TableKey identifies a table independent of which event touched it.
func (e Event) TableKey() string {
	if e.Kind == KindDDL {
		return e.DDLSchema
	}
	return e.Schema + "." + e.Table
}
