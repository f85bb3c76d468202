package binlog

import (
	"fmt"

	"github.com/go-mysql-org/go-mysql/canal"
	"github.com/go-mysql-org/go-mysql/schema"

	"github.com/mangoGood/dbmirror/pkg/position"
)

// Decoder turns canal's raw row and query events into Events, filling in
// column names from canal's own information_schema-backed table cache.
type Decoder struct {
	filter *Filter
}

// NewDecoder returns a Decoder that only decodes events filter.Allows.
func NewDecoder(filter *Filter) *Decoder {
	return &Decoder{filter: filter}
}

// DecodeRows converts a canal RowsEvent into an Event, or returns (Event{},
// false, nil) if the event's table is filtered out. pos is the position
// immediately after the event, as reported by canal's event header.
func (d *Decoder) DecodeRows(e *canal.RowsEvent, pos position.Position) (Event, bool, error) {
	schemaName, tableName := e.Table.Schema, e.Table.Name
	if !d.filter.Allows(schemaName, tableName) {
		return Event{}, false, nil
	}

	cols := columnNames(e.Table.Columns)
	var kind Kind
	switch e.Action {
	case canal.InsertAction:
		kind = KindInsert
	case canal.UpdateAction:
		kind = KindUpdate
	case canal.DeleteAction:
		kind = KindDelete
	default:
		return Event{}, false, fmt.Errorf("unrecognized row action %q", e.Action)
	}

	var changes []RowChange
	switch kind {
	case KindInsert:
		for _, row := range e.Rows {
			changes = append(changes, RowChange{After: toColumnValues(row)})
		}
	case KindDelete:
		for _, row := range e.Rows {
			changes = append(changes, RowChange{Before: toColumnValues(row)})
		}
	case KindUpdate:
		// canal delivers updates as consecutive (before, after) row pairs.
		for i := 0; i+1 < len(e.Rows); i += 2 {
			changes = append(changes, RowChange{
				Before: toColumnValues(e.Rows[i]),
				After:  toColumnValues(e.Rows[i+1]),
			})
		}
	}

	return Event{
		Kind:     kind,
		Position: pos,
		Schema:   schemaName,
		Table:    tableName,
		Columns:  cols,
		Rows:     changes,
	}, true, nil
}

// DecodeDDL converts a canal query event carrying DDL into an Event, or
// (Event{}, false, nil) if it's a bare transaction-control statement or
// targets a schema the filter excludes.
func (d *Decoder) DecodeDDL(schemaName, query string, pos position.Position) (Event, bool, error) {
	if IsTransactionControl(query) {
		return Event{}, false, nil
	}
	if !d.filter.AllowsSchema(schemaName) {
		return Event{}, false, nil
	}
	return Event{
		Kind:      KindDDL,
		Position:  pos,
		DDLSchema: schemaName,
		DDLQuery:  query,
	}, true, nil
}

// columnNames reads names off canal's cached table schema, falling back to
// positional placeholders if canal couldn't resolve them (seen against
// servers that restrict information_schema access to the replication user).
func columnNames(cols []schema.TableColumn) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		if c.Name == "" {
			names[i] = fmt.Sprintf("column_%d", i)
			continue
		}
		names[i] = c.Name
	}
	return names
}

func toColumnValues(row []any) []position.ColumnValue {
	vals := make([]position.ColumnValue, len(row))
	for i, v := range row {
		vals[i] = position.NewColumnValue(v)
	}
	return vals
}
