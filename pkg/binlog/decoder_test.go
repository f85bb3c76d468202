package binlog

import (
	"testing"

	"github.com/go-mysql-org/go-mysql/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mangoGood/dbmirror/pkg/position"
)

func TestDecodeDDLSkipsTransactionControl(t *testing.T) {
	d := NewDecoder(NewFilter(nil, nil))
	_, ok, err := d.DecodeDDL("shop", "BEGIN", position.Position{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeDDLSkipsExcludedSchema(t *testing.T) {
	d := NewDecoder(NewFilter([]string{"shop"}, nil))
	_, ok, err := d.DecodeDDL("other", "CREATE TABLE t (id INT)", position.Position{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeDDLProducesEvent(t *testing.T) {
	d := NewDecoder(NewFilter([]string{"shop"}, nil))
	pos := position.Position{File: "mysql-bin.000001", Pos: 100}
	event, ok, err := d.DecodeDDL("shop", "CREATE TABLE t (id INT)", pos)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindDDL, event.Kind)
	assert.Equal(t, "shop", event.DDLSchema)
	assert.Equal(t, pos, event.Position)
}

func TestColumnNamesFallsBackToPositional(t *testing.T) {
	cols := []schema.TableColumn{{Name: ""}, {Name: ""}}
	names := columnNames(cols)
	assert.Equal(t, []string{"column_0", "column_1"}, names)
}

func TestColumnNamesUsesSchemaNames(t *testing.T) {
	cols := []schema.TableColumn{{Name: "id"}, {Name: "name"}}
	names := columnNames(cols)
	assert.Equal(t, []string{"id", "name"}, names)
}
