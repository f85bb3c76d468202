package binlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mangoGood/dbmirror/pkg/position"
)

func TestRenderEventStatementsInsert(t *testing.T) {
	e := Event{
		Kind:    KindInsert,
		Schema:  "shop",
		Table:   "users",
		Columns: []string{"id", "name"},
		Rows: []RowChange{
			{After: []position.ColumnValue{position.NewColumnValue(int64(1)), position.NewColumnValue("alice")}},
		},
	}
	stmts, err := RenderEventStatements(e)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Equal(t, "INSERT INTO `shop`.`users` (`id`, `name`) VALUES (1, 'alice') ON DUPLICATE KEY UPDATE `id` = VALUES(`id`), `name` = VALUES(`name`)", stmts[0])
}

func TestRenderEventStatementsUpdateOnePerRow(t *testing.T) {
	e := Event{
		Kind:    KindUpdate,
		Schema:  "shop",
		Table:   "users",
		Columns: []string{"id", "name"},
		Rows: []RowChange{
			{
				Before: []position.ColumnValue{position.NewColumnValue(int64(1)), position.NewColumnValue("alice")},
				After:  []position.ColumnValue{position.NewColumnValue(int64(1)), position.NewColumnValue("alicia")},
			},
			{
				Before: []position.ColumnValue{position.NewColumnValue(int64(2)), position.NewColumnValue("bob")},
				After:  []position.ColumnValue{position.NewColumnValue(int64(2)), position.NewColumnValue("robert")},
			},
		},
	}
	stmts, err := RenderEventStatements(e)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, "UPDATE `shop`.`users` SET `id` = 1, `name` = 'alicia' WHERE `id` = 1 AND `name` = 'alice'", stmts[0])
	assert.Equal(t, "UPDATE `shop`.`users` SET `id` = 2, `name` = 'robert' WHERE `id` = 2 AND `name` = 'bob'", stmts[1])
}

func TestRenderEventStatementsDeleteHandlesNull(t *testing.T) {
	e := Event{
		Kind:    KindDelete,
		Schema:  "shop",
		Table:   "users",
		Columns: []string{"id", "nickname"},
		Rows: []RowChange{
			{Before: []position.ColumnValue{position.NewColumnValue(int64(1)), {Kind: position.KindNull}}},
		},
	}
	stmts, err := RenderEventStatements(e)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Equal(t, "DELETE FROM `shop`.`users` WHERE `id` = 1 AND `nickname` IS NULL", stmts[0])
}

func TestRenderEventStatementsDDLPassesThroughNonCreate(t *testing.T) {
	e := Event{Kind: KindDDL, DDLSchema: "shop", DDLQuery: "ALTER TABLE orders ADD COLUMN note TEXT"}
	stmts, err := RenderEventStatements(e)
	require.NoError(t, err)
	assert.Equal(t, []string{"ALTER TABLE orders ADD COLUMN note TEXT"}, stmts)
}
