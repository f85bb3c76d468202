package journal

import (
	"os"
	"path/filepath"
	"testing"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mangoGood/dbmirror/pkg/position"
)

func fixedClock(s string) func() string {
	return func() string { return s }
}

func TestWriteThenScanRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, fixedClock("20260801_120000"))
	defer w.Close()

	e1 := Entry{Position: position.Position{File: "mysql-bin.000001", Pos: 100}, SQL: "INSERT INTO t (id) VALUES (1)"}
	e2 := Entry{Position: position.Position{File: "mysql-bin.000001", Pos: 200}, SQL: "DELETE FROM t WHERE id = 1;"}
	require.NoError(t, w.Append(e1))
	require.NoError(t, w.Append(e2))

	files, err := ListFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	scanner := NewScanner(filepath.Join(dir, files[0]))
	entries, err := scanner.Scan()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "mysql-bin.000001", entries[0].Position.File)
	assert.Equal(t, uint32(100), entries[0].Position.Pos)
	assert.Equal(t, "INSERT INTO t (id) VALUES (1);", entries[0].SQL)
	assert.Equal(t, "DELETE FROM t WHERE id = 1;", entries[1].SQL)
}

func TestScanOnlyReturnsNewEntriesSinceLastScan(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, fixedClock("20260801_120000"))
	defer w.Close()

	require.NoError(t, w.Append(Entry{Position: position.Position{File: "f", Pos: 1}, SQL: "SELECT 1"}))
	files, err := ListFiles(dir)
	require.NoError(t, err)
	scanner := NewScanner(filepath.Join(dir, files[0]))

	first, err := scanner.Scan()
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := scanner.Scan()
	require.NoError(t, err)
	assert.Empty(t, second, "rescanning without new appends should return nothing")

	require.NoError(t, w.Append(Entry{Position: position.Position{File: "f", Pos: 2}, SQL: "SELECT 2"}))
	third, err := scanner.Scan()
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.Equal(t, uint32(2), third[0].Position.Pos)
}

func TestScanLeavesIncompletePartialEntryForNextScan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "binlog_sql_test_0001.sql")
	require.NoError(t, os.WriteFile(path, []byte("[POSITION] f:1\n[GTID] \nSELECT 1;\n\n[POSITION] f:2\n[GTID] "), 0o644))

	scanner := NewScanner(path)
	entries, err := scanner.Scan()
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the complete first entry should be parsed")

	require.NoError(t, os.WriteFile(path, []byte("[POSITION] f:1\n[GTID] \nSELECT 1;\n\n[POSITION] f:2\n[GTID] \nSELECT 2;\n\n"), 0o644))
	more, err := scanner.Scan()
	require.NoError(t, err)
	require.Len(t, more, 1)
	assert.Equal(t, uint32(2), more[0].Position.Pos)
}

func TestWriterRotatesAfterMaxStatements(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, fixedClock("20260801_120000"))
	defer w.Close()

	require.NoError(t, w.Append(Entry{Position: position.Position{File: "f", Pos: 1}, SQL: "SELECT 1"}))

	// Force an early rotation by tripping the counter without writing
	// 10000 real entries.
	w.count = maxStatementsPerFile
	require.NoError(t, w.Append(Entry{Position: position.Position{File: "f", Pos: 2}, SQL: "SELECT 2"}))

	files, err := ListFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2, "appending past the threshold rotates to a new file")
}

func TestWriteGTIDPersistsThroughRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, fixedClock("20260801_120000"))
	defer w.Close()

	set, err := gomysql.ParseMysqlGTIDSet("3e11fa47-71ca-11e1-9e33-c80aa9429562:1-5")
	require.NoError(t, err)
	require.NoError(t, w.Append(Entry{Position: position.Position{File: "f", Pos: 1, GTID: set}, SQL: "SELECT 1"}))

	files, err := ListFiles(dir)
	require.NoError(t, err)
	scanner := NewScanner(filepath.Join(dir, files[0]))
	entries, err := scanner.Scan()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Position.GTID)
	assert.True(t, entries[0].Position.GTID.Equal(set))
}
