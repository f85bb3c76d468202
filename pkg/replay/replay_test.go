package replay

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mangoGood/dbmirror/pkg/checkpoint"
	"github.com/mangoGood/dbmirror/pkg/dbconn"
	"github.com/mangoGood/dbmirror/pkg/journal"
	"github.com/mangoGood/dbmirror/pkg/position"
	"github.com/mangoGood/dbmirror/pkg/testutils"
)

func fixedClock(s string) func() string { return func() string { return s } }

func TestScanOnceAppliesNewEntriesAndAdvancesCheckpoint(t *testing.T) {
	db, err := dbconn.New(testutils.DSN(), dbconn.NewDBConfig())
	require.NoError(t, err)
	defer db.Close()

	testutils.RunSQL(t, "DROP TABLE IF EXISTS replay_target")
	testutils.RunSQL(t, "CREATE TABLE replay_target (id INT NOT NULL PRIMARY KEY, v INT)")

	ckpt := checkpoint.NewStore(db)
	require.NoError(t, ckpt.EnsureSchema(t.Context()))

	dir := t.TempDir()
	w := journal.NewWriter(dir, fixedClock("20260801_120000"))
	require.NoError(t, w.Append(journal.Entry{
		Position: position.Position{File: "mysql-bin.000001", Pos: 100},
		SQL:      "INSERT INTO replay_target (id, v) VALUES (1, 10)",
	}))
	require.NoError(t, w.Append(journal.Entry{
		Position: position.Position{File: "mysql-bin.000001", Pos: 200},
		SQL:      "INSERT INTO replay_target (id, v) VALUES (2, 20)",
	}))
	require.NoError(t, w.Close())

	r := New(db, dbconn.NewDBConfig(), ckpt, Config{Directory: dir, ScanInterval: time.Second}, logrus.New())
	require.NoError(t, r.scanOnce(t.Context()))

	var count int
	require.NoError(t, db.QueryRowContext(t.Context(), "SELECT COUNT(*) FROM replay_target").Scan(&count))
	assert.Equal(t, 2, count)

	pos, ok, err := ckpt.Load(t.Context())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(200), pos.Pos)
}

func TestScanOnceSkipsEntriesAtOrBeforeCheckpoint(t *testing.T) {
	db, err := dbconn.New(testutils.DSN(), dbconn.NewDBConfig())
	require.NoError(t, err)
	defer db.Close()

	testutils.RunSQL(t, "DROP TABLE IF EXISTS replay_resume")
	testutils.RunSQL(t, "CREATE TABLE replay_resume (id INT NOT NULL PRIMARY KEY)")

	ckpt := checkpoint.NewStore(db)
	require.NoError(t, ckpt.EnsureSchema(t.Context()))
	require.NoError(t, ckpt.Save(t.Context(), position.Position{File: "mysql-bin.000001", Pos: 150}))

	dir := t.TempDir()
	w := journal.NewWriter(dir, fixedClock("20260801_120000"))
	require.NoError(t, w.Append(journal.Entry{
		Position: position.Position{File: "mysql-bin.000001", Pos: 100},
		SQL:      "INSERT INTO replay_resume (id) VALUES (1)",
	}))
	require.NoError(t, w.Append(journal.Entry{
		Position: position.Position{File: "mysql-bin.000001", Pos: 300},
		SQL:      "INSERT INTO replay_resume (id) VALUES (2)",
	}))
	require.NoError(t, w.Close())

	r := New(db, dbconn.NewDBConfig(), ckpt, Config{Directory: dir, ScanInterval: time.Second}, logrus.New())
	require.NoError(t, r.scanOnce(t.Context()))

	var count int
	require.NoError(t, db.QueryRowContext(t.Context(), "SELECT COUNT(*) FROM replay_resume").Scan(&count))
	assert.Equal(t, 1, count, "entry at pos 100 is before the checkpoint and must not be reapplied")
}

func TestScanOnceIsIdempotentAcrossRescans(t *testing.T) {
	db, err := dbconn.New(testutils.DSN(), dbconn.NewDBConfig())
	require.NoError(t, err)
	defer db.Close()

	testutils.RunSQL(t, "DROP TABLE IF EXISTS replay_dedup")
	testutils.RunSQL(t, "CREATE TABLE replay_dedup (id INT NOT NULL PRIMARY KEY)")

	ckpt := checkpoint.NewStore(db)
	require.NoError(t, ckpt.EnsureSchema(t.Context()))

	dir := t.TempDir()
	w := journal.NewWriter(dir, fixedClock("20260801_120000"))
	require.NoError(t, w.Append(journal.Entry{
		Position: position.Position{File: "mysql-bin.000001", Pos: 100},
		SQL:      "INSERT INTO replay_dedup (id) VALUES (1)",
	}))
	require.NoError(t, w.Close())

	r := New(db, dbconn.NewDBConfig(), ckpt, Config{Directory: dir, ScanInterval: time.Second}, logrus.New())
	require.NoError(t, r.scanOnce(t.Context()))
	require.NoError(t, r.scanOnce(t.Context()))

	var count int
	require.NoError(t, db.QueryRowContext(t.Context(), "SELECT COUNT(*) FROM replay_dedup").Scan(&count))
	assert.Equal(t, 1, count, "rescanning must not double-apply an already-applied entry")
}
