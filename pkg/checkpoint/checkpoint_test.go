package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mangoGood/dbmirror/pkg/dbconn"
	"github.com/mangoGood/dbmirror/pkg/position"
	"github.com/mangoGood/dbmirror/pkg/testutils"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := dbconn.New(testutils.DSN(), dbconn.NewDBConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := NewStore(db)
	require.NoError(t, s.EnsureSchema(t.Context()))
	return s
}

func TestLoadWithNoCheckpointSaved(t *testing.T) {
	s := newTestStore(t)
	_, err := s.db.ExecContext(t.Context(), "DELETE FROM "+tableName)
	require.NoError(t, err)

	_, ok, err := s.Load(t.Context())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	p := position.Position{File: "mysql-bin.000005", Pos: 4321}
	require.NoError(t, s.Save(t.Context(), p))

	loaded, ok, err := s.Load(t.Context())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p.File, loaded.File)
	assert.Equal(t, p.Pos, loaded.Pos)
	assert.Nil(t, loaded.GTID)
}

func TestSaveOverwrites(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(t.Context(), position.Position{File: "mysql-bin.000001", Pos: 1}))
	require.NoError(t, s.Save(t.Context(), position.Position{File: "mysql-bin.000002", Pos: 99}))

	loaded, ok, err := s.Load(t.Context())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "mysql-bin.000002", loaded.File)
	assert.Equal(t, uint32(99), loaded.Pos)
}
