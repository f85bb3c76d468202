package progress

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mangoGood/dbmirror/pkg/dbconn"
	"github.com/mangoGood/dbmirror/pkg/testutils"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := dbconn.New(testutils.DSN(), dbconn.NewDBConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := NewStore(db)
	require.NoError(t, s.EnsureSchema(t.Context()))
	require.NoError(t, s.ClearAll(t.Context()))
	return s
}

func TestStartFreshTable(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Start(t.Context(), "users", 100)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, int64(100), rec.TotalRows)
	assert.Equal(t, int64(0), rec.MigratedRows)
}

func TestUpdateAndComplete(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Start(t.Context(), "orders", 10)
	require.NoError(t, err)

	require.NoError(t, s.Update(t.Context(), "orders", 5, sql.NullString{String: "5", Valid: true}))
	rec, err := s.Get(t.Context(), "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.MigratedRows)
	assert.Equal(t, "5", rec.LastPK.String)
	assert.Equal(t, StatusInProgress, rec.Status)

	require.NoError(t, s.Complete(t.Context(), "orders"))
	rec, err = s.Get(t.Context(), "orders")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.True(t, rec.CompleteTime.Valid)
}

func TestRestartingCompletedTableResetsIt(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Start(t.Context(), "users", 10)
	require.NoError(t, err)
	require.NoError(t, s.Update(t.Context(), "users", 10, sql.NullString{String: "10", Valid: true}))
	require.NoError(t, s.Complete(t.Context(), "users"))

	rec, err := s.Start(t.Context(), "users", 20)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, rec.Status)
	assert.Equal(t, int64(0), rec.MigratedRows)
}

func TestFailAndReset(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Start(t.Context(), "users", 10)
	require.NoError(t, err)
	require.NoError(t, s.Fail(t.Context(), "users", assert.AnError))

	rec, err := s.Get(t.Context(), "users")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.True(t, rec.ErrorMessage.Valid)

	require.NoError(t, s.Reset(t.Context(), "users"))
	rec, err = s.Get(t.Context(), "users")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
}

func TestGetAllAndIncomplete(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Start(t.Context(), "a", 1)
	require.NoError(t, err)
	_, err = s.Start(t.Context(), "b", 1)
	require.NoError(t, err)
	require.NoError(t, s.Complete(t.Context(), "a"))

	all, err := s.GetAll(t.Context())
	require.NoError(t, err)
	assert.Len(t, all, 2)

	incomplete, err := s.GetIncomplete(t.Context())
	require.NoError(t, err)
	require.Len(t, incomplete, 1)
	assert.Equal(t, "b", incomplete[0].Table)
}
