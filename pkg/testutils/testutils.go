// Package testutils provides the connection helpers every package's tests
// use to talk to a real MySQL instance. Nothing here skips a test when no
// server is reachable: a test that needs the database fails if DSN()
// cannot be reached.
package testutils

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"
)

// DSN returns the data source name tests should connect with. It defaults
// to a local root login against the "test" schema, matching the MySQL
// container most CI setups run for this kind of integration test, and can
// be overridden with the DBMIRROR_TEST_DSN environment variable.
func DSN() string {
	if dsn := os.Getenv("DBMIRROR_TEST_DSN"); dsn != "" {
		return dsn
	}
	return "root:rootpass@tcp(127.0.0.1:8080)/test"
}

// RunSQL executes stmt against DSN(), failing the test on error. It's used
// throughout the suite to set up fixture tables before exercising a
// component against them.
func RunSQL(t *testing.T, stmt string) {
	t.Helper()
	db, err := sql.Open("mysql", DSN())
	if err != nil {
		t.Fatalf("testutils: opening dsn: %v", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(t.Context(), stmt); err != nil {
		t.Fatalf("testutils: running %q: %v", stmt, err)
	}
}
