package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dbmirror.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.BatchSize)
	assert.False(t, cfg.DropTables)
	assert.True(t, cfg.CreateTables)
	assert.True(t, cfg.MigrateData)
	assert.False(t, cfg.ContinueOnError)
	assert.True(t, cfg.EnableResume)
	assert.False(t, cfg.EnableIncremental)
	assert.Equal(t, 5000, cfg.SQLScanIntervalMS)
}

func TestLoadParsesFileValues(t *testing.T) {
	path := writeConfigFile(t, `
source.db.host: src.internal
source.db.port: "3306"
source.db.database: app
source.db.username: reader
source.db.password: secret
target.db.host: tgt.internal
target.db.port: "3307"
target.db.database: app_copy
migration.batch.size: "500"
migration.drop.tables: "true"
migration.included.databases: "app, other"
migration.included.tables: "app.users"
sql.directory: /var/lib/dbmirror/sql
sql.scan.interval.ms: "2000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "src.internal", cfg.SourceDB.Host)
	assert.Equal(t, 3306, cfg.SourceDB.Port)
	assert.Equal(t, "app", cfg.SourceDB.Database)
	assert.Equal(t, "reader", cfg.SourceDB.Username)
	assert.Equal(t, "secret", cfg.SourceDB.Password)

	assert.Equal(t, "tgt.internal", cfg.TargetDB.Host)
	assert.Equal(t, 3307, cfg.TargetDB.Port)
	assert.Equal(t, "app_copy", cfg.TargetDB.Database)

	assert.Equal(t, 500, cfg.BatchSize)
	assert.True(t, cfg.DropTables)
	assert.Equal(t, []string{"app", "other"}, cfg.IncludedDatabases)
	assert.Equal(t, []string{"app.users"}, cfg.IncludedTables)
	assert.Equal(t, "/var/lib/dbmirror/sql", cfg.SQLDirectory)
	assert.Equal(t, 2000, cfg.SQLScanIntervalMS)
}

func TestEnvOverridesTakePrecedenceOverFile(t *testing.T) {
	path := writeConfigFile(t, `
target.db.host: tgt.internal
target.db.port: "3307"
sql.directory: /file/path
sql.scan.interval.ms: "2000"
`)
	t.Setenv("TARGET_HOST", "override.internal")
	t.Setenv("TARGET_PORT", "9999")
	t.Setenv("TARGET_DATABASE", "override_db")
	t.Setenv("TARGET_USERNAME", "override_user")
	t.Setenv("TARGET_PASSWORD", "override_pass")
	t.Setenv("SQL_DIRECTORY", "/env/path")
	t.Setenv("CHECKPOINT_DB_PATH", "/env/checkpoint")
	t.Setenv("SQL_SCAN_INTERVAL_MS", "750")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "override.internal", cfg.TargetDB.Host)
	assert.Equal(t, 9999, cfg.TargetDB.Port)
	assert.Equal(t, "override_db", cfg.TargetDB.Database)
	assert.Equal(t, "override_user", cfg.TargetDB.Username)
	assert.Equal(t, "override_pass", cfg.TargetDB.Password)
	assert.Equal(t, "/env/path", cfg.SQLDirectory)
	assert.Equal(t, "/env/checkpoint", cfg.CheckpointDBPath)
	assert.Equal(t, 750, cfg.SQLScanIntervalMS)
}

func TestConnectionDSNFormatsCorrectly(t *testing.T) {
	c := Connection{Host: "db.internal", Port: 3306, Database: "app", Username: "reader", Password: "secret"}
	assert.Equal(t, "reader:secret@tcp(db.internal:3306)/app", c.DSN())
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfigFile(t, "migration.batch.size: \"not-a-number\"")
	_, err := Load(path)
	assert.Error(t, err)
}
