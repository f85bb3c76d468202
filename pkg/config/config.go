// Package config loads the flat key/value configuration that drives the
// snapshot, tail and replay subcommands: a YAML file of dotted keys,
// layered with a handful of environment overrides for the values most
// often injected by an orchestrator (container env vars, secrets managers)
// rather than checked into a file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/go-sql-driver/mysql"
)

// Connection holds the fields needed to build a DSN for one side of the
// migration.
type Connection struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// DSN formats c as a go-sql-driver/mysql data source name. dbconn.New
// layers TLS and session parameters on top of this.
func (c Connection) DSN() string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	cfg.DBName = c.Database
	cfg.User = c.Username
	cfg.Passwd = c.Password
	return cfg.FormatDSN()
}

// Config is the fully resolved configuration for a run, after file
// loading and environment overrides. Field names and defaults match
// spec.md §6's key table.
type Config struct {
	SourceDB Connection
	TargetDB Connection

	BatchSize          int
	DropTables         bool
	CreateTables       bool
	MigrateData        bool
	ContinueOnError    bool
	EnableResume       bool
	EnableIncremental  bool
	IncludedDatabases  []string
	IncludedTables     []string
	CheckpointDBPath   string
	SQLDirectory       string
	SQLScanIntervalMS  int
}

// defaults returns a Config populated with spec.md §6's documented
// defaults, before the file or environment are consulted.
func defaults() Config {
	return Config{
		BatchSize:         1000,
		DropTables:        false,
		CreateTables:      true,
		MigrateData:       true,
		ContinueOnError:   false,
		EnableResume:      true,
		EnableIncremental: false,
		SQLScanIntervalMS: 5000,
	}
}

// Load reads a flat key/value YAML file at path and applies environment
// overrides on top. An empty path skips file loading and returns defaults
// plus overrides, which is enough to run against an all-env-var deployment.
func Load(path string) (Config, error) {
	cfg := defaults()

	raw := map[string]string{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := applyFileValues(&cfg, raw); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyFileValues(cfg *Config, raw map[string]string) error {
	get := func(key string) (string, bool) {
		v, ok := raw[key]
		return v, ok && v != ""
	}

	cfg.SourceDB.Host, _ = get("source.db.host")
	cfg.SourceDB.Database, _ = get("source.db.database")
	cfg.SourceDB.Username, _ = get("source.db.username")
	cfg.SourceDB.Password, _ = get("source.db.password")
	if v, ok := get("source.db.port"); ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("source.db.port: %w", err)
		}
		cfg.SourceDB.Port = p
	}

	cfg.TargetDB.Host, _ = get("target.db.host")
	cfg.TargetDB.Database, _ = get("target.db.database")
	cfg.TargetDB.Username, _ = get("target.db.username")
	cfg.TargetDB.Password, _ = get("target.db.password")
	if v, ok := get("target.db.port"); ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("target.db.port: %w", err)
		}
		cfg.TargetDB.Port = p
	}

	if v, ok := get("migration.batch.size"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("migration.batch.size: %w", err)
		}
		cfg.BatchSize = n
	}
	if v, ok := get("migration.drop.tables"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("migration.drop.tables: %w", err)
		}
		cfg.DropTables = b
	}
	if v, ok := get("migration.create.tables"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("migration.create.tables: %w", err)
		}
		cfg.CreateTables = b
	}
	if v, ok := get("migration.migrate.data"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("migration.migrate.data: %w", err)
		}
		cfg.MigrateData = b
	}
	if v, ok := get("migration.continue.on.error"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("migration.continue.on.error: %w", err)
		}
		cfg.ContinueOnError = b
	}
	if v, ok := get("migration.enable.resume"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("migration.enable.resume: %w", err)
		}
		cfg.EnableResume = b
	}
	if v, ok := get("migration.enable.incremental"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("migration.enable.incremental: %w", err)
		}
		cfg.EnableIncremental = b
	}
	if v, ok := get("migration.included.databases"); ok {
		cfg.IncludedDatabases = splitCSV(v)
	}
	if v, ok := get("migration.included.tables"); ok {
		cfg.IncludedTables = splitCSV(v)
	}
	cfg.CheckpointDBPath, _ = get("migration.checkpoint.db.path")
	cfg.SQLDirectory, _ = get("sql.directory")
	if v, ok := get("sql.scan.interval.ms"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("sql.scan.interval.ms: %w", err)
		}
		cfg.SQLScanIntervalMS = n
	}
	return nil
}

// applyEnvOverrides applies spec.md §6's override table: these env vars
// take precedence over the file whenever set to a non-empty value.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TARGET_HOST"); v != "" {
		cfg.TargetDB.Host = v
	}
	if v := os.Getenv("TARGET_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.TargetDB.Port = p
		}
	}
	if v := os.Getenv("TARGET_DATABASE"); v != "" {
		cfg.TargetDB.Database = v
	}
	if v := os.Getenv("TARGET_USERNAME"); v != "" {
		cfg.TargetDB.Username = v
	}
	if v := os.Getenv("TARGET_PASSWORD"); v != "" {
		cfg.TargetDB.Password = v
	}
	if v := os.Getenv("SQL_DIRECTORY"); v != "" {
		cfg.SQLDirectory = v
	}
	if v := os.Getenv("CHECKPOINT_DB_PATH"); v != "" {
		cfg.CheckpointDBPath = v
	}
	if v := os.Getenv("SQL_SCAN_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SQLScanIntervalMS = n
		}
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
