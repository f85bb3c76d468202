package main

import (
	"database/sql"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mangoGood/dbmirror/pkg/config"
	"github.com/mangoGood/dbmirror/pkg/dbconn"
)

func openSource(cfg config.Config) (*sql.DB, error) {
	db, err := dbconn.New(cfg.SourceDB.DSN(), dbconn.NewDBConfig())
	if err != nil {
		return nil, fmt.Errorf("connecting to source: %w", err)
	}
	return db, nil
}

func openTarget(cfg config.Config) (*sql.DB, error) {
	db, err := dbconn.New(cfg.TargetDB.DSN(), dbconn.NewDBConfig())
	if err != nil {
		return nil, fmt.Errorf("connecting to target: %w", err)
	}
	return db, nil
}

// openSourceAndTarget dials both connections concurrently — independent
// dials with no ordering requirement between them, unlike the sequential
// per-table copy once a connection is open.
func openSourceAndTarget(cfg config.Config) (source, target *sql.DB, err error) {
	var g errgroup.Group
	g.Go(func() error {
		var err error
		source, err = openSource(cfg)
		return err
	})
	g.Go(func() error {
		var err error
		target, err = openTarget(cfg)
		return err
	})
	if err := g.Wait(); err != nil {
		if source != nil {
			source.Close()
		}
		if target != nil {
			target.Close()
		}
		return nil, nil, err
	}
	return source, target, nil
}

// includedTableSet returns the configured table allow-list as bare table
// names (stripping a "schema." qualifier, since the reader is already
// scoped to a single schema), or nil if every table is included.
func includedTableSet(tables []string) map[string]bool {
	if len(tables) == 0 {
		return nil
	}
	set := make(map[string]bool, len(tables))
	for _, t := range tables {
		if idx := strings.LastIndex(t, "."); idx >= 0 {
			t = t[idx+1:]
		}
		set[t] = true
	}
	return set
}
