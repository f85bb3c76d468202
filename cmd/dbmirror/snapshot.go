package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mangoGood/dbmirror/pkg/checkpoint"
	"github.com/mangoGood/dbmirror/pkg/config"
	"github.com/mangoGood/dbmirror/pkg/metadata"
	"github.com/mangoGood/dbmirror/pkg/progress"
	"github.com/mangoGood/dbmirror/pkg/snapshot"
)

// SnapshotCmd runs the one-shot schema+data copy: create target tables (if
// enabled) and stream rows in primary-key order, resuming from any
// progress left by a prior interrupted run.
type SnapshotCmd struct{}

func (s *SnapshotCmd) Run(logger *logrus.Logger, cfg config.Config) error {
	ctx := context.Background()

	source, target, err := openSourceAndTarget(cfg)
	if err != nil {
		return err
	}
	defer source.Close()
	defer target.Close()

	store := progress.NewStore(target)
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("preparing progress store: %w", err)
	}

	ckpt := checkpoint.NewStore(target)

	reader := metadata.NewReader(source, cfg.SourceDB.Database)
	names, err := reader.ListTables(ctx)
	if err != nil {
		return fmt.Errorf("listing source tables: %w", err)
	}

	include := includedTableSet(cfg.IncludedTables)
	var tables []metadata.Table
	for _, name := range names {
		if include != nil && !include[name] {
			continue
		}
		t, err := reader.Describe(ctx, name)
		if err != nil {
			return fmt.Errorf("describing %s: %w", name, err)
		}
		tables = append(tables, t)
	}
	logger.Infof("snapshot: copying %d table(s) from %s to %s", len(tables), cfg.SourceDB.Database, cfg.TargetDB.Database)

	engine := snapshot.New(source, target, reader, store, ckpt, snapshot.Config{
		BatchSize:       cfg.BatchSize,
		DropTables:      cfg.DropTables,
		CreateTables:    cfg.CreateTables,
		MigrateData:     cfg.MigrateData,
		ContinueOnError: cfg.ContinueOnError,
		EnableResume:    cfg.EnableResume,
	}, logger)

	if err := engine.Run(ctx, tables); err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}
	logger.Info("snapshot: complete")
	return nil
}
