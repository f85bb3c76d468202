package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mangoGood/dbmirror/pkg/binlog"
	"github.com/mangoGood/dbmirror/pkg/checkpoint"
	"github.com/mangoGood/dbmirror/pkg/config"
	"github.com/mangoGood/dbmirror/pkg/dbconn"
	"github.com/mangoGood/dbmirror/pkg/journal"
)

// TailCmd streams the source binary log from where the last checkpoint
// left off, applying each event to the target directly or, with the
// --journal flag, writing it to a file journal for a separate replay
// process to consume. Ctrl-C (SIGINT)
// stops cleanly and exits 0.
type TailCmd struct {
	SourceHost string `help:"Override source host (defaults to source.db.host)."`
	Journal    bool   `help:"Write to the file journal instead of applying directly to the target."`
}

func (t *TailCmd) Run(logger *logrus.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer source.Close()

	dbCfg := dbconn.NewDBConfig()
	filter := binlog.NewFilter(cfg.IncludedDatabases, cfg.IncludedTables)

	var sink binlog.Sink
	var writer *journal.Writer
	if t.Journal {
		if cfg.SQLDirectory == "" {
			return fmt.Errorf("sql.directory must be set to tail into the journal")
		}
		writer = journal.NewWriter(cfg.SQLDirectory, func() string { return time.Now().UTC().Format("20060102_150405") })
		defer writer.Close()
		sink = binlog.NewJournalSink(writer)
	} else {
		target, err := openTarget(cfg)
		if err != nil {
			return err
		}
		defer target.Close()
		sink = binlog.NewDirectApplySink(target, dbCfg)
	}

	ckptDB, err := openTarget(cfg)
	if err != nil {
		return err
	}
	defer ckptDB.Close()
	ckpt := checkpoint.NewStore(ckptDB)
	if err := ckpt.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("preparing checkpoint store: %w", err)
	}

	startPos, ok, err := ckpt.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading checkpoint: %w", err)
	}
	if !ok {
		return fmt.Errorf("no checkpoint found; run snapshot first so a starting binlog position is recorded before tailing")
	}
	logger.Infof("tail: resuming from checkpoint %s", startPos)

	host := t.SourceHost
	if host == "" {
		host = fmt.Sprintf("%s:%d", cfg.SourceDB.Host, cfg.SourceDB.Port)
	}
	client := binlog.NewClient(host, cfg.SourceDB.Username, cfg.SourceDB.Password, dbCfg, filter, sink, logger)
	client.OnApply(func(e binlog.Event) {
		if err := ckpt.Save(ctx, e.Position); err != nil {
			logger.Errorf("saving checkpoint at %s: %v", e.Position, err)
		}
	})

	err = client.Run(ctx, startPos)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("tail failed: %w", err)
	}
	logger.Info("tail: stopped")
	return nil
}
