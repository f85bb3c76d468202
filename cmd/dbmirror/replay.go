package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mangoGood/dbmirror/pkg/checkpoint"
	"github.com/mangoGood/dbmirror/pkg/config"
	"github.com/mangoGood/dbmirror/pkg/dbconn"
	"github.com/mangoGood/dbmirror/pkg/replay"
)

// ReplayCmd scans a journal directory on a timer, applying statements to
// the target that the checkpoint hasn't already consumed. Ctrl-C (SIGINT)
// stops cleanly and exits 0.
type ReplayCmd struct{}

func (r *ReplayCmd) Run(logger *logrus.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.SQLDirectory == "" {
		return fmt.Errorf("sql.directory must be set to run replay")
	}

	target, err := openTarget(cfg)
	if err != nil {
		return err
	}
	defer target.Close()

	ckpt := checkpoint.NewStore(target)
	if err := ckpt.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("preparing checkpoint store: %w", err)
	}

	rep := replay.New(target, dbconn.NewDBConfig(), ckpt, replay.Config{
		Directory:    cfg.SQLDirectory,
		ScanInterval: time.Duration(cfg.SQLScanIntervalMS) * time.Millisecond,
	}, logger)

	logger.Infof("replay: watching %s every %dms", cfg.SQLDirectory, cfg.SQLScanIntervalMS)
	if err := rep.Run(ctx); err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}
	logger.Info("replay: stopped")
	return nil
}
