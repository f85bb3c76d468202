// Command dbmirror copies a MySQL schema to another MySQL server and keeps
// it current, via three subcommands: snapshot (one-shot schema+data copy),
// tail (stream the source binlog, applying or journaling changes) and
// replay (apply a journal directory against a target).
package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"

	"github.com/mangoGood/dbmirror/pkg/config"
)

var cli struct {
	Config string `help:"Path to the flat key/value config file." short:"c"`

	Snapshot SnapshotCmd `cmd:"" help:"Copy schema and data from source to target."`
	Tail     TailCmd     `cmd:"" help:"Stream the source binlog to the target or a journal."`
	Replay   ReplayCmd   `cmd:"" help:"Apply journaled statements to the target."`
}

func main() {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	kctx := kong.Parse(&cli)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		logger.Errorf("loading config: %v", err)
		os.Exit(1)
	}

	if err := kctx.Run(logger, cfg); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
