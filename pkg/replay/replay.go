// Package replay implements the journal-sink's consumer: a timer-driven
// directory scan that applies journaled statements to the target, tracking
// a persisted checkpoint, which carries progress across restarts, and a
// per-entry fingerprint set, which keeps one run from applying an entry
// twice. The fingerprint set is held in memory only and is not persisted,
// so after a restart only the checkpoint decides what is skipped.
package replay

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/siddontang/loggers"

	"github.com/mangoGood/dbmirror/pkg/checkpoint"
	"github.com/mangoGood/dbmirror/pkg/dbconn"
	"github.com/mangoGood/dbmirror/pkg/journal"
	"github.com/mangoGood/dbmirror/pkg/position"
)

// checkpointAdvanceInterval is how often a run of successful applies
// forces a checkpoint write, per spec.md §4.5 ("after every 100 successful
// applies"), independent of the end-of-batch and shutdown checkpoint writes.
const checkpointAdvanceInterval = 100

// Config controls the replayer's polling cadence and journal location.
type Config struct {
	Directory    string
	ScanInterval time.Duration
}

// Replayer scans Config.Directory on a timer, applying journal entries
// whose position is strictly greater than the checkpoint.
type Replayer struct {
	target *sql.DB
	dbCfg  *dbconn.DBConfig
	ckpt   *checkpoint.Store
	cfg    Config
	logger loggers.Advanced

	scanners map[string]*journal.Scanner
	seen     map[string]bool // fingerprint set: filename+position+sql-hash

	ckptPos    position.Position
	ckptLoaded bool
}

// New returns a Replayer applying journaled statements to target.
func New(target *sql.DB, dbCfg *dbconn.DBConfig, ckpt *checkpoint.Store, cfg Config, logger loggers.Advanced) *Replayer {
	return &Replayer{
		target:   target,
		dbCfg:    dbCfg,
		ckpt:     ckpt,
		cfg:      cfg,
		logger:   logger,
		scanners: make(map[string]*journal.Scanner),
		seen:     make(map[string]bool),
	}
}

// Run polls the journal directory every Config.ScanInterval until ctx is
// cancelled, applying new entries as they appear. Every scan ends with a
// checkpoint write for what it applied, so cancellation returns without a
// further write.
func (r *Replayer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.scanOnce(ctx); err != nil {
				r.logger.Errorf("replay scan failed: %v", err)
			}
		}
	}
}

// scanOnce scans every journal file once, applying and checkpointing new
// entries. A failed statement is logged and skipped — it's left out of the
// fingerprint set, so the next scan retries it (per spec.md §4.5).
func (r *Replayer) scanOnce(ctx context.Context) error {
	if !r.ckptLoaded {
		pos, _, err := r.ckpt.Load(ctx)
		if err != nil {
			return fmt.Errorf("loading initial checkpoint: %w", err)
		}
		r.ckptPos = pos
		r.ckptLoaded = true
	}

	files, err := journal.ListFiles(r.cfg.Directory)
	if err != nil {
		return err
	}

	lastApplied := r.ckptPos
	var sinceCheckpoint int
	for _, name := range files {
		path := r.cfg.Directory + "/" + name
		scanner, ok := r.scanners[name]
		if !ok {
			scanner = journal.NewScanner(path)
			r.scanners[name] = scanner
		}

		entries, err := scanner.Scan()
		if err != nil {
			return fmt.Errorf("scanning %s: %w", name, err)
		}
		for _, entry := range entries {
			if entry.Position.Compare(r.ckptPos) <= 0 {
				continue // already applied in a prior run, per the persisted checkpoint
			}
			fp := fingerprint(name, entry)
			if r.seen[fp] {
				continue
			}
			if err := dbconn.DBExec(ctx, r.target, r.dbCfg, entry.SQL); err != nil {
				r.logger.Errorf("applying journal entry from %s at %s: %v", name, entry.Position, err)
				continue
			}
			r.seen[fp] = true
			lastApplied = entry.Position
			sinceCheckpoint++
			if sinceCheckpoint >= checkpointAdvanceInterval {
				if err := r.ckpt.Save(ctx, lastApplied); err != nil {
					return fmt.Errorf("advancing checkpoint: %w", err)
				}
				r.ckptPos = lastApplied
				sinceCheckpoint = 0
			}
		}
	}

	if sinceCheckpoint > 0 {
		if err := r.ckpt.Save(ctx, lastApplied); err != nil {
			return fmt.Errorf("advancing checkpoint at end of scan: %w", err)
		}
		r.ckptPos = lastApplied
	}
	return nil
}

func fingerprint(filename string, e journal.Entry) string {
	h := sha256.Sum256([]byte(e.SQL))
	return fmt.Sprintf("%s:%s:%s", filename, e.Position.String(), hex.EncodeToString(h[:8]))
}
