package binlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/go-mysql-org/go-mysql/canal"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/siddontang/loggers"

	"github.com/mangoGood/dbmirror/pkg/dbconn"
	"github.com/mangoGood/dbmirror/pkg/position"
	"github.com/mangoGood/dbmirror/pkg/utils"
)

// State is the Client's connection lifecycle.
type State int

const (
	StateStopped State = iota
	StateConnecting
	StateStreaming
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Client streams row and DDL events from a source server's binary log,
// decoding each into an Event and handing it to a Sink.
type Client struct {
	canal.DummyEventHandler
	mu sync.Mutex

	host, user, pass string
	dbCfg            *dbconn.DBConfig
	decoder          *Decoder
	sink             Sink
	logger           loggers.Advanced

	c             *canal.Canal
	state         State
	lastLogFile   string
	err           error
	applyCallback func(Event)
}

// NewClient returns a Client that streams from host (addr:port) using the
// given credentials, decoding through filter and applying through sink.
func NewClient(host, user, pass string, dbCfg *dbconn.DBConfig, filter *Filter, sink Sink, logger loggers.Advanced) *Client {
	return &Client{
		host:    host,
		user:    user,
		pass:    pass,
		dbCfg:   dbCfg,
		decoder: NewDecoder(filter),
		sink:    sink,
		logger:  logger,
	}
}

// OnApply registers a callback invoked after every successfully applied
// event, used by the tail command to save the event's position as the
// checkpoint.
func (c *Client) OnApply(f func(Event)) {
	c.applyCallback = f
}

// State returns the client's current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run starts streaming from startPos and blocks until ctx is cancelled or
// an unrecoverable error occurs.
func (c *Client) Run(ctx context.Context, startPos position.Position) error {
	c.setState(StateConnecting)

	cfg := canal.NewDefaultConfig()
	cfg.Addr = c.host
	cfg.User = c.user
	cfg.Password = c.pass
	cfg.Logger = c.logger
	cfg.Dump.ExecutionPath = "" // rely on the separate snapshot engine, not canal's built-in dump

	if c.dbCfg != nil && c.dbCfg.TLSMode != "" && c.dbCfg.TLSMode != "DISABLED" {
		tlsConfig, err := dbconn.GetTLSConfigForBinlog(c.dbCfg, utils.StripPort(c.host))
		if err != nil {
			return fmt.Errorf("configuring binlog TLS: %w", err)
		}
		cfg.TLSConfig = tlsConfig
	}

	cn, err := canal.NewCanal(cfg)
	if err != nil {
		return fmt.Errorf("creating canal client: %w", err)
	}
	c.c = cn
	c.c.SetEventHandler(c)
	c.lastLogFile = startPos.File

	errCh := make(chan error, 1)
	go func() {
		mysqlPos := startPos.ToMysqlPosition()
		if startPos.GTID != nil {
			errCh <- c.c.StartFromGTID(startPos.GTID)
			return
		}
		errCh <- c.c.RunFrom(mysqlPos)
	}()

	c.setState(StateStreaming)
	select {
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	case err := <-errCh:
		c.setState(StateDisconnected)
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("binlog stream ended: %w", err)
		}
		return nil
	}
}

// Close stops the underlying canal client.
func (c *Client) Close() {
	if c.c != nil {
		c.c.Close()
	}
	c.setState(StateStopped)
}

// SyncedPosition returns canal's current replication position.
func (c *Client) SyncedPosition() position.Position {
	if c.c == nil {
		return position.Position{}
	}
	return position.FromMysqlPosition(c.c.SyncedPosition())
}

// OnRow implements canal.EventHandler: decode and apply one row-change
// event.
func (c *Client) OnRow(e *canal.RowsEvent) error {
	pos := position.Position{File: c.currentLogFile(), Pos: e.Header.LogPos}
	event, ok, err := c.decoder.DecodeRows(e, pos)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return c.apply(event)
}

// OnRotate implements canal.EventHandler: track the current binlog file
// name, since row and query events only carry the position within it.
func (c *Client) OnRotate(header *replication.EventHeader, rotateEvent *replication.RotateEvent) error {
	c.mu.Lock()
	c.lastLogFile = string(rotateEvent.NextLogName)
	c.mu.Unlock()
	return nil
}

// OnDDL implements canal.EventHandler: decode and apply a DDL statement.
func (c *Client) OnDDL(header *replication.EventHeader, nextPos mysql.Position, queryEvent *replication.QueryEvent) error {
	pos := position.FromMysqlPosition(nextPos)
	event, ok, err := c.decoder.DecodeDDL(string(queryEvent.Schema), string(queryEvent.Query), pos)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return c.apply(event)
}

func (c *Client) currentLogFile() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastLogFile
}

func (c *Client) apply(e Event) error {
	if err := c.sink.Apply(context.Background(), e); err != nil {
		c.logger.Errorf("applying %s event on %s: %v", e.Kind, e.TableKey(), err)
		return err
	}
	if c.applyCallback != nil {
		c.applyCallback(e)
	}
	return nil
}

// LastError returns the error that ended the most recent Run call, if any.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

var errNoMasterStatus = errors.New("source returned no rows for SHOW MASTER STATUS; is the binary log enabled?")

// CurrentPosition issues SHOW MASTER STATUS against db to find the position
// a fresh pipeline should start streaming from (immediately before the
// snapshot begins copying rows).
func CurrentPosition(ctx context.Context, db *sql.DB) (position.Position, error) {
	var file, binlogDoDB, binlogIgnoreDB, executedGTIDSet string
	var pos uint32
	row := db.QueryRowContext(ctx, "SHOW MASTER STATUS")
	if err := row.Scan(&file, &pos, &binlogDoDB, &binlogIgnoreDB, &executedGTIDSet); err != nil {
		return position.Position{}, fmt.Errorf("%w: %v", errNoMasterStatus, err)
	}
	p := position.Position{File: file, Pos: pos}
	if executedGTIDSet != "" {
		set, err := mysql.ParseMysqlGTIDSet(executedGTIDSet)
		if err == nil {
			p.GTID = set
		}
	}
	return p, nil
}
