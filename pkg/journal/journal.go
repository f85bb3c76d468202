// Package journal implements the file-journal sink's on-disk format: a
// rolling set of .sql files, each entry preceded by a [POSITION]/[GTID]
// header pair, that a replayer can tail and apply independent of the
// binlog tailer's own lifecycle.
package journal

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"

	"github.com/mangoGood/dbmirror/pkg/position"
)

const maxStatementsPerFile = 10000

const filenamePrefix = "binlog_sql_"

// Entry is one journal record: a statement at a known source position.
type Entry struct {
	Position position.Position
	SQL      string
}

// Writer appends Entries to a rolling set of files under dir, rotating
// every maxStatementsPerFile statements. Append and Close serialize on an
// internal mutex; the binlog tailer calls it from its single callback
// thread, per spec.
type Writer struct {
	dir      string
	mu       sync.Mutex
	file     *os.File
	bufw     *bufio.Writer
	count    int
	nowFunc  func() string
	sequence int
}

// NewWriter returns a Writer appending to dir, which must already exist.
// nowFunc supplies the YYYYMMDD_HHMMSS portion of rotated filenames; tests
// inject a fixed clock, production code passes one derived from time.Now.
func NewWriter(dir string, nowFunc func() string) *Writer {
	return &Writer{dir: dir, nowFunc: nowFunc}
}

// Append writes one entry, flushing immediately for durability-per-statement.
func (w *Writer) Append(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil || w.count >= maxStatementsPerFile {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	gtid := ""
	if e.Position.GTID != nil {
		gtid = e.Position.GTID.String()
	}
	sql := strings.TrimSpace(e.SQL)
	if !strings.HasSuffix(sql, ";") {
		sql += ";"
	}

	if _, err := fmt.Fprintf(w.bufw, "[POSITION] %s:%d\n[GTID] %s\n%s\n\n", e.Position.File, e.Position.Pos, gtid, sql); err != nil {
		return fmt.Errorf("writing journal entry: %w", err)
	}
	if err := w.bufw.Flush(); err != nil {
		return fmt.Errorf("flushing journal entry: %w", err)
	}
	w.count++
	return nil
}

func (w *Writer) rotateLocked() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("closing previous journal file: %w", err)
		}
	}
	w.sequence++
	name := fmt.Sprintf("%s%s_%04d.sql", filenamePrefix, w.nowFunc(), w.sequence)
	f, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening journal file %s: %w", name, err)
	}
	w.file = f
	w.bufw = bufio.NewWriter(f)
	w.count = 0
	return nil
}

// Close flushes and closes the currently open journal file, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	if err := w.bufw.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// ListFiles returns the journal's .sql files in filename order, which is
// also chronological order since the timestamp comes right after the
// fixed "binlog_sql_" prefix.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading journal directory %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// Scanner reads new Entries appended to a journal file since the last
// scan, tracking a byte offset so a rescan only parses the tail.
type Scanner struct {
	path   string
	offset int64
}

// NewScanner returns a Scanner starting at the beginning of path.
func NewScanner(path string) *Scanner {
	return &Scanner{path: path}
}

// Scan reads any bytes appended since the last call and parses complete
// entries out of them. An entry split across scans (the writer appended a
// header but not yet the blank-line terminator) is left unconsumed and
// re-read whole on the next scan.
func (s *Scanner) Scan() ([]Entry, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening journal file %s: %w", s.path, err)
	}
	defer f.Close()

	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking journal file %s: %w", s.path, err)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading journal tail %s: %w", s.path, err)
	}

	entries, consumed, err := parseEntries(data)
	if err != nil {
		return nil, err
	}
	s.offset += consumed
	return entries, nil
}

// parseEntries splits data on blank-line entry terminators, parsing each
// complete block. A trailing block with no terminating blank line is left
// unconsumed (consumed excludes its bytes) so the next scan re-reads it
// once the writer has finished appending it.
func parseEntries(data []byte) (entries []Entry, consumed int64, err error) {
	rest := data
	for {
		idx := bytes.Index(rest, []byte("\n\n"))
		if idx < 0 {
			break
		}
		block := rest[:idx]
		entry, perr := parseBlock(string(block))
		if perr != nil {
			return entries, consumed, perr
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
		advance := int64(idx) + 2
		consumed += advance
		rest = rest[idx+2:]
	}
	return entries, consumed, nil
}

// parseBlock parses one [POSITION]/[GTID]/SQL block. Comment lines ("--")
// and blank lines within the block are ignored per spec.md §6.
func parseBlock(block string) (*Entry, error) {
	var posLine, gtidLine string
	var sqlLines []string
	for _, line := range strings.Split(block, "\n") {
		switch {
		case strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "--"):
			continue
		case strings.HasPrefix(line, "[POSITION]"):
			posLine = strings.TrimSpace(strings.TrimPrefix(line, "[POSITION]"))
		case strings.HasPrefix(line, "[GTID]"):
			gtidLine = strings.TrimSpace(strings.TrimPrefix(line, "[GTID]"))
		default:
			sqlLines = append(sqlLines, line)
		}
	}
	if posLine == "" {
		return nil, nil
	}
	file, posStr, ok := strings.Cut(posLine, ":")
	if !ok {
		return nil, fmt.Errorf("malformed [POSITION] line %q", posLine)
	}
	pos, err := strconv.ParseUint(posStr, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("malformed position offset %q: %w", posStr, err)
	}
	p := position.Position{File: file, Pos: uint32(pos)}
	if gtidLine != "" {
		if set, err := gomysql.ParseMysqlGTIDSet(gtidLine); err == nil {
			p.GTID = set
		}
	}
	return &Entry{Position: p, SQL: strings.Join(sqlLines, "\n")}, nil
}
