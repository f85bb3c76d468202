// Package position holds the replication cursor and row-value types shared
// by the snapshot, binlog and journal packages. It exists to collapse what
// would otherwise be two near-duplicate position/value representations (one
// for the live binlog stream, one for the journal format) into a single
// type each component imports.
package position

import (
	"fmt"
	"regexp"
	"strconv"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"
)

// Position identifies a point in a source server's binlog stream. File and
// Pos are always populated (they're what canal gives us on every event);
// GTID is populated only when the server has GTID mode enabled, and is
// treated as the more authoritative of the two when comparing positions
// from the same server.
type Position struct {
	File string
	Pos  uint32
	GTID gomysql.GTIDSet
}

// FromMysqlPosition adapts a go-mysql-org/go-mysql Position into ours.
func FromMysqlPosition(p gomysql.Position) Position {
	return Position{File: p.Name, Pos: p.Pos}
}

// ToMysqlPosition strips the GTID component, for APIs (like canal.RunFrom)
// that want a file+offset position.
func (p Position) ToMysqlPosition() gomysql.Position {
	return gomysql.Position{Name: p.File, Pos: p.Pos}
}

// WithGTID returns a copy of p with its GTID set replaced.
func (p Position) WithGTID(set gomysql.GTIDSet) Position {
	p.GTID = set
	return p
}

func (p Position) String() string {
	if p.GTID != nil {
		return fmt.Sprintf("%s:%d (gtid %s)", p.File, p.Pos, p.GTID.String())
	}
	return fmt.Sprintf("%s:%d", p.File, p.Pos)
}

// IsZero reports whether p has never been set.
func (p Position) IsZero() bool {
	return p.File == "" && p.Pos == 0 && p.GTID == nil
}

var binlogSeq = regexp.MustCompile(`\.(\d+)$`)

// sequenceOf extracts the numeric suffix of a binlog filename, e.g. 123 for
// "mysql-bin.000123". When either file lacks a recognizable suffix, Compare
// falls back to a plain string comparison of the two names.
func sequenceOf(file string) (int64, bool) {
	m := binlogSeq.FindStringSubmatch(file)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Compare returns -1, 0 or 1 if p is before, equal to, or after other.
//
// When both positions carry a GTID set, the GTID comparison is
// authoritative: a.GTID contains b.GTID means a is at or after b. This is
// the fix for the sibling bug in the tagged binlog-position type, which
// compared file+pos first and only fell back to GTID on a tie, so a
// position with a caught-up GTID set but a stale file+pos (possible right
// after a PURGE BINARY LOGS) would incorrectly compare as "behind".
func (p Position) Compare(other Position) int {
	if p.GTID != nil && other.GTID != nil {
		switch {
		case p.GTID.Equal(other.GTID):
			return 0
		case p.GTID.Contain(other.GTID):
			return 1
		case other.GTID.Contain(p.GTID):
			return -1
		}
		// Divergent sets (e.g. different source_ids never seen by the
		// other side) can't be ordered by GTID; fall through to file+pos.
	}

	if p.File == other.File {
		switch {
		case p.Pos < other.Pos:
			return -1
		case p.Pos > other.Pos:
			return 1
		default:
			return 0
		}
	}

	seqA, okA := sequenceOf(p.File)
	seqB, okB := sequenceOf(other.File)
	switch {
	case okA && okB && seqA != seqB:
		if seqA < seqB {
			return -1
		}
		return 1
	case p.File < other.File:
		return -1
	case p.File > other.File:
		return 1
	default:
		return 0
	}
}

// Before reports whether p comes strictly before other.
func (p Position) Before(other Position) bool { return p.Compare(other) < 0 }

// AtOrAfter reports whether p is at or after other, the check used to decide
// whether a checkpointed position has already consumed a given event.
func (p Position) AtOrAfter(other Position) bool { return p.Compare(other) >= 0 }
