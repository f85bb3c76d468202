package position

import (
	"testing"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/stretchr/testify/assert"
)

func TestCompareFilePos(t *testing.T) {
	a := Position{File: "mysql-bin.000001", Pos: 100}
	b := Position{File: "mysql-bin.000001", Pos: 200}
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
}

func TestCompareAcrossRotatedFiles(t *testing.T) {
	a := Position{File: "mysql-bin.000001", Pos: 900}
	b := Position{File: "mysql-bin.000002", Pos: 4}
	assert.Equal(t, -1, a.Compare(b))
	assert.True(t, a.Before(b))
	assert.False(t, a.AtOrAfter(b))
}

func TestCompareGTIDAuthoritativeOverStaleFilePos(t *testing.T) {
	setA, err := gomysql.ParseMysqlGTIDSet("3e11fa47-71ca-11e1-9e33-c80aa9429562:1-10")
	assert.NoError(t, err)
	setB, err := gomysql.ParseMysqlGTIDSet("3e11fa47-71ca-11e1-9e33-c80aa9429562:1-20")
	assert.NoError(t, err)

	// a has caught up further in GTID terms even though its file+pos looks
	// behind b's (e.g. right after a PURGE BINARY LOGS rewrote file names).
	a := Position{File: "mysql-bin.000001", Pos: 4, GTID: setB}
	b := Position{File: "mysql-bin.000005", Pos: 900, GTID: setA}
	assert.Equal(t, 1, a.Compare(b))
	assert.True(t, a.AtOrAfter(b))
}

func TestIsZero(t *testing.T) {
	assert.True(t, Position{}.IsZero())
	assert.False(t, Position{File: "mysql-bin.000001"}.IsZero())
}
