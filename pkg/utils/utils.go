// Package utils contains small utilities shared by every other package.
package utils

import (
	"fmt"
	"io"
	"log"
	"strings"
	"time"
)

const (
	// PrimaryKeySeparator joins composite key values into a single map key.
	PrimaryKeySeparator = "-#-"
)

// HashKey converts a (possibly composite) primary key into a string so it
// can be used as a map key.
func HashKey(key []any) string {
	var pk []string
	for _, v := range key {
		pk = append(pk, fmt.Sprintf("%v", v))
	}
	return strings.Join(pk, PrimaryKeySeparator)
}

// ErrInErr is a wrapper to avoid nesting error handling inside of an
// already-errored path, such as a rollback issued after a failed exec.
func ErrInErr(_ error) {
}

// CloseAndLog closes closer and logs any error, for use in defers where
// the error can't otherwise be propagated.
func CloseAndLog(closer io.Closer) {
	if err := closer.Close(); err != nil {
		log.Printf("error closing %T: %v", closer, err)
	}
}

// StripPort removes a trailing ":port" from a hostname.
func StripPort(hostname string) string {
	if strings.Contains(hostname, ":") {
		return strings.Split(hostname, ":")[0]
	}
	return hostname
}

// TrimAlter removes surrounding whitespace and a trailing semicolon from a
// statement, so it can be safely re-wrapped or logged.
func TrimAlter(stmt string) string {
	return strings.TrimSuffix(strings.TrimSpace(stmt), ";")
}

// ConvertToTimestampString renders t as a compact, sortable
// YYYYMMDDHHMMSSmmm string.
func ConvertToTimestampString(t time.Time) string {
	return fmt.Sprintf("%d%02d%02d%02d%02d%02d%03d", t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/1000000)
}
