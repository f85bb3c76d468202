package binlog

import "strings"

// systemSchemas are never replicated, regardless of the included-tables
// configuration — they hold server bookkeeping, not application data.
var systemSchemas = map[string]bool{
	"mysql":              true,
	"information_schema": true,
	"performance_schema": true,
	"sys":                true,
}

// Filter decides whether a given schema/table pair should be replicated.
// An empty Tables/BareTables set means "every table in Schemas is
// included".
type Filter struct {
	Schemas    map[string]bool
	Tables     map[string]bool // keys are "schema.table"
	BareTables map[string]bool // keys are bare table names, any schema
}

// NewFilter builds a Filter from the configured included-databases and
// included-tables lists. Table entries may be bare ("orders", matched
// against any included schema, or against every schema when no
// included-databases are configured) or schema-qualified ("shop.orders").
func NewFilter(schemas, tables []string) *Filter {
	f := &Filter{Schemas: make(map[string]bool), Tables: make(map[string]bool), BareTables: make(map[string]bool)}
	for _, s := range schemas {
		f.Schemas[s] = true
	}
	for _, t := range tables {
		if !strings.Contains(t, ".") {
			f.BareTables[t] = true
			continue
		}
		f.Tables[t] = true
	}
	return f
}

// Allows reports whether schema.table should be replicated.
func (f *Filter) Allows(schema, table string) bool {
	if systemSchemas[schema] {
		return false
	}
	if len(f.Schemas) > 0 && !f.Schemas[schema] {
		return false
	}
	if len(f.Tables) == 0 && len(f.BareTables) == 0 {
		return true
	}
	return f.Tables[schema+"."+table] || f.BareTables[table]
}

// AllowsSchema reports whether any table in schema could be replicated,
// used to decide whether a DDL statement against schema is in scope.
func (f *Filter) AllowsSchema(schema string) bool {
	if systemSchemas[schema] {
		return false
	}
	return len(f.Schemas) == 0 || f.Schemas[schema]
}

// IsTransactionControl reports whether query is a bare transaction-control
// statement that canal surfaces as a QueryEvent but that carries no schema
// change to apply.
func IsTransactionControl(query string) bool {
	switch strings.ToUpper(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))) {
	case "BEGIN", "COMMIT", "ROLLBACK":
		return true
	default:
		return false
	}
}
