package io

import "context"

// Table is the in-memory form of one tabular input source. Rows are maps
// keyed by column name; a missing key means the cell was absent, which
// downstream treats as null.
type Table struct {
	Columns []string
	Rows    []map[string]interface{}
}

// HasColumn reports whether the table exposes the named column.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// InputReader reads tabular data from a source file. Implementations must
// expose column names so structural validation can run before any row is
// processed.
type InputReader interface {
	Read(path string) (*Table, error)
}

// RecordPersister is the storage gateway consumed by the import
// orchestrator. BulkUpsert must deduplicate its own input by the conflict
// columns before writing, and apply insert-or-update-on-conflict semantics
// where conflict means equality on all conflict columns.
type RecordPersister interface {
	BulkUpsert(ctx context.Context, table string, records []map[string]interface{}, conflictColumns []string) error
}

// LookupStore resolves dimension-table values (item names, brands) to
// surrogate ids, creating the row when it does not exist yet.
type LookupStore interface {
	GetOrCreateID(ctx context.Context, table, column, value string) (string, error)
}
