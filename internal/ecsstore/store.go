// Package ecsstore implements the store side of the rule solver: table-set
// lookup, table type/row access, entity records and predicate markers. Two
// implementations are provided: MemStore, an in-memory map-backed store for
// tests and small fact files, and PersistentStore, a BadgerDB-backed store
// built on the generic key-value engine in internal/storage.
package ecsstore

import "github.com/kestrel-ecs/rulevm/internal/ids"

// TableID identifies a table (a group of entities sharing one type). Table
// ids are assigned sequentially as tables are created; they are never
// entity ids and never appear in a Pair.
type TableID uint32

// TableRecord pairs a table with the first column in its type that
// satisfies some keyed id — the unit of membership in a TableSet, per the
// GLOSSARY's "Table-record" entry.
type TableRecord struct {
	Table       TableID
	FirstColumn int
}

// TableSet is the ordered set of table records containing a given id,
// keyed including wildcard forms (e.g. pair(pred, Wildcard)). Iteration
// order is table insertion order, which is what makes enumeration order
// deterministic across runs.
type TableSet struct {
	records []TableRecord
	byTable map[TableID]int
}

// Count returns the number of table records in the set.
func (ts *TableSet) Count() int {
	if ts == nil {
		return 0
	}
	return len(ts.records)
}

// Get returns the i-th table record in insertion order.
func (ts *TableSet) Get(i int) TableRecord {
	return ts.records[i]
}

// GetByTableID returns the table record for a specific table, in O(1), if
// that table is a member of the set.
func (ts *TableSet) GetByTableID(tid TableID) (TableRecord, bool) {
	if ts == nil {
		return TableRecord{}, false
	}
	i, ok := ts.byTable[tid]
	if !ok {
		return TableRecord{}, false
	}
	return ts.records[i], true
}

func (ts *TableSet) append(rec TableRecord) {
	if ts.byTable == nil {
		ts.byTable = make(map[TableID]int)
	}
	ts.byTable[rec.Table] = len(ts.records)
	ts.records = append(ts.records, rec)
}

// Record locates an entity within the store: the table it belongs to and
// its row within that table.
type Record struct {
	Table TableID
	Row   int
}

// Store is the read-side interface the compiler/vm depend on. MemStore and
// PersistentStore both implement it.
type Store interface {
	// TableSetLookup returns the table-set for id, which may be a bare id,
	// a fully-specified pair, or a pair with a Wildcard lane.
	TableSetLookup(id ids.ID) (*TableSet, bool)

	// TableType returns the sorted type (id sequence) of a table.
	TableType(t TableID) []ids.ID

	// TableCount returns the number of rows (entities) in a table.
	TableCount(t TableID) int

	// TableRows returns the entity ids of a table, in row order.
	TableRows(t TableID) []ids.ID

	// RecordOf returns the table/row location of an entity, if it exists.
	RecordOf(entity ids.ID) (Record, bool)

	// HasMarker reports whether id carries marker (e.g. the Transitive
	// marker on a predicate).
	HasMarker(id ids.ID, marker ids.ID) bool
}

// Transitive is the well-known marker id that flags a predicate as
// transitive. It is a reserved predicate id distinct from any
// user-registered name.
var Transitive = ids.ID(1)
