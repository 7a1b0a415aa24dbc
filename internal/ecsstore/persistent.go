package ecsstore

import (
	"encoding/binary"
	"fmt"

	"github.com/kestrel-ecs/rulevm/internal/ids"
	"github.com/kestrel-ecs/rulevm/pkg/store"
)

// PersistentStore is a BadgerDB-backed Store, built on the generic
// key-value engine in internal/storage. Unlike MemStore,
// which recomputes table-sets as entities are added, PersistentStore
// serializes the same table/row/record/set structures as flat byte keys so
// a large fact base can be loaded once and queried across process
// restarts without rebuilding indexes.
//
// A PersistentStore is built with a single write transaction (via
// PersistentBuilder) and thereafter read through one long-lived read
// transaction, matching BadgerDB's snapshot-isolation model: the store's
// view is fixed at the moment the builder committed.
type PersistentStore struct {
	storage store.Storage
	txn     store.Transaction
}

// OpenPersistentStore begins a read transaction on an already opened
// storage and returns a read view over its committed contents.
func OpenPersistentStore(storage store.Storage) (*PersistentStore, error) {
	txn, err := storage.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("begin read transaction: %w", err)
	}
	return &PersistentStore{storage: storage, txn: txn}, nil
}

// Close releases the store's read transaction. It does not close the
// underlying storage, which the caller opened and owns.
func (p *PersistentStore) Close() error {
	return p.txn.Rollback()
}

func putTableID(b []byte, t TableID) {
	binary.BigEndian.PutUint32(b, uint32(t))
}

func getTableID(b []byte) TableID {
	return TableID(binary.BigEndian.Uint32(b))
}

func putID(b []byte, id ids.ID) {
	binary.BigEndian.PutUint64(b, uint64(id))
}

func getID(b []byte) ids.ID {
	return ids.ID(binary.BigEndian.Uint64(b))
}

func tableKey(t TableID) []byte {
	b := make([]byte, 4)
	putTableID(b, t)
	return b
}

func entityKey(id ids.ID) []byte {
	b := make([]byte, 8)
	putID(b, id)
	return b
}

func (p *PersistentStore) TableType(t TableID) []ids.ID {
	val, err := p.txn.Get(store.TableTypes, tableKey(t))
	if err != nil {
		return nil
	}
	return decodeIDList(val)
}

func (p *PersistentStore) TableRows(t TableID) []ids.ID {
	val, err := p.txn.Get(store.TableRows, tableKey(t))
	if err != nil {
		return nil
	}
	return decodeIDList(val)
}

func (p *PersistentStore) TableCount(t TableID) int {
	return len(p.TableRows(t))
}

func (p *PersistentStore) RecordOf(entity ids.ID) (Record, bool) {
	val, err := p.txn.Get(store.TableRecords, entityKey(entity))
	if err != nil {
		return Record{}, false
	}
	return Record{
		Table: getTableID(val[0:4]),
		Row:   int(binary.BigEndian.Uint32(val[4:8])),
	}, true
}

func (p *PersistentStore) HasMarker(id ids.ID, marker ids.ID) bool {
	key := make([]byte, 16)
	putID(key[0:8], marker)
	putID(key[8:16], id)
	_, err := p.txn.Get(store.TableMarkers, key)
	return err == nil
}

func (p *PersistentStore) TableSetLookup(id ids.ID) (*TableSet, bool) {
	val, err := p.txn.Get(store.TableSets, entityKey(id))
	if err != nil {
		return nil, false
	}
	ts := &TableSet{}
	for i := 0; i+8 <= len(val); i += 8 {
		ts.append(TableRecord{
			Table:       getTableID(val[i : i+4]),
			FirstColumn: int(binary.BigEndian.Uint32(val[i+4 : i+8])),
		})
	}
	return ts, true
}

func decodeIDList(val []byte) []ids.ID {
	out := make([]ids.ID, 0, len(val)/8)
	for i := 0; i+8 <= len(val); i += 8 {
		out = append(out, getID(val[i:i+8]))
	}
	return out
}

// PersistentBuilder accumulates table/row/record/set state in memory (via
// an embedded MemStore, reusing its table-reuse and indexing logic) and
// flushes it into a BadgerDB write transaction in one Commit call. This
// keeps the index-construction logic — which table an entity belongs to,
// which table-sets a column participates in — in one place (MemStore)
// rather than duplicated against BadgerDB semantics.
type PersistentBuilder struct {
	mem *MemStore
}

// NewPersistentBuilder creates a builder over an empty in-memory staging
// store.
func NewPersistentBuilder(registry *Registry) *PersistentBuilder {
	return &PersistentBuilder{mem: NewMemStore(registry)}
}

// AddEntity stages an entity's component set, exactly as MemStore.AddEntity.
func (b *PersistentBuilder) AddEntity(entity ids.ID, componentIDs ...ids.ID) {
	b.mem.AddEntity(entity, componentIDs...)
}

// SetMarker stages a predicate marker, exactly as MemStore.SetMarker.
func (b *PersistentBuilder) SetMarker(id ids.ID, marker ids.ID) {
	b.mem.SetMarker(id, marker)
}

// Commit writes the staged store into storage as a single write
// transaction.
func (b *PersistentBuilder) Commit(storage store.Storage) error {
	txn, err := storage.Begin(true)
	if err != nil {
		return fmt.Errorf("begin write transaction: %w", err)
	}

	if err := b.flush(txn); err != nil {
		_ = txn.Rollback()
		return err
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return storage.Sync()
}

func (b *PersistentBuilder) flush(txn store.Transaction) error {
	for tid, typ := range b.mem.typeOf {
		if err := txn.Set(store.TableTypes, tableKey(tid), encodeIDList(typ)); err != nil {
			return err
		}
	}
	for tid, rows := range b.mem.rowsOf {
		if err := txn.Set(store.TableRows, tableKey(tid), encodeIDList(rows)); err != nil {
			return err
		}
	}
	for entity, rec := range b.mem.recordOf {
		val := make([]byte, 8)
		putTableID(val[0:4], rec.Table)
		binary.BigEndian.PutUint32(val[4:8], uint32(rec.Row))
		if err := txn.Set(store.TableRecords, entityKey(entity), val); err != nil {
			return err
		}
	}
	for key, ts := range b.mem.sets {
		val := make([]byte, 0, ts.Count()*8)
		for i := 0; i < ts.Count(); i++ {
			rec := ts.Get(i)
			entry := make([]byte, 8)
			putTableID(entry[0:4], rec.Table)
			binary.BigEndian.PutUint32(entry[4:8], uint32(rec.FirstColumn))
			val = append(val, entry...)
		}
		if err := txn.Set(store.TableSets, entityKey(key), val); err != nil {
			return err
		}
	}
	for marker, ids := range b.mem.markers {
		for id := range ids {
			key := make([]byte, 16)
			putID(key[0:8], marker)
			putID(key[8:16], id)
			if err := txn.Set(store.TableMarkers, key, []byte{1}); err != nil {
				return err
			}
		}
	}
	return nil
}

func encodeIDList(idList []ids.ID) []byte {
	out := make([]byte, 0, len(idList)*8)
	for _, id := range idList {
		b := make([]byte, 8)
		putID(b, id)
		out = append(out, b...)
	}
	return out
}
