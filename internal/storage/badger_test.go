package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-ecs/rulevm/internal/ecsstore"
	"github.com/kestrel-ecs/rulevm/internal/ids"
)

func TestBadgerStorageRoundTripsThroughPersistentStore(t *testing.T) {
	dbPath := t.TempDir()

	db, err := NewBadgerStorage(dbPath)
	require.NoError(t, err)
	defer db.Close()

	registry := ecsstore.NewRegistry()
	builder := ecsstore.NewPersistentBuilder(registry)

	alice, err := registry.Resolve("alice")
	require.NoError(t, err)
	bob, err := registry.Resolve("bob")
	require.NoError(t, err)
	likes, err := registry.Resolve("Likes")
	require.NoError(t, err)

	builder.AddEntity(alice, ids.Pair(likes, bob))
	require.NoError(t, builder.Commit(db))

	ps, err := ecsstore.OpenPersistentStore(db)
	require.NoError(t, err)
	defer ps.Close()

	rec, ok := ps.RecordOf(alice)
	require.True(t, ok)

	typ := ps.TableType(rec.Table)
	require.Contains(t, typ, ids.Pair(likes, bob))

	ts, ok := ps.TableSetLookup(ids.Pair(likes, bob))
	require.True(t, ok)
	require.Equal(t, 1, ts.Count())
}

func TestBadgerStoragePersistsAcrossReopen(t *testing.T) {
	dbPath := t.TempDir()

	registry := ecsstore.NewRegistry()
	builder := ecsstore.NewPersistentBuilder(registry)
	alice, err := registry.Resolve("alice")
	require.NoError(t, err)
	food, err := registry.Resolve("Food")
	require.NoError(t, err)
	builder.AddEntity(alice, food)

	db, err := NewBadgerStorage(dbPath)
	require.NoError(t, err)
	require.NoError(t, builder.Commit(db))
	require.NoError(t, db.Close())

	reopened, err := NewBadgerStorage(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	ps, err := ecsstore.OpenPersistentStore(reopened)
	require.NoError(t, err)
	defer ps.Close()

	rec, ok := ps.RecordOf(alice)
	require.True(t, ok)
	require.Contains(t, ps.TableType(rec.Table), food)
}
