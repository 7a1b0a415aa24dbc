package ecsstore

import (
	"testing"

	"github.com/kestrel-ecs/rulevm/internal/ids"
)

func newFixture(t *testing.T) (*Registry, *MemStore, ids.ID, ids.ID, ids.ID) {
	t.Helper()
	registry := NewRegistry()
	store := NewMemStore(registry)

	alice, err := registry.Resolve("alice")
	if err != nil {
		t.Fatalf("Resolve(alice): %v", err)
	}
	bob, err := registry.Resolve("bob")
	if err != nil {
		t.Fatalf("Resolve(bob): %v", err)
	}
	likes, err := registry.Resolve("Likes")
	if err != nil {
		t.Fatalf("Resolve(Likes): %v", err)
	}
	return registry, store, alice, bob, likes
}

func TestAddEntityIndexesExactPairKey(t *testing.T) {
	_, store, alice, bob, likes := newFixture(t)

	store.AddEntity(alice, ids.Pair(likes, bob))

	ts, ok := store.TableSetLookup(ids.Pair(likes, bob))
	if !ok || ts.Count() != 1 {
		t.Fatalf("TableSetLookup(exact pair) = %v, %v; want one table", ts, ok)
	}

	rec, ok := store.RecordOf(alice)
	if !ok {
		t.Fatal("RecordOf(alice): not found")
	}
	typ := store.TableType(rec.Table)
	if len(typ) != 1 || typ[0] != ids.Pair(likes, bob) {
		t.Errorf("TableType = %v, want [Pair(likes,bob)]", typ)
	}
}

func TestAddEntityIndexesBothWildcardProjections(t *testing.T) {
	_, store, alice, bob, likes := newFixture(t)
	store.AddEntity(alice, ids.Pair(likes, bob))

	if ts, ok := store.TableSetLookup(ids.Pair(likes, ids.Wildcard)); !ok || ts.Count() != 1 {
		t.Errorf("pred-wildcard lookup = %v, %v; want one table", ts, ok)
	}
	if ts, ok := store.TableSetLookup(ids.Pair(ids.Wildcard, bob)); !ok || ts.Count() != 1 {
		t.Errorf("obj-wildcard lookup = %v, %v; want one table", ts, ok)
	}
}

func TestAddEntityMovesRowOnRetype(t *testing.T) {
	registry, store, alice, bob, likes := newFixture(t)
	food, err := registry.Resolve("Food")
	if err != nil {
		t.Fatalf("Resolve(Food): %v", err)
	}

	store.AddEntity(alice, food)
	firstRec, _ := store.RecordOf(alice)

	store.AddEntity(alice, ids.Pair(likes, bob))
	secondRec, ok := store.RecordOf(alice)
	if !ok {
		t.Fatal("RecordOf(alice) after retype: not found")
	}
	if secondRec.Table == firstRec.Table {
		t.Error("retyping alice should move it to a different table")
	}

	typ := store.TableType(secondRec.Table)
	if len(typ) != 2 {
		t.Fatalf("TableType after retype = %v, want both Food and Pair(likes,bob)", typ)
	}

	// The old table must no longer carry alice as a row.
	if store.TableCount(firstRec.Table) != 0 {
		t.Errorf("TableCount(old table) = %d, want 0", store.TableCount(firstRec.Table))
	}
}

func TestAddEntityReusesTableForIdenticalType(t *testing.T) {
	registry, store, alice, bob, likes := newFixture(t)
	carol, err := registry.Resolve("carol")
	if err != nil {
		t.Fatalf("Resolve(carol): %v", err)
	}

	store.AddEntity(alice, ids.Pair(likes, bob))
	store.AddEntity(carol, ids.Pair(likes, bob))

	recA, _ := store.RecordOf(alice)
	recC, _ := store.RecordOf(carol)
	if recA.Table != recC.Table {
		t.Errorf("two entities with an identical type should share a table: got %d and %d", recA.Table, recC.Table)
	}
	if store.TableCount(recA.Table) != 2 {
		t.Errorf("TableCount = %d, want 2", store.TableCount(recA.Table))
	}
}

func TestSetMarkerAndHasMarker(t *testing.T) {
	registry, store, _, _, _ := newFixture(t)
	childOf, err := registry.Resolve("ChildOf")
	if err != nil {
		t.Fatalf("Resolve(ChildOf): %v", err)
	}

	if store.HasMarker(childOf, Transitive) {
		t.Fatal("ChildOf should not be transitive before SetMarker")
	}
	store.SetMarker(childOf, Transitive)
	if !store.HasMarker(childOf, Transitive) {
		t.Error("ChildOf should be transitive after SetMarker")
	}
}

func TestRegistryResolveIsStable(t *testing.T) {
	registry := NewRegistry()
	a, err := registry.Resolve("alice")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	b, err := registry.Resolve("alice")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a != b {
		t.Errorf("Resolve(alice) twice = %d, %d; want identical ids", a, b)
	}

	name, ok := registry.NameOf(a)
	if !ok || name != "alice" {
		t.Errorf("NameOf(%d) = %q, %v; want \"alice\", true", a, name, ok)
	}
}

func TestRegistryReservesTransitiveMarkerID(t *testing.T) {
	registry := NewRegistry()
	id, ok := registry.Lookup("Transitive")
	if !ok || id != Transitive {
		t.Errorf("Lookup(Transitive) = %d, %v; want the reserved Transitive id", id, ok)
	}
}
