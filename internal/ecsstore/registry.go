package ecsstore

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/zeebo/xxh3"

	"github.com/kestrel-ecs/rulevm/internal/ids"
)

// Registry assigns stable 64-bit ids to names and recovers names from ids
// for display. Names are hashed with xxh3 to produce a fixed-size
// lookup key, but the id stored for each name is a small sequential
// counter: Pair's 32/24-bit lanes have no room for a content hash.
type Registry struct {
	mu sync.RWMutex

	next ids.ID // next entity id to allocate, starting at 2 (1 is reserved for Transitive)

	nameToID map[[16]byte]ids.ID
	idToName map[ids.ID]string
}

// NewRegistry creates an empty registry. Id 1 is pre-reserved for the
// Transitive marker so fact files can refer to it by the literal name
// "Transitive" without a prior declaration.
func NewRegistry() *Registry {
	r := &Registry{
		next:     2,
		nameToID: make(map[[16]byte]ids.ID),
		idToName: make(map[ids.ID]string),
	}
	r.idToName[Transitive] = "Transitive"
	r.nameToID[hash128(bytesOf("Transitive"))] = Transitive
	return r
}

func bytesOf(s string) []byte { return []byte(s) }

// hash128 computes the xxh3 128-bit digest of a name, used only as the map
// key so lookups are O(1) regardless of name length.
func hash128(b []byte) [16]byte {
	h := xxh3.Hash128(b)
	var out [16]byte
	binary.BigEndian.PutUint64(out[0:8], h.Hi)
	binary.BigEndian.PutUint64(out[8:16], h.Lo)
	return out
}

// Resolve returns the id for name, registering it with a freshly allocated
// id if it has not been seen before. It satisfies termsyntax.Resolver.
func (r *Registry) Resolve(name string) (ids.ID, error) {
	key := hash128(bytesOf(name))

	r.mu.RLock()
	if id, ok := r.nameToID[key]; ok {
		r.mu.RUnlock()
		return id, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.nameToID[key]; ok {
		return id, nil
	}

	if r.next&ids.LoMask != r.next {
		return 0, fmt.Errorf("registry exhausted: id space overflow")
	}

	id := r.next
	r.next++
	r.nameToID[key] = id
	r.idToName[id] = name
	return id, nil
}

// Lookup returns the id already assigned to name, without registering it.
func (r *Registry) Lookup(name string) (ids.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[hash128(bytesOf(name))]
	return id, ok
}

// NameOf returns the name registered for id, if any. Used by the CLI to
// print human-readable results; Rule.String() disassembly prints raw ids.
func (r *Registry) NameOf(id ids.ID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.idToName[id]
	return name, ok
}
