package sandbox

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/yndnr/savekeep-go/internal/core/domain"
)

// table is a named map collaborator. Actors, relationships, inventory and
// flags are all tables with different value types.
type table[V any] struct {
	id string
	mu sync.Mutex
	m  map[string]V
}

func newTable[V any](id string) *table[V] {
	return &table[V]{id: id, m: make(map[string]V)}
}

func (t *table[V]) ID() string { return t.id }

func (t *table[V]) get(key string) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.m[key]
	return v, ok
}

func (t *table[V]) update(key string, fn func(V) V) V {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := fn(t.m[key])
	t.m[key] = v
	return v
}

func (t *table[V]) remove(key string) {
	t.mu.Lock()
	delete(t.m, key)
	t.mu.Unlock()
}

// Keys returns the sorted keys.
func (t *table[V]) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.m))
	for k := range t.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t *table[V]) Serialize() (domain.Fragment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return json.Marshal(t.m)
}

func (t *table[V]) Deserialize(frag domain.Fragment) error {
	m := make(map[string]V)
	if err := json.Unmarshal(frag, &m); err != nil {
		return fmt.Errorf("decode %s: %w", t.id, err)
	}
	t.mu.Lock()
	t.m = m
	t.mu.Unlock()
	return nil
}

// ============================================================================
// Actors
// ============================================================================

// Stats are one actor's numbers.
type Stats map[string]int

// Actors holds per-actor stats.
type Actors struct{ *table[Stats] }

// NewActors returns an empty actor table.
func NewActors() *Actors { return &Actors{newTable[Stats]("actors")} }

// Stat returns one stat of one actor.
func (a *Actors) Stat(actor, stat string) int {
	s, _ := a.get(actor)
	return s[stat]
}

// AddStat adds delta to a stat and returns the new value.
func (a *Actors) AddStat(actor, stat string, delta int) int {
	s := a.update(actor, func(s Stats) Stats {
		next := make(Stats, len(s)+1)
		for k, v := range s {
			next[k] = v
		}
		next[stat] += delta
		return next
	})
	return s[stat]
}

// ============================================================================
// Relationships
// ============================================================================

// Relationships holds affinity between pairs of actors. Pairs are
// unordered.
type Relationships struct{ *table[int] }

// NewRelationships returns an empty relationship table.
func NewRelationships() *Relationships { return &Relationships{newTable[int]("relationships")} }

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// Affinity returns the affinity between a and b.
func (r *Relationships) Affinity(a, b string) int {
	v, _ := r.get(pairKey(a, b))
	return v
}

// Bond adds delta to the affinity between a and b.
func (r *Relationships) Bond(a, b string, delta int) int {
	return r.update(pairKey(a, b), func(v int) int { return v + delta })
}

// ============================================================================
// Inventory
// ============================================================================

// Inventory counts items.
type Inventory struct{ *table[int] }

// NewInventory returns an empty inventory.
func NewInventory() *Inventory { return &Inventory{newTable[int]("inventory")} }

// Count returns how many of item are held.
func (i *Inventory) Count(item string) int {
	v, _ := i.get(item)
	return v
}

// Give adds n of item; a negative n takes items away. Counts never drop
// below zero and empty entries are removed.
func (i *Inventory) Give(item string, n int) int {
	v := i.update(item, func(v int) int { return max(v+n, 0) })
	if v == 0 {
		i.remove(item)
	}
	return v
}

// ============================================================================
// Flags
// ============================================================================

// Flags are story switches.
type Flags struct{ *table[bool] }

// NewFlags returns an empty flag set.
func NewFlags() *Flags { return &Flags{newTable[bool]("flags")} }

// Set turns a flag on or off.
func (f *Flags) Set(name string, on bool) {
	if !on {
		f.remove(name)
		return
	}
	f.update(name, func(bool) bool { return true })
}

// IsSet reports whether a flag is on.
func (f *Flags) IsSet(name string) bool {
	v, _ := f.get(name)
	return v
}
