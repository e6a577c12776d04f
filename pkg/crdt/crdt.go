package crdt

import (
	"encoding/json"
	"fmt"
)

// Dot uniquely identifies each event appended by a replica.
type Dot struct {
	NodeID  string `json:"node_id"`
	Counter int64  `json:"counter"`
}

// String provides a map key for Dot.
func (d Dot) String() string {
	return fmt.Sprintf("%s#%d", d.NodeID, d.Counter)
}

// VectorClock holds the highest continuous counter per node.
type VectorClock map[string]int64

// Clone returns an independent copy of the clock.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for n, c := range vc {
		out[n] = c
	}
	return out
}

// Covers returns true if the dot falls inside the continuous prefix of the clock.
func (vc VectorClock) Covers(d Dot) bool {
	return vc[d.NodeID] >= d.Counter
}

// DotCloud holds all dots that fall outside the continuous prefix.
// Using bool instead of struct{} for JSON serialization compatibility
type DotCloud map[Dot]bool

// DotContext combines a VectorClock and a DotCloud,
// and can be compacted to keep metadata minimal.
type DotContext struct {
	Clock    VectorClock
	DotCloud DotCloud
}

// MarshalJSON converts the internal DotCloud map into a slice for JSON.
func (ctx DotContext) MarshalJSON() ([]byte, error) {
	cloud := make([]Dot, 0, len(ctx.DotCloud))
	for d := range ctx.DotCloud {
		cloud = append(cloud, d)
	}
	alias := struct {
		Clock    VectorClock `json:"clock"`
		DotCloud []Dot       `json:"dot_cloud"`
	}{
		Clock:    ctx.Clock,
		DotCloud: cloud,
	}
	return json.Marshal(alias)
}

// UnmarshalJSON rebuilds DotCloud map from a slice.
func (ctx *DotContext) UnmarshalJSON(data []byte) error {
	alias := struct {
		Clock    VectorClock `json:"clock"`
		DotCloud []Dot       `json:"dot_cloud"`
	}{
		Clock: make(VectorClock),
	}
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	ctx.Clock = alias.Clock
	if ctx.Clock == nil {
		ctx.Clock = make(VectorClock)
	}
	ctx.DotCloud = make(DotCloud, len(alias.DotCloud))
	for _, d := range alias.DotCloud {
		ctx.DotCloud[d] = true
	}
	return nil
}

// NewDotContext creates an empty DotContext.
func NewDotContext() *DotContext {
	return &DotContext{
		Clock:    make(VectorClock),
		DotCloud: make(DotCloud),
	}
}

// Contains returns true if the dot is known in either the clock or the cloud.
func (ctx *DotContext) Contains(d Dot) bool {
	if ctx.Clock.Covers(d) {
		return true
	}
	return ctx.DotCloud[d]
}

// NextDot advances the local clock for nodeID and returns a fresh dot.
func (ctx *DotContext) NextDot(nodeID string) Dot {
	next := ctx.Clock[nodeID] + 1
	ctx.Clock[nodeID] = next
	return Dot{NodeID: nodeID, Counter: next}
}

// Add records a dot observed from any replica. It returns false when the dot
// was already known.
func (ctx *DotContext) Add(d Dot) bool {
	if ctx.Contains(d) {
		return false
	}
	if d.Counter == ctx.Clock[d.NodeID]+1 {
		ctx.Clock[d.NodeID] = d.Counter
		// the new prefix may now reach dots parked in the cloud
		ctx.compact()
		return true
	}
	ctx.DotCloud[d] = true
	return true
}

// Merge combines another DotContext into this one and compacts.
func (ctx *DotContext) Merge(other *DotContext) {
	for n, c := range other.Clock {
		if c > ctx.Clock[n] {
			ctx.Clock[n] = c
		}
	}
	for d := range other.DotCloud {
		ctx.DotCloud[d] = true
	}
	ctx.compact()
}

// Clone returns a deep copy of the context.
func (ctx *DotContext) Clone() *DotContext {
	out := &DotContext{
		Clock:    ctx.Clock.Clone(),
		DotCloud: make(DotCloud, len(ctx.DotCloud)),
	}
	for d := range ctx.DotCloud {
		out.DotCloud[d] = true
	}
	return out
}

// compact folds any dots that are now continuous into the clock,
// and removes any that are already covered by the clock.
func (ctx *DotContext) compact() {
	for changed := true; changed; {
		changed = false
		for d := range ctx.DotCloud {
			maxCont := ctx.Clock[d.NodeID]
			switch {
			case d.Counter == maxCont+1:
				ctx.Clock[d.NodeID] = d.Counter
				delete(ctx.DotCloud, d)
				changed = true
			case d.Counter <= maxCont:
				delete(ctx.DotCloud, d)
			}
		}
	}
}

// -----------------------------------------------------------------------
// GrowMap is a grow-only map where the first value stored under a key wins.
// Keys are never removed and values are never replaced, so merging replicas
// in any order converges on the same key set. Not safe for concurrent use;
// callers guard it with their own lock.
type GrowMap[K comparable, V any] struct {
	entries map[K]V
	order   []K
}

// NewGrowMap creates an empty GrowMap.
func NewGrowMap[K comparable, V any]() *GrowMap[K, V] {
	return &GrowMap[K, V]{
		entries: make(map[K]V),
	}
}

// Get returns the value stored under k.
func (m *GrowMap[K, V]) Get(k K) (V, bool) {
	v, ok := m.entries[k]
	return v, ok
}

// PutIfAbsent stores v under k unless k is already present. It returns the
// value held after the call and whether v was the one stored.
func (m *GrowMap[K, V]) PutIfAbsent(k K, v V) (V, bool) {
	if existing, ok := m.entries[k]; ok {
		return existing, false
	}
	m.entries[k] = v
	m.order = append(m.order, k)
	return v, true
}

// Merge adds every key of other that this map lacks and returns those keys
// in other's insertion order.
func (m *GrowMap[K, V]) Merge(other *GrowMap[K, V]) []K {
	var added []K
	for _, k := range other.order {
		if _, inserted := m.PutIfAbsent(k, other.entries[k]); inserted {
			added = append(added, k)
		}
	}
	return added
}

// Len returns the number of keys.
func (m *GrowMap[K, V]) Len() int {
	return len(m.entries)
}

// Keys returns the keys in insertion order.
func (m *GrowMap[K, V]) Keys() []K {
	out := make([]K, len(m.order))
	copy(out, m.order)
	return out
}

// Range calls fn for each entry in insertion order starting at index from,
// stopping early if fn returns false.
func (m *GrowMap[K, V]) Range(from int, fn func(K, V) bool) {
	if from < 0 {
		from = 0
	}
	for _, k := range m.order[min(from, len(m.order)):] {
		if !fn(k, m.entries[k]) {
			return
		}
	}
}
