package state

import (
	"log"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/heitortanoue/gridclaim/pkg/crdt"
	"github.com/heitortanoue/gridclaim/pkg/grid"
)

// Claim records that a cell was visited. It is created once per CellID and
// never mutated afterwards.
type Claim struct {
	CellID          grid.CellID `json:"cell_id"`
	Color           string      `json:"color"`
	Origin          string      `json:"origin"`           // replica that first reported the cell
	OriginTimestamp int64       `json:"origin_timestamp"` // informational only, never used to order claims
	Geometry        grid.Ring   `json:"geometry"`
}

func (c Claim) clone() Claim {
	c.Geometry = c.Geometry.Clone()
	return c
}

// InsertOutcome is the result of TryInsert.
type InsertOutcome int

const (
	Inserted InsertOutcome = iota + 1
	AlreadyPresent
)

func (o InsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case AlreadyPresent:
		return "already_present"
	default:
		return "unknown"
	}
}

// InsertResult carries the outcome and, when Inserted, the accepted claim.
type InsertResult struct {
	Outcome InsertOutcome
	Claim   Claim
}

// ClaimSet is the replica's authoritative, append-only collection of claims.
// Local motion and remote sync both insert through TryInsert, which is atomic:
// exactly one caller per CellID observes Inserted.
type ClaimSet struct {
	replicaID string

	// first-wins map CellID -> Claim
	claims *crdt.GrowMap[grid.CellID, Claim]

	// existence set for duplicate tests, always the same size as claims
	seen mapset.Set[grid.CellID]

	// Concurrency control
	mutex sync.RWMutex
}

// NewClaimSet creates an empty claim set owned by replicaID.
func NewClaimSet(replicaID string) *ClaimSet {
	return &ClaimSet{
		replicaID: replicaID,
		claims:    crdt.NewGrowMap[grid.CellID, Claim](),
		seen:      mapset.NewThreadUnsafeSet[grid.CellID](),
	}
}

// Contains reports whether the cell has been claimed by any replica.
func (cs *ClaimSet) Contains(id grid.CellID) bool {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	return cs.seen.Contains(id)
}

// TryInsert stores the claim unless its cell is already claimed. The whole
// claim becomes visible at once; readers never observe partial fields.
func (cs *ClaimSet) TryInsert(claim Claim) InsertResult {
	claim = claim.clone()

	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	if !cs.seen.Add(claim.CellID) {
		return InsertResult{Outcome: AlreadyPresent}
	}
	cs.claims.PutIfAbsent(claim.CellID, claim)

	return InsertResult{Outcome: Inserted, Claim: claim.clone()}
}

// Get returns a copy of the claim stored for a cell.
func (cs *ClaimSet) Get(id grid.CellID) (Claim, bool) {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	c, ok := cs.claims.Get(id)
	if !ok {
		return Claim{}, false
	}
	return c.clone(), true
}

// Snapshot returns copies of every claim in acceptance order. The lock is held
// only while copying.
func (cs *ClaimSet) Snapshot() []Claim {
	return cs.Since(0)
}

// Since returns the claims accepted after the first n, in acceptance order,
// so that consumers can follow the set incrementally.
func (cs *ClaimSet) Since(n int) []Claim {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	out := make([]Claim, 0, max(cs.claims.Len()-n, 0))
	cs.claims.Range(n, func(_ grid.CellID, c Claim) bool {
		out = append(out, c.clone())
		return true
	})
	return out
}

// Size returns the number of distinct claimed cells.
func (cs *ClaimSet) Size() int {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	return cs.seen.Cardinality()
}

// Merge inserts a batch of claims (bulk recovery) and returns the ones that
// were newly accepted.
func (cs *ClaimSet) Merge(claims []Claim) []Claim {
	var accepted []Claim
	for _, c := range claims {
		if res := cs.TryInsert(c); res.Outcome == Inserted {
			accepted = append(accepted, res.Claim)
		}
	}

	if len(accepted) > 0 {
		log.Printf("[STATE] Merged %d/%d claims", len(accepted), len(claims))
	}
	return accepted
}

// GetStats returns statistics about the claim set
func (cs *ClaimSet) GetStats() map[string]interface{} {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	local := 0
	cs.claims.Range(0, func(_ grid.CellID, c Claim) bool {
		if c.Origin == cs.replicaID {
			local++
		}
		return true
	})

	return map[string]interface{}{
		"replica_id":     cs.replicaID,
		"claimed_cells":  cs.seen.Cardinality(),
		"local_claims":   local,
		"foreign_claims": cs.claims.Len() - local,
	}
}

// GetReplicaID returns the owning replica ID
func (cs *ClaimSet) GetReplicaID() string {
	return cs.replicaID
}
