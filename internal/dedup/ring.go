package dedup

import (
	"github.com/ethereum/go-ethereum/common"
)

// Ring remembers the most recent N transaction hashes in arrival order.
// Membership is only approximate once a hash has aged past capacity.
type Ring struct {
	capacity int
	order    []common.Hash
	members  map[common.Hash]struct{}
}

// NewRing builds a ring holding up to capacity hashes.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Ring{
		capacity: capacity,
		members:  make(map[common.Hash]struct{}, capacity),
	}
}

// Seen reports whether h was already recorded. Unseen hashes are recorded,
// evicting the oldest entry once the ring exceeds capacity.
func (r *Ring) Seen(h common.Hash) bool {
	if _, ok := r.members[h]; ok {
		return true
	}

	r.order = append(r.order, h)
	r.members[h] = struct{}{}
	if len(r.order) > r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.members, oldest)
	}
	return false
}

// Len returns the number of remembered hashes.
func (r *Ring) Len() int {
	return len(r.order)
}
