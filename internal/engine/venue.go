package engine

import (
	"BookEngine/internal/book"
	"BookEngine/internal/shard"
)

// Venue is one registered feed source. Its order-ID scope decides how
// the per-shard order indexes key lookups; the indexes themselves are
// partitioned by shard so only the owning shard goroutine touches each.
type Venue struct {
	ID    book.VenueID
	Scope shard.IDScope

	idx []*shard.OrderIndex
}

func newVenue(id book.VenueID, scope shard.IDScope, shards int) *Venue {
	v := &Venue{ID: id, Scope: scope, idx: make([]*shard.OrderIndex, shards)}
	for i := range v.idx {
		v.idx[i] = shard.NewOrderIndex(scope)
	}
	return v
}

// Index returns the venue's order index for one shard.
func (v *Venue) Index(shardID int) *shard.OrderIndex { return v.idx[shardID] }
