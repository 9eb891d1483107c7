package book

// Order is a single resting order (L3 depth). Orders are owned by the
// shard's order index; the price level holds a non-owning ranked queue.
//
// Lifecycle: Unplaced -> Resting -> {Modified|Reduced|Canceled|FullyTraded}
// -> Removed. Terminal states are never reused; re-adding the same external
// ID after removal creates a fresh order.
type Order struct {
	Book  *OrderBook
	Side  Side
	ID    string
	Rank  uint64
	Price int64 // fpmath.PriceUnset for market (no-price) orders
	Qty   int64
	Flags uint32
	Time  int64 // stamp of the last mutation touching this order

	// level is the current price level, nil while unplaced or removed.
	level *PriceLevel

	// ranked queue linkage within the level
	next, prev *Order
}

// Level returns the level the order currently rests at, or nil.
func (o *Order) Level() *PriceLevel { return o.level }

// Resting reports whether the order is attached to a price level.
func (o *Order) Resting() bool { return o.level != nil }
