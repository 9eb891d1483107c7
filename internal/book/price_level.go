package book

// InvariantChecks enables aggregate-consistency panics on caller contract
// violations (quantity or order count driven negative). Tests switch it on.
var InvariantChecks = false

// PriceLevel aggregates all orders resting at one price. The ranked order
// queue is intrusive (Order.next/prev) and ordered by ascending rank, rank
// being the venue-assigned priority tie-break.
//
// Aggregate invariant: Qty and NOrders equal the sums over the queued
// orders whenever the level is order-backed. Levels fed by L2 updates carry
// aggregates only.
type PriceLevel struct {
	Side     Side
	Price    int64
	Qty      int64
	NOrders  int64
	LastTime int64
	Flags    uint32

	head, tail *Order
}

// Update applies either an absolute snapshot (delta=false) or an
// incremental correction (delta=true) to the level aggregates and returns
// the realized deltas. Negative outcomes are a caller contract violation:
// the level does not correct them.
func (l *PriceLevel) Update(ts int64, delta bool, qty, nOrders int64, flags uint32) (dQty, dOrders int64) {
	if delta {
		dQty, dOrders = qty, nOrders
		l.Qty += qty
		l.NOrders += nOrders
	} else {
		dQty = qty - l.Qty
		dOrders = nOrders - l.NOrders
		l.Qty = qty
		l.NOrders = nOrders
	}
	l.LastTime = ts
	l.Flags = flags
	if InvariantChecks && (l.Qty < 0 || l.NOrders < 0) {
		panic("book: price level driven negative")
	}
	return dQty, dOrders
}

// AddOrder inserts o into the ranked queue and grows the aggregates.
func (l *PriceLevel) AddOrder(o *Order) {
	// Walk from the tail; feeds deliver ranks mostly in order.
	at := l.tail
	for at != nil && at.Rank > o.Rank {
		at = at.prev
	}
	if at == nil {
		o.next = l.head
		if l.head != nil {
			l.head.prev = o
		} else {
			l.tail = o
		}
		l.head = o
	} else {
		o.prev = at
		o.next = at.next
		if at.next != nil {
			at.next.prev = o
		} else {
			l.tail = o
		}
		at.next = o
	}
	o.level = l
	l.Qty += o.Qty
	l.NOrders++
}

// DelOrder unlinks o and shrinks the aggregates.
func (l *PriceLevel) DelOrder(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		l.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		l.tail = o.prev
	}
	o.next, o.prev, o.level = nil, nil, nil
	l.Qty -= o.Qty
	l.NOrders--
	if InvariantChecks && (l.Qty < 0 || l.NOrders < 0) {
		panic("book: price level driven negative")
	}
}

// Reset empties the level, invoking onOrderDeleted once per queued order
// before clearing the aggregates.
func (l *PriceLevel) Reset(ts int64, onOrderDeleted func(*Order)) {
	for o := l.head; o != nil; {
		next := o.next
		o.next, o.prev, o.level = nil, nil, nil
		if onOrderDeleted != nil {
			onOrderDeleted(o)
		}
		o = next
	}
	l.head, l.tail = nil, nil
	l.Qty, l.NOrders = 0, 0
	l.LastTime = ts
}

// Match consumes resting orders in rank order up to qty. fill is invoked
// per execution with (price, fill qty, contra order); returning true stops
// the walk early. Fully consumed orders are removed via onOrderDeleted so
// the owning index can drop them. Returns the quantity consumed.
func (l *PriceLevel) Match(qty int64, fill func(px, qty int64, contra *Order) bool, onOrderDeleted func(*Order)) (filled int64, stopped bool) {
	for o := l.head; o != nil && qty > 0; {
		next := o.next
		take := qty
		if o.Qty < take {
			take = o.Qty
		}
		o.Qty -= take
		l.Qty -= take
		qty -= take
		filled += take
		done := o.Qty == 0
		if done {
			l.DelOrder(o)
			if onOrderDeleted != nil {
				onOrderDeleted(o)
			}
		}
		if fill != nil && fill(l.Price, take, o) {
			return filled, true
		}
		o = next
	}
	return filled, false
}

// Orders walks the ranked queue in priority order.
func (l *PriceLevel) Orders(fn func(*Order) bool) {
	for o := l.head; o != nil; o = o.next {
		if !fn(o) {
			return
		}
	}
}

// Empty reports whether the level has no aggregate quantity left.
func (l *PriceLevel) Empty() bool { return l.Qty == 0 }
