package shard

import (
	"BookEngine/internal/book"
)

// IDScope is a venue's order-ID uniqueness contract.
type IDScope uint8

const (
	// ScopeVenue: IDs are unique across the whole venue.
	ScopeVenue IDScope = iota
	// ScopeOrderBook: IDs are unique within one book.
	ScopeOrderBook
	// ScopeOBSide: IDs are unique within one side of one book.
	ScopeOBSide
)

func (s IDScope) String() string {
	switch s {
	case ScopeVenue:
		return "venue"
	case ScopeOrderBook:
		return "orderbook"
	default:
		return "obside"
	}
}

type indexKey struct {
	bk    book.Key
	side  book.Side
	sided bool
	id    string
}

// OrderIndex is a venue's shard-owned order lookup, keyed according to the
// venue's configured ID scope. Only the owning shard's goroutine touches
// it; no locking.
type OrderIndex struct {
	scope  IDScope
	orders map[indexKey]*book.Order
}

func NewOrderIndex(scope IDScope) *OrderIndex {
	return &OrderIndex{scope: scope, orders: make(map[indexKey]*book.Order)}
}

// Scope returns the configured uniqueness scope.
func (ix *OrderIndex) Scope() IDScope { return ix.scope }

// Len returns the number of live orders.
func (ix *OrderIndex) Len() int { return len(ix.orders) }

func (ix *OrderIndex) key(b *book.OrderBook, side book.Side, id string) indexKey {
	switch ix.scope {
	case ScopeVenue:
		return indexKey{id: id}
	case ScopeOrderBook:
		return indexKey{bk: b.Key, id: id}
	default:
		return indexKey{bk: b.Key, side: side, sided: true, id: id}
	}
}

func (ix *OrderIndex) FindOrder(b *book.OrderBook, side book.Side, id string) *book.Order {
	return ix.orders[ix.key(b, side, id)]
}

func (ix *OrderIndex) InsertOrder(b *book.OrderBook, side book.Side, id string, o *book.Order) {
	ix.orders[ix.key(b, side, id)] = o
}

func (ix *OrderIndex) RemoveOrder(b *book.OrderBook, side book.Side, id string) {
	delete(ix.orders, ix.key(b, side, id))
}

// Orders walks every live order.
func (ix *OrderIndex) Orders(fn func(*book.Order) bool) {
	for _, o := range ix.orders {
		if !fn(o) {
			return
		}
	}
}
