package book

import (
	"fmt"

	fpmath "BookEngine/internal/math"
)

// ErrOrderNotFound marks recoverable order-lookup failures. They surface
// through the sink's error slot; the triggering call is a no-op.
var ErrOrderNotFound = fmt.Errorf("order not found")

// OrderBook is one instrument's book on one venue/segment. It owns both
// sides, the L1 summary, and fan-out: every mutation notifies the sink and
// propagates realized deltas to the consolidated sibling when one exists.
type OrderBook struct {
	Key  Key
	Legs []Leg

	TickTbl *TickSizeTbl
	Lots    LotSizes

	PxCfg  fpmath.DecimalConfig
	QtyCfg fpmath.DecimalConfig
	NtlCfg fpmath.DecimalConfig

	L1   L1Data
	Bids *BookSide
	Asks *BookSide

	consolidated *OrderBook
	// consolidatedExec posts propagation onto the consolidated book's
	// owning shard; nil applies it inline.
	consolidatedExec func(func())

	sink EventSink
	idx  OrderIndex

	// legBooks resolves constituent books for combination matching.
	legBooks func(Leg) *OrderBook
}

// NewOrderBook constructs a book with a no-op sink and a local
// per-book-per-side order index. The façade swaps both in when the book is
// registered.
func NewOrderBook(key Key, tickTbl *TickSizeTbl, lots LotSizes, pxCfg, qtyCfg, ntlCfg fpmath.DecimalConfig) *OrderBook {
	b := &OrderBook{
		Key:     key,
		TickTbl: tickTbl,
		Lots:    lots,
		PxCfg:   pxCfg,
		QtyCfg:  qtyCfg,
		NtlCfg:  ntlCfg,
		L1:      UnsetL1(),
		sink:    NopSink{},
		idx:     make(localIndex),
	}
	b.Bids = newBookSide(Buy, pxCfg, qtyCfg, ntlCfg)
	b.Asks = newBookSide(Sell, pxCfg, qtyCfg, ntlCfg)
	return b
}

// Side returns the requested book side.
func (b *OrderBook) Side(s Side) *BookSide {
	if s == Buy {
		return b.Bids
	}
	return b.Asks
}

// SetSink installs the notification target. Never pass nil; use NopSink.
func (b *OrderBook) SetSink(s EventSink) { b.sink = s }

// SetIndex installs the shard-owned order index.
func (b *OrderBook) SetIndex(idx OrderIndex) { b.idx = idx }

// SetLegs installs combination metadata and the constituent-book resolver.
func (b *OrderBook) SetLegs(legs []Leg, resolve func(Leg) *OrderBook) {
	b.Legs = legs
	b.legBooks = resolve
}

// SetConsolidated wires the shared consolidated sibling. exec posts
// propagated deltas onto the consolidated book's shard; nil runs inline.
func (b *OrderBook) SetConsolidated(c *OrderBook, exec func(func())) {
	b.consolidated = c
	b.consolidatedExec = exec
}

// Consolidated returns the shared consolidated book, nil when the
// instrument trades on fewer than two venues.
func (b *OrderBook) Consolidated() *OrderBook { return b.consolidated }

// IsConsolidated reports whether this book is itself the consolidated
// aggregation point.
func (b *OrderBook) IsConsolidated() bool { return b.Key.IsConsolidated() }

// MergeL1 folds a venue L1 update into the summary and notifies on change.
func (b *OrderBook) MergeL1(in L1Data) uint32 {
	changed := b.L1.Merge(in)
	if changed != 0 {
		b.sink.L1Updated(b, changed, false)
	}
	return changed
}

// L2 signals an L2 tick. With updateL1 it first recomputes the best
// bid/ask from the sides, emitting an L1 delta only for fields that moved.
func (b *OrderBook) L2(ts int64, updateL1 bool) {
	if updateL1 {
		if changed := b.refreshTopOfBook(ts); changed != 0 {
			b.sink.L1Updated(b, changed, false)
		}
	}
	b.sink.L2Updated(b, ts)
}

func (b *OrderBook) refreshTopOfBook(ts int64) uint32 {
	var changed uint32
	b.refreshSideTop(b.Bids.BestLevel(), &b.L1.Bid, &b.L1.BidQty, L1Bid, L1BidQty, &changed)
	b.refreshSideTop(b.Asks.BestLevel(), &b.L1.Ask, &b.L1.AskQty, L1Ask, L1AskQty, &changed)
	if changed != 0 {
		b.L1.Stamp = ts
	}
	return changed
}

func (b *OrderBook) refreshSideTop(best *PriceLevel, px, qty *int64, pxBit, qtyBit uint32, changed *uint32) {
	bestPx, bestQty := fpmath.PriceUnset, fpmath.QtyUnset
	if best != nil {
		bestPx, bestQty = best.Price, best.Qty
	}
	if *px != bestPx {
		*px = bestPx
		*changed |= pxBit
	}
	if *qty != bestQty {
		*qty = bestQty
		*changed |= qtyBit
	}
}

// PxLevel applies a price-level-granularity update (snapshot or delta) to
// one side and fans the realized delta out to the consolidated sibling.
func (b *OrderBook) PxLevel(side Side, ts int64, delta bool, px, qty, nOrders int64, flags uint32) {
	b.pxLevel(side, ts, delta, px, qty, nOrders, flags, false)
}

func (b *OrderBook) pxLevel(side Side, ts int64, delta bool, px, qty, nOrders int64, flags uint32, propagated bool) {
	s := b.Side(side)
	lvl, dQty, dOrders, ev := s.UpdateLevel(ts, delta, px, qty, nOrders, flags)
	if ev == LevelUnchanged {
		return
	}
	if !propagated {
		b.propagate(side, ts, px, dQty, dOrders, flags)
	}
	b.sink.LevelChanged(b, side, ts, lvl.Price, lvl.Qty, lvl.NOrders, ev, propagated)
}

// ApplyConsolidatedDelta folds a sibling's realized delta into this
// (consolidated) book, tagged so the façade does not re-broadcast it.
func (b *OrderBook) ApplyConsolidatedDelta(side Side, ts, px, dQty, dOrders int64, flags uint32) {
	b.pxLevel(side, ts, true, px, dQty, dOrders, flags, true)
}

// propagate forwards a realized per-level delta into the consolidated
// sibling. Deltas from siblings on different shards interleave arbitrarily;
// each is an independent additive correction, so ordering does not affect
// the converged aggregate.
func (b *OrderBook) propagate(side Side, ts, px, dQty, dOrders int64, flags uint32) {
	c := b.consolidated
	if c == nil || (dQty == 0 && dOrders == 0) {
		return
	}
	apply := func() { c.pxLevel(side, ts, true, px, dQty, dOrders, flags, true) }
	if b.consolidatedExec != nil {
		b.consolidatedExec(apply)
	} else {
		apply()
	}
}

// AddOrder posts a new order. A duplicate ID is reinterpreted as a modify.
func (b *OrderBook) AddOrder(id string, ts int64, side Side, rank uint64, px, qty int64, flags uint32) *Order {
	if o := b.idx.FindOrder(b, side, id); o != nil {
		return b.modify(o, ts, rank, px, qty, flags)
	}
	o := &Order{Book: b, Side: side, ID: id, Rank: rank, Price: px, Qty: qty, Flags: flags, Time: ts}
	b.idx.InsertOrder(b, side, id, o)

	lvl, ev := b.Side(side).AddOrder(o, ts)
	b.sink.OrderChanged(b, OrderAdded, o)
	b.propagate(side, ts, px, qty, 1, flags)
	b.sink.LevelChanged(b, side, ts, lvl.Price, lvl.Qty, lvl.NOrders, ev, false)
	return o
}

// ModifyOrder changes price/quantity/rank. qty == 0 is a delete. An
// unknown ID raises a recoverable error event and the call is a no-op.
func (b *OrderBook) ModifyOrder(id string, ts int64, side Side, rank uint64, px, qty int64, flags uint32) *Order {
	o := b.idx.FindOrder(b, side, id)
	if o == nil {
		b.sink.BookError(b, fmt.Errorf("modifyOrder %s/%s %q: %w", b.Key.Venue, b.Key.ID, id, ErrOrderNotFound))
		return nil
	}
	return b.modify(o, ts, rank, px, qty, flags)
}

func (b *OrderBook) modify(o *Order, ts int64, rank uint64, px, qty int64, flags uint32) *Order {
	if qty == 0 {
		b.remove(o, ts)
		return nil
	}

	s := b.Side(o.Side)
	oldPx, oldQty := o.Price, o.Qty
	lvl1, ev1 := s.DelOrder(o, ts)
	var px1, q1, n1 int64
	if lvl1 != nil {
		px1, q1, n1 = lvl1.Price, lvl1.Qty, lvl1.NOrders
	}

	o.Rank, o.Price, o.Qty, o.Flags, o.Time = rank, px, qty, flags, ts

	lvl2, ev2 := s.AddOrder(o, ts)
	b.sink.OrderChanged(b, OrderModified, o)
	if lvl1 != nil {
		b.propagate(o.Side, ts, oldPx, -oldQty, -1, flags)
		b.sink.LevelChanged(b, o.Side, ts, px1, q1, n1, ev1, false)
	}
	b.propagate(o.Side, ts, px, qty, 1, flags)
	b.sink.LevelChanged(b, o.Side, ts, lvl2.Price, lvl2.Qty, lvl2.NOrders, ev2, false)
	return o
}

// ReduceOrder subtracts qty from the order. Reducing to or past zero
// removes the order entirely; it is never left non-positive.
func (b *OrderBook) ReduceOrder(id string, ts int64, side Side, qty int64) *Order {
	o := b.idx.FindOrder(b, side, id)
	if o == nil {
		b.sink.BookError(b, fmt.Errorf("reduceOrder %s/%s %q: %w", b.Key.Venue, b.Key.ID, id, ErrOrderNotFound))
		return nil
	}
	if qty >= o.Qty {
		b.remove(o, ts)
		return nil
	}

	s := b.Side(side)
	lvl := o.level
	o.Qty -= qty
	o.Time = ts
	lvl.Qty -= qty
	lvl.LastTime = ts
	s.Qty -= qty
	if lvl != s.mkt {
		s.Notional -= fpmath.Notional(o.Price, qty, s.pxCfg, s.qtyCfg, s.ntlCfg)
	}

	b.sink.OrderChanged(b, OrderModified, o)
	b.propagate(side, ts, o.Price, -qty, 0, o.Flags)
	b.sink.LevelChanged(b, side, ts, lvl.Price, lvl.Qty, lvl.NOrders, LevelUpdated, false)
	return o
}

// CancelOrder removes the order. Unknown IDs raise a recoverable error
// event and the call is a no-op.
func (b *OrderBook) CancelOrder(id string, ts int64, side Side) *Order {
	o := b.idx.FindOrder(b, side, id)
	if o == nil {
		b.sink.BookError(b, fmt.Errorf("cancelOrder %s/%s %q: %w", b.Key.Venue, b.Key.ID, id, ErrOrderNotFound))
		return nil
	}
	b.remove(o, ts)
	return o
}

func (b *OrderBook) remove(o *Order, ts int64) {
	o.Time = ts
	lvl, ev := b.Side(o.Side).DelOrder(o, ts)
	b.idx.RemoveOrder(b, o.Side, o.ID)
	b.sink.OrderChanged(b, OrderDeleted, o)
	b.propagate(o.Side, ts, o.Price, -o.Qty, -1, o.Flags)
	if lvl != nil {
		b.sink.LevelChanged(b, o.Side, ts, lvl.Price, lvl.Qty, lvl.NOrders, ev, false)
	}
}

// Reset clears both sides and the L1 top-of-book fields, retracting this
// book's whole contribution from the consolidated sibling and emitting an
// L1 delta for any bid/ask field that changed.
func (b *OrderBook) Reset(ts int64) {
	for _, s := range [2]*BookSide{b.Bids, b.Asks} {
		side := s.Side
		s.AllLevels(func(lvl *PriceLevel) bool {
			b.propagate(side, ts, lvl.Price, -lvl.Qty, -lvl.NOrders, lvl.Flags)
			return true
		})
		if s.mkt != nil {
			b.propagate(side, ts, 0, -s.mkt.Qty, -s.mkt.NOrders, s.mkt.Flags)
		}
		s.Reset(ts, func(o *Order) {
			b.idx.RemoveOrder(b, side, o.ID)
			b.sink.OrderChanged(b, OrderDeleted, o)
		})
	}

	if changed := b.refreshTopOfBook(ts); changed != 0 {
		b.sink.L1Updated(b, changed, false)
	}
}

// AddTrade applies a reported execution to the L1 summary.
func (b *OrderBook) AddTrade(id string, ts, px, qty int64) {
	in := L1Data{Stamp: ts, Last: px, LastQty: qty}
	in.Volume = addQty(b.L1.Volume, qty)
	in.Turnover = addQty(b.L1.Turnover, fpmath.Notional(px, qty, b.PxCfg, b.QtyCfg, b.NtlCfg))
	if changed := b.L1.Merge(in); changed != 0 {
		b.sink.L1Updated(b, changed, false)
	}
	b.sink.TradeApplied(b, TradeAdded, Trade{ID: id, Time: ts, Price: px, Qty: qty})
}

// CorrectTrade replaces an earlier print, adjusting accumulated volume and
// turnover by the difference.
func (b *OrderBook) CorrectTrade(id string, ts, origPx, origQty, px, qty int64) {
	in := L1Data{Stamp: ts, Last: px, LastQty: qty}
	in.Volume = addQty(b.L1.Volume, qty-origQty)
	dNtl := fpmath.Notional(px, qty, b.PxCfg, b.QtyCfg, b.NtlCfg) -
		fpmath.Notional(origPx, origQty, b.PxCfg, b.QtyCfg, b.NtlCfg)
	in.Turnover = addQty(b.L1.Turnover, dNtl)
	if changed := b.L1.Merge(in); changed != 0 {
		b.sink.L1Updated(b, changed, false)
	}
	b.sink.TradeApplied(b, TradeCorrected, Trade{ID: id, Time: ts, Price: px, Qty: qty})
}

// CancelTrade busts an earlier print, retracting its volume and turnover.
func (b *OrderBook) CancelTrade(id string, ts, px, qty int64) {
	in := L1Data{Stamp: ts}
	in.Volume = addQty(b.L1.Volume, -qty)
	in.Turnover = addQty(b.L1.Turnover, -fpmath.Notional(px, qty, b.PxCfg, b.QtyCfg, b.NtlCfg))
	if changed := b.L1.Merge(in); changed != 0 {
		b.sink.L1Updated(b, changed, false)
	}
	b.sink.TradeApplied(b, TradeCanceled, Trade{ID: id, Time: ts, Price: px, Qty: qty})
}

func addQty(cur, d int64) int64 {
	if cur == fpmath.QtyUnset {
		return d
	}
	return cur + d
}

// localIndex is the default stand-alone order index, scoped per book per
// side. Registered books use the shard's venue-scoped index instead.
type localKey struct {
	side Side
	id   string
}

type localIndex map[localKey]*Order

func (ix localIndex) FindOrder(_ *OrderBook, side Side, id string) *Order {
	return ix[localKey{side, id}]
}

func (ix localIndex) InsertOrder(_ *OrderBook, side Side, id string, o *Order) {
	ix[localKey{side, id}] = o
}

func (ix localIndex) RemoveOrder(_ *OrderBook, side Side, id string) {
	delete(ix, localKey{side, id})
}
