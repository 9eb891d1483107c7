package engine

import (
	"BookEngine/internal/book"
	"BookEngine/internal/broadcast"
)

// The engine is the sink for every registered book. Events arrive on the
// owning shard's goroutine (or the replay goroutine): serialize first,
// then hand to the subscriber. Serialization happens inline, under the
// read lock when a PostBook task raised the event; the subscriber
// callback goes through dispatch so it fires after the lock is released.
// Propagated events were already serialized on the originating sibling,
// so only the handler sees them again.

var _ book.EventSink = (*Engine)(nil)

func (e *Engine) L1Updated(b *book.OrderBook, changed uint32, propagated bool) {
	if !propagated {
		e.emit(&broadcast.L1Update{Key: b.Key, Changed: changed, Data: b.L1})
	}
	e.dispatch(b.Key, func() {
		if h := e.handler.Load(); h.OnL1 != nil && !e.suppressed() {
			h.OnL1(b, changed)
			e.countSlot("l1")
		}
	})
}

func (e *Engine) L2Updated(b *book.OrderBook, ts int64) {
	e.dispatch(b.Key, func() {
		if h := e.handler.Load(); h.OnL2 != nil && !e.suppressed() {
			h.OnL2(b, ts)
			e.countSlot("l2")
		}
	})
}

func (e *Engine) LevelChanged(b *book.OrderBook, side book.Side, ts, px, qty, nOrders int64, ev book.LevelEvent, propagated bool) {
	if !propagated {
		e.emit(&broadcast.LevelUpdate{
			Key: b.Key, Side: side, TS: ts, Price: px, Qty: qty,
			NOrders: nOrders, Event: ev, Propagated: false,
		})
	} else if e.m != nil {
		e.m.ConsolidatedDeltas.Inc()
	}
	e.dispatch(b.Key, func() {
		if h := e.handler.Load(); h.OnLevel != nil && !e.suppressed() {
			h.OnLevel(b, side, ts, px, qty, nOrders, ev)
			e.countSlot("level")
		}
	})
}

func (e *Engine) OrderChanged(b *book.OrderBook, ev book.OrderEvent, o *book.Order) {
	e.emit(&broadcast.OrderUpdate{
		Key: b.Key, Side: o.Side, ID: o.ID, Event: ev,
		TS: o.Time, Rank: o.Rank, Price: o.Price, Qty: o.Qty, Flags: o.Flags,
	})
	// later mutations in the same task may touch o; the subscriber sees
	// the order as it stood at event time
	oc := *o
	e.dispatch(b.Key, func() {
		if h := e.handler.Load(); h.OnOrder != nil && !e.suppressed() {
			h.OnOrder(b, ev, &oc)
			e.countSlot("order")
		}
	})
}

func (e *Engine) TradeApplied(b *book.OrderBook, ev book.TradeEvent, t book.Trade) {
	e.emit(&broadcast.TradeUpdate{
		Key: b.Key, Event: ev, ID: t.ID, TS: t.Time, Price: t.Price, Qty: t.Qty,
	})
	e.dispatch(b.Key, func() {
		if h := e.handler.Load(); h.OnTrade != nil && !e.suppressed() {
			h.OnTrade(b, ev, t)
			e.countSlot("trade")
		}
	})
}

func (e *Engine) BookError(b *book.OrderBook, err error) {
	if e.m != nil {
		e.m.BookErrors.WithLabelValues("order_not_found").Inc()
	}
	e.dispatch(b.Key, func() {
		if h := e.handler.Load(); h.OnException != nil && !e.suppressed() {
			h.OnException(err)
			e.countSlot("exception")
		}
	})
}
