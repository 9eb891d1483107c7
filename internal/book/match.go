package book

import (
	fpmath "BookEngine/internal/math"
)

// Match consumes contra-side depth for an incoming order of the given side
// and limit price (PriceUnset matches any level). fill fires per execution
// and may stop the walk by returning true; leaves fires once with the
// unfilled remainder.
//
// Combination books with a constituent-book resolver match recursively
// across their ratio-weighted legs: the combination's filled quantity is
// the minimum leg fill normalized by ratio.
func (b *OrderBook) Match(side Side, ts, px, qty int64, fill func(px, qty int64, contra *Order) bool, leaves func(remaining int64)) {
	filled := b.matchRec(side, ts, px, qty, fill)
	if leaves != nil {
		leaves(qty - filled)
	}
}

func (b *OrderBook) matchRec(side Side, ts, px, qty int64, fill func(px, qty int64, contra *Order) bool) int64 {
	if len(b.Legs) > 1 && b.legBooks != nil {
		return b.matchLegs(side, ts, px, qty, fill)
	}

	contra := b.Side(side.Opposite())
	var ordersGone int64
	onOrderDeleted := func(o *Order) {
		o.Time = ts
		b.idx.RemoveOrder(b, o.Side, o.ID)
		b.sink.OrderChanged(b, OrderDeleted, o)
		ordersGone++
	}
	onFill := func(px, fq int64, o *Order) bool {
		stop := false
		if fill != nil {
			stop = fill(px, fq, o)
		}
		if o.Qty > 0 {
			o.Time = ts
			// partial consumption leaves the order resting at reduced size
			b.sink.OrderChanged(b, OrderModified, o)
		}
		return stop
	}
	onLevel := func(lvl *PriceLevel, dQty int64, ev LevelEvent) {
		b.propagate(lvl.Side, ts, lvl.Price, dQty, -ordersGone, lvl.Flags)
		b.sink.LevelChanged(b, lvl.Side, ts, lvl.Price, lvl.Qty, lvl.NOrders, ev, false)
		ordersGone = 0
	}
	return contra.match(ts, px, qty, onFill, onLevel, onOrderDeleted)
}

func (b *OrderBook) matchLegs(side Side, ts, px, qty int64, fill func(px, qty int64, contra *Order) bool) int64 {
	filled := qty
	for _, leg := range b.Legs {
		lb := b.legBooks(leg)
		if lb == nil || leg.Ratio <= 0 {
			return 0
		}
		legSide := side
		if leg.Side == Sell {
			legSide = legSide.Opposite()
		}
		// Leg limits are not derivable from the combination limit without a
		// pricing model; legs match at any price and the combination limit
		// constrains the aggregate via MatchPx pre-trade checks.
		legFilled := lb.matchRec(legSide, ts, fpmath.PriceUnset, qty*leg.Ratio, fill)
		if per := legFilled / leg.Ratio; per < filled {
			filled = per
		}
	}
	return filled
}
