package book

import (
	fpmath "BookEngine/internal/math"
)

// BookSide maintains full depth for one side of a book: a price-ordered
// tree of levels plus the single "market" slot for no-price quantity.
// Best price is the maximum key for bids and the minimum key for asks.
//
// Notional and Qty accumulate the side totals used for VWAP; the market
// slot contributes quantity but never notional.
type BookSide struct {
	Side Side

	levels *levelTree
	mkt    *PriceLevel
	orders int64

	Notional int64
	Qty      int64

	pxCfg, qtyCfg, ntlCfg fpmath.DecimalConfig
}

func newBookSide(side Side, pxCfg, qtyCfg, ntlCfg fpmath.DecimalConfig) *BookSide {
	return &BookSide{
		Side:   side,
		levels: newLevelTree(),
		pxCfg:  pxCfg,
		qtyCfg: qtyCfg,
		ntlCfg: ntlCfg,
	}
}

func isMarketPx(px int64) bool {
	return px == 0 || px == fpmath.PriceUnset
}

// UpdateLevel is the L2 entry point shared by snapshot and incremental
// handling. A zero or unset price routes to the market slot. Returns the
// touched level, the realized deltas and the three-way event
// classification. A delete of an absent level returns LevelUnchanged.
func (s *BookSide) UpdateLevel(ts int64, delta bool, px, qty, nOrders int64, flags uint32) (*PriceLevel, int64, int64, LevelEvent) {
	if isMarketPx(px) {
		return s.updateMarket(ts, delta, qty, nOrders, flags)
	}

	lvl := s.levels.find(px)
	created := false
	if lvl == nil {
		if qty <= 0 {
			return nil, 0, 0, LevelUnchanged
		}
		lvl, created = s.levels.insert(px, s.Side)
	}

	dQty, dOrders := lvl.Update(ts, delta, qty, nOrders, flags)
	s.Qty += dQty
	s.Notional += fpmath.Notional(px, dQty, s.pxCfg, s.qtyCfg, s.ntlCfg)

	ev := LevelUpdated
	switch {
	case created:
		ev = LevelAdded
	case lvl.Qty == 0:
		s.levels.remove(px)
		ev = LevelDeleted
	}
	return lvl, dQty, dOrders, ev
}

func (s *BookSide) updateMarket(ts int64, delta bool, qty, nOrders int64, flags uint32) (*PriceLevel, int64, int64, LevelEvent) {
	created := false
	if s.mkt == nil {
		if qty <= 0 {
			return nil, 0, 0, LevelUnchanged
		}
		s.mkt = &PriceLevel{Side: s.Side, Price: fpmath.PriceUnset}
		created = true
	}
	dQty, dOrders := s.mkt.Update(ts, delta, qty, nOrders, flags)
	s.Qty += dQty

	lvl := s.mkt
	ev := LevelUpdated
	switch {
	case created:
		ev = LevelAdded
	case lvl.Qty == 0:
		s.mkt = nil
		ev = LevelDeleted
	}
	return lvl, dQty, dOrders, ev
}

// AddOrder attaches o at the level matching its price, creating the level
// when needed.
func (s *BookSide) AddOrder(o *Order, ts int64) (*PriceLevel, LevelEvent) {
	var lvl *PriceLevel
	created := false
	if isMarketPx(o.Price) {
		if s.mkt == nil {
			s.mkt = &PriceLevel{Side: s.Side, Price: fpmath.PriceUnset}
			created = true
		}
		lvl = s.mkt
	} else {
		lvl, created = s.levels.insert(o.Price, s.Side)
		s.Notional += fpmath.Notional(o.Price, o.Qty, s.pxCfg, s.qtyCfg, s.ntlCfg)
	}
	lvl.AddOrder(o)
	lvl.LastTime = ts
	s.Qty += o.Qty
	s.orders++

	if created {
		return lvl, LevelAdded
	}
	return lvl, LevelUpdated
}

// DelOrder detaches o from its level, removing the level when it empties.
func (s *BookSide) DelOrder(o *Order, ts int64) (*PriceLevel, LevelEvent) {
	lvl := o.level
	if lvl == nil {
		return nil, LevelUnchanged
	}
	lvl.DelOrder(o)
	lvl.LastTime = ts
	s.Qty -= o.Qty
	s.orders--
	if lvl != s.mkt {
		s.Notional -= fpmath.Notional(lvl.Price, o.Qty, s.pxCfg, s.qtyCfg, s.ntlCfg)
	}

	if lvl.NOrders == 0 && lvl.Qty == 0 {
		if lvl == s.mkt {
			s.mkt = nil
		} else {
			s.levels.remove(lvl.Price)
		}
		return lvl, LevelDeleted
	}
	return lvl, LevelUpdated
}

// BestLevel returns the best priced level (max for bids, min for asks),
// nil when the side has no priced depth.
func (s *BookSide) BestLevel() *PriceLevel {
	if s.Side == Buy {
		return s.levels.max()
	}
	return s.levels.min()
}

// BestPrice returns the best price or PriceUnset on an empty side.
func (s *BookSide) BestPrice() int64 {
	lvl := s.BestLevel()
	if lvl == nil {
		return fpmath.PriceUnset
	}
	return lvl.Price
}

// MarketLevel returns the no-price slot, nil when unused.
func (s *BookSide) MarketLevel() *PriceLevel { return s.mkt }

// OrderCount returns the number of resting orders on this side. Zero for
// sides maintained from aggregate L2 updates.
func (s *BookSide) OrderCount() int64 { return s.orders }

// Depth returns the number of priced levels.
func (s *BookSide) Depth() int { return s.levels.len() }

// FindLevel returns the level at px, or the market slot for a zero/unset
// price.
func (s *BookSide) FindLevel(px int64) *PriceLevel {
	if isMarketPx(px) {
		return s.mkt
	}
	return s.levels.find(px)
}

// AllLevels walks priced levels best-to-worst. The walk is finite and
// restartable: each call starts over from the best level.
func (s *BookSide) AllLevels(fn func(*PriceLevel) bool) {
	if s.Side == Buy {
		s.levels.descend(fn)
	} else {
		s.levels.ascend(fn)
	}
}

// Levels walks priced levels with min <= px <= max, best-to-worst.
func (s *BookSide) Levels(min, max int64, fn func(*PriceLevel) bool) {
	if s.Side == Buy {
		s.levels.descendRange(min, max, fn)
	} else {
		s.levels.ascendRange(min, max, fn)
	}
}

// MatchPx answers "what price clears qty": the worst price reached when
// accumulating depth best-first until qty is covered. Returns PriceUnset
// when the side cannot cover qty. Pre-trade check only.
func (s *BookSide) MatchPx(qty int64) int64 {
	acc := int64(0)
	px := fpmath.PriceUnset
	s.AllLevels(func(l *PriceLevel) bool {
		acc += l.Qty
		if acc >= qty {
			px = l.Price
			return false
		}
		return true
	})
	if acc < qty {
		return fpmath.PriceUnset
	}
	return px
}

// MatchQty answers "what quantity is available at px or better". The
// market slot always qualifies. Pre-trade check only.
func (s *BookSide) MatchQty(px int64) int64 {
	qty := int64(0)
	if s.mkt != nil {
		qty += s.mkt.Qty
	}
	s.AllLevels(func(l *PriceLevel) bool {
		if s.Side == Buy {
			if l.Price < px {
				return false
			}
		} else if l.Price > px {
			return false
		}
		qty += l.Qty
		return true
	})
	return qty
}

// VWAP returns the side's volume-weighted price, PriceUnset when the side
// holds no quantity.
func (s *BookSide) VWAP() int64 {
	return fpmath.VWAP(s.Notional, s.Qty, s.pxCfg, s.qtyCfg, s.ntlCfg)
}

// Reset clears all depth, invoking onOrderDeleted for every queued order.
func (s *BookSide) Reset(ts int64, onOrderDeleted func(*Order)) {
	s.levels.ascend(func(l *PriceLevel) bool {
		l.Reset(ts, onOrderDeleted)
		return true
	})
	s.levels.clear()
	if s.mkt != nil {
		s.mkt.Reset(ts, onOrderDeleted)
		s.mkt = nil
	}
	s.Qty, s.Notional, s.orders = 0, 0, 0
}

// limitSatisfied reports whether a resting level at lvlPx still satisfies
// an incoming contra limit px against this side. An unset px (market
// order) matches any level.
func (s *BookSide) limitSatisfied(px, lvlPx int64) bool {
	if px == fpmath.PriceUnset {
		return true
	}
	if s.Side == Buy {
		// incoming sell matches bids at or above its limit
		return lvlPx >= px
	}
	// incoming buy matches asks at or below its limit
	return lvlPx <= px
}

// match consumes depth best-first while the contra limit px is satisfied,
// up to qty. onLevel fires after each level mutation with the resulting
// event; onOrderDeleted fires per fully consumed order. fill returning
// true stops the walk.
func (s *BookSide) match(ts int64, px, qty int64,
	fill func(px, qty int64, contra *Order) bool,
	onLevel func(*PriceLevel, int64, LevelEvent),
	onOrderDeleted func(*Order),
) int64 {
	counted := func(o *Order) {
		s.orders--
		if onOrderDeleted != nil {
			onOrderDeleted(o)
		}
	}

	filled := int64(0)
	for qty > 0 {
		lvl := s.BestLevel()
		if lvl == nil || !s.limitSatisfied(px, lvl.Price) {
			break
		}
		took, stopped := lvl.Match(qty, fill, counted)
		if took == 0 && !stopped {
			// aggregate-only depth has no resting orders to consume
			break
		}
		qty -= took
		filled += took
		s.Qty -= took
		s.Notional -= fpmath.Notional(lvl.Price, took, s.pxCfg, s.qtyCfg, s.ntlCfg)
		lvl.LastTime = ts

		ev := LevelUpdated
		if lvl.Qty == 0 && lvl.NOrders == 0 {
			s.levels.remove(lvl.Price)
			ev = LevelDeleted
		}
		if onLevel != nil {
			onLevel(lvl, -took, ev)
		}
		if stopped {
			break
		}
	}
	return filled
}
