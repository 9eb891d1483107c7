package book

import (
	fpmath "BookEngine/internal/math"
)

// TickDir is the direction of the last trade price. Level directions mark
// a repeated price where the venue still signals movement.
type TickDir uint8

const (
	TickNone TickDir = iota
	TickUp
	TickLevelUp
	TickDown
	TickLevelDown
)

func (d TickDir) String() string {
	switch d {
	case TickUp:
		return "up"
	case TickLevelUp:
		return "level-up"
	case TickDown:
		return "down"
	case TickLevelDown:
		return "level-down"
	default:
		return "none"
	}
}

// Changed-field bits returned by L1Data.Merge.
const (
	L1Last uint32 = 1 << iota
	L1LastQty
	L1Bid
	L1BidQty
	L1Ask
	L1AskQty
	L1High
	L1Low
	L1Volume
	L1Turnover
	L1TickDir
)

// L1Data is the top-of-book summary. Absent fields carry the unset
// sentinels; merges leave unset incoming fields untouched.
type L1Data struct {
	Stamp    int64
	Last     int64
	LastQty  int64
	Bid      int64
	BidQty   int64
	Ask      int64
	AskQty   int64
	High     int64
	Low      int64
	Volume   int64
	Turnover int64
	TickDir  TickDir
}

// UnsetL1 returns an L1Data with every field at its unset sentinel.
func UnsetL1() L1Data {
	return L1Data{
		Last:     fpmath.PriceUnset,
		LastQty:  fpmath.QtyUnset,
		Bid:      fpmath.PriceUnset,
		BidQty:   fpmath.QtyUnset,
		Ask:      fpmath.PriceUnset,
		AskQty:   fpmath.QtyUnset,
		High:     fpmath.PriceUnset,
		Low:      fpmath.PriceUnset,
		Volume:   fpmath.QtyUnset,
		Turnover: fpmath.QtyUnset,
	}
}

func mergePx(dst *int64, in int64, bit uint32, changed *uint32) {
	if in != fpmath.PriceUnset && in != *dst {
		*dst = in
		*changed |= bit
	}
}

func mergeQty(dst *int64, in int64, bit uint32, changed *uint32) {
	if in != fpmath.QtyUnset && in != *dst {
		*dst = in
		*changed |= bit
	}
}

// Merge folds an incoming update into the summary, field by field, and
// returns the changed-field mask. The stamp only advances when at least
// one field changed. A changed last price recomputes TickDir and rolls the
// High/Low watermarks; a repeated last price adopts the venue-signaled
// level direction from in.TickDir when present.
func (d *L1Data) Merge(in L1Data) uint32 {
	var changed uint32

	if in.Last != fpmath.PriceUnset {
		switch {
		case d.Last == fpmath.PriceUnset:
			// first print establishes no direction
		case in.Last > d.Last:
			d.setTickDir(TickUp, &changed)
		case in.Last < d.Last:
			d.setTickDir(TickDown, &changed)
		case in.TickDir != TickNone:
			d.setTickDir(in.TickDir, &changed)
		}
		if in.Last != d.Last {
			d.Last = in.Last
			changed |= L1Last
		}
		if d.High == fpmath.PriceUnset || in.Last > d.High {
			d.High = in.Last
			changed |= L1High
		}
		if d.Low == fpmath.PriceUnset || in.Last < d.Low {
			d.Low = in.Last
			changed |= L1Low
		}
	}

	mergeQty(&d.LastQty, in.LastQty, L1LastQty, &changed)
	mergePx(&d.Bid, in.Bid, L1Bid, &changed)
	mergeQty(&d.BidQty, in.BidQty, L1BidQty, &changed)
	mergePx(&d.Ask, in.Ask, L1Ask, &changed)
	mergeQty(&d.AskQty, in.AskQty, L1AskQty, &changed)
	mergePx(&d.High, in.High, L1High, &changed)
	mergePx(&d.Low, in.Low, L1Low, &changed)
	mergeQty(&d.Volume, in.Volume, L1Volume, &changed)
	mergeQty(&d.Turnover, in.Turnover, L1Turnover, &changed)

	if changed != 0 && in.Stamp != 0 {
		d.Stamp = in.Stamp
	}
	return changed
}

func (d *L1Data) setTickDir(dir TickDir, changed *uint32) {
	if d.TickDir != dir {
		d.TickDir = dir
		*changed |= L1TickDir
	}
}
