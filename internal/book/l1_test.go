package book

import (
	"testing"

	"github.com/stretchr/testify/assert"

	fpmath "BookEngine/internal/math"
)

func TestL1Merge_UnsetFieldsLeavePriorValues(t *testing.T) {
	d := UnsetL1()
	changed := d.Merge(L1Data{Stamp: 1, Last: 10000, LastQty: 5, Bid: fpmath.PriceUnset, Ask: fpmath.PriceUnset, Volume: fpmath.QtyUnset, Turnover: fpmath.QtyUnset, High: fpmath.PriceUnset, Low: fpmath.PriceUnset, BidQty: fpmath.QtyUnset, AskQty: fpmath.QtyUnset})

	assert.NotZero(t, changed&L1Last)
	assert.Equal(t, int64(10000), d.Last)
	assert.Equal(t, fpmath.PriceUnset, d.Bid)

	// a later bid-only update leaves last untouched
	in := UnsetL1()
	in.Stamp, in.Bid, in.BidQty = 2, 9900, 3
	changed = d.Merge(in)
	assert.NotZero(t, changed&L1Bid)
	assert.Zero(t, changed&L1Last)
	assert.Equal(t, int64(10000), d.Last)
	assert.Equal(t, int64(2), d.Stamp)
}

func TestL1Merge_NoChangeNoStampAdvance(t *testing.T) {
	d := UnsetL1()
	in := UnsetL1()
	in.Stamp, in.Last = 1, 10000
	d.Merge(in)

	repeat := UnsetL1()
	repeat.Stamp, repeat.Last = 2, 10000
	changed := d.Merge(repeat)
	assert.Zero(t, changed)
	assert.Equal(t, int64(1), d.Stamp)
}

func TestL1Merge_TickDirection(t *testing.T) {
	d := UnsetL1()
	first := UnsetL1()
	first.Stamp, first.Last = 1, 10000
	d.Merge(first)
	assert.Equal(t, TickNone, d.TickDir)

	up := UnsetL1()
	up.Stamp, up.Last = 2, 10100
	d.Merge(up)
	assert.Equal(t, TickUp, d.TickDir)

	down := UnsetL1()
	down.Stamp, down.Last = 3, 10050
	d.Merge(down)
	assert.Equal(t, TickDown, d.TickDir)

	// repeated price with venue-signaled movement goes level
	level := UnsetL1()
	level.Stamp, level.Last, level.TickDir = 4, 10050, TickLevelDown
	d.Merge(level)
	assert.Equal(t, TickLevelDown, d.TickDir)
}

func TestL1Merge_HighLowWatermarks(t *testing.T) {
	d := UnsetL1()
	in := UnsetL1()
	in.Stamp, in.Last = 1, 10000
	d.Merge(in)
	assert.Equal(t, int64(10000), d.High)
	assert.Equal(t, int64(10000), d.Low)

	hi := UnsetL1()
	hi.Stamp, hi.Last = 2, 10500
	d.Merge(hi)
	lo := UnsetL1()
	lo.Stamp, lo.Last = 3, 9800
	d.Merge(lo)

	assert.Equal(t, int64(10500), d.High)
	assert.Equal(t, int64(9800), d.Low)
}

func TestAddTrade_AccumulatesVolume(t *testing.T) {
	b := newTestBook("INST1")
	b.AddTrade("T1", 1, 10000, 5)
	b.AddTrade("T2", 2, 10100, 3)

	assert.Equal(t, int64(8), b.L1.Volume)
	assert.Equal(t, int64(10100), b.L1.Last)
	assert.Equal(t, TickUp, b.L1.TickDir)

	b.CancelTrade("T2", 3, 10100, 3)
	assert.Equal(t, int64(5), b.L1.Volume)
}

func TestVWAP_UnsetOnEmptySide(t *testing.T) {
	b := newTestBook("INST1")
	assert.Equal(t, fpmath.PriceUnset, b.Bids.VWAP())

	b.AddOrder("O1", 1, Buy, 1, 10000, 1_000_000, 0) // 1.0 qty at 100.00
	b.AddOrder("O2", 2, Buy, 2, 20000, 1_000_000, 0) // 1.0 qty at 200.00
	assert.Equal(t, int64(15000), b.Bids.VWAP())     // 150.00

	b.CancelOrder("O1", 3, Buy)
	b.CancelOrder("O2", 4, Buy)
	assert.Equal(t, fpmath.PriceUnset, b.Bids.VWAP())
}
