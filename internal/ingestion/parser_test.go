package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BookEngine/internal/book"
	fpmath "BookEngine/internal/math"
	"BookEngine/internal/shard"
)

func TestParseOrder(t *testing.T) {
	raw := RawEvent{
		EventType: "Order",
		Data: []byte(`{
			"venue": "XA", "segment": "MAIN", "instrument": "INST1",
			"op": "add", "order_id": "O1", "side": "buy",
			"rank": 7, "price": 10050, "qty": 25, "timestamp_ns": 123
		}`),
	}
	ev, err := ParseRawEvent(raw)
	require.NoError(t, err)

	f := ev.(*OrderFeed)
	assert.Equal(t, book.Key{Venue: "XA", Segment: "MAIN", ID: "INST1"}, f.Key)
	assert.Equal(t, "add", f.Op)
	assert.Equal(t, book.Buy, f.Side)
	assert.Equal(t, uint64(7), f.Rank)
	assert.Equal(t, int64(10050), f.Price)
	assert.Equal(t, int64(25), f.Qty)
}

func TestParseOrder_MissingPriceIsMarket(t *testing.T) {
	raw := RawEvent{
		EventType: "Order",
		Data:      []byte(`{"venue":"XA","segment":"M","instrument":"I","op":"add","order_id":"O1","side":"sell","qty":5}`),
	}
	ev, err := ParseRawEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, fpmath.PriceUnset, ev.(*OrderFeed).Price)
}

func TestParseOrder_RejectsBadOpAndSide(t *testing.T) {
	_, err := ParseRawEvent(RawEvent{EventType: "Order",
		Data: []byte(`{"op":"upsert","side":"buy"}`)})
	assert.Error(t, err)

	_, err = ParseRawEvent(RawEvent{EventType: "Order",
		Data: []byte(`{"op":"add","side":"long"}`)})
	assert.Error(t, err)
}

func TestParseL1_AbsentFieldsUnset(t *testing.T) {
	raw := RawEvent{
		EventType: "L1",
		Data:      []byte(`{"venue":"XA","segment":"M","instrument":"I","bid":10000,"bid_qty":5,"timestamp_ns":9}`),
	}
	ev, err := ParseRawEvent(raw)
	require.NoError(t, err)

	f := ev.(*L1Feed)
	assert.Equal(t, int64(10000), f.Data.Bid)
	assert.Equal(t, int64(5), f.Data.BidQty)
	assert.Equal(t, fpmath.PriceUnset, f.Data.Ask)
	assert.Equal(t, fpmath.PriceUnset, f.Data.Last)
	assert.Equal(t, fpmath.QtyUnset, f.Data.Volume)
	assert.Equal(t, int64(9), f.Data.Stamp)
}

func TestParseRefData_DispatchesOnLeaf(t *testing.T) {
	ev, err := ParseRawEvent(RawEvent{
		EventType: "RefData",
		Subject:   "md.feed.refdata.venue",
		Data:      []byte(`{"id":"XA","scope":"obside"}`),
	})
	require.NoError(t, err)
	v := ev.(*VenueFeed)
	assert.Equal(t, book.VenueID("XA"), v.ID)
	assert.Equal(t, shard.ScopeOBSide, v.Scope)

	ev, err = ParseRawEvent(RawEvent{
		EventType: "RefData",
		Subject:   "md.feed.refdata.listing",
		Data:      []byte(`{"instr_venue":"XA","instr_segment":"MAIN","instrument":"INST1","venue":"XB","segment":"MAIN","round_lot":100}`),
	})
	require.NoError(t, err)
	l := ev.(*ListingFeed)
	assert.Equal(t, "add", l.Op)
	assert.Equal(t, book.VenueID("XB"), l.Venue)
	assert.Equal(t, int64(100), l.Lots.RoundLot)

	_, err = ParseRawEvent(RawEvent{
		EventType: "RefData",
		Subject:   "md.feed.refdata.mystery",
		Data:      []byte(`{}`),
	})
	assert.Error(t, err)
}

func TestParseTickTbl(t *testing.T) {
	ev, err := ParseRawEvent(RawEvent{
		EventType: "RefData",
		Subject:   "md.feed.refdata.ticktbl",
		Data:      []byte(`{"id":"T1","bands":[{"min_price":0,"tick":5},{"min_price":10000,"tick":10}],"timestamp_ns":42}`),
	})
	require.NoError(t, err)

	f := ev.(*TickTblFeed)
	assert.Equal(t, "T1", f.ID)
	assert.Equal(t, "add", f.Op)
	assert.Equal(t, int64(42), f.TS)
	require.Len(t, f.Bands, 2)
	assert.Equal(t, book.TickBand{MinPrice: 10000, Tick: 10}, f.Bands[1])
}

func TestParseSession(t *testing.T) {
	ev, err := ParseRawEvent(RawEvent{
		EventType: "RefData",
		Subject:   "md.feed.refdata.session",
		Data:      []byte(`{"venue":"XA","segment":"MAIN","state":"halted","timestamp_ns":55}`),
	})
	require.NoError(t, err)

	f := ev.(*SessionFeed)
	assert.Equal(t, book.VenueID("XA"), f.Venue)
	assert.Equal(t, book.SessionHalted, f.State)
	assert.Equal(t, int64(55), f.TS)

	_, err = ParseRawEvent(RawEvent{
		EventType: "RefData",
		Subject:   "md.feed.refdata.session",
		Data:      []byte(`{"venue":"XA","segment":"MAIN","state":"lunch"}`),
	})
	assert.Error(t, err)
}

func TestParseTrade_Correct(t *testing.T) {
	ev, err := ParseRawEvent(RawEvent{
		EventType: "Trade",
		Data:      []byte(`{"venue":"XA","segment":"M","instrument":"I","op":"correct","trade_id":"T1","price":101,"qty":4,"orig_price":100,"orig_qty":5,"timestamp_ns":77}`),
	})
	require.NoError(t, err)

	f := ev.(*TradeFeed)
	assert.Equal(t, "correct", f.Op)
	assert.Equal(t, int64(100), f.OrigPrice)
	assert.Equal(t, int64(5), f.OrigQty)
}

func TestSubjectClass(t *testing.T) {
	assert.Equal(t, "order", subjectClass("md.feed.order.XA.INST1"))
	assert.Equal(t, "refdata", subjectClass("md.feed.refdata.venue"))
	assert.Equal(t, "unknown", subjectClass("md"))
}
