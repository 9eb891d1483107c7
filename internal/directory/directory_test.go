package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BookEngine/internal/book"
)

func instKey(id string) book.Key {
	return book.Key{Venue: "XA", Segment: "MAIN", ID: id}
}

func TestAddOrderBook_IdempotentByKey(t *testing.T) {
	d := New(nil)
	i := d.AddInstrument(instKey("INST1"), RefData{Symbol: "INST1"})

	b1, err := d.AddOrderBook(i, "XA", "MAIN", nil, book.LotSizes{})
	require.NoError(t, err)
	b2, err := d.AddOrderBook(i, "XA", "MAIN", nil, book.LotSizes{})
	require.NoError(t, err)
	assert.Same(t, b1, b2)
	assert.Nil(t, i.ConsolidatedBook())
}

func TestAddOrderBook_EmptyVenueRejected(t *testing.T) {
	d := New(nil)
	i := d.AddInstrument(instKey("INST1"), RefData{})
	_, err := d.AddOrderBook(i, "", "MAIN", nil, book.LotSizes{})
	assert.Error(t, err)
}

func TestSecondVenue_SynthesizesConsolidated(t *testing.T) {
	d := New(nil)
	i := d.AddInstrument(instKey("INST1"), RefData{Symbol: "INST1"})

	b, err := d.AddOrderBook(i, "XA", "MAIN", nil, book.LotSizes{})
	require.NoError(t, err)
	b.AddOrder("O1", 1, book.Buy, 1, 10100, 10, 0)

	b2, err := d.AddOrderBook(i, "XB", "MAIN", nil, book.LotSizes{})
	require.NoError(t, err)

	c := i.ConsolidatedBook()
	require.NotNil(t, c)
	assert.Same(t, c, b.Consolidated())
	assert.Same(t, c, b2.Consolidated())

	// consolidated seeded with the first sibling's existing depth
	lvl := c.Bids.FindLevel(10100)
	require.NotNil(t, lvl)
	assert.Equal(t, int64(10), lvl.Qty)

	// new depth on the second venue aggregates into the same level
	b2.AddOrder("P1", 2, book.Buy, 1, 10100, 3, 0)
	assert.Equal(t, int64(13), lvl.Qty)
	assert.Equal(t, int64(2), lvl.NOrders)
}

func TestConsolidatedAggregateMatchesSiblingSum(t *testing.T) {
	d := New(nil)
	i := d.AddInstrument(instKey("INST1"), RefData{Symbol: "INST1"})
	b, _ := d.AddOrderBook(i, "XA", "MAIN", nil, book.LotSizes{})
	b2, _ := d.AddOrderBook(i, "XB", "MAIN", nil, book.LotSizes{})

	b.AddOrder("O1", 1, book.Buy, 1, 10000, 10, 0)
	b2.AddOrder("P1", 2, book.Buy, 1, 10050, 4, 0)
	b.ModifyOrder("O1", 3, book.Buy, 1, 10050, 8, 0)
	b2.CancelOrder("P1", 4, book.Buy)
	b2.AddOrder("P2", 5, book.Buy, 1, 9900, 6, 0)

	c := i.ConsolidatedBook()
	require.NotNil(t, c)
	assert.Equal(t, b.Bids.Qty+b2.Bids.Qty, c.Bids.Qty)
}

func TestDelOrderBook_TearsDownConsolidated(t *testing.T) {
	d := New(nil)
	i := d.AddInstrument(instKey("INST1"), RefData{Symbol: "INST1"})
	b, _ := d.AddOrderBook(i, "XA", "MAIN", nil, book.LotSizes{})
	b2, _ := d.AddOrderBook(i, "XB", "MAIN", nil, book.LotSizes{})

	b.AddOrder("O1", 1, book.Buy, 1, 10000, 10, 0)
	b2.AddOrder("P1", 2, book.Buy, 1, 10000, 5, 0)

	d.DelOrderBook(i, "XB", "MAIN", 3)

	assert.Nil(t, i.OrderBook("XB", "MAIN"))
	assert.Nil(t, i.ConsolidatedBook())
	assert.Nil(t, b.Consolidated())
	// surviving book keeps its own depth
	require.NotNil(t, b.Bids.FindLevel(10000))
	assert.Equal(t, int64(10), b.Bids.Qty)
}

func TestDelOrderBook_RetractsFromSurvivingConsolidated(t *testing.T) {
	d := New(nil)
	i := d.AddInstrument(instKey("INST1"), RefData{Symbol: "INST1"})
	b, _ := d.AddOrderBook(i, "XA", "MAIN", nil, book.LotSizes{})
	b2, _ := d.AddOrderBook(i, "XB", "MAIN", nil, book.LotSizes{})
	b3, _ := d.AddOrderBook(i, "XC", "MAIN", nil, book.LotSizes{})

	b.AddOrder("O1", 1, book.Buy, 1, 10000, 10, 0)
	b2.AddOrder("P1", 2, book.Buy, 1, 10000, 5, 0)
	b3.AddOrder("Q1", 3, book.Buy, 1, 10000, 2, 0)

	d.DelOrderBook(i, "XC", "MAIN", 4)

	c := i.ConsolidatedBook()
	require.NotNil(t, c)
	lvl := c.Bids.FindLevel(10000)
	require.NotNil(t, lvl)
	assert.Equal(t, int64(15), lvl.Qty)
	assert.Equal(t, int64(2), lvl.NOrders)
}

func TestDerivativeIndexing(t *testing.T) {
	d := New(nil)
	under := d.AddInstrument(instKey("INST1"), RefData{Symbol: "INST1"})

	fut := d.AddInstrument(instKey("INST1F"), RefData{
		Symbol: "INST1F", UnderVenue: "XA", UnderSegment: "MAIN",
		Underlying: "INST1", Maturity: 20270300,
	})
	opt := d.AddInstrument(instKey("INST1C"), RefData{
		Symbol: "INST1C", UnderVenue: "XA", UnderSegment: "MAIN",
		Underlying: "INST1", Maturity: 20270300, PutCall: Call, Strike: 10500,
	})

	require.NotNil(t, under.Derivatives())
	assert.Same(t, fut, under.Derivatives().Future(20270300))
	assert.Same(t, opt, under.Derivatives().Option(20270300, Call, 10500))
	assert.Nil(t, under.Derivatives().Option(20270300, Put, 10500))
	assert.Same(t, under, fut.Underlying())
}

func TestTickSizeTbl(t *testing.T) {
	d := New(nil)
	tbl := d.AddTickSizeTbl("T1")
	tbl.AddTickSize(0, 1)
	tbl.AddTickSize(10000, 5)
	tbl.AddTickSize(100000, 10)

	assert.Equal(t, int64(1), tbl.TickSize(9999))
	assert.Equal(t, int64(5), tbl.TickSize(10000))
	assert.Equal(t, int64(10), tbl.TickSize(250000))
	assert.Same(t, tbl, d.AddTickSizeTbl("T1"))

	d.DelTickSizeTbl("T1")
	assert.Nil(t, d.TickSizeTbl("T1"))
}
