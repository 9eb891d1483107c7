package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BookEngine/internal/book"
	"BookEngine/internal/directory"
	"BookEngine/internal/shard"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Config{Shards: 2, QueueLen: 128}, zerolog.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(e.Stop)
	return e
}

var (
	ikey = book.Key{Venue: "XA", Segment: "MAIN", ID: "INST1"}
	bkXA = book.Key{Venue: "XA", Segment: "MAIN", ID: "INST1"}
	bkXB = book.Key{Venue: "XB", Segment: "MAIN", ID: "INST1"}
)

func listTwoVenues(t *testing.T, e *Engine) {
	t.Helper()
	_, err := e.AddVenue("XA", shard.ScopeOrderBook)
	require.NoError(t, err)
	_, err = e.AddVenue("XB", shard.ScopeOrderBook)
	require.NoError(t, err)
	e.AddInstrument(1, ikey, directory.RefData{Symbol: "INST1"})
	_, err = e.AddOrderBook(2, ikey, "XA", "MAIN", "", book.LotSizes{})
	require.NoError(t, err)
	_, err = e.AddOrderBook(3, ikey, "XB", "MAIN", "", book.LotSizes{})
	require.NoError(t, err)
}

func TestAddVenue_ScopeConflict(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.AddVenue("XA", shard.ScopeVenue)
	require.NoError(t, err)

	_, err = e.AddVenue("XA", shard.ScopeVenue)
	assert.NoError(t, err)
	_, err = e.AddVenue("XA", shard.ScopeOBSide)
	assert.Error(t, err)
}

func TestAddOrderBook_RequiresRegisteredVenue(t *testing.T) {
	e := newTestEngine(t)
	e.AddInstrument(1, ikey, directory.RefData{Symbol: "INST1"})
	_, err := e.AddOrderBook(2, ikey, "XZ", "MAIN", "", book.LotSizes{})
	assert.Error(t, err)
}

func TestDataPath_AggregatesAcrossVenues(t *testing.T) {
	e := newTestEngine(t)
	listTwoVenues(t, e)

	require.NoError(t, e.AddOrder(bkXA, "O1", 4, book.Buy, 1, 10000, 10, 0))
	require.NoError(t, e.PxLevel(bkXB, book.Buy, 5, false, 10000, 7, 2, 0))
	e.Drain()

	require.NotNil(t, e.Book(bkXA).Bids.FindLevel(10000))
	assert.Equal(t, int64(10), e.Book(bkXA).Bids.FindLevel(10000).Qty)

	c := e.Book(book.ConsolidatedKey("INST1"))
	require.NotNil(t, c)
	lvl := c.Bids.FindLevel(10000)
	require.NotNil(t, lvl)
	assert.Equal(t, int64(17), lvl.Qty)
	assert.Equal(t, int64(3), lvl.NOrders)
}

func TestHandler_ExceptionSlotReceivesUnknownOrder(t *testing.T) {
	e := newTestEngine(t)
	listTwoVenues(t, e)

	var mu sync.Mutex
	var errs []error
	e.SetHandler(&Handler{OnException: func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}})

	require.NoError(t, e.CancelOrder(bkXA, "NOPE", 4, book.Buy))
	e.Drain()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], book.ErrOrderNotFound)
}

func TestHandler_CallbacksOnDataPath(t *testing.T) {
	e := newTestEngine(t)
	listTwoVenues(t, e)

	var mu sync.Mutex
	var orders []book.OrderEvent
	var trades []book.Trade
	e.SetHandler(&Handler{
		OnOrder: func(_ *book.OrderBook, ev book.OrderEvent, _ *book.Order) {
			mu.Lock()
			orders = append(orders, ev)
			mu.Unlock()
		},
		OnTrade: func(_ *book.OrderBook, _ book.TradeEvent, tr book.Trade) {
			mu.Lock()
			trades = append(trades, tr)
			mu.Unlock()
		},
	})

	require.NoError(t, e.AddOrder(bkXA, "O1", 4, book.Buy, 1, 10000, 10, 0))
	require.NoError(t, e.CancelOrder(bkXA, "O1", 5, book.Buy))
	require.NoError(t, e.AddTrade(bkXA, "T1", 6, 10000, 3))
	e.Drain()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []book.OrderEvent{book.OrderAdded, book.OrderDeleted}, orders)
	require.Len(t, trades, 1)
	assert.Equal(t, "T1", trades[0].ID)
}

func TestHandler_CallbacksMayReenterFacade(t *testing.T) {
	e := newTestEngine(t)
	listTwoVenues(t, e)

	var mu sync.Mutex
	var sessions []book.SessionState
	e.SetHandler(&Handler{
		OnOrder: func(b *book.OrderBook, ev book.OrderEvent, _ *book.Order) {
			// write-lock and read-lock ops from inside a book callback
			if ev == book.OrderAdded {
				e.SetSession(10, "XA", "MAIN", book.SessionHalted)
			}
			assert.NotNil(t, e.Book(b.Key))
		},
		OnSession: func(_ book.VenueID, _ book.SegmentID, st book.SessionState) {
			mu.Lock()
			sessions = append(sessions, st)
			mu.Unlock()
		},
	})

	require.NoError(t, e.AddOrder(bkXA, "O1", 4, book.Buy, 1, 10000, 10, 0))
	e.Drain()

	assert.Equal(t, book.SessionHalted, e.Session("XA", "MAIN"))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []book.SessionState{book.SessionHalted}, sessions)
}

func TestHandler_TickTblSlots(t *testing.T) {
	e := newTestEngine(t)

	var added, sized, deleted []string
	e.SetHandler(&Handler{
		OnTickTblAdded: func(tbl *book.TickSizeTbl) { added = append(added, tbl.ID) },
		OnTickSize: func(tbl *book.TickSizeTbl, minPx, tick int64) {
			sized = append(sized, tbl.ID)
			assert.Equal(t, int64(10000), minPx)
			assert.Equal(t, int64(10), tick)
		},
		OnTickTblDeleted: func(id string) { deleted = append(deleted, id) },
	})

	tbl := e.AddTickSizeTbl(1, "T1", book.TickBand{MinPrice: 0, Tick: 5})
	require.NoError(t, e.AddTickSize(2, "T1", 10000, 10))
	assert.Error(t, e.AddTickSize(2, "T9", 10000, 10))
	e.DelTickSizeTbl(3, "T1")

	assert.Equal(t, int64(5), tbl.TickSize(100))
	assert.Equal(t, int64(10), tbl.TickSize(10000))
	assert.Equal(t, []string{"T1"}, added)
	assert.Equal(t, []string{"T1"}, sized)
	assert.Equal(t, []string{"T1"}, deleted)
}

func TestSession_CallbackAndIdempotence(t *testing.T) {
	e := newTestEngine(t)

	var mu sync.Mutex
	var got []book.SessionState
	e.SetHandler(&Handler{OnSession: func(_ book.VenueID, _ book.SegmentID, st book.SessionState) {
		mu.Lock()
		got = append(got, st)
		mu.Unlock()
	}})

	e.SetSession(1, "XA", "MAIN", book.SessionContinuous)
	e.SetSession(2, "XA", "MAIN", book.SessionContinuous)
	e.SetSession(3, "XA", "MAIN", book.SessionHalted)

	assert.Equal(t, book.SessionHalted, e.Session("XA", "MAIN"))
	assert.Equal(t, book.SessionUnknown, e.Session("XB", "MAIN"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []book.SessionState{book.SessionContinuous, book.SessionHalted}, got)
}

func TestSession_SurvivesReplay(t *testing.T) {
	e := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "capture.mdbc")
	_, err := e.StartRecording(path)
	require.NoError(t, err)
	e.SetSession(1, "XA", "MAIN", book.SessionPreOpen)
	e.SetSession(2, "XA", "MAIN", book.SessionContinuous)
	require.NoError(t, e.StopRecording())

	e2 := newTestEngine(t)
	require.NoError(t, e2.Replay(context.Background(), path, 0, nil))
	assert.Equal(t, book.SessionContinuous, e2.Session("XA", "MAIN"))
}

func TestFeedStatus_Slots(t *testing.T) {
	e := newTestEngine(t)

	var ups int
	var downs []error
	e.SetHandler(&Handler{
		OnFeedConnected:    func() { ups++ },
		OnFeedDisconnected: func(err error) { downs = append(downs, err) },
	})

	e.FeedStatus(true, nil)
	e.FeedStatus(false, context.DeadlineExceeded)
	e.FeedStatus(true, nil)

	assert.Equal(t, 2, ups)
	require.Len(t, downs, 1)
	assert.ErrorIs(t, downs[0], context.DeadlineExceeded)
}

func recordSession(t *testing.T) string {
	t.Helper()
	e := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "capture.mdbc")
	_, err := e.StartRecording(path)
	require.NoError(t, err)

	listTwoVenues(t, e)
	require.NoError(t, e.AddOrder(bkXA, "O1", 4, book.Buy, 1, 10000, 10, 0))
	require.NoError(t, e.PxLevel(bkXB, book.Buy, 5, false, 10000, 7, 2, 0))
	require.NoError(t, e.AddTrade(bkXA, "T1", 6, 10000, 3))
	e.Drain()
	require.NoError(t, e.StopRecording())
	return path
}

func TestReplay_RebuildsBookState(t *testing.T) {
	path := recordSession(t)

	e2 := newTestEngine(t)
	require.NoError(t, e2.Replay(context.Background(), path, 0, nil))

	i := e2.Instrument(ikey)
	require.NotNil(t, i)
	assert.Equal(t, "INST1", i.Ref.Symbol)

	xa := e2.Book(bkXA)
	require.NotNil(t, xa)
	lvl := xa.Bids.FindLevel(10000)
	require.NotNil(t, lvl)
	assert.Equal(t, int64(10), lvl.Qty)
	assert.Equal(t, int64(1), lvl.NOrders)
	assert.Equal(t, int64(10000), xa.L1.Last)
	assert.Equal(t, int64(3), xa.L1.Volume)

	xb := e2.Book(bkXB)
	require.NotNil(t, xb)
	require.NotNil(t, xb.Bids.FindLevel(10000))
	assert.Equal(t, int64(7), xb.Bids.FindLevel(10000).Qty)

	c := e2.Book(book.ConsolidatedKey("INST1"))
	require.NotNil(t, c)
	require.NotNil(t, c.Bids.FindLevel(10000))
	assert.Equal(t, int64(17), c.Bids.FindLevel(10000).Qty)
}

func TestReplay_TwiceConverges(t *testing.T) {
	path := recordSession(t)

	e2 := newTestEngine(t)
	require.NoError(t, e2.Replay(context.Background(), path, 0, nil))
	require.NoError(t, e2.Replay(context.Background(), path, 0, nil))

	xa := e2.Book(bkXA)
	assert.Equal(t, int64(10), xa.Bids.FindLevel(10000).Qty)
	assert.Equal(t, int64(3), xa.L1.Volume)
	assert.Equal(t, int64(7), e2.Book(bkXB).Bids.FindLevel(10000).Qty)
}

func TestReplay_FastForwardSuppressesCallbacks(t *testing.T) {
	path := recordSession(t)

	e2 := newTestEngine(t)
	var mu sync.Mutex
	var orderEvs int
	var tradeEvs int
	e2.SetHandler(&Handler{
		OnOrder: func(*book.OrderBook, book.OrderEvent, *book.Order) {
			mu.Lock()
			orderEvs++
			mu.Unlock()
		},
		OnTrade: func(*book.OrderBook, book.TradeEvent, book.Trade) {
			mu.Lock()
			tradeEvs++
			mu.Unlock()
		},
	})

	// begin after the order add, before the trade
	require.NoError(t, e2.Replay(context.Background(), path, 6, nil))

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, orderEvs)
	assert.Equal(t, 1, tradeEvs)

	// state is complete despite the suppressed callbacks
	assert.Equal(t, int64(10), e2.Book(bkXA).Bids.FindLevel(10000).Qty)
}

func TestReplay_RestoresTickTables(t *testing.T) {
	e := newTestEngine(t)
	path := filepath.Join(t.TempDir(), "capture.mdbc")
	_, err := e.StartRecording(path)
	require.NoError(t, err)

	e.AddTickSizeTbl(1, "T1", book.TickBand{MinPrice: 0, Tick: 5}, book.TickBand{MinPrice: 10000, Tick: 10})
	_, err = e.AddVenue("XA", shard.ScopeOrderBook)
	require.NoError(t, err)
	e.AddInstrument(2, ikey, directory.RefData{Symbol: "INST1"})
	_, err = e.AddOrderBook(3, ikey, "XA", "MAIN", "T1", book.LotSizes{})
	require.NoError(t, err)
	require.NoError(t, e.StopRecording())

	e2 := newTestEngine(t)
	require.NoError(t, e2.Replay(context.Background(), path, 0, nil))

	b := e2.Book(bkXA)
	require.NotNil(t, b)
	require.NotNil(t, b.TickTbl)
	assert.Equal(t, int64(5), b.TickTbl.TickSize(100))
	assert.Equal(t, int64(10), b.TickTbl.TickSize(10000))
}

func TestReplay_TimerAndEndSlots(t *testing.T) {
	path := recordSession(t)

	e2, err := New(Config{Shards: 2, QueueLen: 128, TimerInterval: 2}, zerolog.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(e2.Stop)

	var ticks []int64
	var endFrames []uint64
	e2.SetHandler(&Handler{
		OnTimer:     func(ts int64) { ticks = append(ticks, ts) },
		OnReplayEnd: func(frames uint64) { endFrames = append(endFrames, frames) },
	})

	// capture stamps run 1..6ns; a 2ns virtual clock ticks at 3 and 5
	require.NoError(t, e2.Replay(context.Background(), path, 0, nil))

	assert.Equal(t, []int64{3, 5}, ticks)
	require.Len(t, endFrames, 1)
	assert.Greater(t, endFrames[0], uint64(0))
}
