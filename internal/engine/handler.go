package engine

import (
	"BookEngine/internal/book"
	"BookEngine/internal/directory"
)

// Handler is the subscriber callback set. Every slot is optional; nil
// slots are skipped. Callbacks run on the owning shard's goroutine for
// book events and on the caller's goroutine for reference-data events,
// after the corresponding mutation is serialized to the broadcast
// stream and the reference-data lock is released.
//
// The exception slot is always installed: SetHandler backfills a nil
// OnException with a logging default, so recoverable book errors are
// never silently dropped.
type Handler struct {
	OnInstrumentAdded   func(i *directory.Instrument)
	OnInstrumentDeleted func(key book.Key)
	OnBookAdded         func(b *book.OrderBook)
	OnBookDeleted       func(key book.Key)
	OnSession           func(venue book.VenueID, segment book.SegmentID, state book.SessionState)
	OnTickTblAdded      func(tbl *book.TickSizeTbl)
	OnTickTblDeleted    func(id string)
	OnTickSize          func(tbl *book.TickSizeTbl, minPx, tick int64)

	OnL1    func(b *book.OrderBook, changed uint32)
	OnL2    func(b *book.OrderBook, ts int64)
	OnLevel func(b *book.OrderBook, side book.Side, ts, px, qty, nOrders int64, ev book.LevelEvent)
	OnOrder func(b *book.OrderBook, ev book.OrderEvent, o *book.Order)
	OnTrade func(b *book.OrderBook, ev book.TradeEvent, t book.Trade)

	// OnTimer fires on the periodic tick: wall clock when a daemon
	// drives Tick, the capture's virtual clock during replay.
	OnTimer func(ts int64)

	OnFeedConnected    func()
	OnFeedDisconnected func(err error)
	OnReplayEnd        func(frames uint64)

	OnException func(err error)
}
