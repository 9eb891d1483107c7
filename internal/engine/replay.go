package engine

import (
	"context"
	"fmt"

	"BookEngine/internal/book"
	"BookEngine/internal/broadcast"
	"BookEngine/internal/directory"
	"BookEngine/internal/shard"
)

// Replay feeds a capture file back through the engine. The engine must
// be quiescent: no feeds posting to shards while a replay runs. Frames
// are applied inline on the calling goroutine with broadcasting muted,
// so a replay never re-records or re-publishes its own input.
//
// begin fast-forwards the virtual clock: earlier frames still rebuild
// book state but subscriber callbacks stay suppressed until the clock
// reaches begin. filter drops non-refdata frames it returns false for.
//
// Replaying a capture into the engine that produced it converges on the
// same book state: order frames key by order ID, level frames are
// absolute snapshots, and L1 frames carry absolute summary fields.
func (e *Engine) Replay(ctx context.Context, path string, begin int64, filter func(broadcast.Frame) bool) error {
	if !e.muted.CompareAndSwap(false, true) {
		return fmt.Errorf("replay: already running")
	}
	defer e.muted.Store(false)
	defer e.ffwd.Store(false)

	rp := broadcast.NewReplayer(path, e.log, e.m)
	rp.Begin = begin
	rp.Filter = filter

	var frames uint64
	var nextTick int64
	_, err := rp.Replay(ctx, broadcast.ApplierFunc(func(f broadcast.Frame) error {
		e.ffwd.Store(rp.FastForwarding(f.Time()))
		if e.timerEvery > 0 {
			if nextTick == 0 {
				nextTick = f.Time() + e.timerEvery
			}
			for f.Time() >= nextTick {
				e.Tick(nextTick)
				nextTick += e.timerEvery
			}
		}
		frames++
		return e.applyFrame(f)
	}))
	if err != nil {
		return err
	}
	if h := e.handler.Load(); h.OnReplayEnd != nil {
		h.OnReplayEnd(frames)
		e.countSlot("replay_end")
	}
	return nil
}

// ApplyFrame applies one decoded frame. Used by the replayer and by
// NATS consumers mirroring a remote engine's broadcast stream.
func (e *Engine) ApplyFrame(f broadcast.Frame) error {
	return e.applyFrame(f)
}

func (e *Engine) applyFrame(f broadcast.Frame) error {
	switch fr := f.(type) {
	case *broadcast.AddInstrument:
		e.AddInstrument(fr.TS, fr.Key, directory.RefData{
			Symbol:       fr.Symbol,
			AltSymbol:    fr.AltSymbol,
			UnderVenue:   book.VenueID(fr.UnderVenue),
			UnderSegment: book.SegmentID(fr.UnderSegment),
			Underlying:   fr.Underlying,
			Maturity:     int(fr.Maturity),
			PutCall:      directory.PutCall(fr.PutCall),
			Strike:       fr.Strike,
		})
		return nil

	case *broadcast.DelInstrument:
		e.DelInstrument(fr.TS, fr.Key)
		return nil

	case *broadcast.AddOrderBook:
		// capture frames carry no venue scope; a venue first seen during
		// replay defaults to per-book order IDs
		if _, err := e.AddVenue(book.VenueID(fr.Venue), shard.ScopeOrderBook); err != nil {
			return err
		}
		_, err := e.AddOrderBook(fr.TS, fr.InstrKey, book.VenueID(fr.Venue), book.SegmentID(fr.Segment), fr.TickTbl, book.LotSizes{
			OddLot:   fr.OddLot,
			RoundLot: fr.RoundLot,
			BlockLot: fr.BlockLot,
		})
		return err

	case *broadcast.DelOrderBook:
		e.DelOrderBook(fr.TS, fr.InstrKey, book.VenueID(fr.Venue), book.SegmentID(fr.Segment))
		return nil

	case *broadcast.L1Update:
		b := e.Book(fr.Key)
		if b == nil {
			return nil
		}
		b.MergeL1(fr.Data)
		return nil

	case *broadcast.LevelUpdate:
		b := e.Book(fr.Key)
		if b == nil || fr.Propagated {
			return nil
		}
		// order-backed sides rebuild from order frames; applying the
		// level snapshot on top would double-count the resting orders
		if b.Side(fr.Side).OrderCount() > 0 {
			return nil
		}
		b.PxLevel(fr.Side, fr.TS, false, fr.Price, fr.Qty, fr.NOrders, 0)
		return nil

	case *broadcast.OrderUpdate:
		b := e.Book(fr.Key)
		if b == nil {
			return nil
		}
		switch fr.Event {
		case book.OrderAdded, book.OrderModified:
			b.AddOrder(fr.ID, fr.TS, fr.Side, fr.Rank, fr.Price, fr.Qty, fr.Flags)
		case book.OrderDeleted:
			b.CancelOrder(fr.ID, fr.TS, fr.Side)
		}
		return nil

	case *broadcast.TradeUpdate:
		// book state comes back via the L1 frames that followed the
		// print; only the subscriber needs the trade itself
		b := e.Book(fr.Key)
		if b == nil {
			return nil
		}
		if h := e.handler.Load(); h.OnTrade != nil && !e.suppressed() {
			h.OnTrade(b, fr.Event, book.Trade{ID: fr.ID, Time: fr.TS, Price: fr.Price, Qty: fr.Qty})
			e.countSlot("trade")
		}
		return nil

	case *broadcast.AddTickTbl:
		e.AddTickSizeTbl(fr.TS, fr.ID, fr.Bands...)
		return nil

	case *broadcast.DelTickTbl:
		e.DelTickSizeTbl(fr.TS, fr.ID)
		return nil

	case *broadcast.SessionUpdate:
		e.SetSession(fr.TS, book.VenueID(fr.Venue), book.SegmentID(fr.Segment), fr.State)
		return nil

	case *broadcast.BookReset:
		b := e.Book(fr.Key)
		if b == nil {
			return nil
		}
		b.Reset(fr.TS)
		return nil

	default:
		return fmt.Errorf("applyFrame: unhandled frame type %s", f.Type())
	}
}
