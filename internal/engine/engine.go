package engine

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BookEngine/internal/book"
	"BookEngine/internal/broadcast"
	"BookEngine/internal/directory"
	"BookEngine/internal/observability"
	"BookEngine/internal/shard"
)

// Config sizes the engine's shard pool and the periodic timer.
type Config struct {
	Shards        int
	QueueLen      int
	TimerInterval time.Duration
}

// Engine is the library façade over the instrument directory, the shard
// pool, and the broadcast fan-out.
//
// Locking: refMu guards the directory and the venue registry. Every
// mutation, reference data and book data alike, follows lock, mutate,
// serialize to broadcast, unlock, then handler callback. Book mutations
// run on the owning shard's goroutine under the read lock; their sink
// events serialize inline but the subscriber callbacks they raise are
// queued and fired only after the lock is released, so a handler may
// re-enter any façade operation without wedging the shard.
//
// An instrument's sibling books and its consolidated book always share
// one shard (assignment hashes the instrument ID alone), so consolidated
// delta propagation runs inline without crossing goroutines.
type Engine struct {
	log zerolog.Logger
	m   *observability.Metrics

	pool *shard.Pool

	refMu    sync.RWMutex
	dir      *directory.Directory
	venues   map[book.VenueID]*Venue
	books    map[book.Key]*book.OrderBook
	sessions map[sessionKey]book.SessionState

	handler atomic.Pointer[Handler]

	// deferred[i] is owned by shard i's goroutine; sink events queue
	// their callbacks here while a PostBook task holds the read lock
	deferred []callbackQueue

	recorder  atomic.Pointer[broadcast.Recorder]
	publisher atomic.Pointer[broadcast.Publisher]

	// replay state; muted gates both, ffwd is only read while muted
	muted atomic.Bool
	ffwd  atomic.Bool

	timerEvery int64 // ns between OnTimer fires
}

func New(cfg Config, log zerolog.Logger, m *observability.Metrics) (*Engine, error) {
	if cfg.Shards <= 0 {
		cfg.Shards = runtime.GOMAXPROCS(0)
	}
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = 1024
	}
	if cfg.TimerInterval <= 0 {
		cfg.TimerInterval = time.Second
	}
	pool, err := shard.NewPool(cfg.Shards, cfg.QueueLen, log)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		log:      log,
		m:        m,
		pool:     pool,
		venues:   make(map[book.VenueID]*Venue),
		books:    make(map[book.Key]*book.OrderBook),
		sessions: make(map[sessionKey]book.SessionState),
		deferred: make([]callbackQueue, pool.Size()),
	}
	e.timerEvery = cfg.TimerInterval.Nanoseconds()
	e.dir = directory.New(e)
	e.handler.Store(&Handler{OnException: e.logException})
	return e, nil
}

// Stop drains the shard pool and closes any active recording.
func (e *Engine) Stop() {
	e.pool.Stop()
	if r := e.recorder.Swap(nil); r != nil {
		if err := r.Close(); err != nil {
			e.log.Error().Err(err).Msg("close recorder")
		}
	}
}

func (e *Engine) logException(err error) {
	e.log.Warn().Err(err).Msg("book exception")
}

// SetHandler swaps the subscriber callback set. A nil handler installs
// the no-op default; a nil exception slot is backfilled with the logging
// default.
func (e *Engine) SetHandler(h *Handler) {
	if h == nil {
		h = &Handler{}
	}
	hh := *h
	if hh.OnException == nil {
		hh.OnException = e.logException
	}
	e.handler.Store(&hh)
}

// suppressed reports whether subscriber callbacks are muted: only during
// replay fast-forward, before the virtual clock reaches the begin stamp.
func (e *Engine) suppressed() bool {
	return e.muted.Load() && e.ffwd.Load()
}

func (e *Engine) emit(f broadcast.Frame) {
	if e.muted.Load() {
		return
	}
	if r := e.recorder.Load(); r != nil {
		if err := r.Write(f); err != nil {
			e.log.Error().Err(err).Str("frame", f.Type().String()).Msg("record frame")
		}
	}
	if p := e.publisher.Load(); p != nil {
		if err := p.Publish(f); err != nil {
			e.log.Error().Err(err).Str("frame", f.Type().String()).Msg("publish frame")
		}
	}
}

func (e *Engine) countOp(op string) {
	if e.m != nil {
		e.m.BookUpdatesApplied.WithLabelValues(op).Inc()
	}
}

func (e *Engine) countSlot(slot string) {
	if e.m != nil {
		e.m.HandlerCallbacks.WithLabelValues(slot).Inc()
	}
}

// --- Reference data ---

// AddVenue registers a feed source with its order-ID scope. Idempotent
// for an identical scope; re-registering with a different scope errors.
func (e *Engine) AddVenue(id book.VenueID, scope shard.IDScope) (*Venue, error) {
	if id == "" {
		return nil, fmt.Errorf("addVenue: empty venue ID")
	}
	e.refMu.Lock()
	defer e.refMu.Unlock()
	if v, ok := e.venues[id]; ok {
		if v.Scope != scope {
			return nil, fmt.Errorf("addVenue %s: scope %s conflicts with registered %s", id, scope, v.Scope)
		}
		return v, nil
	}
	v := newVenue(id, scope, e.pool.Size())
	e.venues[id] = v
	return v, nil
}

// Venue resolves a registered venue, nil when unknown.
func (e *Engine) Venue(id book.VenueID) *Venue {
	e.refMu.RLock()
	defer e.refMu.RUnlock()
	return e.venues[id]
}

// AddTickSizeTbl registers (or refreshes) a shared tick table with the
// given bands.
func (e *Engine) AddTickSizeTbl(ts int64, id string, bands ...book.TickBand) *book.TickSizeTbl {
	e.refMu.Lock()
	tbl := e.dir.AddTickSizeTbl(id)
	for _, band := range bands {
		tbl.AddTickSize(band.MinPrice, band.Tick)
	}
	e.emit(&broadcast.AddTickTbl{TS: ts, ID: id, Bands: tbl.Bands()})
	e.refMu.Unlock()

	e.countOp("add_ticktbl")
	if h := e.handler.Load(); h.OnTickTblAdded != nil && !e.suppressed() {
		h.OnTickTblAdded(tbl)
		e.countSlot("ticktbl_added")
	}
	return tbl
}

// AddTickSize inserts or replaces one band of a registered tick table.
func (e *Engine) AddTickSize(ts int64, id string, minPx, tick int64) error {
	e.refMu.Lock()
	tbl := e.dir.TickSizeTbl(id)
	if tbl == nil {
		e.refMu.Unlock()
		return fmt.Errorf("addTickSize: unknown tick table %q", id)
	}
	tbl.AddTickSize(minPx, tick)
	e.emit(&broadcast.AddTickTbl{TS: ts, ID: id, Bands: tbl.Bands()})
	e.refMu.Unlock()

	e.countOp("add_ticksize")
	if h := e.handler.Load(); h.OnTickSize != nil && !e.suppressed() {
		h.OnTickSize(tbl, minPx, tick)
		e.countSlot("tick_size")
	}
	return nil
}

// DelTickSizeTbl drops a tick table registration.
func (e *Engine) DelTickSizeTbl(ts int64, id string) {
	e.refMu.Lock()
	e.dir.DelTickSizeTbl(id)
	e.emit(&broadcast.DelTickTbl{TS: ts, ID: id})
	e.refMu.Unlock()

	e.countOp("del_ticktbl")
	if h := e.handler.Load(); h.OnTickTblDeleted != nil && !e.suppressed() {
		h.OnTickTblDeleted(id)
		e.countSlot("ticktbl_deleted")
	}
}

type sessionKey struct {
	Venue   book.VenueID
	Segment book.SegmentID
}

// SetSession records the trading phase for every book on (venue,
// segment). Repeating the current phase is a no-op and emits nothing.
func (e *Engine) SetSession(ts int64, venue book.VenueID, segment book.SegmentID, state book.SessionState) {
	k := sessionKey{Venue: venue, Segment: segment}

	e.refMu.Lock()
	if e.sessions[k] == state {
		e.refMu.Unlock()
		return
	}
	e.sessions[k] = state
	e.emit(&broadcast.SessionUpdate{
		TS:      ts,
		Venue:   string(venue),
		Segment: string(segment),
		State:   state,
	})
	e.refMu.Unlock()

	e.countOp("set_session")
	if h := e.handler.Load(); h.OnSession != nil && !e.suppressed() {
		h.OnSession(venue, segment, state)
		e.countSlot("session")
	}
}

// Session returns the trading phase of (venue, segment),
// SessionUnknown when never set.
func (e *Engine) Session(venue book.VenueID, segment book.SegmentID) book.SessionState {
	e.refMu.RLock()
	defer e.refMu.RUnlock()
	return e.sessions[sessionKey{Venue: venue, Segment: segment}]
}

// AddInstrument registers or refreshes an instrument.
func (e *Engine) AddInstrument(ts int64, key book.Key, ref directory.RefData) *directory.Instrument {
	e.refMu.Lock()
	i := e.dir.AddInstrument(key, ref)
	e.emit(&broadcast.AddInstrument{
		TS:           ts,
		Key:          key,
		Symbol:       ref.Symbol,
		AltSymbol:    ref.AltSymbol,
		UnderVenue:   string(ref.UnderVenue),
		UnderSegment: string(ref.UnderSegment),
		Underlying:   ref.Underlying,
		Maturity:     uint32(ref.Maturity),
		PutCall:      uint8(ref.PutCall),
		Strike:       ref.Strike,
	})
	e.refMu.Unlock()

	e.countOp("add_instrument")
	if h := e.handler.Load(); h.OnInstrumentAdded != nil && !e.suppressed() {
		h.OnInstrumentAdded(i)
		e.countSlot("instrument_added")
	}
	return i
}

// DelInstrument drops an instrument and its books.
func (e *Engine) DelInstrument(ts int64, key book.Key) {
	e.refMu.Lock()
	if i := e.dir.Instrument(key); i != nil {
		i.Books(func(b *book.OrderBook) bool {
			delete(e.books, b.Key)
			return true
		})
	}
	e.dir.DelInstrument(key)
	e.emit(&broadcast.DelInstrument{TS: ts, Key: key})
	e.refMu.Unlock()

	e.countOp("del_instrument")
	if h := e.handler.Load(); h.OnInstrumentDeleted != nil && !e.suppressed() {
		h.OnInstrumentDeleted(key)
		e.countSlot("instrument_deleted")
	}
}

// Instrument resolves by primary key.
func (e *Engine) Instrument(key book.Key) *directory.Instrument {
	e.refMu.RLock()
	defer e.refMu.RUnlock()
	return e.dir.Instrument(key)
}

// BySymbol resolves by refdata symbol.
func (e *Engine) BySymbol(sym string) *directory.Instrument {
	e.refMu.RLock()
	defer e.refMu.RUnlock()
	return e.dir.BySymbol(sym)
}

// Instruments walks registered instruments under the read lock.
func (e *Engine) Instruments(fn func(*directory.Instrument) bool) {
	e.refMu.RLock()
	defer e.refMu.RUnlock()
	e.dir.Instruments(fn)
}

// AddOrderBook lists an instrument on (venue, segment). The venue must
// be registered; its scope decides the shard order index wired into the
// book.
func (e *Engine) AddOrderBook(ts int64, instrKey book.Key, venue book.VenueID, segment book.SegmentID, tickTblID string, lots book.LotSizes) (*book.OrderBook, error) {
	e.refMu.Lock()
	i := e.dir.Instrument(instrKey)
	if i == nil {
		e.refMu.Unlock()
		return nil, fmt.Errorf("addOrderBook: unknown instrument %v", instrKey)
	}
	v, ok := e.venues[venue]
	if !ok {
		e.refMu.Unlock()
		return nil, fmt.Errorf("addOrderBook %s: venue %s not registered", instrKey.ID, venue)
	}
	var tbl *book.TickSizeTbl
	if tickTblID != "" {
		tbl = e.dir.TickSizeTbl(tickTblID)
	}

	b, err := e.dir.AddOrderBook(i, venue, segment, tbl, lots)
	if err != nil {
		e.refMu.Unlock()
		return nil, err
	}
	b.SetIndex(v.Index(e.pool.ForBook(b.Key).ID()))
	e.books[b.Key] = b
	if c := i.ConsolidatedBook(); c != nil {
		e.books[c.Key] = c
	}
	if e.m != nil {
		e.m.BookCount.Set(float64(len(e.books)))
	}
	e.emit(&broadcast.AddOrderBook{
		TS:       ts,
		InstrKey: instrKey,
		Venue:    string(venue),
		Segment:  string(segment),
		TickTbl:  tickTblID,
		OddLot:   lots.OddLot,
		RoundLot: lots.RoundLot,
		BlockLot: lots.BlockLot,
	})
	e.refMu.Unlock()

	e.countOp("add_orderbook")
	if h := e.handler.Load(); h.OnBookAdded != nil && !e.suppressed() {
		h.OnBookAdded(b)
		e.countSlot("book_added")
	}
	return b, nil
}

// DelOrderBook delists an instrument from (venue, segment), retracting
// its depth from the consolidated sibling first.
func (e *Engine) DelOrderBook(ts int64, instrKey book.Key, venue book.VenueID, segment book.SegmentID) {
	key := book.Key{Venue: venue, Segment: segment, ID: instrKey.ID}

	e.refMu.Lock()
	if i := e.dir.Instrument(instrKey); i != nil {
		e.dir.DelOrderBook(i, venue, segment, ts)
		delete(e.books, key)
		if i.ConsolidatedBook() == nil {
			delete(e.books, book.ConsolidatedKey(instrKey.ID))
		}
	}
	if e.m != nil {
		e.m.BookCount.Set(float64(len(e.books)))
	}
	e.emit(&broadcast.DelOrderBook{
		TS:       ts,
		InstrKey: instrKey,
		Venue:    string(venue),
		Segment:  string(segment),
	})
	e.refMu.Unlock()

	e.countOp("del_orderbook")
	if h := e.handler.Load(); h.OnBookDeleted != nil && !e.suppressed() {
		h.OnBookDeleted(key)
		e.countSlot("book_deleted")
	}
}

// Book resolves a live book by key; the consolidated sentinel key
// resolves the consolidated book.
func (e *Engine) Book(key book.Key) *book.OrderBook {
	e.refMu.RLock()
	defer e.refMu.RUnlock()
	return e.books[key]
}

// Books walks every live book under the read lock.
func (e *Engine) Books(fn func(*book.OrderBook) bool) {
	e.refMu.RLock()
	defer e.refMu.RUnlock()
	for _, b := range e.books {
		if !fn(b) {
			return
		}
	}
}

// --- Data path ---

// callbackQueue collects subscriber callbacks raised by sink events
// while a shard task holds the read lock. Only the owning shard's
// goroutine touches its queue.
type callbackQueue struct {
	collecting bool
	fires      []func()
}

// dispatch fires a sink callback, or queues it when the book's shard is
// mid-mutation so it runs after the read lock is released.
func (e *Engine) dispatch(key book.Key, fire func()) {
	q := &e.deferred[e.pool.ForBook(key).ID()]
	if q.collecting {
		q.fires = append(q.fires, fire)
		return
	}
	fire()
}

// PostBook schedules fn on the book's owning shard. The read lock is
// held while fn mutates and serializes so reference-data writers never
// interleave with an in-flight mutation; subscriber callbacks raised by
// fn fire after the lock is released.
func (e *Engine) PostBook(key book.Key, fn func(*book.OrderBook)) error {
	b := e.Book(key)
	if b == nil {
		return fmt.Errorf("postBook: unknown book %v", key)
	}
	sh := e.pool.ForBook(key)
	sh.Post(func() {
		q := &e.deferred[sh.ID()]
		q.collecting = true
		e.refMu.RLock()
		fn(b)
		e.refMu.RUnlock()
		q.collecting = false
		fires := q.fires
		q.fires = nil
		for _, fire := range fires {
			fire()
		}
	})
	return nil
}

// AddOrder posts a new order; a duplicate ID becomes a modify.
func (e *Engine) AddOrder(key book.Key, id string, ts int64, side book.Side, rank uint64, px, qty int64, flags uint32) error {
	e.countOp("add_order")
	return e.PostBook(key, func(b *book.OrderBook) {
		b.AddOrder(id, ts, side, rank, px, qty, flags)
	})
}

// ModifyOrder changes an order; zero qty deletes it.
func (e *Engine) ModifyOrder(key book.Key, id string, ts int64, side book.Side, rank uint64, px, qty int64, flags uint32) error {
	e.countOp("modify_order")
	return e.PostBook(key, func(b *book.OrderBook) {
		b.ModifyOrder(id, ts, side, rank, px, qty, flags)
	})
}

// ReduceOrder subtracts qty; reducing to or past zero removes the order.
func (e *Engine) ReduceOrder(key book.Key, id string, ts int64, side book.Side, qty int64) error {
	e.countOp("reduce_order")
	return e.PostBook(key, func(b *book.OrderBook) {
		b.ReduceOrder(id, ts, side, qty)
	})
}

// CancelOrder removes an order.
func (e *Engine) CancelOrder(key book.Key, id string, ts int64, side book.Side) error {
	e.countOp("cancel_order")
	return e.PostBook(key, func(b *book.OrderBook) {
		b.CancelOrder(id, ts, side)
	})
}

// PxLevel applies a price-level snapshot or delta.
func (e *Engine) PxLevel(key book.Key, side book.Side, ts int64, delta bool, px, qty, nOrders int64, flags uint32) error {
	e.countOp("px_level")
	return e.PostBook(key, func(b *book.OrderBook) {
		b.PxLevel(side, ts, delta, px, qty, nOrders, flags)
	})
}

// MergeL1 folds a venue top-of-book update into the summary.
func (e *Engine) MergeL1(key book.Key, in book.L1Data) error {
	e.countOp("l1")
	return e.PostBook(key, func(b *book.OrderBook) {
		b.MergeL1(in)
	})
}

// L2 signals an L2 tick, optionally refreshing the derived L1 top.
func (e *Engine) L2(key book.Key, ts int64, updateL1 bool) error {
	e.countOp("l2")
	return e.PostBook(key, func(b *book.OrderBook) {
		b.L2(ts, updateL1)
	})
}

// AddTrade applies a reported execution.
func (e *Engine) AddTrade(key book.Key, id string, ts, px, qty int64) error {
	e.countOp("trade")
	return e.PostBook(key, func(b *book.OrderBook) {
		b.AddTrade(id, ts, px, qty)
	})
}

// CorrectTrade replaces an earlier print.
func (e *Engine) CorrectTrade(key book.Key, id string, ts, origPx, origQty, px, qty int64) error {
	e.countOp("trade_correct")
	return e.PostBook(key, func(b *book.OrderBook) {
		b.CorrectTrade(id, ts, origPx, origQty, px, qty)
	})
}

// CancelTrade busts an earlier print.
func (e *Engine) CancelTrade(key book.Key, id string, ts, px, qty int64) error {
	e.countOp("trade_cancel")
	return e.PostBook(key, func(b *book.OrderBook) {
		b.CancelTrade(id, ts, px, qty)
	})
}

// ResetBook discards a book's depth, retracting it from the consolidated
// sibling.
func (e *Engine) ResetBook(key book.Key, ts int64) error {
	e.countOp("reset")
	return e.PostBook(key, func(b *book.OrderBook) {
		b.Reset(ts)
		e.emit(&broadcast.BookReset{TS: ts, Key: b.Key})
	})
}

// Drain blocks until every shard has executed the work queued before the
// call. Test and shutdown aid.
func (e *Engine) Drain() {
	var wg sync.WaitGroup
	for i := 0; i < e.pool.Size(); i++ {
		wg.Add(1)
		e.pool.Shard(i).Post(wg.Done)
	}
	wg.Wait()
}

// Tick fires the periodic timer slot. Daemons drive it from a wall
// clock; replay drives it from the capture's virtual clock.
func (e *Engine) Tick(ts int64) {
	if h := e.handler.Load(); h.OnTimer != nil && !e.suppressed() {
		h.OnTimer(ts)
		e.countSlot("timer")
	}
}

// FeedStatus reports feed transport connectivity to the subscriber.
func (e *Engine) FeedStatus(connected bool, err error) {
	h := e.handler.Load()
	if connected {
		if h.OnFeedConnected != nil {
			h.OnFeedConnected()
			e.countSlot("feed_connected")
		}
		return
	}
	if h.OnFeedDisconnected != nil {
		h.OnFeedDisconnected(err)
		e.countSlot("feed_disconnected")
	}
}

// --- Recording and live publish ---

// StartRecording opens a capture file and begins serializing every
// subsequent mutation to it. Returns the capture session ID.
func (e *Engine) StartRecording(path string) (uuid.UUID, error) {
	session := uuid.New()
	rec, err := broadcast.NewRecorder(path, session, e.log, e.m)
	if err != nil {
		return uuid.UUID{}, err
	}
	if old := e.recorder.Swap(rec); old != nil {
		if cerr := old.Close(); cerr != nil {
			e.log.Error().Err(cerr).Msg("close previous recorder")
		}
	}
	return session, nil
}

// StopRecording closes the active capture, if any.
func (e *Engine) StopRecording() error {
	r := e.recorder.Swap(nil)
	if r == nil {
		return nil
	}
	return r.Close()
}

// Recording reports whether a capture is active.
func (e *Engine) Recording() bool { return e.recorder.Load() != nil }

// SetPublisher installs (or with nil removes) the live NATS publisher.
func (e *Engine) SetPublisher(p *broadcast.Publisher) {
	e.publisher.Store(p)
}
