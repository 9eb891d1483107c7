package directory

import (
	"fmt"

	"BookEngine/internal/book"
	fpmath "BookEngine/internal/math"
)

// Directory resolves identifiers to instruments and manages each
// instrument's order-book set, synthesizing the consolidated book at the
// 1->2 venue transition and tearing it down at 2->1.
//
// The directory performs no locking of its own: the owning façade guards
// it with the reference-data lock.
type Directory struct {
	instruments map[book.Key]*Instrument
	bySymbol    map[string]*Instrument
	tickTbls    map[string]*book.TickSizeTbl

	// sink installed on every created book
	sink book.EventSink
	// consolidatedExec resolves the executor that posts propagated deltas
	// onto a consolidated book's shard; nil propagates inline.
	consolidatedExec func(c *book.OrderBook) func(func())

	PxCfg  fpmath.DecimalConfig
	QtyCfg fpmath.DecimalConfig
	NtlCfg fpmath.DecimalConfig
}

func New(sink book.EventSink) *Directory {
	if sink == nil {
		sink = book.NopSink{}
	}
	return &Directory{
		instruments: make(map[book.Key]*Instrument),
		bySymbol:    make(map[string]*Instrument),
		tickTbls:    make(map[string]*book.TickSizeTbl),
		sink:        sink,
		PxCfg:       fpmath.PriceConfig,
		QtyCfg:      fpmath.QuantityConfig,
		NtlCfg:      fpmath.NotionalConfig,
	}
}

// SetConsolidatedExec installs the shard-executor resolver for propagated
// consolidated deltas.
func (d *Directory) SetConsolidatedExec(fn func(c *book.OrderBook) func(func())) {
	d.consolidatedExec = fn
}

// AddTickSizeTbl registers (or returns the existing) tick table.
func (d *Directory) AddTickSizeTbl(id string) *book.TickSizeTbl {
	if t, ok := d.tickTbls[id]; ok {
		return t
	}
	t := book.NewTickSizeTbl(id, d.PxCfg)
	d.tickTbls[id] = t
	return t
}

// DelTickSizeTbl drops a tick table. Books already referencing it keep
// their pointer.
func (d *Directory) DelTickSizeTbl(id string) {
	delete(d.tickTbls, id)
}

// TickSizeTbl resolves a registered table, nil when unknown.
func (d *Directory) TickSizeTbl(id string) *book.TickSizeTbl {
	return d.tickTbls[id]
}

// AddInstrument registers or refreshes an instrument, maintaining the
// underlying link and the derivative index.
func (d *Directory) AddInstrument(key book.Key, ref RefData) *Instrument {
	i, ok := d.instruments[key]
	if ok {
		if i.Ref.IsDerivative() && i.underlying != nil {
			i.underlying.derivatives.remove(i)
		}
		delete(d.bySymbol, i.Ref.Symbol)
		i.Ref = ref
	} else {
		i = &Instrument{Key: key, Ref: ref, books: make(map[book.Key]*book.OrderBook)}
		d.instruments[key] = i
	}
	if ref.Symbol != "" {
		d.bySymbol[ref.Symbol] = i
	}

	i.underlying = nil
	if ref.IsDerivative() {
		under := d.instruments[book.Key{Venue: ref.UnderVenue, Segment: ref.UnderSegment, ID: ref.Underlying}]
		if under != nil {
			i.underlying = under
			if under.derivatives == nil {
				under.derivatives = newDerivatives()
			}
			under.derivatives.add(i)
		}
	}
	return i
}

// DelInstrument drops an instrument and all of its books.
func (d *Directory) DelInstrument(key book.Key) {
	i, ok := d.instruments[key]
	if !ok {
		return
	}
	if i.underlying != nil && i.underlying.derivatives != nil {
		i.underlying.derivatives.remove(i)
	}
	delete(d.bySymbol, i.Ref.Symbol)
	delete(d.instruments, key)
}

// Instrument resolves by primary key.
func (d *Directory) Instrument(key book.Key) *Instrument {
	return d.instruments[key]
}

// BySymbol resolves by refdata symbol.
func (d *Directory) BySymbol(sym string) *Instrument {
	return d.bySymbol[sym]
}

// Instruments walks every registered instrument.
func (d *Directory) Instruments(fn func(*Instrument) bool) {
	for _, i := range d.instruments {
		if !fn(i) {
			return
		}
	}
}

// AddOrderBook lists the instrument on (venue, segment). Idempotent by
// key. The 1->2 transition synthesizes the shared consolidated book,
// seeded from the existing sibling's depth.
func (d *Directory) AddOrderBook(i *Instrument, venue book.VenueID, segment book.SegmentID, tickTbl *book.TickSizeTbl, lots book.LotSizes) (*book.OrderBook, error) {
	if venue == "" {
		return nil, fmt.Errorf("addOrderBook %s: empty venue", i.Key.ID)
	}
	key := book.Key{Venue: venue, Segment: segment, ID: i.Key.ID}
	if b, ok := i.books[key]; ok {
		return b, nil
	}

	b := book.NewOrderBook(key, tickTbl, lots, d.PxCfg, d.QtyCfg, d.NtlCfg)
	b.SetSink(d.sink)
	i.books[key] = b

	switch i.venueBookCount() {
	case 1:
		// sole listing, nothing to consolidate
	case 2:
		d.synthesizeConsolidated(i)
	default:
		c := i.ConsolidatedBook()
		b.SetConsolidated(c, d.execFor(c))
		d.seedConsolidated(c, b)
	}
	return b, nil
}

// DelOrderBook delists the instrument from (venue, segment). The book's
// depth is retracted from the consolidated sibling first; dropping to a
// single remaining venue tears the consolidated book down.
func (d *Directory) DelOrderBook(i *Instrument, venue book.VenueID, segment book.SegmentID, ts int64) {
	key := book.Key{Venue: venue, Segment: segment, ID: i.Key.ID}
	b, ok := i.books[key]
	if !ok {
		return
	}
	b.Reset(ts) // retracts this book's contribution from the consolidated
	b.SetConsolidated(nil, nil)
	delete(i.books, key)

	if i.venueBookCount() == 1 {
		delete(i.books, book.ConsolidatedKey(i.Key.ID))
		for _, sib := range i.books {
			sib.SetConsolidated(nil, nil)
		}
	}
}

func (d *Directory) synthesizeConsolidated(i *Instrument) {
	ckey := book.ConsolidatedKey(i.Key.ID)
	c := book.NewOrderBook(ckey, nil, book.LotSizes{}, d.PxCfg, d.QtyCfg, d.NtlCfg)
	c.SetSink(d.sink)
	i.books[ckey] = c

	exec := d.execFor(c)
	for k, sib := range i.books {
		if k.IsConsolidated() {
			continue
		}
		sib.SetConsolidated(c, exec)
		d.seedConsolidated(c, sib)
	}
}

func (d *Directory) execFor(c *book.OrderBook) func(func()) {
	if d.consolidatedExec == nil {
		return nil
	}
	return d.consolidatedExec(c)
}

// seedConsolidated folds an existing sibling's current depth into a newly
// wired consolidated book as additive deltas.
func (d *Directory) seedConsolidated(c *book.OrderBook, sib *book.OrderBook) {
	for _, s := range [2]*book.BookSide{sib.Bids, sib.Asks} {
		side := s.Side
		s.AllLevels(func(lvl *book.PriceLevel) bool {
			c.ApplyConsolidatedDelta(side, lvl.LastTime, lvl.Price, lvl.Qty, lvl.NOrders, lvl.Flags)
			return true
		})
		if m := s.MarketLevel(); m != nil {
			c.ApplyConsolidatedDelta(side, m.LastTime, 0, m.Qty, m.NOrders, m.Flags)
		}
	}
}
