package book

import (
	fpmath "BookEngine/internal/math"
)

// Side of the book an order or level belongs to.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the contra side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// VenueID identifies a trading venue.
type VenueID string

// SegmentID identifies a venue segment (partition of a venue's listings).
type SegmentID string

// Key is the composite order-book key. A consolidated book uses the
// zero VenueID/SegmentID as its sentinel key.
type Key struct {
	Venue   VenueID
	Segment SegmentID
	ID      string
}

// ConsolidatedKey returns the sentinel key under which an instrument's
// consolidated book is stored.
func ConsolidatedKey(id string) Key {
	return Key{ID: id}
}

// IsConsolidated reports whether the key is the consolidated sentinel.
func (k Key) IsConsolidated() bool {
	return k.Venue == "" && k.Segment == ""
}

// LevelEvent classifies the outcome of a price-level mutation.
type LevelEvent uint8

const (
	LevelUnchanged LevelEvent = iota
	LevelAdded
	LevelUpdated
	LevelDeleted
)

func (e LevelEvent) String() string {
	switch e {
	case LevelAdded:
		return "added"
	case LevelUpdated:
		return "updated"
	case LevelDeleted:
		return "deleted"
	default:
		return "unchanged"
	}
}

// OrderEvent classifies order lifecycle notifications.
type OrderEvent uint8

const (
	OrderAdded OrderEvent = iota
	OrderModified
	OrderDeleted
)

// TradeEvent classifies trade notifications.
type TradeEvent uint8

const (
	TradeAdded TradeEvent = iota
	TradeCorrected
	TradeCanceled
)

// Trade is a single reported execution.
type Trade struct {
	ID    string
	Time  int64
	Price int64
	Qty   int64
}

// Leg describes one constituent of a combination book. Single-leg books
// carry exactly one leg referencing their own instrument.
type Leg struct {
	Venue   VenueID
	Segment SegmentID
	InstrID string
	Side    Side
	Ratio   int64
}

// LotSizes is per-book lot configuration.
type LotSizes struct {
	OddLot   int64
	RoundLot int64
	BlockLot int64
}

// TickBand maps a minimum price to the tick size in force from that price.
type TickBand struct {
	MinPrice int64
	Tick     int64
}

// TickSizeTbl is a shared price-band tick table. Bands are kept sorted by
// MinPrice; lookup returns the tick of the last band at or below the price.
type TickSizeTbl struct {
	ID    string
	PxCfg fpmath.DecimalConfig
	bands []TickBand
}

func NewTickSizeTbl(id string, pxCfg fpmath.DecimalConfig) *TickSizeTbl {
	return &TickSizeTbl{ID: id, PxCfg: pxCfg}
}

// AddTickSize inserts or replaces the band starting at minPrice.
func (t *TickSizeTbl) AddTickSize(minPrice, tick int64) {
	for i, b := range t.bands {
		if b.MinPrice == minPrice {
			t.bands[i].Tick = tick
			return
		}
		if b.MinPrice > minPrice {
			t.bands = append(t.bands, TickBand{})
			copy(t.bands[i+1:], t.bands[i:])
			t.bands[i] = TickBand{MinPrice: minPrice, Tick: tick}
			return
		}
	}
	t.bands = append(t.bands, TickBand{MinPrice: minPrice, Tick: tick})
}

// TickSize returns the tick in force at px, or 0 when no band covers it.
func (t *TickSizeTbl) TickSize(px int64) int64 {
	tick := int64(0)
	for _, b := range t.bands {
		if b.MinPrice > px {
			break
		}
		tick = b.Tick
	}
	return tick
}

// Bands returns a copy of the configured bands in ascending order.
func (t *TickSizeTbl) Bands() []TickBand {
	out := make([]TickBand, len(t.bands))
	copy(out, t.bands)
	return out
}

// OrderIndex resolves order IDs for a book. The index is owned by the
// venue's shard; its key scope (venue-wide, per-book, per-book-per-side)
// is a venue configuration the book never sees.
type OrderIndex interface {
	FindOrder(b *OrderBook, side Side, id string) *Order
	InsertOrder(b *OrderBook, side Side, id string, o *Order)
	RemoveOrder(b *OrderBook, side Side, id string)
}

// EventSink receives book notifications. Implemented by the engine façade;
// NopSink is installed when a book is constructed stand-alone so callers
// never observe a nil sink.
//
// propagated marks notifications raised on a consolidated book by delta
// propagation from a sibling; the façade must not re-serialize those to the
// broadcast stream.
type EventSink interface {
	L1Updated(b *OrderBook, changed uint32, propagated bool)
	L2Updated(b *OrderBook, ts int64)
	LevelChanged(b *OrderBook, side Side, ts, px, qty, nOrders int64, ev LevelEvent, propagated bool)
	OrderChanged(b *OrderBook, ev OrderEvent, o *Order)
	TradeApplied(b *OrderBook, ev TradeEvent, t Trade)
	BookError(b *OrderBook, err error)
}

// NopSink discards every notification.
type NopSink struct{}

func (NopSink) L1Updated(*OrderBook, uint32, bool)                                     {}
func (NopSink) L2Updated(*OrderBook, int64)                                            {}
func (NopSink) LevelChanged(*OrderBook, Side, int64, int64, int64, int64, LevelEvent, bool) {}
func (NopSink) OrderChanged(*OrderBook, OrderEvent, *Order)                            {}
func (NopSink) TradeApplied(*OrderBook, TradeEvent, Trade)                             {}
func (NopSink) BookError(*OrderBook, error)                                            {}
