package projection

import (
	"github.com/rs/zerolog"

	"BookEngine/internal/book"
	"BookEngine/internal/directory"
	"BookEngine/internal/engine"
	"BookEngine/internal/observability"
)

// Update is one projection input: exactly one field is set.
type Update struct {
	L1         *L1Row
	Instrument *InstrumentRow
	Delete     *book.Key
}

// L1Row is a top-of-book snapshot bound for md_l1_snapshots.
type L1Row struct {
	Key  book.Key
	Data book.L1Data
}

// InstrumentRow is a refdata snapshot bound for md_instruments.
type InstrumentRow struct {
	Key book.Key
	Ref directory.RefData
}

// Collector bridges engine callbacks to the projection worker. Offers
// never block: when the channel is full the update is dropped and
// counted, the next snapshot for the same book supersedes it anyway.
type Collector struct {
	ch  chan Update
	log zerolog.Logger
	m   *observability.Metrics
}

func NewCollector(queueLen int, log zerolog.Logger, m *observability.Metrics) *Collector {
	if queueLen <= 0 {
		queueLen = 4096
	}
	return &Collector{ch: make(chan Update, queueLen), log: log, m: m}
}

// Chan is the worker's input.
func (c *Collector) Chan() <-chan Update { return c.ch }

func (c *Collector) offer(u Update) {
	select {
	case c.ch <- u:
	default:
		if c.m != nil {
			c.m.ProjectionDrops.Inc()
		}
	}
}

// Handler returns the callback set that feeds the collector. The caller
// merges it with its own slots before installing.
func (c *Collector) Handler() *engine.Handler {
	return &engine.Handler{
		OnInstrumentAdded: func(i *directory.Instrument) {
			c.offer(Update{Instrument: &InstrumentRow{Key: i.Key, Ref: i.Ref}})
		},
		OnInstrumentDeleted: func(key book.Key) {
			k := key
			c.offer(Update{Delete: &k})
		},
		OnL1: func(b *book.OrderBook, _ uint32) {
			c.offer(Update{L1: &L1Row{Key: b.Key, Data: b.L1}})
		},
	}
}
