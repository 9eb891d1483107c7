package projection

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BookEngine/internal/book"
	"BookEngine/internal/directory"
	fpmath "BookEngine/internal/math"
)

var pkey = book.Key{Venue: "XA", Segment: "MAIN", ID: "INST1"}

func TestPending_LatestL1Wins(t *testing.T) {
	p := newPending()
	p.add(Update{L1: &L1Row{Key: pkey, Data: book.L1Data{Last: 100, Stamp: 1}}})
	p.add(Update{L1: &L1Row{Key: pkey, Data: book.L1Data{Last: 101, Stamp: 2}}})

	require.Equal(t, 1, p.size())
	assert.Equal(t, int64(101), p.l1[pkey].Data.Last)
}

func TestPending_DeleteSupersedesUpsert(t *testing.T) {
	p := newPending()
	p.add(Update{Instrument: &InstrumentRow{Key: pkey, Ref: directory.RefData{Symbol: "INST1"}}})
	k := pkey
	p.add(Update{Delete: &k})

	assert.Empty(t, p.instruments)
	assert.Contains(t, p.deletes, pkey)

	// re-add after delete resurrects the row
	p.add(Update{Instrument: &InstrumentRow{Key: pkey, Ref: directory.RefData{Symbol: "INST1"}}})
	assert.Empty(t, p.deletes)
	assert.Contains(t, p.instruments, pkey)
}

func TestCollector_DropsWhenFull(t *testing.T) {
	c := NewCollector(1, zerolog.Nop(), nil)

	c.offer(Update{L1: &L1Row{Key: pkey}})
	c.offer(Update{L1: &L1Row{Key: pkey}}) // dropped, channel full

	assert.Len(t, c.ch, 1)
}

func TestCollector_HandlerFeedsChannel(t *testing.T) {
	c := NewCollector(8, zerolog.Nop(), nil)
	h := c.Handler()

	h.OnInstrumentAdded(&directory.Instrument{Key: pkey, Ref: directory.RefData{Symbol: "INST1"}})
	b := book.NewOrderBook(pkey, nil, book.LotSizes{}, fpmath.DecimalConfig{}, fpmath.DecimalConfig{}, fpmath.DecimalConfig{})
	b.L1.Last = 100
	h.OnL1(b, book.L1Last)

	u := <-c.Chan()
	require.NotNil(t, u.Instrument)
	assert.Equal(t, "INST1", u.Instrument.Ref.Symbol)

	u = <-c.Chan()
	require.NotNil(t, u.L1)
	assert.Equal(t, int64(100), u.L1.Data.Last)
}
