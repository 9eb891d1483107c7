package shard

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BookEngine/internal/book"
	fpmath "BookEngine/internal/math"
)

var (
	pxCfg  = fpmath.PriceConfig
	qtyCfg = fpmath.QuantityConfig
	ntlCfg = fpmath.NotionalConfig
)

func TestShard_FIFOWithinShard(t *testing.T) {
	p, err := NewPool(1, 64, zerolog.Nop())
	require.NoError(t, err)
	defer p.Stop()

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		p.Shard(0).Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestCall_ReturnsResult(t *testing.T) {
	p, err := NewPool(2, 8, zerolog.Nop())
	require.NoError(t, err)
	defer p.Stop()

	v, err := Call(context.Background(), p.Shard(1), func() int { return 42 })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestPool_StableAssignment(t *testing.T) {
	p, err := NewPool(4, 8, zerolog.Nop())
	require.NoError(t, err)
	defer p.Stop()

	s1 := p.ForInstrument("INST1")
	s2 := p.ForInstrument("INST1")
	assert.Same(t, s1, s2)

	// books of one instrument land on the instrument's shard
	k := book.Key{Venue: "XA", Segment: "MAIN", ID: "INST1"}
	assert.Same(t, s1, p.ForBook(k))
}

func TestPool_RejectsZeroShards(t *testing.T) {
	_, err := NewPool(0, 8, zerolog.Nop())
	assert.Error(t, err)
}

func TestOrderIndex_Scopes(t *testing.T) {
	b1 := book.NewOrderBook(book.Key{Venue: "XA", Segment: "M", ID: "I1"}, nil, book.LotSizes{}, pxCfg, qtyCfg, ntlCfg)
	b2 := book.NewOrderBook(book.Key{Venue: "XA", Segment: "M", ID: "I2"}, nil, book.LotSizes{}, pxCfg, qtyCfg, ntlCfg)
	o := &book.Order{ID: "O1"}

	venueIx := NewOrderIndex(ScopeVenue)
	venueIx.InsertOrder(b1, book.Buy, "O1", o)
	assert.Same(t, o, venueIx.FindOrder(b2, book.Sell, "O1")) // venue-wide

	bookIx := NewOrderIndex(ScopeOrderBook)
	bookIx.InsertOrder(b1, book.Buy, "O1", o)
	assert.Nil(t, bookIx.FindOrder(b2, book.Buy, "O1"))
	assert.Same(t, o, bookIx.FindOrder(b1, book.Sell, "O1")) // side ignored

	sideIx := NewOrderIndex(ScopeOBSide)
	sideIx.InsertOrder(b1, book.Buy, "O1", o)
	assert.Nil(t, sideIx.FindOrder(b1, book.Sell, "O1"))
	assert.Same(t, o, sideIx.FindOrder(b1, book.Buy, "O1"))

	sideIx.RemoveOrder(b1, book.Buy, "O1")
	assert.Equal(t, 0, sideIx.Len())
}
