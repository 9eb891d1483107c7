package broadcast

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BookEngine/internal/book"
)

var bkey = book.Key{Venue: "XA", Segment: "MAIN", ID: "INST1"}

func TestEncodeDecode_LevelUpdate(t *testing.T) {
	in := &LevelUpdate{
		Key: bkey, Side: book.Sell, TS: 1234, Price: 10100, Qty: 25,
		NOrders: 3, Event: book.LevelUpdated, Propagated: true,
	}
	buf := Encode(in)

	out, n, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, in, out)
}

func TestDecode_ShortBufferWaits(t *testing.T) {
	buf := Encode(&BookReset{TS: 1, Key: bkey})

	f, n, err := Decode(buf[:len(buf)-3])
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.Zero(t, n)
}

func TestDecode_CRCMismatch(t *testing.T) {
	buf := Encode(&BookReset{TS: 1, Key: bkey})
	buf[len(buf)-1] ^= 0xff

	_, _, err := Decode(buf)
	assert.Error(t, err)
}

func TestDecode_Stream(t *testing.T) {
	var buf []byte
	buf = append(buf, Encode(&OrderUpdate{Key: bkey, Side: book.Buy, ID: "O1", TS: 1, Price: 10000, Qty: 5})...)
	buf = append(buf, Encode(&TradeUpdate{Key: bkey, ID: "T1", TS: 2, Price: 10000, Qty: 5})...)

	f1, n, err := Decode(buf)
	require.NoError(t, err)
	require.IsType(t, &OrderUpdate{}, f1)

	f2, _, err := Decode(buf[n:])
	require.NoError(t, err)
	require.IsType(t, &TradeUpdate{}, f2)
	assert.Equal(t, "T1", f2.(*TradeUpdate).ID)
}

func TestRecordReplay_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.mdbc")
	session := uuid.New()

	rec, err := NewRecorder(path, session, zerolog.Nop(), nil)
	require.NoError(t, err)

	frames := []Frame{
		&AddInstrument{TS: 1, Key: bkey, Symbol: "INST1"},
		&AddOrderBook{TS: 2, InstrKey: bkey, Venue: "XA", Segment: "MAIN"},
		&OrderUpdate{Key: bkey, Side: book.Buy, ID: "O1", TS: 3, Price: 10000, Qty: 10},
		&L1Update{Key: bkey, Changed: book.L1Bid, Data: book.UnsetL1()},
	}
	for _, f := range frames {
		require.NoError(t, rec.Write(f))
	}
	require.NoError(t, rec.Close())

	var got []Frame
	rp := NewReplayer(path, zerolog.Nop(), nil)
	gotSession, err := rp.Replay(context.Background(), ApplierFunc(func(f Frame) error {
		got = append(got, f)
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, session, gotSession)
	require.Len(t, got, len(frames))
	for i := range frames {
		assert.Equal(t, frames[i].Type(), got[i].Type())
	}
	assert.Equal(t, "O1", got[2].(*OrderUpdate).ID)
}

func TestReplay_FilterSparesRefdata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.mdbc")
	rec, err := NewRecorder(path, uuid.New(), zerolog.Nop(), nil)
	require.NoError(t, err)

	require.NoError(t, rec.Write(&AddInstrument{TS: 1, Key: bkey, Symbol: "INST1"}))
	require.NoError(t, rec.Write(&OrderUpdate{Key: bkey, ID: "O1", TS: 2, Price: 1, Qty: 1}))
	require.NoError(t, rec.Write(&TradeUpdate{Key: bkey, ID: "T1", TS: 3, Price: 1, Qty: 1}))
	require.NoError(t, rec.Close())

	rp := NewReplayer(path, zerolog.Nop(), nil)
	rp.Filter = func(f Frame) bool { return f.Type() == FrameTrade }

	var got []FrameType
	_, err = rp.Replay(context.Background(), ApplierFunc(func(f Frame) error {
		got = append(got, f.Type())
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, []FrameType{FrameAddInstrument, FrameTrade}, got)
}

func TestReplayer_FastForwarding(t *testing.T) {
	rp := NewReplayer("x", zerolog.Nop(), nil)
	assert.False(t, rp.FastForwarding(5))

	rp.Begin = 10
	assert.True(t, rp.FastForwarding(9))
	assert.False(t, rp.FastForwarding(10))
}

func TestSubject_Partitioning(t *testing.T) {
	assert.Equal(t, "md.refdata", Subject(&AddInstrument{Key: bkey}))
	assert.Equal(t, "md.l1.INST1", Subject(&L1Update{Key: bkey}))
	assert.Equal(t, "md.l2.INST1", Subject(&LevelUpdate{Key: bkey}))
	assert.Equal(t, "md.l3.INST1", Subject(&OrderUpdate{Key: bkey}))
	assert.Equal(t, "md.trade.INST1", Subject(&TradeUpdate{Key: bkey}))
	assert.Equal(t, "md.session.XA", Subject(&SessionUpdate{Venue: "XA", Segment: "MAIN"}))
}

func TestEncodeDecode_TickTbl(t *testing.T) {
	in := &AddTickTbl{
		TS: 3, ID: "T1",
		Bands: []book.TickBand{{MinPrice: 0, Tick: 5}, {MinPrice: 10000, Tick: 10}},
	}
	out, _, err := Decode(Encode(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	del, _, err := Decode(Encode(&DelTickTbl{TS: 4, ID: "T1"}))
	require.NoError(t, err)
	assert.Equal(t, &DelTickTbl{TS: 4, ID: "T1"}, del)

	assert.Equal(t, "md.refdata", Subject(in))
}

func TestEncodeDecode_SessionUpdate(t *testing.T) {
	in := &SessionUpdate{TS: 7, Venue: "XA", Segment: "MAIN", State: book.SessionHalted}
	out, n, err := Decode(Encode(in))
	require.NoError(t, err)
	assert.Equal(t, len(Encode(in)), n)
	assert.Equal(t, in, out)
}
