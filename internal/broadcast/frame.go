package broadcast

import (
	"fmt"
	"hash/crc32"

	"BookEngine/internal/book"
)

// FrameType identifies one broadcast message layout. One type exists per
// mutating book operation so downstream consumers can subscribe by kind.
type FrameType uint16

const (
	FrameInvalid FrameType = iota
	FrameAddInstrument
	FrameDelInstrument
	FrameAddOrderBook
	FrameDelOrderBook
	FrameL1
	FrameLevel
	FrameOrder
	FrameTrade
	FrameReset
	FrameSession
	FrameAddTickTbl
	FrameDelTickTbl
)

func (t FrameType) String() string {
	switch t {
	case FrameAddInstrument:
		return "add_instrument"
	case FrameDelInstrument:
		return "del_instrument"
	case FrameAddOrderBook:
		return "add_orderbook"
	case FrameDelOrderBook:
		return "del_orderbook"
	case FrameL1:
		return "l1"
	case FrameLevel:
		return "level"
	case FrameOrder:
		return "order"
	case FrameTrade:
		return "trade"
	case FrameReset:
		return "reset"
	case FrameSession:
		return "session"
	case FrameAddTickTbl:
		return "add_ticktbl"
	case FrameDelTickTbl:
		return "del_ticktbl"
	default:
		return "invalid"
	}
}

const frameVersion = 1

// header layout: bodyLen u32 | type u16 | version u16 | crc32(body) u32
const headerSize = 12

// Frame is one serialized book mutation.
type Frame interface {
	Type() FrameType
	Time() int64
	BookKey() book.Key
	encodeBody(w *wbuf)
	decodeBody(r *rbuf)
}

// Encode serializes a frame, header included.
func Encode(f Frame) []byte {
	var w wbuf
	w.b = make([]byte, headerSize, headerSize+64)
	f.encodeBody(&w)
	body := w.b[headerSize:]

	putU32(w.b[0:], uint32(len(body)))
	putU16(w.b[4:], uint16(f.Type()))
	putU16(w.b[6:], frameVersion)
	putU32(w.b[8:], crc32.ChecksumIEEE(body))
	return w.b
}

// Decode parses one frame from the front of buf, returning the frame and
// the bytes consumed. A short buffer returns (nil, 0, nil) so stream
// readers can wait for more input.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < headerSize {
		return nil, 0, nil
	}
	bodyLen := int(getU32(buf))
	typ := FrameType(getU16(buf[4:]))
	ver := getU16(buf[6:])
	sum := getU32(buf[8:])
	if ver != frameVersion {
		return nil, 0, fmt.Errorf("broadcast: unsupported frame version %d", ver)
	}
	if len(buf) < headerSize+bodyLen {
		return nil, 0, nil
	}
	body := buf[headerSize : headerSize+bodyLen]
	if crc32.ChecksumIEEE(body) != sum {
		return nil, 0, fmt.Errorf("broadcast: crc mismatch on %s frame", typ)
	}

	f := newFrame(typ)
	if f == nil {
		return nil, 0, fmt.Errorf("broadcast: unknown frame type %d", typ)
	}
	r := rbuf{b: body}
	f.decodeBody(&r)
	if r.err != nil {
		return nil, 0, fmt.Errorf("broadcast: decode %s: %w", typ, r.err)
	}
	return f, headerSize + bodyLen, nil
}

func newFrame(t FrameType) Frame {
	switch t {
	case FrameAddInstrument:
		return &AddInstrument{}
	case FrameDelInstrument:
		return &DelInstrument{}
	case FrameAddOrderBook:
		return &AddOrderBook{}
	case FrameDelOrderBook:
		return &DelOrderBook{}
	case FrameL1:
		return &L1Update{}
	case FrameLevel:
		return &LevelUpdate{}
	case FrameOrder:
		return &OrderUpdate{}
	case FrameTrade:
		return &TradeUpdate{}
	case FrameReset:
		return &BookReset{}
	case FrameSession:
		return &SessionUpdate{}
	case FrameAddTickTbl:
		return &AddTickTbl{}
	case FrameDelTickTbl:
		return &DelTickTbl{}
	default:
		return nil
	}
}

// AddInstrument announces new or refreshed reference data.
type AddInstrument struct {
	TS           int64
	Key          book.Key
	Symbol       string
	AltSymbol    string
	UnderVenue   string
	UnderSegment string
	Underlying   string
	Maturity     uint32
	PutCall      uint8
	Strike       int64
}

func (f *AddInstrument) Type() FrameType   { return FrameAddInstrument }
func (f *AddInstrument) Time() int64       { return f.TS }
func (f *AddInstrument) BookKey() book.Key { return f.Key }

func (f *AddInstrument) encodeBody(w *wbuf) {
	w.i64(f.TS)
	w.key(f.Key)
	w.str(f.Symbol)
	w.str(f.AltSymbol)
	w.str(f.UnderVenue)
	w.str(f.UnderSegment)
	w.str(f.Underlying)
	w.u32(f.Maturity)
	w.u8(f.PutCall)
	w.i64(f.Strike)
}

func (f *AddInstrument) decodeBody(r *rbuf) {
	f.TS = r.i64()
	f.Key = r.key()
	f.Symbol = r.str()
	f.AltSymbol = r.str()
	f.UnderVenue = r.str()
	f.UnderSegment = r.str()
	f.Underlying = r.str()
	f.Maturity = r.u32()
	f.PutCall = r.u8()
	f.Strike = r.i64()
}

// DelInstrument announces instrument removal.
type DelInstrument struct {
	TS  int64
	Key book.Key
}

func (f *DelInstrument) Type() FrameType   { return FrameDelInstrument }
func (f *DelInstrument) Time() int64       { return f.TS }
func (f *DelInstrument) BookKey() book.Key { return f.Key }

func (f *DelInstrument) encodeBody(w *wbuf) {
	w.i64(f.TS)
	w.key(f.Key)
}

func (f *DelInstrument) decodeBody(r *rbuf) {
	f.TS = r.i64()
	f.Key = r.key()
}

// AddOrderBook announces a new (venue, segment) listing for an
// instrument. InstrKey is the instrument's primary key, not the book key.
type AddOrderBook struct {
	TS       int64
	InstrKey book.Key
	Venue    string
	Segment  string
	TickTbl  string
	OddLot   int64
	RoundLot int64
	BlockLot int64
}

func (f *AddOrderBook) Type() FrameType { return FrameAddOrderBook }
func (f *AddOrderBook) Time() int64     { return f.TS }
func (f *AddOrderBook) BookKey() book.Key {
	return book.Key{Venue: book.VenueID(f.Venue), Segment: book.SegmentID(f.Segment), ID: f.InstrKey.ID}
}

func (f *AddOrderBook) encodeBody(w *wbuf) {
	w.i64(f.TS)
	w.key(f.InstrKey)
	w.str(f.Venue)
	w.str(f.Segment)
	w.str(f.TickTbl)
	w.i64(f.OddLot)
	w.i64(f.RoundLot)
	w.i64(f.BlockLot)
}

func (f *AddOrderBook) decodeBody(r *rbuf) {
	f.TS = r.i64()
	f.InstrKey = r.key()
	f.Venue = r.str()
	f.Segment = r.str()
	f.TickTbl = r.str()
	f.OddLot = r.i64()
	f.RoundLot = r.i64()
	f.BlockLot = r.i64()
}

// DelOrderBook announces delisting of one book.
type DelOrderBook struct {
	TS       int64
	InstrKey book.Key
	Venue    string
	Segment  string
}

func (f *DelOrderBook) Type() FrameType { return FrameDelOrderBook }
func (f *DelOrderBook) Time() int64     { return f.TS }
func (f *DelOrderBook) BookKey() book.Key {
	return book.Key{Venue: book.VenueID(f.Venue), Segment: book.SegmentID(f.Segment), ID: f.InstrKey.ID}
}

func (f *DelOrderBook) encodeBody(w *wbuf) {
	w.i64(f.TS)
	w.key(f.InstrKey)
	w.str(f.Venue)
	w.str(f.Segment)
}

func (f *DelOrderBook) decodeBody(r *rbuf) {
	f.TS = r.i64()
	f.InstrKey = r.key()
	f.Venue = r.str()
	f.Segment = r.str()
}

// L1Update carries a top-of-book delta. Changed is the merge mask; unset
// fields in Data carry the sentinel values.
type L1Update struct {
	Key     book.Key
	Changed uint32
	Data    book.L1Data
}

func (f *L1Update) Type() FrameType   { return FrameL1 }
func (f *L1Update) Time() int64       { return f.Data.Stamp }
func (f *L1Update) BookKey() book.Key { return f.Key }

func (f *L1Update) encodeBody(w *wbuf) {
	w.key(f.Key)
	w.u32(f.Changed)
	w.i64(f.Data.Stamp)
	w.i64(f.Data.Last)
	w.i64(f.Data.LastQty)
	w.i64(f.Data.Bid)
	w.i64(f.Data.BidQty)
	w.i64(f.Data.Ask)
	w.i64(f.Data.AskQty)
	w.i64(f.Data.High)
	w.i64(f.Data.Low)
	w.i64(f.Data.Volume)
	w.i64(f.Data.Turnover)
	w.u8(uint8(f.Data.TickDir))
}

func (f *L1Update) decodeBody(r *rbuf) {
	f.Key = r.key()
	f.Changed = r.u32()
	f.Data.Stamp = r.i64()
	f.Data.Last = r.i64()
	f.Data.LastQty = r.i64()
	f.Data.Bid = r.i64()
	f.Data.BidQty = r.i64()
	f.Data.Ask = r.i64()
	f.Data.AskQty = r.i64()
	f.Data.High = r.i64()
	f.Data.Low = r.i64()
	f.Data.Volume = r.i64()
	f.Data.Turnover = r.i64()
	f.Data.TickDir = book.TickDir(r.u8())
}

// LevelUpdate carries one aggregated price-level change.
type LevelUpdate struct {
	Key        book.Key
	Side       book.Side
	TS         int64
	Price      int64
	Qty        int64
	NOrders    int64
	Event      book.LevelEvent
	Propagated bool
}

func (f *LevelUpdate) Type() FrameType   { return FrameLevel }
func (f *LevelUpdate) Time() int64       { return f.TS }
func (f *LevelUpdate) BookKey() book.Key { return f.Key }

func (f *LevelUpdate) encodeBody(w *wbuf) {
	w.key(f.Key)
	w.u8(uint8(f.Side))
	w.i64(f.TS)
	w.i64(f.Price)
	w.i64(f.Qty)
	w.i64(f.NOrders)
	w.u8(uint8(f.Event))
	w.bool(f.Propagated)
}

func (f *LevelUpdate) decodeBody(r *rbuf) {
	f.Key = r.key()
	f.Side = book.Side(r.u8())
	f.TS = r.i64()
	f.Price = r.i64()
	f.Qty = r.i64()
	f.NOrders = r.i64()
	f.Event = book.LevelEvent(r.u8())
	f.Propagated = r.bool()
}

// OrderUpdate carries one individual order change.
type OrderUpdate struct {
	Key   book.Key
	Side  book.Side
	ID    string
	Event book.OrderEvent
	TS    int64
	Rank  uint64
	Price int64
	Qty   int64
	Flags uint32
}

func (f *OrderUpdate) Type() FrameType   { return FrameOrder }
func (f *OrderUpdate) Time() int64       { return f.TS }
func (f *OrderUpdate) BookKey() book.Key { return f.Key }

func (f *OrderUpdate) encodeBody(w *wbuf) {
	w.key(f.Key)
	w.u8(uint8(f.Side))
	w.str(f.ID)
	w.u8(uint8(f.Event))
	w.i64(f.TS)
	w.u64(f.Rank)
	w.i64(f.Price)
	w.i64(f.Qty)
	w.u32(f.Flags)
}

func (f *OrderUpdate) decodeBody(r *rbuf) {
	f.Key = r.key()
	f.Side = book.Side(r.u8())
	f.ID = r.str()
	f.Event = book.OrderEvent(r.u8())
	f.TS = r.i64()
	f.Rank = r.u64()
	f.Price = r.i64()
	f.Qty = r.i64()
	f.Flags = r.u32()
}

// TradeUpdate carries one trade print, correction, or bust.
type TradeUpdate struct {
	Key   book.Key
	Event book.TradeEvent
	ID    string
	TS    int64
	Price int64
	Qty   int64
}

func (f *TradeUpdate) Type() FrameType   { return FrameTrade }
func (f *TradeUpdate) Time() int64       { return f.TS }
func (f *TradeUpdate) BookKey() book.Key { return f.Key }

func (f *TradeUpdate) encodeBody(w *wbuf) {
	w.key(f.Key)
	w.u8(uint8(f.Event))
	w.str(f.ID)
	w.i64(f.TS)
	w.i64(f.Price)
	w.i64(f.Qty)
}

func (f *TradeUpdate) decodeBody(r *rbuf) {
	f.Key = r.key()
	f.Event = book.TradeEvent(r.u8())
	f.ID = r.str()
	f.TS = r.i64()
	f.Price = r.i64()
	f.Qty = r.i64()
}

// BookReset announces that one book's depth was discarded.
type BookReset struct {
	TS  int64
	Key book.Key
}

func (f *BookReset) Type() FrameType   { return FrameReset }
func (f *BookReset) Time() int64       { return f.TS }
func (f *BookReset) BookKey() book.Key { return f.Key }

func (f *BookReset) encodeBody(w *wbuf) {
	w.i64(f.TS)
	w.key(f.Key)
}

func (f *BookReset) decodeBody(r *rbuf) {
	f.TS = r.i64()
	f.Key = r.key()
}

// SessionUpdate announces a trading-phase change for every book on one
// (venue, segment). The book key carries no instrument ID.
type SessionUpdate struct {
	TS      int64
	Venue   string
	Segment string
	State   book.SessionState
}

func (f *SessionUpdate) Type() FrameType { return FrameSession }
func (f *SessionUpdate) Time() int64     { return f.TS }
func (f *SessionUpdate) BookKey() book.Key {
	return book.Key{Venue: book.VenueID(f.Venue), Segment: book.SegmentID(f.Segment)}
}

func (f *SessionUpdate) encodeBody(w *wbuf) {
	w.i64(f.TS)
	w.str(f.Venue)
	w.str(f.Segment)
	w.u8(uint8(f.State))
}

func (f *SessionUpdate) decodeBody(r *rbuf) {
	f.TS = r.i64()
	f.Venue = r.str()
	f.Segment = r.str()
	f.State = book.SessionState(r.u8())
}

// AddTickTbl announces a shared tick table and its full band set. Sent
// on every table or band mutation so consumers always hold the complete
// table.
type AddTickTbl struct {
	TS    int64
	ID    string
	Bands []book.TickBand
}

func (f *AddTickTbl) Type() FrameType   { return FrameAddTickTbl }
func (f *AddTickTbl) Time() int64       { return f.TS }
func (f *AddTickTbl) BookKey() book.Key { return book.Key{} }

func (f *AddTickTbl) encodeBody(w *wbuf) {
	w.i64(f.TS)
	w.str(f.ID)
	w.u32(uint32(len(f.Bands)))
	for _, b := range f.Bands {
		w.i64(b.MinPrice)
		w.i64(b.Tick)
	}
}

func (f *AddTickTbl) decodeBody(r *rbuf) {
	f.TS = r.i64()
	f.ID = r.str()
	n := r.u32()
	for i := uint32(0); i < n && r.err == nil; i++ {
		f.Bands = append(f.Bands, book.TickBand{MinPrice: r.i64(), Tick: r.i64()})
	}
}

// DelTickTbl announces a tick table removal.
type DelTickTbl struct {
	TS int64
	ID string
}

func (f *DelTickTbl) Type() FrameType   { return FrameDelTickTbl }
func (f *DelTickTbl) Time() int64       { return f.TS }
func (f *DelTickTbl) BookKey() book.Key { return book.Key{} }

func (f *DelTickTbl) encodeBody(w *wbuf) {
	w.i64(f.TS)
	w.str(f.ID)
}

func (f *DelTickTbl) decodeBody(r *rbuf) {
	f.TS = r.i64()
	f.ID = r.str()
}
