package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"

	"BookEngine/internal/book"
	"BookEngine/internal/directory"
	"BookEngine/internal/engine"
	fpmath "BookEngine/internal/math"
	"BookEngine/internal/shard"
)

// FeedEvent is a parsed feed message ready to apply to the engine.
type FeedEvent interface {
	Apply(e *engine.Engine) error
}

// ParseRawEvent converts a raw feed message into a typed FeedEvent.
// Field names use snake_case to match upstream producers; price and
// quantity fields are fixed-point integers and optional fields use
// pointers so absence maps to the unset sentinels.
func ParseRawEvent(raw RawEvent) (FeedEvent, error) {
	switch raw.EventType {
	case "RefData":
		return parseRefData(raw)
	case "Order":
		return parseOrder(raw.Data)
	case "Level":
		return parseLevel(raw.Data)
	case "L1":
		return parseL1(raw.Data)
	case "Trade":
		return parseTrade(raw.Data)
	case "Reset":
		return parseReset(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", raw.EventType)
	}
}

func parseSide(s string) (book.Side, error) {
	switch s {
	case "buy":
		return book.Buy, nil
	case "sell":
		return book.Sell, nil
	default:
		return 0, fmt.Errorf("parse side: %q", s)
	}
}

func bookKey(venue, segment, instrument string) book.Key {
	return book.Key{Venue: book.VenueID(venue), Segment: book.SegmentID(segment), ID: instrument}
}

func optPx(p *int64) int64 {
	if p == nil {
		return fpmath.PriceUnset
	}
	return *p
}

func optQty(p *int64) int64 {
	if p == nil {
		return fpmath.QtyUnset
	}
	return *p
}

// --- Orders ---

type orderJSON struct {
	Venue       string `json:"venue"`
	Segment     string `json:"segment"`
	Instrument  string `json:"instrument"`
	Op          string `json:"op"` // add, modify, reduce, cancel
	OrderID     string `json:"order_id"`
	Side        string `json:"side"`
	Rank        uint64 `json:"rank"`
	Price       *int64 `json:"price"`
	Qty         int64  `json:"qty"`
	Flags       uint32 `json:"flags"`
	TimestampNs int64  `json:"timestamp_ns"`
}

// OrderFeed is one L3 order operation.
type OrderFeed struct {
	Key   book.Key
	Op    string
	ID    string
	Side  book.Side
	Rank  uint64
	Price int64
	Qty   int64
	Flags uint32
	TS    int64
}

func parseOrder(data []byte) (*OrderFeed, error) {
	var j orderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Order: %w", err)
	}
	side, err := parseSide(j.Side)
	if err != nil {
		return nil, err
	}
	switch j.Op {
	case "add", "modify", "reduce", "cancel":
	default:
		return nil, fmt.Errorf("parse Order: unknown op %q", j.Op)
	}
	return &OrderFeed{
		Key:   bookKey(j.Venue, j.Segment, j.Instrument),
		Op:    j.Op,
		ID:    j.OrderID,
		Side:  side,
		Rank:  j.Rank,
		Price: optPx(j.Price),
		Qty:   j.Qty,
		Flags: j.Flags,
		TS:    j.TimestampNs,
	}, nil
}

func (f *OrderFeed) Apply(e *engine.Engine) error {
	switch f.Op {
	case "add":
		return e.AddOrder(f.Key, f.ID, f.TS, f.Side, f.Rank, f.Price, f.Qty, f.Flags)
	case "modify":
		return e.ModifyOrder(f.Key, f.ID, f.TS, f.Side, f.Rank, f.Price, f.Qty, f.Flags)
	case "reduce":
		return e.ReduceOrder(f.Key, f.ID, f.TS, f.Side, f.Qty)
	default:
		return e.CancelOrder(f.Key, f.ID, f.TS, f.Side)
	}
}

// --- Price levels ---

type levelJSON struct {
	Venue       string `json:"venue"`
	Segment     string `json:"segment"`
	Instrument  string `json:"instrument"`
	Side        string `json:"side"`
	Delta       bool   `json:"delta"`
	Price       *int64 `json:"price"`
	Qty         int64  `json:"qty"`
	NOrders     int64  `json:"n_orders"`
	Flags       uint32 `json:"flags"`
	TimestampNs int64  `json:"timestamp_ns"`
}

// LevelFeed is one L2 aggregate update.
type LevelFeed struct {
	Key     book.Key
	Side    book.Side
	Delta   bool
	Price   int64
	Qty     int64
	NOrders int64
	Flags   uint32
	TS      int64
}

func parseLevel(data []byte) (*LevelFeed, error) {
	var j levelJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Level: %w", err)
	}
	side, err := parseSide(j.Side)
	if err != nil {
		return nil, err
	}
	return &LevelFeed{
		Key:     bookKey(j.Venue, j.Segment, j.Instrument),
		Side:    side,
		Delta:   j.Delta,
		Price:   optPx(j.Price),
		Qty:     j.Qty,
		NOrders: j.NOrders,
		Flags:   j.Flags,
		TS:      j.TimestampNs,
	}, nil
}

func (f *LevelFeed) Apply(e *engine.Engine) error {
	return e.PxLevel(f.Key, f.Side, f.TS, f.Delta, f.Price, f.Qty, f.NOrders, f.Flags)
}

// --- L1 ---

type l1JSON struct {
	Venue       string `json:"venue"`
	Segment     string `json:"segment"`
	Instrument  string `json:"instrument"`
	Last        *int64 `json:"last"`
	LastQty     *int64 `json:"last_qty"`
	Bid         *int64 `json:"bid"`
	BidQty      *int64 `json:"bid_qty"`
	Ask         *int64 `json:"ask"`
	AskQty      *int64 `json:"ask_qty"`
	High        *int64 `json:"high"`
	Low         *int64 `json:"low"`
	Volume      *int64 `json:"volume"`
	Turnover    *int64 `json:"turnover"`
	TickDir     uint8  `json:"tick_dir"`
	TimestampNs int64  `json:"timestamp_ns"`
}

// L1Feed is one venue top-of-book update.
type L1Feed struct {
	Key  book.Key
	Data book.L1Data
}

func parseL1(data []byte) (*L1Feed, error) {
	var j l1JSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse L1: %w", err)
	}
	return &L1Feed{
		Key: bookKey(j.Venue, j.Segment, j.Instrument),
		Data: book.L1Data{
			Stamp:    j.TimestampNs,
			Last:     optPx(j.Last),
			LastQty:  optQty(j.LastQty),
			Bid:      optPx(j.Bid),
			BidQty:   optQty(j.BidQty),
			Ask:      optPx(j.Ask),
			AskQty:   optQty(j.AskQty),
			High:     optPx(j.High),
			Low:      optPx(j.Low),
			Volume:   optQty(j.Volume),
			Turnover: optQty(j.Turnover),
			TickDir:  book.TickDir(j.TickDir),
		},
	}, nil
}

func (f *L1Feed) Apply(e *engine.Engine) error {
	return e.MergeL1(f.Key, f.Data)
}

// --- Trades ---

type tradeJSON struct {
	Venue       string `json:"venue"`
	Segment     string `json:"segment"`
	Instrument  string `json:"instrument"`
	Op          string `json:"op"` // add, correct, cancel
	TradeID     string `json:"trade_id"`
	Price       int64  `json:"price"`
	Qty         int64  `json:"qty"`
	OrigPrice   int64  `json:"orig_price"`
	OrigQty     int64  `json:"orig_qty"`
	TimestampNs int64  `json:"timestamp_ns"`
}

// TradeFeed is one trade print, correction, or bust.
type TradeFeed struct {
	Key       book.Key
	Op        string
	ID        string
	Price     int64
	Qty       int64
	OrigPrice int64
	OrigQty   int64
	TS        int64
}

func parseTrade(data []byte) (*TradeFeed, error) {
	var j tradeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Trade: %w", err)
	}
	switch j.Op {
	case "add", "correct", "cancel":
	default:
		return nil, fmt.Errorf("parse Trade: unknown op %q", j.Op)
	}
	return &TradeFeed{
		Key:       bookKey(j.Venue, j.Segment, j.Instrument),
		Op:        j.Op,
		ID:        j.TradeID,
		Price:     j.Price,
		Qty:       j.Qty,
		OrigPrice: j.OrigPrice,
		OrigQty:   j.OrigQty,
		TS:        j.TimestampNs,
	}, nil
}

func (f *TradeFeed) Apply(e *engine.Engine) error {
	switch f.Op {
	case "add":
		return e.AddTrade(f.Key, f.ID, f.TS, f.Price, f.Qty)
	case "correct":
		return e.CorrectTrade(f.Key, f.ID, f.TS, f.OrigPrice, f.OrigQty, f.Price, f.Qty)
	default:
		return e.CancelTrade(f.Key, f.ID, f.TS, f.Price, f.Qty)
	}
}

// --- Resets ---

type resetJSON struct {
	Venue       string `json:"venue"`
	Segment     string `json:"segment"`
	Instrument  string `json:"instrument"`
	TimestampNs int64  `json:"timestamp_ns"`
}

// ResetFeed discards one book's depth.
type ResetFeed struct {
	Key book.Key
	TS  int64
}

func parseReset(data []byte) (*ResetFeed, error) {
	var j resetJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Reset: %w", err)
	}
	return &ResetFeed{Key: bookKey(j.Venue, j.Segment, j.Instrument), TS: j.TimestampNs}, nil
}

func (f *ResetFeed) Apply(e *engine.Engine) error {
	return e.ResetBook(f.Key, f.TS)
}

// --- Reference data ---

type venueJSON struct {
	ID    string `json:"id"`
	Scope string `json:"scope"` // venue, orderbook, obside
}

// VenueFeed registers a venue and its order-ID scope.
type VenueFeed struct {
	ID    book.VenueID
	Scope shard.IDScope
}

func parseVenue(data []byte) (*VenueFeed, error) {
	var j venueJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Venue: %w", err)
	}
	var scope shard.IDScope
	switch j.Scope {
	case "venue":
		scope = shard.ScopeVenue
	case "orderbook", "":
		scope = shard.ScopeOrderBook
	case "obside":
		scope = shard.ScopeOBSide
	default:
		return nil, fmt.Errorf("parse Venue: unknown scope %q", j.Scope)
	}
	return &VenueFeed{ID: book.VenueID(j.ID), Scope: scope}, nil
}

func (f *VenueFeed) Apply(e *engine.Engine) error {
	_, err := e.AddVenue(f.ID, f.Scope)
	return err
}

type tickTblJSON struct {
	ID    string `json:"id"`
	Op    string `json:"op"` // add, del
	Bands []struct {
		MinPrice int64 `json:"min_price"`
		Tick     int64 `json:"tick"`
	} `json:"bands"`
	TimestampNs int64 `json:"timestamp_ns"`
}

// TickTblFeed registers or drops a shared tick table.
type TickTblFeed struct {
	ID    string
	Op    string
	Bands []book.TickBand
	TS    int64
}

func parseTickTbl(data []byte) (*TickTblFeed, error) {
	var j tickTblJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TickTbl: %w", err)
	}
	f := &TickTblFeed{ID: j.ID, Op: j.Op, TS: j.TimestampNs}
	if f.Op == "" {
		f.Op = "add"
	}
	for _, b := range j.Bands {
		f.Bands = append(f.Bands, book.TickBand{MinPrice: b.MinPrice, Tick: b.Tick})
	}
	return f, nil
}

func (f *TickTblFeed) Apply(e *engine.Engine) error {
	if f.Op == "del" {
		e.DelTickSizeTbl(f.TS, f.ID)
		return nil
	}
	e.AddTickSizeTbl(f.TS, f.ID, f.Bands...)
	return nil
}

type instrumentJSON struct {
	Venue        string `json:"venue"`
	Segment      string `json:"segment"`
	ID           string `json:"id"`
	Op           string `json:"op"` // add, del
	Symbol       string `json:"symbol"`
	AltSymbol    string `json:"alt_symbol"`
	UnderVenue   string `json:"under_venue"`
	UnderSegment string `json:"under_segment"`
	Underlying   string `json:"underlying"`
	Maturity     int    `json:"maturity"`
	PutCall      string `json:"put_call"` // "", put, call
	Strike       int64  `json:"strike"`
	TimestampNs  int64  `json:"timestamp_ns"`
}

// InstrumentFeed registers, refreshes, or drops an instrument.
type InstrumentFeed struct {
	Key book.Key
	Op  string
	Ref directory.RefData
	TS  int64
}

func parseInstrument(data []byte) (*InstrumentFeed, error) {
	var j instrumentJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Instrument: %w", err)
	}
	var pc directory.PutCall
	switch j.PutCall {
	case "":
		pc = directory.None
	case "put":
		pc = directory.Put
	case "call":
		pc = directory.Call
	default:
		return nil, fmt.Errorf("parse Instrument: unknown put_call %q", j.PutCall)
	}
	op := j.Op
	if op == "" {
		op = "add"
	}
	return &InstrumentFeed{
		Key: bookKey(j.Venue, j.Segment, j.ID),
		Op:  op,
		Ref: directory.RefData{
			Symbol:       j.Symbol,
			AltSymbol:    j.AltSymbol,
			UnderVenue:   book.VenueID(j.UnderVenue),
			UnderSegment: book.SegmentID(j.UnderSegment),
			Underlying:   j.Underlying,
			Maturity:     j.Maturity,
			PutCall:      pc,
			Strike:       j.Strike,
		},
		TS: j.TimestampNs,
	}, nil
}

func (f *InstrumentFeed) Apply(e *engine.Engine) error {
	if f.Op == "del" {
		e.DelInstrument(f.TS, f.Key)
		return nil
	}
	e.AddInstrument(f.TS, f.Key, f.Ref)
	return nil
}

type listingJSON struct {
	InstrVenue   string `json:"instr_venue"`
	InstrSegment string `json:"instr_segment"`
	Instrument   string `json:"instrument"`
	Op           string `json:"op"` // add, del
	Venue        string `json:"venue"`
	Segment      string `json:"segment"`
	TickTbl      string `json:"tick_tbl"`
	OddLot       int64  `json:"odd_lot"`
	RoundLot     int64  `json:"round_lot"`
	BlockLot     int64  `json:"block_lot"`
	TimestampNs  int64  `json:"timestamp_ns"`
}

// ListingFeed lists or delists an instrument on a venue segment.
type ListingFeed struct {
	InstrKey book.Key
	Op       string
	Venue    book.VenueID
	Segment  book.SegmentID
	TickTbl  string
	Lots     book.LotSizes
	TS       int64
}

func parseListing(data []byte) (*ListingFeed, error) {
	var j listingJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Listing: %w", err)
	}
	op := j.Op
	if op == "" {
		op = "add"
	}
	return &ListingFeed{
		InstrKey: bookKey(j.InstrVenue, j.InstrSegment, j.Instrument),
		Op:       op,
		Venue:    book.VenueID(j.Venue),
		Segment:  book.SegmentID(j.Segment),
		TickTbl:  j.TickTbl,
		Lots:     book.LotSizes{OddLot: j.OddLot, RoundLot: j.RoundLot, BlockLot: j.BlockLot},
		TS:       j.TimestampNs,
	}, nil
}

func (f *ListingFeed) Apply(e *engine.Engine) error {
	if f.Op == "del" {
		e.DelOrderBook(f.TS, f.InstrKey, f.Venue, f.Segment)
		return nil
	}
	_, err := e.AddOrderBook(f.TS, f.InstrKey, f.Venue, f.Segment, f.TickTbl, f.Lots)
	return err
}

type sessionJSON struct {
	Venue       string `json:"venue"`
	Segment     string `json:"segment"`
	State       string `json:"state"`
	TimestampNs int64  `json:"timestamp_ns"`
}

// SessionFeed changes the trading phase of one venue segment.
type SessionFeed struct {
	Venue   book.VenueID
	Segment book.SegmentID
	State   book.SessionState
	TS      int64
}

func parseSession(data []byte) (*SessionFeed, error) {
	var j sessionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Session: %w", err)
	}
	var state book.SessionState
	switch j.State {
	case "pre_open":
		state = book.SessionPreOpen
	case "opening_auction":
		state = book.SessionOpeningAuction
	case "continuous":
		state = book.SessionContinuous
	case "closing_auction":
		state = book.SessionClosingAuction
	case "closed":
		state = book.SessionClosed
	case "halted":
		state = book.SessionHalted
	default:
		return nil, fmt.Errorf("parse Session: unknown state %q", j.State)
	}
	return &SessionFeed{
		Venue:   book.VenueID(j.Venue),
		Segment: book.SegmentID(j.Segment),
		State:   state,
		TS:      j.TimestampNs,
	}, nil
}

func (f *SessionFeed) Apply(e *engine.Engine) error {
	e.SetSession(f.TS, f.Venue, f.Segment, f.State)
	return nil
}

// parseRefData dispatches on the refdata subject leaf:
// md.feed.refdata.{venue,ticktbl,instrument,listing,session}.
func parseRefData(raw RawEvent) (FeedEvent, error) {
	switch leaf := raw.Subject[strings.LastIndex(raw.Subject, ".")+1:]; leaf {
	case "venue":
		return parseVenue(raw.Data)
	case "ticktbl":
		return parseTickTbl(raw.Data)
	case "instrument":
		return parseInstrument(raw.Data)
	case "listing":
		return parseListing(raw.Data)
	case "session":
		return parseSession(raw.Data)
	default:
		return nil, fmt.Errorf("unknown refdata subject %q", raw.Subject)
	}
}
