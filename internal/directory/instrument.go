package directory

import (
	"BookEngine/internal/book"
)

// PutCall distinguishes option derivatives; None marks futures.
type PutCall uint8

const (
	None PutCall = iota
	Put
	Call
)

// RefData is the reference-data snapshot carried by an instrument.
type RefData struct {
	Symbol    string
	AltSymbol string

	// underlying link, zero for non-derivatives
	UnderVenue   book.VenueID
	UnderSegment book.SegmentID
	Underlying   string

	Maturity int // YYYYMMDD, 0 when not a derivative
	PutCall  PutCall
	Strike   int64
}

// IsDerivative reports whether the refdata names an underlying+maturity.
func (r RefData) IsDerivative() bool {
	return r.Underlying != "" && r.Maturity != 0
}

// OptionKey indexes an option under its underlying.
type OptionKey struct {
	Maturity int
	PutCall  PutCall
	Strike   int64
}

// Derivatives indexes an instrument's listed derivatives.
type Derivatives struct {
	futures map[int]*Instrument
	options map[OptionKey]*Instrument
}

func newDerivatives() *Derivatives {
	return &Derivatives{
		futures: make(map[int]*Instrument),
		options: make(map[OptionKey]*Instrument),
	}
}

// Future resolves the future expiring at maturity, nil when unlisted.
func (d *Derivatives) Future(maturity int) *Instrument {
	return d.futures[maturity]
}

// Option resolves the option at (maturity, put/call, strike).
func (d *Derivatives) Option(maturity int, pc PutCall, strike int64) *Instrument {
	return d.options[OptionKey{maturity, pc, strike}]
}

func (d *Derivatives) add(i *Instrument) {
	if i.Ref.PutCall == None {
		d.futures[i.Ref.Maturity] = i
	} else {
		d.options[OptionKey{i.Ref.Maturity, i.Ref.PutCall, i.Ref.Strike}] = i
	}
}

func (d *Derivatives) remove(i *Instrument) {
	if i.Ref.PutCall == None {
		delete(d.futures, i.Ref.Maturity)
	} else {
		delete(d.options, OptionKey{i.Ref.Maturity, i.Ref.PutCall, i.Ref.Strike})
	}
}

// Instrument is one tradeable security: identity, refdata, the optional
// underlying link and derivatives index, and its per-venue order books.
//
// Invariant: with two or more per-venue books the instrument holds exactly
// one consolidated book, stored under the sentinel (zero venue, zero
// segment) key and shared by every sibling.
type Instrument struct {
	Key book.Key
	Ref RefData

	underlying  *Instrument
	derivatives *Derivatives

	books map[book.Key]*book.OrderBook
}

// Underlying returns the linked underlying instrument, nil for
// non-derivatives.
func (i *Instrument) Underlying() *Instrument { return i.underlying }

// Derivatives returns the derivatives index, nil when nothing is listed
// under this instrument.
func (i *Instrument) Derivatives() *Derivatives { return i.derivatives }

// OrderBook returns the book listed on (venue, segment), nil when absent.
func (i *Instrument) OrderBook(venue book.VenueID, segment book.SegmentID) *book.OrderBook {
	return i.books[book.Key{Venue: venue, Segment: segment, ID: i.Key.ID}]
}

// ConsolidatedBook returns the shared consolidated book, nil while the
// instrument trades on fewer than two venues.
func (i *Instrument) ConsolidatedBook() *book.OrderBook {
	return i.books[book.ConsolidatedKey(i.Key.ID)]
}

// Books walks every book including the consolidated one.
func (i *Instrument) Books(fn func(*book.OrderBook) bool) {
	for _, b := range i.books {
		if !fn(b) {
			return
		}
	}
}

// venueBookCount counts per-venue books, excluding the consolidated one.
func (i *Instrument) venueBookCount() int {
	n := len(i.books)
	if i.ConsolidatedBook() != nil {
		n--
	}
	return n
}
