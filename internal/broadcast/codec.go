package broadcast

import (
	"encoding/binary"
	"errors"
	"math"

	"BookEngine/internal/book"
)

// Little-endian throughout; frames target same-architecture consumers
// and the recorder file format fixes the byte order explicitly.

func putU16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func putU32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func getU16(b []byte) uint16    { return binary.LittleEndian.Uint16(b) }
func getU32(b []byte) uint32    { return binary.LittleEndian.Uint32(b) }

// wbuf is an append-only encode buffer.
type wbuf struct {
	b []byte
}

func (w *wbuf) u8(v uint8) { w.b = append(w.b, v) }

func (w *wbuf) u16(v uint16) {
	w.b = binary.LittleEndian.AppendUint16(w.b, v)
}

func (w *wbuf) u32(v uint32) {
	w.b = binary.LittleEndian.AppendUint32(w.b, v)
}

func (w *wbuf) u64(v uint64) {
	w.b = binary.LittleEndian.AppendUint64(w.b, v)
}

func (w *wbuf) i64(v int64) { w.u64(uint64(v)) }

func (w *wbuf) bool(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *wbuf) str(s string) {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	w.u16(uint16(len(s)))
	w.b = append(w.b, s...)
}

func (w *wbuf) key(k book.Key) {
	w.str(string(k.Venue))
	w.str(string(k.Segment))
	w.str(k.ID)
}

var errShortBody = errors.New("truncated frame body")

// rbuf is a sticky-error decode cursor. After the first short read every
// subsequent read returns zero values; callers check err once at the end.
type rbuf struct {
	b   []byte
	off int
	err error
}

func (r *rbuf) take(n int) []byte {
	if r.err != nil || r.off+n > len(r.b) {
		if r.err == nil {
			r.err = errShortBody
		}
		return nil
	}
	p := r.b[r.off : r.off+n]
	r.off += n
	return p
}

func (r *rbuf) u8() uint8 {
	p := r.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *rbuf) u16() uint16 {
	p := r.take(2)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(p)
}

func (r *rbuf) u32() uint32 {
	p := r.take(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (r *rbuf) u64() uint64 {
	p := r.take(8)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

func (r *rbuf) i64() int64 { return int64(r.u64()) }

func (r *rbuf) bool() bool { return r.u8() != 0 }

func (r *rbuf) str() string {
	n := int(r.u16())
	p := r.take(n)
	if p == nil {
		return ""
	}
	return string(p)
}

func (r *rbuf) key() book.Key {
	return book.Key{
		Venue:   book.VenueID(r.str()),
		Segment: book.SegmentID(r.str()),
		ID:      r.str(),
	}
}
