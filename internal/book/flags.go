package book

import (
	"strconv"
	"sync"
)

// FlagCodec translates venue-specific level/order flag words to and from
// their feed string form. Venues register an implementation at startup;
// unknown venues fall back to a plain hex codec.
type FlagCodec interface {
	Encode(flags uint32) string
	Decode(s string) uint32
}

type hexFlagCodec struct{}

func (hexFlagCodec) Encode(flags uint32) string {
	return strconv.FormatUint(uint64(flags), 16)
}

func (hexFlagCodec) Decode(s string) uint32 {
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

var (
	flagCodecsMu sync.RWMutex
	flagCodecs   = map[VenueID]FlagCodec{}
	defaultCodec = hexFlagCodec{}
)

// RegisterFlagCodec installs the codec for a venue. Intended for startup
// wiring; later registrations replace earlier ones.
func RegisterFlagCodec(venue VenueID, c FlagCodec) {
	flagCodecsMu.Lock()
	flagCodecs[venue] = c
	flagCodecsMu.Unlock()
}

// FlagCodecFor returns the venue's codec, or the hex fallback.
func FlagCodecFor(venue VenueID) FlagCodec {
	flagCodecsMu.RLock()
	c, ok := flagCodecs[venue]
	flagCodecsMu.RUnlock()
	if !ok {
		return defaultCodec
	}
	return c
}
