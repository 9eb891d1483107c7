package book

// SessionState is the trading phase of one (venue, segment).
type SessionState uint8

const (
	SessionUnknown SessionState = iota
	SessionPreOpen
	SessionOpeningAuction
	SessionContinuous
	SessionClosingAuction
	SessionClosed
	SessionHalted
)

func (s SessionState) String() string {
	switch s {
	case SessionPreOpen:
		return "pre_open"
	case SessionOpeningAuction:
		return "opening_auction"
	case SessionContinuous:
		return "continuous"
	case SessionClosingAuction:
		return "closing_auction"
	case SessionClosed:
		return "closed"
	case SessionHalted:
		return "halted"
	default:
		return "unknown"
	}
}
