package store

// HostState is one position in the host lifecycle:
//
//	Instantiated -> Initialized -> Stopped -> Electing ->
//	{Activating|Deactivating} -> {Active|Inactive} -> Stopping -> Stopped
//
// Exactly one host in a healthy cluster is Active.
type HostState uint8

const (
	Instantiated HostState = iota
	Initialized
	Stopped
	Electing
	Activating
	Deactivating
	Active
	Inactive
	Stopping
)

func (s HostState) String() string {
	switch s {
	case Instantiated:
		return "instantiated"
	case Initialized:
		return "initialized"
	case Stopped:
		return "stopped"
	case Electing:
		return "electing"
	case Activating:
		return "activating"
	case Deactivating:
		return "deactivating"
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// running reports whether the host participates in heartbeats and voting.
func (s HostState) running() bool {
	switch s {
	case Electing, Activating, Deactivating, Active, Inactive:
		return true
	default:
		return false
	}
}

// DBState is the per-database next-allocatable RN vector. It orders
// hosts by replication progress during elections.
type DBState []uint64

func (s DBState) clone() DBState {
	out := make(DBState, len(s))
	copy(out, s)
	return out
}

// cmp compares two vectors element-wise, most significant database
// first. Returns -1, 0 or 1.
func (s DBState) cmp(o DBState) int {
	n := len(s)
	if len(o) < n {
		n = len(o)
	}
	for i := 0; i < n; i++ {
		switch {
		case s[i] < o[i]:
			return -1
		case s[i] > o[i]:
			return 1
		}
	}
	switch {
	case len(s) < len(o):
		return -1
	case len(s) > len(o):
		return 1
	}
	return 0
}

// candidate is one vote in an election.
type candidate struct {
	id       uint32
	priority uint32
	dbState  DBState
}

// beats reports whether a outranks b: greater dbState first, then
// greater priority, lowest host ID breaking the final tie.
func (a candidate) beats(b candidate) bool {
	if c := a.dbState.cmp(b.dbState); c != 0 {
		return c > 0
	}
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.id < b.id
}
