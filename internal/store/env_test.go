package store

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	base := Config{
		SelfID: 1,
		Hosts:  []HostConfig{{ID: 1}, {ID: 2, Addr: "h2:9400"}},
		DBs:    []DBConfig{{Name: "trades", RecordSize: 64, RecordsPerFile: 16}},
		Dir:    "/tmp/x",
	}
	require.NoError(t, base.Validate())

	for name, mutate := range map[string]func(*Config){
		"no hosts":         func(c *Config) { c.Hosts = nil },
		"no dbs":           func(c *Config) { c.DBs = nil },
		"no dir":           func(c *Config) { c.Dir = "" },
		"self missing":     func(c *Config) { c.SelfID = 9 },
		"duplicate host":   func(c *Config) { c.Hosts[1].ID = 1 },
		"peer no addr":     func(c *Config) { c.Hosts[1].Addr = "" },
		"zero record size": func(c *Config) { c.DBs[0].RecordSize = 0 },
		"zero per file":    func(c *Config) { c.DBs[0].RecordsPerFile = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			c := base
			c.Hosts = append([]HostConfig(nil), base.Hosts...)
			c.DBs = append([]DBConfig(nil), base.DBs...)
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestCandidate_Ranking(t *testing.T) {
	ahead := candidate{id: 2, priority: 1, dbState: DBState{10, 5}}
	behind := candidate{id: 1, priority: 9, dbState: DBState{10, 4}}
	assert.True(t, ahead.beats(behind), "dbState outranks priority")

	highPrio := candidate{id: 3, priority: 9, dbState: DBState{10, 5}}
	assert.True(t, highPrio.beats(ahead), "priority breaks dbState ties")

	lowID := candidate{id: 1, priority: 9, dbState: DBState{10, 5}}
	assert.True(t, lowID.beats(highPrio), "lowest ID breaks full ties")
}

func newTestEnv(t *testing.T, selfID uint32, hosts []HostConfig) *Env {
	t.Helper()
	e, err := NewEnv(Config{
		SelfID: selfID,
		Hosts:  hosts,
		DBs:    []DBConfig{{Name: "trades", RecordSize: 64, RecordsPerFile: 16}},
		Dir:    t.TempDir(),
	}, zerolog.Nop(), nil)
	require.NoError(t, err)
	require.NoError(t, e.Init())
	return e
}

var threeHosts = []HostConfig{
	{ID: 1, Addr: "h1:9400", Priority: 1},
	{ID: 2, Addr: "h2:9400", Priority: 2},
	{ID: 3, Addr: "h3:9400", Priority: 3},
}

// vote injects a peer's heartbeat state as if received on a live link.
func vote(e *Env, id uint32, state HostState, dbState DBState) {
	p := e.peers[id]
	p.state = state
	p.dbState = dbState
	p.lastHB = time.Now()
	p.voted = true
}

func TestElection_MostReplicatedWins(t *testing.T) {
	e := newTestEnv(t, 1, threeHosts)
	e.mu.Lock()
	e.state = Electing
	e.mu.Unlock()

	// peer 3 has more data despite our data being equal to peer 2's
	vote(e, 2, Electing, DBState{0})
	vote(e, 3, Electing, DBState{5})

	e.electionExpired()
	assert.Equal(t, Inactive, e.State())
}

func TestElection_PriorityBreaksTies(t *testing.T) {
	e := newTestEnv(t, 3, threeHosts)
	e.mu.Lock()
	e.state = Electing
	e.mu.Unlock()

	vote(e, 1, Electing, DBState{0})
	vote(e, 2, Electing, DBState{0})

	// all tied on dbState, self carries the highest priority
	e.electionExpired()
	assert.Equal(t, Active, e.State())
}

func TestElection_SoleVoterWins(t *testing.T) {
	e := newTestEnv(t, 1, threeHosts)
	e.mu.Lock()
	e.state = Electing
	e.mu.Unlock()

	e.electionExpired()
	assert.Equal(t, Active, e.State())
}

func TestDualMaster_LowerRankedDeactivates(t *testing.T) {
	e := newTestEnv(t, 1, threeHosts)
	e.mu.Lock()
	e.state = Active
	e.mu.Unlock()

	p := e.peers[3]
	require.NoError(t, e.onHeartbeat(p, heartbeat{
		HostID: 3, State: Active, Priority: 3, DBState: DBState{0},
	}))
	assert.Equal(t, Inactive, e.State())
}

func TestDualMaster_HigherRankedStaysActive(t *testing.T) {
	e := newTestEnv(t, 1, threeHosts)
	e.mu.Lock()
	e.state = Active
	e.mu.Unlock()

	_, err := e.DB("trades").Put("T1", []byte("x"))
	require.NoError(t, err)

	// peer has higher priority but lags on dbState
	p := e.peers[3]
	require.NoError(t, e.onHeartbeat(p, heartbeat{
		HostID: 3, State: Active, Priority: 3, DBState: DBState{0},
	}))
	assert.Equal(t, Active, e.State())
}

func TestHeartbeat_RejectsDBCountMismatch(t *testing.T) {
	e := newTestEnv(t, 1, threeHosts)
	p := e.peers[2]

	err := e.onHeartbeat(p, heartbeat{HostID: 2, State: Electing, DBState: DBState{0, 0}})
	assert.Error(t, err)
}

func TestNextHop_FollowsRanking(t *testing.T) {
	e := newTestEnv(t, 1, threeHosts)
	e.mu.Lock()
	e.state = Active
	e.mu.Unlock()

	_, err := e.DB("trades").Put("T1", []byte("x"))
	require.NoError(t, err)

	vote(e, 2, Inactive, DBState{0})
	vote(e, 3, Inactive, DBState{0})

	e.mu.Lock()
	next := e.nextHop()
	e.mu.Unlock()
	require.NotNil(t, next)
	// both peers tie on dbState, host 3 carries the higher priority
	assert.Equal(t, uint32(3), next.cfg.ID)
}

func TestMasterLoss_TriggersElection(t *testing.T) {
	e := newTestEnv(t, 2, threeHosts)
	e.mu.Lock()
	e.state = Inactive
	e.cfg.ElectionTimeout = time.Hour // decided manually below
	e.mu.Unlock()

	vote(e, 1, Active, DBState{0})

	e.mu.Lock()
	e.dropPeer(e.peers[1])
	state := e.state
	e.mu.Unlock()
	assert.Equal(t, Electing, state)

	vote(e, 3, Electing, DBState{0})
	e.electionExpired()
	// peer 3 outranks us on priority
	assert.Equal(t, Inactive, e.State())
}

func TestWrites_RequireActive(t *testing.T) {
	e := newTestEnv(t, 1, threeHosts)

	_, err := e.Put("trades", "T1", []byte("x"))
	assert.ErrorIs(t, err, ErrNotActive)

	e.mu.Lock()
	e.state = Active
	e.mu.Unlock()

	rn, err := e.Put("trades", "T1", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rn)

	_, err = e.Update("trades", "T1", []byte("y"))
	require.NoError(t, err)

	_, err = e.Put("nope", "T1", []byte("x"))
	assert.Error(t, err)
}
