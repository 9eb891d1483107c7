package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"BookEngine/internal/observability"
)

// ErrNotActive rejects writes issued on a host that is not the master.
var ErrNotActive = errors.New("host is not active")

// Env is one replicated-store host: the configured set of databases,
// the peer links, and the state machine that elects exactly one Active
// master among the configured hosts.
//
// Election ranks hosts by (dbState, priority), lowest host ID breaking
// ties, so the host with the most replicated data wins. Committed
// records stream down a replication chain: each host forwards to the
// next-ranked connected host below it. A peer that reconnects behind
// the local dbState first receives a recovery stream of historical
// records, then steady-state replication.
type Env struct {
	cfg  Config
	self HostConfig
	log  zerolog.Logger
	m    *observability.Metrics

	mu            sync.Mutex
	state         HostState
	dbs           []*DB
	peers         map[uint32]*peer
	electionTimer *time.Timer
	ln            net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// peer is the local view of one configured remote host.
type peer struct {
	cfg HostConfig

	mu   sync.Mutex // guards conn and w
	conn net.Conn
	w    *bufio.Writer

	state      HostState
	dbState    DBState
	lastHB     time.Time
	voted      bool // reported at least one heartbeat on the live link
	recovering bool
}

func (p *peer) send(typ msgType, flags uint16, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return fmt.Errorf("host %d not connected", p.cfg.ID)
	}
	if err := writeMsg(p.w, typ, flags, body); err != nil {
		return err
	}
	return p.w.Flush()
}

func NewEnv(cfg Config, log zerolog.Logger, m *observability.Metrics) (*Env, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	e := &Env{
		cfg:   cfg,
		self:  cfg.self(),
		log:   log.With().Uint32("host", cfg.SelfID).Logger(),
		m:     m,
		state: Instantiated,
		peers: make(map[uint32]*peer),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	for _, hc := range cfg.Hosts {
		if hc.ID != cfg.SelfID {
			e.peers[hc.ID] = &peer{cfg: hc}
		}
	}
	return e, nil
}

// Init opens every configured database, recovering indices from the
// record files.
func (e *Env) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Instantiated {
		return fmt.Errorf("init from state %s", e.state)
	}

	if err := os.MkdirAll(e.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	for i, dc := range e.cfg.DBs {
		db, err := openDB(dc, uint16(i), e.cfg.Dir, e.log, e.m)
		if err != nil {
			return err
		}
		e.dbs = append(e.dbs, db)
	}
	e.setState(Initialized)
	e.setState(Stopped)
	return nil
}

// Start brings the host online: listen, dial peers, begin electing.
// A single-host cluster activates immediately.
func (e *Env) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Stopped {
		return fmt.Errorf("start from state %s", e.state)
	}

	if e.cancel != nil {
		e.cancel()
	}
	e.ctx, e.cancel = context.WithCancel(ctx)

	if len(e.cfg.Hosts) > 1 {
		ln, err := net.Listen("tcp", e.self.Addr)
		if err != nil {
			return fmt.Errorf("store listen %s: %w", e.self.Addr, err)
		}
		e.ln = ln
		e.wg.Add(1)
		go e.acceptLoop(ln)

		// lower ID dials higher so each pair holds one link
		for _, p := range e.peers {
			if p.cfg.ID > e.cfg.SelfID {
				e.wg.Add(1)
				go e.dialLoop(p)
			}
		}

		e.wg.Add(1)
		go e.heartbeatLoop()

		e.startElection()
		return nil
	}

	e.setState(Electing)
	e.setState(Activating)
	e.setState(Active)
	e.log.Info().Msg("single-host cluster, active immediately")
	return nil
}

// Stop takes the host offline and closes the databases.
func (e *Env) Stop() error {
	e.mu.Lock()
	if !e.state.running() && e.state != Stopped {
		e.mu.Unlock()
		return nil
	}
	e.setState(Stopping)
	if e.cancel != nil {
		e.cancel()
	}
	if e.ln != nil {
		e.ln.Close()
	}
	if e.electionTimer != nil {
		e.electionTimer.Stop()
	}
	for _, p := range e.peers {
		p.mu.Lock()
		if p.conn != nil {
			p.conn.Close()
		}
		p.mu.Unlock()
	}
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for _, db := range e.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.setState(Stopped)
	return firstErr
}

// State is the host's current lifecycle position.
func (e *Env) State() HostState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Active reports whether this host is the elected master.
func (e *Env) Active() bool { return e.State() == Active }

// setState transitions and records the new state. Caller holds mu.
func (e *Env) setState(s HostState) {
	if e.state == s {
		return
	}
	e.log.Info().Str("from", e.state.String()).Str("to", s.String()).Msg("host state")
	e.state = s
	if e.m != nil {
		e.m.StoreHostState.WithLabelValues(fmt.Sprint(e.cfg.SelfID)).Set(float64(s))
	}
}

func (e *Env) dbState() DBState {
	out := make(DBState, len(e.dbs))
	for i, db := range e.dbs {
		out[i] = db.NextRN()
	}
	return out
}

func (e *Env) selfCandidate() candidate {
	return candidate{id: e.cfg.SelfID, priority: e.self.Priority, dbState: e.dbState()}
}

// DB resolves a database by name, nil when unknown.
func (e *Env) DB(name string) *DB {
	for _, db := range e.dbs {
		if db.cfg.Name == name {
			return db
		}
	}
	return nil
}

// --- election ---

// startElection enters Electing and arms the timeout that closes the
// vote. Caller holds mu.
func (e *Env) startElection() {
	e.setState(Electing)
	if e.m != nil {
		e.m.StoreElections.Inc()
	}
	if e.electionTimer != nil {
		e.electionTimer.Stop()
	}
	e.electionTimer = time.AfterFunc(e.cfg.ElectionTimeout, e.electionExpired)
}

// electionExpired closes the vote: the best-ranked voted host wins.
func (e *Env) electionExpired() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Electing {
		return
	}

	winner := e.selfCandidate()
	for _, p := range e.peers {
		if !p.voted || !p.state.running() {
			continue
		}
		c := candidate{id: p.cfg.ID, priority: p.cfg.Priority, dbState: p.dbState.clone()}
		if c.beats(winner) {
			winner = c
		}
	}

	if winner.id == e.cfg.SelfID {
		e.setState(Activating)
		e.setState(Active)
	} else {
		e.setState(Deactivating)
		e.setState(Inactive)
	}
	e.log.Info().Uint32("winner", winner.id).Msg("election decided")
	e.broadcastHeartbeat()
}

// ranking orders every running host best-first. Caller holds mu.
func (e *Env) ranking() []candidate {
	out := []candidate{e.selfCandidate()}
	for _, p := range e.peers {
		if p.voted && p.state.running() {
			out = append(out, candidate{id: p.cfg.ID, priority: p.cfg.Priority, dbState: p.dbState.clone()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].beats(out[j]) })
	return out
}

// nextHop is the connected peer ranked immediately below this host; it
// receives our replication stream. Caller holds mu.
func (e *Env) nextHop() *peer {
	rank := e.ranking()
	for i, c := range rank {
		if c.id != e.cfg.SelfID {
			continue
		}
		for _, below := range rank[i+1:] {
			if p := e.peers[below.id]; p != nil && p.voted {
				return p
			}
		}
		return nil
	}
	return nil
}

// --- heartbeats ---

func (e *Env) heartbeatLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			e.broadcastHeartbeat()
			e.checkTimeouts()
			e.mu.Unlock()
		}
	}
}

// broadcastHeartbeat sends (hostID, state, dbState) to every connected
// peer. Caller holds mu.
func (e *Env) broadcastHeartbeat() {
	hb := heartbeat{
		HostID:   e.cfg.SelfID,
		State:    e.state,
		Priority: e.self.Priority,
		DBState:  e.dbState(),
	}
	body := hb.encode()
	for _, p := range e.peers {
		if err := p.send(msgHeartbeat, 0, body); err != nil {
			continue
		}
		if e.m != nil {
			e.m.StoreHeartbeatsSent.Inc()
		}
	}
}

// checkTimeouts drops peers silent past 2.5 heartbeat intervals.
// Caller holds mu.
func (e *Env) checkTimeouts() {
	deadline := time.Now().Add(-e.cfg.HeartbeatInterval * 5 / 2)
	for _, p := range e.peers {
		p.mu.Lock()
		connected := p.conn != nil
		p.mu.Unlock()
		if !connected || !p.voted || !p.lastHB.Before(deadline) {
			continue
		}
		if e.m != nil {
			e.m.StoreHeartbeatTimeout.Inc()
		}
		e.log.Warn().Uint32("peer", p.cfg.ID).Msg("heartbeat timeout")
		e.dropPeer(p)
	}
}

// dropPeer severs a peer link. Losing the master forces a fresh
// election; losing any other voted host just re-resolves the chain.
// Caller holds mu.
func (e *Env) dropPeer(p *peer) {
	p.mu.Lock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
		p.w = nil
	}
	p.mu.Unlock()

	wasMaster := p.voted && p.state == Active
	p.voted = false
	p.recovering = false

	if wasMaster && (e.state == Inactive || e.state == Electing) {
		e.log.Info().Uint32("peer", p.cfg.ID).Msg("master lost, starting election")
		e.startElection()
	}
}

// onHeartbeat folds a peer's heartbeat into the local view.
func (e *Env) onHeartbeat(p *peer, hb heartbeat) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(hb.DBState) != len(e.dbs) {
		return fmt.Errorf("host %d reports %d databases, local has %d",
			p.cfg.ID, len(hb.DBState), len(e.dbs))
	}

	p.state = hb.State
	p.dbState = hb.DBState
	p.lastHB = time.Now()
	p.voted = true

	if e.m != nil {
		e.m.StoreHeartbeatsRecvd.Inc()
		local := e.dbState()
		for i, db := range e.dbs {
			lag := float64(0)
			if local[i] > hb.DBState[i] {
				lag = float64(local[i] - hb.DBState[i])
			}
			e.m.StoreReplicationLag.WithLabelValues(fmt.Sprint(p.cfg.ID), db.cfg.Name).Set(lag)
		}
	}

	// dual master: the lower-ranked host stands down
	if hb.State == Active && e.state == Active {
		them := candidate{id: p.cfg.ID, priority: p.cfg.Priority, dbState: hb.DBState}
		if them.beats(e.selfCandidate()) {
			e.log.Warn().Uint32("peer", p.cfg.ID).Msg("dual master, deactivating")
			e.setState(Deactivating)
			e.setState(Inactive)
			e.broadcastHeartbeat()
		}
	}

	// a lagging next hop gets a recovery stream before steady traffic
	if next := e.nextHop(); next == p && !p.recovering {
		if from, to, behind := e.lagRange(p.dbState); behind {
			p.recovering = true
			e.wg.Add(1)
			go e.recoverPeer(p, from, to)
		}
	}
	return nil
}

// lagRange returns per-database (from, to) RN ranges the peer is
// missing. Caller holds mu.
func (e *Env) lagRange(peerState DBState) (DBState, DBState, bool) {
	local := e.dbState()
	behind := false
	from := make(DBState, len(local))
	for i := range local {
		from[i] = peerState[i]
		if peerState[i] < local[i] {
			behind = true
		}
	}
	return from, local, behind
}

// --- replication ---

// recoverPeer streams historical records oldest-first until the peer's
// reported gap is closed. Steady-state replication of new writes
// continues independently.
func (e *Env) recoverPeer(p *peer, from, to DBState) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		p.recovering = false
		e.mu.Unlock()
	}()

	for i, db := range e.dbs {
		for rn := from[i]; rn < to[i]; rn++ {
			if e.ctx.Err() != nil {
				return
			}
			key, data, ok, err := db.readForReplication(rn)
			if err != nil {
				e.log.Error().Err(err).Uint64("rn", rn).Str("db", db.cfg.Name).Msg("recovery read failed")
				return
			}
			if !ok {
				continue
			}
			if err := e.sendReplicate(p, db.id, rn, key, data, flagRecovery); err != nil {
				e.log.Warn().Err(err).Uint32("peer", p.cfg.ID).Msg("recovery stream broken")
				return
			}
			if e.m != nil {
				e.m.StoreRecoverySent.Inc()
			}
		}
	}
	e.log.Info().Uint32("peer", p.cfg.ID).Msg("peer recovery complete")
}

func (e *Env) sendReplicate(p *peer, dbID uint16, rn uint64, key string, data []byte, extraFlags uint16) error {
	body, flags := replicate{DB: dbID, RN: rn, HeadKey: key, Data: data}.encode()
	return p.send(msgReplicate, flags|extraFlags, body)
}

// replicateOut streams one freshly committed record to the next hop.
func (e *Env) replicateOut(dbID uint16, rn uint64) {
	e.mu.Lock()
	next := e.nextHop()
	e.mu.Unlock()
	if next == nil {
		return
	}

	key, data, ok, err := e.dbs[dbID].readForReplication(rn)
	if err != nil || !ok {
		return
	}
	if err := e.sendReplicate(next, dbID, rn, key, data, 0); err != nil {
		e.log.Warn().Err(err).Uint32("peer", next.cfg.ID).Msg("replication send failed")
		return
	}
	if e.m != nil {
		e.m.StoreReplicationSent.Inc()
	}
}

// onReplicate applies an upstream record and forwards it down the
// chain.
func (e *Env) onReplicate(rp replicate, flags uint16) error {
	if int(rp.DB) >= len(e.dbs) {
		return fmt.Errorf("replicate for unknown database %d", rp.DB)
	}
	if err := e.dbs[rp.DB].applyReplicated(rp.RN, rp.HeadKey, rp.Data); err != nil {
		return err
	}

	e.mu.Lock()
	next := e.nextHop()
	e.mu.Unlock()
	if next != nil {
		if err := e.sendReplicate(next, rp.DB, rp.RN, rp.HeadKey, rp.Data, flags&flagRecovery); err == nil && e.m != nil {
			e.m.StoreReplicationSent.Inc()
		}
	}
	return nil
}

// --- write API ---

// Put commits a new record on the master and replicates it.
func (e *Env) Put(dbName, headKey string, data []byte) (uint64, error) {
	db, err := e.writableDB(dbName)
	if err != nil {
		return 0, err
	}
	rn, err := db.Put(headKey, data)
	if err != nil {
		return 0, err
	}
	e.replicateOut(db.id, rn)
	return rn, nil
}

// Update appends a new version for an existing head key and replicates
// it.
func (e *Env) Update(dbName, headKey string, data []byte) (uint64, error) {
	db, err := e.writableDB(dbName)
	if err != nil {
		return 0, err
	}
	rn, err := db.Update(headKey, data)
	if err != nil {
		return 0, err
	}
	e.replicateOut(db.id, rn)
	return rn, nil
}

// Abort releases an allocation on the master.
func (e *Env) Abort(dbName string, rn uint64) error {
	db, err := e.writableDB(dbName)
	if err != nil {
		return err
	}
	return db.Abort(rn)
}

func (e *Env) writableDB(name string) (*DB, error) {
	if !e.Active() {
		return nil, ErrNotActive
	}
	db := e.DB(name)
	if db == nil {
		return nil, fmt.Errorf("unknown database %q", name)
	}
	return db, nil
}
