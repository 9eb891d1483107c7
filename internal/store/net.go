package store

import (
	"bufio"
	"net"
	"time"
)

// acceptLoop serves inbound peer links. The peer identifies itself with
// its first heartbeat.
func (e *Env) acceptLoop(ln net.Listener) {
	defer e.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.serveConn(conn, nil)
		}()
	}
}

// dialLoop keeps one outbound peer link alive with capped exponential
// backoff. Only the lower host ID dials, so each pair holds one link.
func (e *Env) dialLoop(p *peer) {
	defer e.wg.Done()
	backoff := e.cfg.ReconnectMin

	for {
		if e.ctx.Err() != nil {
			return
		}
		if e.m != nil {
			e.m.StoreReconnects.Inc()
		}

		conn, err := net.DialTimeout("tcp", p.cfg.Addr, e.cfg.HeartbeatInterval)
		if err != nil {
			e.log.Debug().Err(err).Uint32("peer", p.cfg.ID).Msg("dial failed")
			select {
			case <-e.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > e.cfg.ReconnectMax {
				backoff = e.cfg.ReconnectMax
			}
			continue
		}

		backoff = e.cfg.ReconnectMin
		e.attach(p, conn)

		// announce ourselves so the acceptor can identify the link
		e.mu.Lock()
		hb := heartbeat{HostID: e.cfg.SelfID, State: e.state, Priority: e.self.Priority, DBState: e.dbState()}
		e.mu.Unlock()
		if err := p.send(msgHeartbeat, 0, hb.encode()); err == nil {
			e.serveConn(conn, p)
		}

		e.mu.Lock()
		e.dropPeer(p)
		e.mu.Unlock()
	}
}

// attach binds a live connection to its peer slot, replacing any stale
// link.
func (e *Env) attach(p *peer, conn net.Conn) {
	p.mu.Lock()
	if p.conn != nil {
		p.conn.Close()
	}
	p.conn = conn
	p.w = bufio.NewWriter(conn)
	p.mu.Unlock()
}

// serveConn reads messages until the link breaks or a protocol error
// makes it unsafe to continue. p is nil for inbound links until the
// first heartbeat names the peer.
func (e *Env) serveConn(conn net.Conn, p *peer) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		typ, flags, body, err := readMsg(r)
		if err != nil {
			if p != nil {
				e.log.Debug().Err(err).Uint32("peer", p.cfg.ID).Msg("peer link closed")
			}
			return
		}

		switch typ {
		case msgHeartbeat:
			hb, err := decodeHeartbeat(body)
			if err != nil {
				e.log.Error().Err(err).Msg("corrupt heartbeat, dropping link")
				return
			}
			if p == nil {
				p = e.identify(hb.HostID, conn)
				if p == nil {
					e.log.Warn().Uint32("host", hb.HostID).Msg("heartbeat from unconfigured host")
					return
				}
			}
			if err := e.onHeartbeat(p, hb); err != nil {
				e.log.Error().Err(err).Msg("inconsistent peer topology, dropping link")
				e.mu.Lock()
				e.dropPeer(p)
				e.mu.Unlock()
				return
			}

		case msgReplicate:
			rp, err := decodeReplicate(body, flags)
			if err != nil {
				e.log.Error().Err(err).Msg("corrupt replicate message, dropping link")
				return
			}
			if err := e.onReplicate(rp, flags); err != nil {
				e.log.Error().Err(err).Msg("replicated record rejected")
				return
			}

		default:
			e.log.Error().Uint16("type", uint16(typ)).Msg("unknown message type, dropping link")
			return
		}
	}
}

// identify resolves an inbound link to its configured peer slot.
func (e *Env) identify(hostID uint32, conn net.Conn) *peer {
	e.mu.Lock()
	p := e.peers[hostID]
	e.mu.Unlock()
	if p == nil {
		return nil
	}
	e.attach(p, conn)
	return p
}
