package store

import (
	"fmt"
	"time"
)

// HostConfig declares one cluster member.
type HostConfig struct {
	ID       uint32
	Addr     string
	Priority uint32
}

// DBConfig declares one fixed-size record database.
type DBConfig struct {
	Name           string
	RecordSize     int64
	RecordsPerFile uint64
}

// Config is the full environment configuration. Every host in the
// cluster must carry an identical Hosts and DBs section; the database
// count is cross-checked on every heartbeat and a mismatch drops the
// peer link.
type Config struct {
	SelfID uint32
	Hosts  []HostConfig
	DBs    []DBConfig
	Dir    string

	HeartbeatInterval time.Duration
	ElectionTimeout   time.Duration
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = time.Second
	}
	if out.ElectionTimeout <= 0 {
		out.ElectionTimeout = 5 * time.Second
	}
	if out.ReconnectMin <= 0 {
		out.ReconnectMin = 250 * time.Millisecond
	}
	if out.ReconnectMax <= 0 {
		out.ReconnectMax = 10 * time.Second
	}
	return out
}

// Validate rejects configurations the cluster cannot safely run with.
func (c *Config) Validate() error {
	if len(c.Hosts) == 0 {
		return fmt.Errorf("store config: no hosts configured")
	}
	if len(c.DBs) == 0 {
		return fmt.Errorf("store config: no databases configured")
	}
	if c.Dir == "" {
		return fmt.Errorf("store config: data directory not set")
	}

	seen := make(map[uint32]bool, len(c.Hosts))
	self := false
	for _, h := range c.Hosts {
		if seen[h.ID] {
			return fmt.Errorf("store config: duplicate host ID %d", h.ID)
		}
		seen[h.ID] = true
		if h.ID == c.SelfID {
			self = true
		} else if h.Addr == "" {
			return fmt.Errorf("store config: host %d has no address", h.ID)
		}
	}
	if !self {
		return fmt.Errorf("store config: self ID %d not among configured hosts", c.SelfID)
	}

	names := make(map[string]bool, len(c.DBs))
	for _, db := range c.DBs {
		if db.Name == "" {
			return fmt.Errorf("store config: database with empty name")
		}
		if names[db.Name] {
			return fmt.Errorf("store config: duplicate database %q", db.Name)
		}
		names[db.Name] = true
		if db.RecordSize <= 0 {
			return fmt.Errorf("store config: database %q: record size %d", db.Name, db.RecordSize)
		}
		if db.RecordsPerFile == 0 {
			return fmt.Errorf("store config: database %q: zero records per file", db.Name)
		}
	}
	return nil
}

func (c *Config) self() HostConfig {
	for _, h := range c.Hosts {
		if h.ID == c.SelfID {
			return h
		}
	}
	return HostConfig{}
}
