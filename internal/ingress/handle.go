package ingress

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is one immutable version of the ingress configuration. Request
// handlers read a snapshot once and use it for the whole request, so a reload
// mid-request cannot change behavior for a request already in flight.
type Snapshot struct {
	Config   *Config
	Table    *Table
	Version  uint64
	LoadedAt time.Time
}

// Handle holds the active snapshot. Reads are lock-free; Replace swaps the
// pointer atomically.
type Handle struct {
	current atomic.Pointer[Snapshot]

	mu      sync.Mutex // serializes writers
	version uint64
}

// NewHandle creates a handle holding cfg as version 1. A nil cfg is replaced
// by Empty().
func NewHandle(cfg *Config) *Handle {
	h := &Handle{}
	h.Replace(cfg)
	return h
}

// Snapshot returns the active configuration. It never returns nil.
func (h *Handle) Snapshot() *Snapshot {
	return h.current.Load()
}

// Replace installs cfg as the new active configuration and returns the
// resulting snapshot.
func (h *Handle) Replace(cfg *Config) *Snapshot {
	if cfg == nil {
		cfg = Empty()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.version++
	snap := &Snapshot{
		Config:   cfg,
		Table:    NewTable(cfg.Routes),
		Version:  h.version,
		LoadedAt: time.Now(),
	}
	h.current.Store(snap)
	return snap
}
