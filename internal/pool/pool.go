// ABOUTME: Keyed pool of live tool server connections with periodic idle eviction.
// ABOUTME: Holds at most one connection per server id; teardown errors are logged, never returned.

package pool

import (
	"log/slog"
	"sync"
	"time"
)

// Default sweep policy: every 5 minutes, evict connections idle for more than 5 minutes.
const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultIdleTimeout   = 5 * time.Minute
)

// Closer is the teardown contract every pooled connection satisfies.
type Closer interface {
	Close() error
}

// entry stores a pooled connection and the last time it was handed out.
type entry[C Closer] struct {
	conn     C
	lastUsed time.Time
}

// Config contains configuration options for a Pool.
type Config struct {
	SweepInterval time.Duration
	IdleTimeout   time.Duration
	Logger        *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Pool is a thread-safe map of server id to connection. A background goroutine
// evicts idle entries; the request path never evicts.
type Pool[C Closer] struct {
	mu      sync.Mutex
	entries map[string]*entry[C]

	idleTimeout time.Duration
	interval    time.Duration
	now         func() time.Time
	logger      *slog.Logger

	done   chan struct{}
	closed bool
}

// New creates a pool and starts its sweep goroutine. Call Close to stop it.
func New[C Closer](cfg Config) *Pool[C] {
	p := newPool[C](cfg)
	go p.sweepLoop()
	return p
}

func newPool[C Closer](cfg Config) *Pool[C] {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool[C]{
		entries:     make(map[string]*entry[C]),
		idleTimeout: idle,
		interval:    interval,
		now:         now,
		logger:      logger.With("component", "pool"),
		done:        make(chan struct{}),
	}
}

// Get returns the pooled connection for serverID and marks it as used.
func (p *Pool[C]) Get(serverID string) (C, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[serverID]
	if !ok {
		var zero C
		return zero, false
	}
	e.lastUsed = p.now()
	return e.conn, true
}

// Set stores conn for serverID, replacing any previous entry without closing it.
func (p *Pool[C]) Set(serverID string, conn C) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries[serverID] = &entry[C]{conn: conn, lastUsed: p.now()}
}

// Remove deletes the entry for serverID, closing the connection when closeConn is set.
func (p *Pool[C]) Remove(serverID string, closeConn bool) {
	p.mu.Lock()
	e, ok := p.entries[serverID]
	delete(p.entries, serverID)
	p.mu.Unlock()

	if ok && closeConn {
		p.closeQuietly(serverID, e.conn)
	}
}

// Discard removes serverID only while it still maps to conn. Connections that die on
// their own use this so they never evict a replacement created in the meantime.
func (p *Pool[C]) Discard(serverID string, conn C) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[serverID]
	if !ok || any(e.conn) != any(conn) {
		return false
	}
	delete(p.entries, serverID)
	return true
}

// Clear removes every entry, closing connections when closeConns is set.
func (p *Pool[C]) Clear(closeConns bool) {
	p.mu.Lock()
	old := p.entries
	p.entries = make(map[string]*entry[C])
	p.mu.Unlock()

	if !closeConns {
		return
	}
	for serverID, e := range old {
		p.closeQuietly(serverID, e.conn)
	}
}

// Len returns the number of pooled connections.
func (p *Pool[C]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Sweep runs one eviction pass and returns the number of evicted connections.
func (p *Pool[C]) Sweep() int {
	now := p.now()

	p.mu.Lock()
	evicted := make(map[string]C)
	for serverID, e := range p.entries {
		if now.Sub(e.lastUsed) > p.idleTimeout {
			evicted[serverID] = e.conn
			delete(p.entries, serverID)
		}
	}
	p.mu.Unlock()

	for serverID, conn := range evicted {
		p.logger.Info("closing idle connection", "server_id", serverID)
		p.closeQuietly(serverID, conn)
	}
	return len(evicted)
}

// sweepLoop runs in a background goroutine until Close is called.
func (p *Pool[C]) sweepLoop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Sweep()
		case <-p.done:
			return
		}
	}
}

// closeQuietly tears down a connection, logging instead of returning failures.
func (p *Pool[C]) closeQuietly(serverID string, conn C) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic closing connection", "server_id", serverID, "panic", r)
		}
	}()
	if err := conn.Close(); err != nil {
		p.logger.Warn("error closing connection", "server_id", serverID, "error", err)
	}
}

// Close stops the sweep goroutine and closes all pooled connections.
// It is safe to call multiple times.
func (p *Pool[C]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.Clear(true)
}
