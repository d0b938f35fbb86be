// ABOUTME: Per-tool sliding-window loop guard rejecting runaway repeated tool calls.
// ABOUTME: Windows live only in memory and are pruned by a background goroutine.

package middleware

import (
	"fmt"
	"sync"
	"time"
)

// Loop guard defaults
const (
	DefaultWindow        = 2000 * time.Millisecond
	DefaultThreshold     = 10
	DefaultPruneInterval = 60 * time.Second
)

// RateLimitError is returned when a tool has been called Threshold times within
// Window. The handler is never invoked.
type RateLimitError struct {
	Tool      string
	Count     int
	Window    time.Duration
	Threshold int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: tool %q called %d times in %s (max %d calls per %s)",
		e.Tool, e.Count, e.Window, e.Threshold, e.Window)
}

// LoopGuardConfig configures a LoopGuard. Zero values take the defaults.
type LoopGuardConfig struct {
	Window        time.Duration
	Threshold     int
	PruneInterval time.Duration
	Now           func() time.Time
}

// LoopGuard tracks recent call timestamps per tool name. It is safe for
// concurrent use; each Check is a single atomic read-modify-write.
type LoopGuard struct {
	mu        sync.Mutex
	calls     map[string][]time.Time
	window    time.Duration
	threshold int
	now       func() time.Time
	done      chan struct{}
	closed    bool
}

// NewLoopGuard creates a loop guard and starts its pruning goroutine.
func NewLoopGuard(cfg LoopGuardConfig) *LoopGuard {
	g := newLoopGuard(cfg)
	interval := cfg.PruneInterval
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	go g.cleanup(interval)
	return g
}

// newLoopGuard builds a guard without the pruning goroutine.
func newLoopGuard(cfg LoopGuardConfig) *LoopGuard {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LoopGuard{
		calls:     make(map[string][]time.Time),
		window:    cfg.Window,
		threshold: cfg.Threshold,
		now:       cfg.Now,
		done:      make(chan struct{}),
	}
}

// Check counts calls to tool within the trailing window. At or above the
// threshold it returns a *RateLimitError and records nothing; otherwise it
// records this call and returns nil.
func (g *LoopGuard) Check(tool string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	recent := g.recentLocked(tool, now)

	if len(recent) >= g.threshold {
		g.calls[tool] = recent
		return &RateLimitError{
			Tool:      tool,
			Count:     len(recent),
			Window:    g.window,
			Threshold: g.threshold,
		}
	}

	g.calls[tool] = append(recent, now)
	return nil
}

// recentLocked returns the timestamps of tool still inside the window.
// Must be called with mu held.
func (g *LoopGuard) recentLocked(tool string, now time.Time) []time.Time {
	stamps := g.calls[tool]
	kept := stamps[:0]
	for _, ts := range stamps {
		if now.Sub(ts) < g.window {
			kept = append(kept, ts)
		}
	}
	return kept
}

// Count returns how many calls to tool are inside the window right now.
func (g *LoopGuard) Count(tool string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	n := 0
	for _, ts := range g.calls[tool] {
		if now.Sub(ts) < g.window {
			n++
		}
	}
	return n
}

// Prune drops timestamps older than the window and forgets tools with none
// left. It returns the number of tools still tracked.
func (g *LoopGuard) Prune() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for tool := range g.calls {
		recent := g.recentLocked(tool, now)
		if len(recent) == 0 {
			delete(g.calls, tool)
			continue
		}
		g.calls[tool] = recent
	}
	return len(g.calls)
}

// cleanup runs in a background goroutine, periodically pruning stale windows.
func (g *LoopGuard) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.Prune()
		case <-g.done:
			return
		}
	}
}

// Close stops the background pruning goroutine. It is safe to call multiple times.
func (g *LoopGuard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closed {
		close(g.done)
		g.closed = true
	}
}
