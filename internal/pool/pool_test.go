// ABOUTME: Tests for the connection pool.
// ABOUTME: Validates get/set identity, removal, idle sweep, teardown error handling and concurrency.

package pool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	name   string
	closed atomic.Int32
	err    error
}

func (c *fakeConn) Close() error {
	c.closed.Add(1)
	return c.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// setupPool returns a pool without a sweep goroutine, driven by a fake clock.
func setupPool(t *testing.T) (*Pool[*fakeConn], *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	p := newPool[*fakeConn](Config{Now: clock.Now})
	return p, clock
}

func TestPool_GetReturnsExactConnection(t *testing.T) {
	p, _ := setupPool(t)
	conn := &fakeConn{name: "a"}

	p.Set("server-1", conn)

	got, ok := p.Get("server-1")
	require.True(t, ok)
	assert.Same(t, conn, got)
}

func TestPool_GetMissing(t *testing.T) {
	p, _ := setupPool(t)

	got, ok := p.Get("nope")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestPool_SetReplaces(t *testing.T) {
	p, _ := setupPool(t)
	first := &fakeConn{name: "first"}
	second := &fakeConn{name: "second"}

	p.Set("server-1", first)
	p.Set("server-1", second)

	got, ok := p.Get("server-1")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, p.Len())
}

func TestPool_Remove(t *testing.T) {
	p, _ := setupPool(t)
	conn := &fakeConn{}
	p.Set("server-1", conn)

	p.Remove("server-1", true)

	_, ok := p.Get("server-1")
	assert.False(t, ok)
	assert.Equal(t, int32(1), conn.closed.Load())
}

func TestPool_RemoveWithoutClose(t *testing.T) {
	p, _ := setupPool(t)
	conn := &fakeConn{}
	p.Set("server-1", conn)

	p.Remove("server-1", false)

	assert.Equal(t, 0, p.Len())
	assert.Equal(t, int32(0), conn.closed.Load())
}

func TestPool_RemoveSwallowsCloseError(t *testing.T) {
	p, _ := setupPool(t)
	conn := &fakeConn{err: errors.New("teardown failed")}
	p.Set("server-1", conn)

	assert.NotPanics(t, func() { p.Remove("server-1", true) })
	assert.Equal(t, 0, p.Len())
}

func TestPool_Discard_OnlyMatchingConnection(t *testing.T) {
	p, _ := setupPool(t)
	old := &fakeConn{name: "old"}
	replacement := &fakeConn{name: "new"}

	p.Set("server-1", replacement)

	assert.False(t, p.Discard("server-1", old))
	got, ok := p.Get("server-1")
	require.True(t, ok)
	assert.Same(t, replacement, got)

	assert.True(t, p.Discard("server-1", replacement))
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, int32(0), replacement.closed.Load())
}

func TestPool_Clear(t *testing.T) {
	p, _ := setupPool(t)
	conns := []*fakeConn{{}, {err: errors.New("x")}, {}}
	for i, c := range conns {
		p.Set(fmt.Sprintf("server-%d", i), c)
	}

	p.Clear(true)

	assert.Equal(t, 0, p.Len())
	for _, c := range conns {
		assert.Equal(t, int32(1), c.closed.Load())
	}
}

func TestPool_Sweep_EvictsIdle(t *testing.T) {
	p, clock := setupPool(t)
	idle := &fakeConn{name: "idle"}
	busy := &fakeConn{name: "busy"}
	p.Set("idle", idle)
	p.Set("busy", busy)

	clock.Advance(4 * time.Minute)
	_, _ = p.Get("busy")
	clock.Advance(2 * time.Minute)

	evicted := p.Sweep()

	assert.Equal(t, 1, evicted)
	_, ok := p.Get("idle")
	assert.False(t, ok)
	assert.Equal(t, int32(1), idle.closed.Load())

	got, ok := p.Get("busy")
	require.True(t, ok)
	assert.Same(t, busy, got)
	assert.Equal(t, int32(0), busy.closed.Load())
}

func TestPool_Sweep_KeepsWithinThreshold(t *testing.T) {
	p, clock := setupPool(t)
	conn := &fakeConn{}
	p.Set("server-1", conn)

	clock.Advance(DefaultIdleTimeout)

	assert.Equal(t, 0, p.Sweep())
	assert.Equal(t, 1, p.Len())
}

func TestPool_BackgroundSweep(t *testing.T) {
	p := New[*fakeConn](Config{
		SweepInterval: 10 * time.Millisecond,
		IdleTimeout:   20 * time.Millisecond,
	})
	defer p.Close()

	conn := &fakeConn{}
	p.Set("server-1", conn)

	assert.Eventually(t, func() bool {
		return p.Len() == 0 && conn.closed.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPool_Close_Idempotent(t *testing.T) {
	p := New[*fakeConn](Config{})
	conn := &fakeConn{}
	p.Set("server-1", conn)

	p.Close()
	p.Close()

	assert.Equal(t, 0, p.Len())
	assert.Equal(t, int32(1), conn.closed.Load())
}

func TestPool_ConcurrentAccess(t *testing.T) {
	p, _ := setupPool(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("server-%d", n%5)
			p.Set(id, &fakeConn{})
			_, _ = p.Get(id)
			if n%3 == 0 {
				p.Remove(id, true)
			}
			p.Sweep()
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, p.Len(), 5)
}
