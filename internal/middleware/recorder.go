// ABOUTME: Best-effort asynchronous audit recorder for tool call logs.
// ABOUTME: A bounded queue drained by one worker; a full queue drops entries instead of blocking.

package middleware

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/panorama/internal/store"
)

// ToolCallLog is the audit record written for every wrapped call.
type ToolCallLog = store.ToolCallLog

// DefaultQueueSize bounds the number of audit entries waiting to be written.
const DefaultQueueSize = 256

// insertTimeout bounds a single store write.
const insertTimeout = 5 * time.Second

// AuditStore accepts tool call log entries.
type AuditStore interface {
	InsertToolCall(ctx context.Context, log *store.ToolCallLog) error
}

// Recorder writes tool call logs in the background. Record never blocks and
// store failures never reach the caller; both are reported through the logger.
type Recorder struct {
	store   AuditStore
	queue   chan *ToolCallLog
	logger  *slog.Logger
	dropped atomic.Int64
	failed  atomic.Int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewRecorder starts a recorder writing to s. queueSize <= 0 uses DefaultQueueSize.
func NewRecorder(s AuditStore, queueSize int, logger *slog.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  s,
		queue:  make(chan *ToolCallLog, queueSize),
		logger: logger.With("component", "audit"),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record enqueues l. It reports false when the entry was dropped because the
// queue was full or the recorder is closed.
func (r *Recorder) Record(l *ToolCallLog) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.dropped.Add(1)
		r.logger.Warn("audit recorder closed, dropping tool call log", "tool_name", l.ToolName)
		return false
	}

	select {
	case r.queue <- l:
		return true
	default:
		r.dropped.Add(1)
		r.logger.Warn("audit queue full, dropping tool call log", "tool_name", l.ToolName)
		return false
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for l := range r.queue {
		r.write(l)
	}
}

func (r *Recorder) write(l *ToolCallLog) {
	defer func() {
		if p := recover(); p != nil {
			r.failed.Add(1)
			r.logger.Error("panic writing tool call log", "tool_name", l.ToolName, "panic", p)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	if err := r.store.InsertToolCall(ctx, l); err != nil {
		r.failed.Add(1)
		r.logger.Error("failed to log tool call", "tool_name", l.ToolName, "error", err)
	}
}

// Dropped returns how many entries were discarded without being written.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Failed returns how many writes the store rejected.
func (r *Recorder) Failed() int64 {
	return r.failed.Load()
}

// Close stops accepting entries, drains the queue and waits for the worker.
// It is safe to call multiple times.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
