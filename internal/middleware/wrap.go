// ABOUTME: Tool middleware wrapping handlers with the loop guard and audit logging.
// ABOUTME: Every attempt, successful or not, produces one ToolCallLog and one "tool-call" log line.

package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/panorama/internal/memory"
)

// Truncation limits for error messages.
const (
	MaxStoredError = 500
	MaxLoggedError = 100
)

// Call sources
const (
	SourceChat = "chat"
	SourceMCP  = "mcp"
)

// Result is a tool handler's output. Output is the serialized text returned to
// the agent; its length is the audited result size.
type Result struct {
	Output string
}

// Handler is a tool implementation. mem may be nil.
type Handler func(ctx context.Context, args map[string]any, mem *memory.Memory) (*Result, error)

// Options describe how a wrapped tool is audited.
type Options struct {
	Source string // defaults to SourceMCP
	Policy string // "read" or "write", defaults to "read"
}

// Middleware combines a loop guard and a recorder. Either may be nil.
type Middleware struct {
	guard    *LoopGuard
	recorder *Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// New creates middleware over guard and recorder.
func New(guard *LoopGuard, recorder *Recorder, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		guard:    guard,
		recorder: recorder,
		logger:   logger.With("component", "middleware"),
		now:      time.Now,
	}
}

// Wrap returns a handler that checks the loop guard, runs h, and records the
// outcome. Errors from h and from the loop guard are returned unchanged. A panic
// in h is recorded as a failure and then re-raised.
func (m *Middleware) Wrap(name string, h Handler, opts Options) Handler {
	if opts.Source == "" {
		opts.Source = SourceMCP
	}
	if opts.Policy == "" {
		opts.Policy = "read"
	}

	return func(ctx context.Context, args map[string]any, mem *memory.Memory) (res *Result, err error) {
		start := m.now()

		defer func() {
			if p := recover(); p != nil {
				m.record(name, args, mem, opts, start, nil, fmt.Errorf("panic: %v", p))
				panic(p)
			}
			m.record(name, args, mem, opts, start, res, err)
		}()

		if m.guard != nil {
			if err := m.guard.Check(name); err != nil {
				return nil, err
			}
		}

		return h(ctx, args, mem)
	}
}

func (m *Middleware) record(name string, args map[string]any, mem *memory.Memory, opts Options, start time.Time, res *Result, err error) {
	duration := m.now().Sub(start).Milliseconds()

	entry := &ToolCallLog{
		ToolName:   name,
		Args:       args,
		Success:    err == nil,
		DurationMs: duration,
		Source:     opts.Source,
		Policy:     opts.Policy,
		Timestamp:  start.UTC(),
		Metadata:   map[string]any{"memoryKeys": memoryKeys(mem)},
	}
	if entry.Args == nil {
		entry.Args = map[string]any{}
	}

	var logged string
	if err != nil {
		entry.Error = truncate(err.Error(), MaxStoredError)
		logged = truncate(err.Error(), MaxLoggedError)
	} else if res != nil {
		entry.ResultSize = len(res.Output)
	}

	attrs := []any{
		"tool_name", name,
		"success", entry.Success,
		"duration_ms", duration,
		"result_size", entry.ResultSize,
		"source", opts.Source,
	}
	if err != nil {
		attrs = append(attrs, "error", logged)
	}
	m.logger.Info("tool-call", attrs...)

	if m.recorder != nil {
		m.recorder.Record(entry)
	}
}

// memoryKeys lists the populated memory categories.
func memoryKeys(mem *memory.Memory) []string {
	keys := mem.Keys()
	if keys == nil {
		return []string{}
	}
	return keys
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
