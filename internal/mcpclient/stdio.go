// ABOUTME: Subprocess transport: newline-delimited JSON-RPC over a child's stdin/stdout.
// ABOUTME: A reader goroutine dispatches responses by id; process exit fails every pending call.

package mcpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/panorama/internal/jsonrpc"
)

// killGrace is how long Close waits after SIGTERM before sending SIGKILL.
const killGrace = time.Second

// Process is a started tool server with its pipes attached.
type Process struct {
	Stdin  io.WriteCloser
	Stdout io.Reader

	// Wait blocks until the process has exited. It is called once, after Stdout hits EOF.
	Wait func() error
	// Terminate asks the process to stop.
	Terminate func() error
	// Kill forces the process to stop.
	Kill func() error
}

// Starter launches the process for a stdio server. stderr receives the child's stderr.
type Starter func(ctx context.Context, cfg StdioConfig, stderr io.Writer) (*Process, error)

// ExecStarter spawns cfg.Command with os/exec. The configured env is layered over
// the current process environment.
func ExecStarter(_ context.Context, cfg StdioConfig, stderr io.Writer) (*Process, error) {
	// exec.Command, not CommandContext: the process outlives the call that created it.
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = mergeEnv(os.Environ(), cfg.Env)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cfg.Command, err)
	}

	return &Process{
		Stdin:     stdin,
		Stdout:    stdout,
		Wait:      cmd.Wait,
		Terminate: func() error { return cmd.Process.Signal(syscall.SIGTERM) },
		Kill:      cmd.Process.Kill,
	}, nil
}

// mergeEnv appends overrides after base; exec keeps the last value for a duplicate key.
func mergeEnv(base []string, overrides map[string]string) []string {
	env := slices.Clone(base)
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

// inbound is any message a server may write: a response, a request, or a notification.
type inbound struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *jsonrpc.Error  `json:"error,omitempty"`
}

// stdioConn is a Connection over a child process.
type stdioConn struct {
	serverID string
	proc     *Process
	codec    *jsonrpc.Codec
	pending  *pendingTable
	logger   *slog.Logger
	onExit   func()

	writeMu sync.Mutex
	closing atomic.Bool
	done    chan struct{}
}

// newStdioConn wires a started process and launches its reader goroutine.
// onExit runs once the process has exited, whatever the cause.
func newStdioConn(serverID string, proc *Process, codec *jsonrpc.Codec, logger *slog.Logger, onExit func()) *stdioConn {
	c := &stdioConn{
		serverID: serverID,
		proc:     proc,
		codec:    codec,
		pending:  newPendingTable(),
		logger:   logger,
		onExit:   onExit,
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *stdioConn) Initialize(ctx context.Context) (*mcp.InitializeResult, error) {
	raw, err := c.Request(ctx, "initialize", initializeParams())
	if err != nil {
		return nil, err
	}
	var result mcp.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ConnectionError{ServerID: c.serverID, Err: fmt.Errorf("decoding initialize result: %w", err)}
	}
	if err := c.Notify(ctx, "notifications/initialized", nil); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *stdioConn) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req, err := c.codec.BuildRequest(method, params)
	if err != nil {
		return nil, err
	}
	key := jsonrpc.IDKey(req.ID)

	ch, err := c.pending.add(key)
	if err != nil {
		return nil, c.wrap(err)
	}

	if err := c.write(req); err != nil {
		c.pending.remove(key)
		return nil, &ConnectionError{ServerID: c.serverID, Err: err}
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, c.wrap(c.pending.err())
		}
		return jsonrpc.ExtractResult(resp)
	case <-ctx.Done():
		c.pending.remove(key)
		return nil, ctx.Err()
	}
}

func (c *stdioConn) Notify(_ context.Context, method string, params any) error {
	req, err := c.codec.BuildNotification(method, params)
	if err != nil {
		return err
	}
	if err := c.write(req); err != nil {
		return &ConnectionError{ServerID: c.serverID, Err: err}
	}
	return nil
}

// Close rejects pending requests and stops the process, escalating to SIGKILL.
func (c *stdioConn) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	c.pending.failAll(&ConnectionError{ServerID: c.serverID, Err: ErrConnectionClosed})

	_ = c.proc.Stdin.Close()
	if c.proc.Terminate != nil {
		if err := c.proc.Terminate(); err != nil {
			c.logger.Debug("terminate failed", "server_id", c.serverID, "error", err)
		}
	}

	select {
	case <-c.done:
	case <-time.After(killGrace):
		c.logger.Warn("tool server did not exit, killing", "server_id", c.serverID)
		if c.proc.Kill != nil {
			if err := c.proc.Kill(); err != nil {
				return fmt.Errorf("killing process: %w", err)
			}
		}
	}
	return nil
}

// wrap turns a table failure into a ConnectionError unless it already is one.
func (c *stdioConn) wrap(err error) error {
	if err == nil {
		err = ErrConnectionClosed
	}
	var ce *ConnectionError
	if errors.As(err, &ce) || errors.Is(err, ErrDuplicateRequestID) {
		return err
	}
	return &ConnectionError{ServerID: c.serverID, Err: err}
}

func (c *stdioConn) write(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.proc.Stdin.Write(data); err != nil {
		return fmt.Errorf("writing to stdin: %w", err)
	}
	return nil
}

func (c *stdioConn) readLoop() {
	defer close(c.done)

	reader := bufio.NewReader(c.proc.Stdout)
	for {
		line, err := reader.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			c.handleLine(trimmed)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debug("stdout read failed", "server_id", c.serverID, "error", err)
			}
			break
		}
	}

	cause := ErrConnectionClosed
	if c.proc.Wait != nil {
		if werr := c.proc.Wait(); werr != nil && !c.closing.Load() {
			cause = fmt.Errorf("process exited: %w", werr)
		}
	}
	if !c.closing.Load() {
		c.logger.Warn("tool server exited", "server_id", c.serverID, "error", cause)
	}
	c.pending.failAll(&ConnectionError{ServerID: c.serverID, Err: cause})
	if c.onExit != nil {
		c.onExit()
	}
}

func (c *stdioConn) handleLine(line []byte) {
	var msg inbound
	if err := json.Unmarshal(line, &msg); err != nil {
		c.logger.Debug("ignoring non-JSON output", "server_id", c.serverID, "line", truncate(string(line), 200))
		return
	}

	if msg.Method == "" {
		resp := &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: msg.ID, Result: msg.Result, Error: msg.Error}
		if !c.pending.resolve(jsonrpc.IDKey(msg.ID), resp) {
			c.logger.Debug("unmatched response", "server_id", c.serverID, "request_id", string(msg.ID))
		}
		return
	}

	if len(msg.ID) == 0 {
		c.logger.Debug("server notification", "server_id", c.serverID, "method", msg.Method)
		return
	}

	// Server-initiated request: answer ping, refuse anything else.
	var resp *jsonrpc.Response
	if msg.Method == "ping" {
		resp = &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: msg.ID, Result: json.RawMessage("{}")}
	} else {
		resp = jsonrpc.NewErrorResponse(msg.ID, jsonrpc.MethodNotFound, "Method not found: "+msg.Method)
	}
	if err := c.write(resp); err != nil {
		c.logger.Debug("replying to server request failed", "server_id", c.serverID, "error", err)
	}
}

// stderrLogger forwards a child's stderr to the logger one line at a time.
type stderrLogger struct {
	mu       sync.Mutex
	buf      []byte
	serverID string
	logger   *slog.Logger
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(w.buf[:i]); len(line) > 0 {
			w.logger.Debug("tool server stderr", "server_id", w.serverID, "line", string(line))
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// truncate shortens s to at most n bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
