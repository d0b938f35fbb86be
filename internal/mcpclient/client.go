// ABOUTME: Client façade for external tool servers: initialize, list tools, call a tool.
// ABOUTME: Connections are created lazily, pooled per server id, and dropped on transport failure.

package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/singleflight"

	"github.com/2389/panorama/internal/jsonrpc"
	"github.com/2389/panorama/internal/pool"
)

// Default call bounds.
const (
	DefaultConnectTimeout   = 10 * time.Second
	DefaultListToolsTimeout = 10 * time.Second
	DefaultCallToolTimeout  = 30 * time.Second
)

// maxToolPages bounds tools/list pagination.
const maxToolPages = 100

// Timeouts holds per-operation bounds. Zero fields use the defaults.
type Timeouts struct {
	Connect   time.Duration
	ListTools time.Duration
	CallTool  time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Connect <= 0 {
		t.Connect = DefaultConnectTimeout
	}
	if t.ListTools <= 0 {
		t.ListTools = DefaultListToolsTimeout
	}
	if t.CallTool <= 0 {
		t.CallTool = DefaultCallToolTimeout
	}
	return t
}

// Options configures a Client.
type Options struct {
	Pool       pool.Config
	Timeouts   Timeouts
	HTTPClient *http.Client
	Starter    Starter
	Logger     *slog.Logger
}

// ServerInfo is the handshake result plus the server's tools.
type ServerInfo struct {
	ProtocolVersion string
	ServerInfo      mcp.Implementation
	Capabilities    mcp.ServerCapabilities
	Instructions    string
	Tools           []mcp.Tool
}

// session is what the pool holds: a connection plus its handshake result.
type session struct {
	conn Connection
	init *mcp.InitializeResult
}

func (s *session) Close() error {
	return s.conn.Close()
}

// Client calls tools on external servers. It is safe for concurrent use.
type Client struct {
	pool     *pool.Pool[*session]
	codec    *jsonrpc.Codec
	group    singleflight.Group
	timeouts Timeouts
	http     *http.Client
	starter  Starter
	logger   *slog.Logger
}

// NewClient creates a client with its own connection pool. Call Close to stop it.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "mcpclient")
	}
	poolCfg := opts.Pool
	if poolCfg.Logger == nil {
		poolCfg.Logger = logger
	}
	starter := opts.Starter
	if starter == nil {
		starter = ExecStarter
	}
	return &Client{
		pool:     pool.New[*session](poolCfg),
		codec:    jsonrpc.NewCodec(),
		timeouts: opts.Timeouts.withDefaults(),
		http:     opts.HTTPClient,
		starter:  starter,
		logger:   logger,
	}
}

// Initialize connects to srv (reusing a pooled connection when one exists) and
// returns its handshake result and tools. timeout bounds the whole operation; zero
// means the connect default.
func (c *Client) Initialize(ctx context.Context, srv *ServerIdentity, timeout time.Duration) (*ServerInfo, error) {
	if timeout <= 0 {
		timeout = c.timeouts.Connect
	}
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sess, err := c.session(ctx, srv)
	if err != nil {
		return nil, c.classify(parent, srv, "initialize", timeout, nil, err)
	}

	tools, err := c.listTools(ctx, sess)
	if err != nil {
		return nil, c.classify(parent, srv, "initialize", timeout, sess, err)
	}

	info := &ServerInfo{Tools: tools}
	if sess.init != nil {
		info.ProtocolVersion = sess.init.ProtocolVersion
		info.ServerInfo = sess.init.ServerInfo
		info.Capabilities = sess.init.Capabilities
		info.Instructions = sess.init.Instructions
	}
	return info, nil
}

// ListTools returns every tool srv offers, following pagination cursors.
func (c *Client) ListTools(ctx context.Context, srv *ServerIdentity, timeout time.Duration) (*mcp.ListToolsResult, error) {
	if timeout <= 0 {
		timeout = c.timeouts.ListTools
	}
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sess, err := c.session(ctx, srv)
	if err != nil {
		return nil, c.classify(parent, srv, "listTools", timeout, nil, err)
	}
	tools, err := c.listTools(ctx, sess)
	if err != nil {
		return nil, c.classify(parent, srv, "listTools", timeout, sess, err)
	}
	return &mcp.ListToolsResult{Tools: tools}, nil
}

// CallTool invokes name on srv. A result flagged isError is returned as a result,
// not an error.
func (c *Client) CallTool(ctx context.Context, srv *ServerIdentity, name string, args map[string]any, timeout time.Duration) (*mcp.CallToolResult, error) {
	if timeout <= 0 {
		timeout = c.timeouts.CallTool
	}
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sess, err := c.session(ctx, srv)
	if err != nil {
		return nil, c.classify(parent, srv, "callTool", timeout, nil, err)
	}

	if args == nil {
		args = map[string]any{}
	}
	start := time.Now()
	raw, err := sess.conn.Request(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, c.classify(parent, srv, "callTool", timeout, sess, err)
	}

	result, err := mcp.ParseCallToolResult(&raw)
	if err != nil {
		return nil, fmt.Errorf("parsing tools/call result: %w", err)
	}
	c.logger.Debug("tool called", "server_id", srv.ID, "tool_name", name,
		"duration", time.Since(start), "is_error", result.IsError)
	return result, nil
}

// CloseConnection drops and closes the pooled connection for srv, if any.
func (c *Client) CloseConnection(srv *ServerIdentity) {
	if srv == nil {
		return
	}
	c.pool.Remove(srv.ID, true)
}

// Connections returns the number of pooled connections.
func (c *Client) Connections() int {
	return c.pool.Len()
}

// Close stops the idle sweep and closes every pooled connection.
func (c *Client) Close() {
	c.pool.Close()
}

// session returns the pooled session for srv, creating it when absent. Concurrent
// first calls for the same id share one handshake. The handshake runs under the
// connect bound rather than ctx, so one waiter giving up does not fail the others.
func (c *Client) session(ctx context.Context, srv *ServerIdentity) (*session, error) {
	if err := srv.Validate(); err != nil {
		return nil, err
	}
	if sess, ok := c.pool.Get(srv.ID); ok {
		return sess, nil
	}

	ch := c.group.DoChan(srv.ID, func() (any, error) {
		if sess, ok := c.pool.Get(srv.ID); ok {
			return sess, nil
		}
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeouts.Connect)
		defer cancel()
		sess, err := c.dial(dctx, srv)
		if err != nil {
			if dctx.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
				return nil, &TimeoutError{ServerID: srv.ID, Op: "connect", Bound: c.timeouts.Connect}
			}
			return nil, err
		}
		c.pool.Set(srv.ID, sess)
		return sess, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dial opens a transport and performs the handshake.
func (c *Client) dial(ctx context.Context, srv *ServerIdentity) (*session, error) {
	sess := &session{}
	logger := c.logger.With("server_id", srv.ID)

	switch srv.Transport {
	case TransportStdio:
		proc, err := c.starter(ctx, srv.Stdio, &stderrLogger{serverID: srv.ID, logger: logger})
		if err != nil {
			return nil, &ConnectionError{ServerID: srv.ID, Err: err}
		}
		sess.conn = newStdioConn(srv.ID, proc, c.codec, logger, func() {
			c.pool.Discard(srv.ID, sess)
		})
	case TransportHTTP:
		sess.conn = newHTTPConn(srv.ID, srv.HTTP, c.http, c.codec, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, srv.Transport)
	}

	init, err := sess.conn.Initialize(ctx)
	if err != nil {
		if cerr := sess.conn.Close(); cerr != nil {
			logger.Debug("closing failed connection", "error", cerr)
		}
		return nil, err
	}
	sess.init = init

	logger.Info("connected to tool server",
		"transport", srv.Transport,
		"server_name", init.ServerInfo.Name,
		"protocol_version", init.ProtocolVersion)
	return sess, nil
}

func (c *Client) listTools(ctx context.Context, sess *session) ([]mcp.Tool, error) {
	var tools []mcp.Tool
	var cursor mcp.Cursor

	for range maxToolPages {
		var params any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}
		raw, err := sess.conn.Request(ctx, "tools/list", params)
		if err != nil {
			return nil, err
		}
		var page mcp.ListToolsResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("decoding tools/list result: %w", err)
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" {
			return tools, nil
		}
		cursor = page.NextCursor
	}
	return tools, nil
}

// classify maps err into the façade taxonomy. Timeouts and connection failures drop
// sess from the pool; protocol errors leave it in place. When parent ended first the
// caller gave up, so the caller's error is returned and the connection is kept.
func (c *Client) classify(parent context.Context, srv *ServerIdentity, op string, bound time.Duration, sess *session, err error) error {
	var rpcErr *jsonrpc.Error
	var te *TimeoutError
	switch {
	case errors.As(err, &rpcErr):
		return err
	case errors.As(err, &te):
		c.logger.Warn("tool server timed out", "server_id", srv.ID, "op", te.Op, "bound", te.Bound)
		c.discard(srv, sess)
		return err
	case IsConnectionError(err):
		c.logger.Warn("tool server connection failed", "server_id", srv.ID, "op", op, "error", err)
		c.discard(srv, sess)
		return err
	case parent.Err() != nil:
		c.logger.Debug("caller gave up", "server_id", srv.ID, "op", op, "error", parent.Err())
		return fmt.Errorf("%s on server %s: %w", op, srv.ID, context.Cause(parent))
	case errors.Is(err, context.DeadlineExceeded):
		c.logger.Warn("tool server timed out", "server_id", srv.ID, "op", op, "bound", bound)
		c.discard(srv, sess)
		return &TimeoutError{ServerID: srv.ID, Op: op, Bound: bound}
	}
	return err
}

// discard drops sess from the pool and closes it, unless another caller has
// already replaced it.
func (c *Client) discard(srv *ServerIdentity, sess *session) {
	if sess == nil {
		return
	}
	if c.pool.Discard(srv.ID, sess) {
		if err := sess.Close(); err != nil {
			c.logger.Debug("closing dropped connection", "server_id", srv.ID, "error", err)
		}
	}
}
