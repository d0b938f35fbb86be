// ABOUTME: HTTP transport: one POST per JSON-RPC message to a remote tool server.
// ABOUTME: Echoes the Mcp-Session-Id issued at initialize and reads JSON or SSE bodies.

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
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/panorama/internal/jsonrpc"
)

// SessionHeader carries the server-issued session id.
const SessionHeader = "Mcp-Session-Id"

// ErrNoMatchingResponse means a response body held no message for the request id.
var ErrNoMatchingResponse = errors.New("no response for request id")

// maxErrorBody bounds how much of a failed response body ends up in an error.
const maxErrorBody = 512

type httpConn struct {
	serverID string
	cfg      HTTPConfig
	client   *http.Client
	codec    *jsonrpc.Codec
	logger   *slog.Logger

	mu        sync.RWMutex
	sessionID string
}

func newHTTPConn(serverID string, cfg HTTPConfig, client *http.Client, codec *jsonrpc.Codec, logger *slog.Logger) *httpConn {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpConn{
		serverID: serverID,
		cfg:      cfg,
		client:   client,
		codec:    codec,
		logger:   logger,
	}
}

func (c *httpConn) Initialize(ctx context.Context) (*mcp.InitializeResult, error) {
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

func (c *httpConn) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req, err := c.codec.BuildRequest(method, params)
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	msg, err := c.decode(resp, jsonrpc.IDKey(req.ID))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ConnectionError{ServerID: c.serverID, Err: err}
	}
	return jsonrpc.ExtractResult(msg)
}

func (c *httpConn) Notify(ctx context.Context, method string, params any) error {
	req, err := c.codec.BuildNotification(method, params)
	if err != nil {
		return err
	}
	resp, err := c.post(ctx, req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// Close is a no-op: every call is an independent POST.
func (c *httpConn) Close() error {
	return nil
}

// post sends msg and returns a 2xx response. Transport failures and other status
// codes become ConnectionErrors; a done context is returned as-is.
func (c *httpConn) post(ctx context.Context, msg *jsonrpc.Request) (*http.Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &ConnectionError{ServerID: c.serverID, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	if sid := c.session(); sid != "" {
		httpReq.Header.Set(SessionHeader, sid)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ConnectionError{ServerID: c.serverID, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, &ConnectionError{
			ServerID: c.serverID,
			Err:      fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
		}
	}

	if sid := resp.Header.Get(SessionHeader); sid != "" {
		c.mu.Lock()
		c.sessionID = sid
		c.mu.Unlock()
	}
	return resp, nil
}

func (c *httpConn) session() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// decode reads the response for key from a JSON or event-stream body.
func (c *httpConn) decode(resp *http.Response, key string) (*jsonrpc.Response, error) {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		return c.decodeEvents(resp.Body, key)
	}

	var msg jsonrpc.Response
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if jsonrpc.IDKey(msg.ID) != key {
		c.logger.Debug("unmatched response", "server_id", c.serverID, "request_id", string(msg.ID))
		return nil, ErrNoMatchingResponse
	}
	return &msg, nil
}

// decodeEvents scans SSE data lines until one carries the response for key.
// Interleaved server notifications are skipped.
func (c *httpConn) decodeEvents(body io.Reader, key string) (*jsonrpc.Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}

		var msg inbound
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			c.logger.Debug("ignoring malformed event", "server_id", c.serverID, "error", err)
			continue
		}
		if msg.Method != "" {
			continue
		}
		if jsonrpc.IDKey(msg.ID) != key {
			c.logger.Debug("unmatched response", "server_id", c.serverID, "request_id", string(msg.ID))
			continue
		}
		return &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: msg.ID, Result: msg.Result, Error: msg.Error}, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading event stream: %w", err)
	}
	return nil, ErrNoMatchingResponse
}
