// ABOUTME: Tests for the stdio transport using in-process pipe servers and a helper subprocess.
// ABOUTME: Covers correlation of out-of-order responses, process exit, server pings and timeouts.

package mcpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/panorama/internal/jsonrpc"
)

const helperEnv = "PANORAMA_HELPER_SERVER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		runHelperServer(os.Stdin, os.Stdout)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// runHelperServer is the tool server run by the re-executed test binary.
func runHelperServer(in io.Reader, out io.Writer) {
	fmt.Fprintln(os.Stderr, "helper server ready")
	toolName := os.Getenv("HELPER_TOOL_NAME")
	enc := json.NewEncoder(out)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		var req jsonrpc.Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil || req.IsNotification() {
			continue
		}
		var result any
		switch req.Method {
		case "initialize":
			result = map[string]any{
				"protocolVersion": ProtocolVersion,
				"capabilities":    map[string]any{},
				"serverInfo":      map[string]any{"name": "helper", "version": "0.0.1"},
			}
		case "tools/list":
			result = map[string]any{"tools": []map[string]any{
				{"name": toolName, "inputSchema": map[string]any{"type": "object"}},
			}}
		default:
			_ = enc.Encode(jsonrpc.NewErrorResponse(req.ID, jsonrpc.MethodNotFound, "nope"))
			continue
		}
		resp, _ := jsonrpc.NewResultResponse(req.ID, result)
		_ = enc.Encode(resp)
	}
}

// pipeServer is the far end of an in-process stdio connection.
type pipeServer struct {
	reader *bufio.Reader
	in     *io.PipeReader
	out    *io.PipeWriter
	mu     sync.Mutex
}

func (s *pipeServer) read() (*inbound, error) {
	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	var msg inbound
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *pipeServer) send(v any) {
	data, _ := json.Marshal(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.out.Write(append(data, '\n'))
}

func (s *pipeServer) reply(id json.RawMessage, result any) {
	resp, _ := jsonrpc.NewResultResponse(id, result)
	s.send(resp)
}

// handshake answers initialize and swallows the initialized notification.
func (s *pipeServer) handshake() error {
	msg, err := s.read()
	if err != nil {
		return err
	}
	s.reply(msg.ID, map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"serverInfo":      map[string]any{"name": "pipe", "version": "0.1.0"},
	})
	if _, err := s.read(); err != nil {
		return err
	}
	return nil
}

// pipeStarter runs serve as the server for every started process.
func pipeStarter(starts *atomic.Int32, serve func(s *pipeServer)) Starter {
	return func(_ context.Context, _ StdioConfig, _ io.Writer) (*Process, error) {
		starts.Add(1)
		inR, inW := io.Pipe()
		outR, outW := io.Pipe()
		exited := make(chan struct{})

		s := &pipeServer{reader: bufio.NewReader(inR), in: inR, out: outW}
		go func() {
			defer close(exited)
			defer outW.Close()
			serve(s)
		}()

		stop := func() error { return inR.Close() }
		return &Process{
			Stdin:     inW,
			Stdout:    outR,
			Wait:      func() error { <-exited; return nil },
			Terminate: stop,
			Kill:      stop,
		}, nil
	}
}

// mcpGoStarter serves each started process with a fresh mcp-go server.
func mcpGoStarter(newServer func() *server.MCPServer) Starter {
	return func(_ context.Context, _ StdioConfig, _ io.Writer) (*Process, error) {
		inR, inW := io.Pipe()
		outR, outW := io.Pipe()
		ctx, cancel := context.WithCancel(context.Background())
		exited := make(chan struct{})

		stdio := server.NewStdioServer(newServer())
		stdio.SetErrorLogger(log.New(io.Discard, "", 0))
		go func() {
			defer close(exited)
			defer outW.Close()
			_ = stdio.Listen(ctx, inR, outW)
		}()

		stop := func() error {
			cancel()
			return inR.Close()
		}
		return &Process{
			Stdin:     inW,
			Stdout:    outR,
			Wait:      func() error { <-exited; return nil },
			Terminate: stop,
			Kill:      stop,
		}, nil
	}
}

func stdioServer() *ServerIdentity {
	return &ServerIdentity{ID: "local", Name: "local", Transport: TransportStdio, Enabled: true, Stdio: StdioConfig{Command: "fake"}}
}

func setupStdioClient(t *testing.T, starter Starter) *Client {
	t.Helper()
	c := NewClient(Options{Starter: starter})
	t.Cleanup(c.Close)
	return c
}

func textOf(t *testing.T, content mcp.Content) string {
	t.Helper()
	tc, ok := mcp.AsTextContent(content)
	require.True(t, ok, "expected text content, got %T", content)
	return tc.Text
}

func TestStdioAgainstMCPGoServer(t *testing.T) {
	newServer := func() *server.MCPServer {
		s := server.NewMCPServer("echo-server", "1.2.3", server.WithToolCapabilities(false))
		s.AddTool(
			mcp.NewTool("echo", mcp.WithDescription("Echo text back"), mcp.WithString("text", mcp.Required())),
			func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return mcp.NewToolResultText("echo: " + req.GetString("text", "")), nil
			},
		)
		return s
	}
	c := setupStdioClient(t, mcpGoStarter(newServer))
	srv := stdioServer()

	info, err := c.Initialize(context.Background(), srv, 0)
	require.NoError(t, err)
	assert.Equal(t, "echo-server", info.ServerInfo.Name)
	require.Len(t, info.Tools, 1)
	assert.Equal(t, "echo", info.Tools[0].Name)
	assert.Equal(t, "Echo text back", info.Tools[0].Description)

	result, err := c.CallTool(context.Background(), srv, "echo", map[string]any{"text": "hello"}, 0)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "echo: hello", textOf(t, result.Content[0]))
	assert.Equal(t, 1, c.Connections())
}

func TestStdioConcurrentCallsGetTheirOwnResults(t *testing.T) {
	const calls = 5
	var starts atomic.Int32
	c := setupStdioClient(t, pipeStarter(&starts, func(s *pipeServer) {
		if err := s.handshake(); err != nil {
			return
		}
		var held []*inbound
		for len(held) < calls {
			msg, err := s.read()
			if err != nil {
				return
			}
			held = append(held, msg)
		}
		// A response nobody asked for, then answers in reverse order.
		s.reply(json.RawMessage(`9999`), map[string]any{})
		for i := len(held) - 1; i >= 0; i-- {
			var params struct {
				Arguments map[string]any `json:"arguments"`
			}
			_ = json.Unmarshal(held[i].Params, &params)
			s.reply(held[i].ID, map[string]any{
				"content": []map[string]any{{"type": "text", "text": fmt.Sprint(params.Arguments["n"])}},
			})
		}
		s.reply(held[0].ID, map[string]any{"content": []map[string]any{{"type": "text", "text": "dup"}}})
		for {
			if _, err := s.read(); err != nil {
				return
			}
		}
	}))
	srv := stdioServer()

	// Establish the connection first so every call shares it.
	sess, err := c.session(context.Background(), srv)
	require.NoError(t, err)
	require.NotNil(t, sess)

	var wg sync.WaitGroup
	results := make([]string, calls)
	errs := make([]error, calls)
	for i := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.CallTool(context.Background(), srv, "count", map[string]any{"n": i}, 5*time.Second)
			if err != nil {
				errs[i] = err
				return
			}
			tc, _ := mcp.AsTextContent(res.Content[0])
			results[i] = tc.Text
		}()
	}
	wg.Wait()

	for i := range calls {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprint(i), results[i])
	}
	assert.Equal(t, int32(1), starts.Load())
	assert.Equal(t, 1, c.Connections())
}

func TestStdioProcessExitFailsPendingCalls(t *testing.T) {
	var starts atomic.Int32
	c := setupStdioClient(t, pipeStarter(&starts, func(s *pipeServer) {
		if err := s.handshake(); err != nil {
			return
		}
		// Read the call and exit without answering.
		_, _ = s.read()
	}))
	srv := stdioServer()

	_, err := c.CallTool(context.Background(), srv, "anything", nil, 5*time.Second)
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.Eventually(t, func() bool { return c.Connections() == 0 }, time.Second, 10*time.Millisecond)
}

func TestStdioTimeoutDropsConnection(t *testing.T) {
	var starts atomic.Int32
	c := setupStdioClient(t, pipeStarter(&starts, func(s *pipeServer) {
		if err := s.handshake(); err != nil {
			return
		}
		for {
			if _, err := s.read(); err != nil {
				return
			}
		}
	}))
	srv := stdioServer()

	_, err := c.CallTool(context.Background(), srv, "never", nil, 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Contains(t, err.Error(), "Timeout (50ms)")
	assert.Equal(t, 0, c.Connections())

	_, err = c.CallTool(context.Background(), srv, "never", nil, 50*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, int32(2), starts.Load(), "a timed-out connection is replaced, not reused")
}

func TestStdioProtocolErrorKeepsConnection(t *testing.T) {
	var starts atomic.Int32
	c := setupStdioClient(t, pipeStarter(&starts, func(s *pipeServer) {
		if err := s.handshake(); err != nil {
			return
		}
		for {
			msg, err := s.read()
			if err != nil {
				return
			}
			s.send(jsonrpc.NewErrorResponse(msg.ID, jsonrpc.InvalidParams, "bad arguments"))
		}
	}))
	srv := stdioServer()

	_, err := c.CallTool(context.Background(), srv, "strict", nil, 0)
	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, "JSON-RPC Error -32602: bad arguments", rpcErr.Error())
	assert.Equal(t, 1, c.Connections())
}

func TestStdioAnswersServerPing(t *testing.T) {
	var starts atomic.Int32
	pong := make(chan *inbound, 1)
	c := setupStdioClient(t, pipeStarter(&starts, func(s *pipeServer) {
		if err := s.handshake(); err != nil {
			return
		}
		call, err := s.read()
		if err != nil {
			return
		}
		s.send(map[string]any{"jsonrpc": "2.0", "method": "notifications/message", "params": map[string]any{}})
		s.send(map[string]any{"jsonrpc": "2.0", "id": "srv-1", "method": "ping"})
		reply, err := s.read()
		if err != nil {
			return
		}
		pong <- reply
		s.reply(call.ID, map[string]any{"content": []map[string]any{{"type": "text", "text": "ok"}}})
		for {
			if _, err := s.read(); err != nil {
				return
			}
		}
	}))

	result, err := c.CallTool(context.Background(), stdioServer(), "x", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "ok", textOf(t, result.Content[0]))

	reply := <-pong
	assert.Equal(t, `"srv-1"`, string(reply.ID))
	assert.Nil(t, reply.Error)
	assert.JSONEq(t, `{}`, string(reply.Result))
}

func TestStdioStartFailure(t *testing.T) {
	c := setupStdioClient(t, func(context.Context, StdioConfig, io.Writer) (*Process, error) {
		return nil, errors.New("executable not found")
	})

	_, err := c.Initialize(context.Background(), stdioServer(), 0)
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.Contains(t, err.Error(), "executable not found")
}

func TestExecStarterRunsSubprocess(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	c := setupStdioClient(t, nil)
	srv := &ServerIdentity{
		ID:        "helper",
		Transport: TransportStdio,
		Enabled:   true,
		Stdio: StdioConfig{
			Command: exe,
			Args:    []string{"-test.run=^$"},
			Env:     map[string]string{helperEnv: "1", "HELPER_TOOL_NAME": "from-env"},
		},
	}

	info, err := c.Initialize(context.Background(), srv, 0)
	require.NoError(t, err)
	assert.Equal(t, "helper", info.ServerInfo.Name)
	require.Len(t, info.Tools, 1)
	assert.Equal(t, "from-env", info.Tools[0].Name)

	_, err = c.CallTool(context.Background(), srv, "from-env", nil, 0)
	var rpcErr *jsonrpc.Error
	assert.True(t, errors.As(err, &rpcErr))

	c.CloseConnection(srv)
	assert.Equal(t, 0, c.Connections())
}

func TestMergeEnvAppendsOverrides(t *testing.T) {
	env := mergeEnv([]string{"A=1", "B=2"}, map[string]string{"B": "3", "C": "4"})
	assert.Equal(t, []string{"A=1", "B=2", "B=3", "C=4"}, env)
}
