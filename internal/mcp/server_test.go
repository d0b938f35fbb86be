// ABOUTME: Tests for the MCP HTTP server including sessions, auth and tool execution.
// ABOUTME: Validates capability filtering, error responses and audit source tagging.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/panorama/internal/auth"
	"github.com/2389/panorama/internal/jsonrpc"
	"github.com/2389/panorama/internal/middleware"
	"github.com/2389/panorama/internal/store"
	"github.com/2389/panorama/internal/tools"
)

var testSecret = []byte("test-secret-key-for-jwt-signing-0123456789")

type testEnv struct {
	docs     *store.MockStore
	audit    *store.MockStore
	recorder *middleware.Recorder
	surface  *Surface
	verifier *auth.JWTVerifier
	tokens   *TokenStore
	mux      *http.ServeMux
}

func newTestEnv(t *testing.T, requireAuth bool) *testEnv {
	t.Helper()
	env := &testEnv{
		docs:   store.NewMockStore(),
		audit:  store.NewMockStore(),
		tokens: NewTokenStore(),
	}
	reg := tools.NewRegistry(nil)
	require.NoError(t, reg.RegisterPack(tools.WorkspacePack(&tools.Workspace{Docs: env.docs, Specs: reg.Specs})))

	env.recorder = middleware.NewRecorder(env.audit, 16, nil)
	t.Cleanup(env.recorder.Close)
	env.surface = NewSurface(reg, middleware.New(nil, env.recorder, nil), nil)

	var err error
	env.verifier, err = auth.NewJWTVerifier(testSecret)
	require.NoError(t, err)

	srv, err := NewServer(Config{
		Surface:       env.surface,
		TokenVerifier: env.verifier,
		TokenStore:    env.tokens,
		RequireAuth:   requireAuth,
	})
	require.NoError(t, err)
	env.mux = http.NewServeMux()
	srv.RegisterRoutes(env.mux)

	require.NoError(t, env.docs.InsertDocument(context.Background(), &store.Document{
		ID: "p42", Collection: tools.CollProjects, Data: map[string]any{"name": "Apollo"},
	}))
	return env
}

func (e *testEnv) jwt(t *testing.T, caps ...string) string {
	t.Helper()
	token, err := e.verifier.Generate("tester", caps, time.Hour)
	require.NoError(t, err)
	return token
}

type rpcCall struct {
	path    string
	session string
	bearer  string
	body    string
}

func (e *testEnv) do(t *testing.T, c rpcCall) *httptest.ResponseRecorder {
	t.Helper()
	path := c.path
	if path == "" {
		path = "/mcp"
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(c.body))
	req.Header.Set("Content-Type", "application/json")
	if c.session != "" {
		req.Header.Set(SessionHeader, c.session)
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	rr := httptest.NewRecorder()
	e.mux.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) jsonrpc.Response {
	t.Helper()
	var resp jsonrpc.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

const initBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-11-25"}}`

// initialize opens a session and returns its id.
func (e *testEnv) initialize(t *testing.T, c rpcCall) string {
	t.Helper()
	c.body = initBody
	rr := e.do(t, c)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode(t, rr)
	require.Nil(t, resp.Error, "initialize failed: %+v", resp.Error)
	sess := rr.Header().Get(SessionHeader)
	require.NotEmpty(t, sess)
	return sess
}

func (e *testEnv) listTools(t *testing.T, session string) []string {
	t.Helper()
	rr := e.do(t, rpcCall{session: session, body: `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`})
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode(t, rr)
	require.Nil(t, resp.Error)

	var result struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	names := make([]string, len(result.Tools))
	for i, tl := range result.Tools {
		names[i] = tl.Name
	}
	return names
}

type callResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

func (e *testEnv) callTool(t *testing.T, session, name string, args map[string]any) jsonrpc.Response {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      3,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	require.NoError(t, err)
	rr := e.do(t, rpcCall{session: session, body: string(body)})
	require.Equal(t, http.StatusOK, rr.Code)
	return decode(t, rr)
}

func TestInitialize_Anonymous(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.initialize(t, rpcCall{})

	names := env.listTools(t, sess)
	assert.Contains(t, names, "tool_tasks")
	assert.Contains(t, names, "tool_projectByName")
	assert.NotContains(t, names, "tool_createTask", "anonymous callers get read tools only")
}

func TestInitialize_RequireAuth(t *testing.T) {
	env := newTestEnv(t, true)

	resp := decode(t, env.do(t, rpcCall{body: initBody}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.InvalidRequest, resp.Error.Code)
	assert.Equal(t, "authentication required", resp.Error.Message)
}

func TestInitialize_InvalidBearer(t *testing.T) {
	env := newTestEnv(t, false)

	resp := decode(t, env.do(t, rpcCall{body: initBody, bearer: "not-a-jwt"}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid or expired token", resp.Error.Message)
}

func TestBearer_WriteCapability(t *testing.T) {
	env := newTestEnv(t, true)
	sess := env.initialize(t, rpcCall{bearer: env.jwt(t, CapWrite)})

	assert.Contains(t, env.listTools(t, sess), "tool_createTask")

	resp := env.callTool(t, sess, "tool_createTask", map[string]any{"title": "From MCP", "projectId": "p42"})
	require.Nil(t, resp.Error)
	var res callResult
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	assert.Contains(t, res.Content[0].Text, "taskId")

	env.recorder.Close()
	logs, err := env.audit.ListToolCalls(context.Background(), store.ToolCallFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, middleware.SourceMCP, logs[0].Source)
	assert.Equal(t, "write", logs[0].Policy)
	assert.True(t, logs[0].Success)
}

func TestBearer_ReadOnlyCannotWrite(t *testing.T) {
	env := newTestEnv(t, true)
	sess := env.initialize(t, rpcCall{bearer: env.jwt(t, CapRead)})

	resp := env.callTool(t, sess, "tool_createTask", map[string]any{"title": "Nope"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.InvalidRequest, resp.Error.Code)
	assert.Equal(t, "insufficient capabilities for this tool", resp.Error.Message)
}

func TestURLToken(t *testing.T) {
	env := newTestEnv(t, true)
	token := env.tokens.Create("local", []string{CapRead})

	sess := env.initialize(t, rpcCall{path: "/mcp/" + token})
	assert.Contains(t, env.listTools(t, sess), "tool_projectsList")

	sess = env.initialize(t, rpcCall{path: "/mcp?token=" + token})
	assert.NotEmpty(t, sess)

	resp := decode(t, env.do(t, rpcCall{path: "/mcp/unknown-token", body: initBody}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid or expired token", resp.Error.Message)

	resp = decode(t, env.do(t, rpcCall{path: "/mcp/" + token + "/extra", body: initBody}))
	require.NotNil(t, resp.Error)
}

func TestToolsCall_Read(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.initialize(t, rpcCall{})

	resp := env.callTool(t, sess, "tool_projectByName", map[string]any{"name": "apollo"})
	require.Nil(t, resp.Error)
	var res callResult
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "p42")
}

func TestToolsCall_ValidationIsToolError(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.initialize(t, rpcCall{})

	resp := env.callTool(t, sess, "tool_tasksByProject", nil)
	require.Nil(t, resp.Error)
	var res callResult
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "projectId")
}

func TestToolsCall_Errors(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.initialize(t, rpcCall{})

	resp := env.callTool(t, sess, "tool_nope", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.InvalidParams, resp.Error.Code)
	assert.Equal(t, "tool not found", resp.Error.Message)

	resp = decode(t, env.do(t, rpcCall{session: sess, body: `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{}}`}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "tool name is required", resp.Error.Message)

	resp = decode(t, env.do(t, rpcCall{session: sess, body: `{"jsonrpc":"2.0","id":5,"method":"resources/list"}`}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.MethodNotFound, resp.Error.Code)
}

func TestSessions(t *testing.T) {
	env := newTestEnv(t, false)

	rr := env.do(t, rpcCall{body: `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, rpcCall{session: "missing", body: `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	sess := env.initialize(t, rpcCall{})
	rr = env.do(t, rpcCall{session: sess, body: `{"jsonrpc":"2.0","method":"notifications/initialized"}`})
	assert.Equal(t, http.StatusAccepted, rr.Code)

	resp := decode(t, env.do(t, rpcCall{session: sess, body: `{"jsonrpc":"2.0","id":9,"method":"ping"}`}))
	assert.Nil(t, resp.Error)
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t, false)
	token := env.jwt(t, CapRead)
	sess := env.initialize(t, rpcCall{bearer: token})

	del := func(bearer string) int {
		req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
		req.Header.Set(SessionHeader, sess)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		rr := httptest.NewRecorder()
		env.mux.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusForbidden, del(""))
	assert.Equal(t, http.StatusNoContent, del(token))
	assert.Equal(t, http.StatusNotFound, del(token))
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, false)

	for _, method := range []string{http.MethodGet, http.MethodPut} {
		req := httptest.NewRequest(method, "/mcp", nil)
		rr := httptest.NewRecorder()
		env.mux.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code, method)
	}
}

func TestBadEnvelope(t *testing.T) {
	env := newTestEnv(t, false)

	resp := decode(t, env.do(t, rpcCall{body: `{not json`}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.ParseError, resp.Error.Code)

	resp = decode(t, env.do(t, rpcCall{body: `{"jsonrpc":"1.0","id":1,"method":"initialize"}`}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.InvalidRequest, resp.Error.Code)
}

func TestNewServer_RequiresAuthSource(t *testing.T) {
	env := newTestEnv(t, false)
	_, err := NewServer(Config{Surface: env.surface, RequireAuth: true})
	assert.Error(t, err)

	_, err = NewServer(Config{})
	assert.Error(t, err)
}
