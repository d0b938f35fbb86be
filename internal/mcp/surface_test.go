// ABOUTME: Tests for capability filtering and the mcp-go backed stdio server.
// ABOUTME: Drives the server through HandleMessage without real pipes.

package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/panorama/internal/catalog"
)

func TestAllowed(t *testing.T) {
	read := &catalog.Spec{Name: "r", ReadOnly: true}
	write := &catalog.Spec{Name: "w"}

	assert.True(t, Allowed([]string{CapRead}, read))
	assert.False(t, Allowed([]string{CapRead}, write))
	assert.True(t, Allowed([]string{CapWrite}, read))
	assert.True(t, Allowed([]string{CapWrite}, write))
	assert.False(t, Allowed(nil, read))
	assert.False(t, Allowed([]string{"admin"}, read))
}

func TestSurface_ToolsSortedAndAnnotated(t *testing.T) {
	env := newTestEnv(t, false)

	list := env.surface.Tools([]string{CapWrite})
	require.NotEmpty(t, list)
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].Name, list[i].Name)
	}
	for _, tl := range list {
		require.NotNil(t, tl.Annotations.ReadOnlyHint, tl.Name)
		if tl.Name == "tool_createTask" {
			assert.False(t, *tl.Annotations.ReadOnlyHint)
		}
		if tl.Name == "tool_tasksByProject" {
			assert.True(t, *tl.Annotations.ReadOnlyHint)
			assert.Equal(t, []string{"projectId"}, tl.InputSchema.Required)
		}
	}
}

func handle(t *testing.T, env *testEnv, caps []string, msg string) map[string]any {
	t.Helper()
	srv := env.surface.NewMCPServer("panorama", "test", caps)
	out := srv.HandleMessage(context.Background(), json.RawMessage(msg))
	data, err := json.Marshal(out)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestStdioServer_ListAndCall(t *testing.T) {
	env := newTestEnv(t, false)

	list := handle(t, env, []string{CapRead}, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	result, ok := list["result"].(map[string]any)
	require.True(t, ok, "unexpected response: %v", list)
	names := map[string]bool{}
	for _, tl := range result["tools"].([]any) {
		names[tl.(map[string]any)["name"].(string)] = true
	}
	assert.True(t, names["tool_projectsList"])
	assert.False(t, names["tool_createTask"])

	call := handle(t, env, []string{CapRead}, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"tool_projectsList","arguments":{}}}`)
	result, ok = call["result"].(map[string]any)
	require.True(t, ok, "unexpected response: %v", call)
	content := result["content"].([]any)
	require.Len(t, content, 1)
	assert.Contains(t, content[0].(map[string]any)["text"], "Apollo")
}

func TestStdioServer_WriteToolHiddenFromReaders(t *testing.T) {
	env := newTestEnv(t, false)

	call := handle(t, env, []string{CapRead}, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"tool_createTask","arguments":{"title":"x"}}}`)
	assert.NotNil(t, call["error"])
}

func TestTokenStore(t *testing.T) {
	s := NewTokenStore()
	caps := []string{CapRead}
	token := s.Create("laptop", caps)
	caps[0] = "mutated"

	g, ok := s.Lookup(token)
	require.True(t, ok)
	assert.Equal(t, "laptop", g.Subject)
	assert.Equal(t, []string{CapRead}, g.Capabilities)
	assert.Equal(t, 1, s.Count())

	s.Revoke(token)
	_, ok = s.Lookup(token)
	assert.False(t, ok)
	assert.Zero(t, s.Count())
}
