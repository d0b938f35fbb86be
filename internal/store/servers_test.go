// ABOUTME: Tests for server identity persistence
// ABOUTME: Runs the same upsert/get/list/delete cases against SQLite and the mock

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/panorama/internal/mcpclient"
)

func testServerStore(t *testing.T, s mcpclient.IdentityStore) {
	ctx := context.Background()

	stdio := &mcpclient.ServerIdentity{
		ID:        "fs",
		Name:      "Filesystem",
		Transport: mcpclient.TransportStdio,
		Stdio: mcpclient.StdioConfig{
			Command: "npx",
			Args:    []string{"-y", "@modelcontextprotocol/server-filesystem"},
			Env:     map[string]string{"ROOT": "/tmp"},
		},
		Enabled: true,
	}
	remote := &mcpclient.ServerIdentity{
		ID:        "search",
		Name:      "Search",
		Transport: mcpclient.TransportHTTP,
		HTTP: mcpclient.HTTPConfig{
			URL:     "https://tools.example.com/mcp",
			Headers: map[string]string{"Authorization": "Bearer x"},
		},
	}

	require.NoError(t, s.SaveServer(ctx, stdio))
	require.NoError(t, s.SaveServer(ctx, remote))

	got, err := s.GetServer(ctx, "fs")
	require.NoError(t, err)
	assert.Equal(t, "Filesystem", got.Name)
	assert.Equal(t, mcpclient.TransportStdio, got.Transport)
	assert.Equal(t, stdio.Stdio, got.Stdio)
	assert.True(t, got.Enabled)
	assert.Nil(t, got.LastConnectedAt)

	got, err = s.GetServer(ctx, "search")
	require.NoError(t, err)
	assert.Equal(t, remote.HTTP, got.HTTP)
	assert.False(t, got.Enabled)

	// Upsert records connectivity results
	connected := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	remote.LastConnectedAt = &connected
	remote.LastError = "Timeout (10s)"
	require.NoError(t, s.SaveServer(ctx, remote))

	got, err = s.GetServer(ctx, "search")
	require.NoError(t, err)
	require.NotNil(t, got.LastConnectedAt)
	assert.True(t, connected.Equal(*got.LastConnectedAt))
	assert.Equal(t, "Timeout (10s)", got.LastError)

	list, err := s.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "fs", list[0].ID)
	assert.Equal(t, "search", list[1].ID)

	require.NoError(t, s.DeleteServer(ctx, "fs"))
	_, err = s.GetServer(ctx, "fs")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, mcpclient.ErrServerNotFound)

	err = s.DeleteServer(ctx, "fs")
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestServerStore_SQLite(t *testing.T) {
	testServerStore(t, setupTestStore(t))
}

func TestServerStore_Mock(t *testing.T) {
	testServerStore(t, NewMockStore())
}

func TestServerStore_RejectsInvalid(t *testing.T) {
	store := setupTestStore(t)
	err := store.SaveServer(context.Background(), &mcpclient.ServerIdentity{
		ID:        "bad",
		Transport: mcpclient.TransportHTTP,
	})
	assert.ErrorIs(t, err, mcpclient.ErrMissingURL)
}
