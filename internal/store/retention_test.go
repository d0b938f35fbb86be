// ABOUTME: Tests for the tool call retention loop
// ABOUTME: Verifies the immediate pass prunes entries older than the cutoff and the loop stops

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRetention_PrunesExpired(t *testing.T) {
	s := NewMockStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertToolCall(ctx, &ToolCallLog{ToolName: "old", Source: "chat", Timestamp: now.Add(-31 * 24 * time.Hour)}))
	require.NoError(t, s.InsertToolCall(ctx, &ToolCallLog{ToolName: "recent", Source: "chat", Timestamp: now.Add(-29 * 24 * time.Hour)}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		RunRetention(ctx, s, RetentionConfig{
			Interval: time.Hour,
			Now:      func() time.Time { return now },
		})
	}()

	require.Eventually(t, func() bool {
		logs, _ := s.ListToolCalls(ctx, ToolCallFilter{Limit: -1})
		return len(logs) == 1 && logs[0].ToolName == "recent"
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retention loop did not stop")
	}
}

func TestRunRetention_SQLite(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	now := time.Now().UTC()
	require.NoError(t, s.InsertToolCall(ctx, &ToolCallLog{ToolName: "old", Source: "chat", Timestamp: now.Add(-DefaultRetention - time.Hour)}))
	require.NoError(t, s.InsertToolCall(ctx, &ToolCallLog{ToolName: "new", Source: "chat", Timestamp: now}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		RunRetention(ctx, s, RetentionConfig{})
	}()

	assert.Eventually(t, func() bool {
		logs, err := s.ListToolCalls(ctx, ToolCallFilter{})
		return err == nil && len(logs) == 1
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}
