// ABOUTME: Tests for the asynchronous audit recorder.
// ABOUTME: Covers draining on close, dropping when full and swallowing store errors.

package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/panorama/internal/store"
)

type blockingStore struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu   sync.Mutex
	logs []string
}

func newBlockingStore() *blockingStore {
	return &blockingStore{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingStore) InsertToolCall(ctx context.Context, l *store.ToolCallLog) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs = append(b.logs, l.ToolName)
	return nil
}

func TestRecorder_DrainsOnClose(t *testing.T) {
	s := store.NewMockStore()
	rec := NewRecorder(s, 0, nil)

	for _, name := range []string{"a", "b", "c"} {
		assert.True(t, rec.Record(&ToolCallLog{ToolName: name, Source: SourceChat}))
	}
	rec.Close()

	logs, err := s.ListToolCalls(context.Background(), store.ToolCallFilter{})
	require.NoError(t, err)
	assert.Len(t, logs, 3)
	assert.Zero(t, rec.Dropped())
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	s := newBlockingStore()
	rec := NewRecorder(s, 1, nil)

	require.True(t, rec.Record(&ToolCallLog{ToolName: "first"}))
	<-s.started // worker holds "first"

	assert.True(t, rec.Record(&ToolCallLog{ToolName: "second"}))
	assert.False(t, rec.Record(&ToolCallLog{ToolName: "third"}))
	assert.Equal(t, int64(1), rec.Dropped())

	close(s.release)
	rec.Close()

	assert.Equal(t, []string{"first", "second"}, s.logs)
}

func TestRecorder_SwallowsStoreErrors(t *testing.T) {
	s := store.NewMockStore()
	s.InsertErr = errors.New("database is locked")
	rec := NewRecorder(s, 0, nil)

	assert.True(t, rec.Record(&ToolCallLog{ToolName: "x"}))
	rec.Close()

	assert.Equal(t, int64(1), rec.Failed())
}

func TestRecorder_RecordAfterClose(t *testing.T) {
	rec := NewRecorder(store.NewMockStore(), 0, nil)
	rec.Close()
	rec.Close()

	assert.False(t, rec.Record(&ToolCallLog{ToolName: "late"}))
	assert.Equal(t, int64(1), rec.Dropped())
}
