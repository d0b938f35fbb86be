// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/panorama/internal/mcpclient"
	"github.com/2389/panorama/internal/selector"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	toolCalls []ToolCallLog                        // append order
	servers   map[string]*mcpclient.ServerIdentity // keyed by server ID
	documents map[string]map[string]*Document      // collection -> id -> doc

	// InsertErr, when set, is returned by InsertToolCall.
	InsertErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		servers:   make(map[string]*mcpclient.ServerIdentity),
		documents: make(map[string]map[string]*Document),
	}
}

// InsertToolCall appends a tool call log entry.
func (m *MockStore) InsertToolCall(ctx context.Context, l *ToolCallLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.InsertErr != nil {
		return m.InsertErr
	}
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}
	if l.Policy == "" {
		l.Policy = "read"
	}
	m.toolCalls = append(m.toolCalls, *l)
	return nil
}

// ListToolCalls returns matching entries newest first.
func (m *MockStore) ListToolCalls(ctx context.Context, f ToolCallFilter) ([]ToolCallLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ToolCallLog
	for _, l := range m.toolCalls {
		if f.Since != nil && l.Timestamp.Before(*f.Since) {
			continue
		}
		if f.Until != nil && l.Timestamp.After(*f.Until) {
			continue
		}
		if f.ToolName != nil && l.ToolName != *f.ToolName {
			continue
		}
		if f.Source != nil && l.Source != *f.Source {
			continue
		}
		if f.Success != nil && l.Success != *f.Success {
			continue
		}
		out = append(out, l)
	}
	slices.SortStableFunc(out, func(a, b ToolCallLog) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if limit := normalizeLimit(f.Limit); limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PruneToolCalls removes entries older than before.
func (m *MockStore) PruneToolCalls(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.toolCalls[:0]
	var n int64
	for _, l := range m.toolCalls {
		if l.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	m.toolCalls = kept
	return n, nil
}

// SaveServer stores a copy of srv.
func (m *MockStore) SaveServer(ctx context.Context, srv *mcpclient.ServerIdentity) error {
	if err := srv.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *srv
	m.servers[srv.ID] = &cp
	return nil
}

// GetServer returns a copy of the server with id.
func (m *MockStore) GetServer(ctx context.Context, id string) (*mcpclient.ServerIdentity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	srv, ok := m.servers[id]
	if !ok {
		return nil, ErrServerNotFound
	}
	cp := *srv
	return &cp, nil
}

// ListServers returns copies of every server ordered by name.
func (m *MockStore) ListServers(ctx context.Context) ([]*mcpclient.ServerIdentity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*mcpclient.ServerIdentity, 0, len(m.servers))
	for _, srv := range m.servers {
		cp := *srv
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *mcpclient.ServerIdentity) int {
		if a.Name != b.Name {
			if a.Name < b.Name {
				return -1
			}
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

// DeleteServer removes the server with id.
func (m *MockStore) DeleteServer(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.servers[id]; !ok {
		return ErrServerNotFound
	}
	delete(m.servers, id)
	return nil
}

func copyDocument(d *Document) Document {
	cp := *d
	cp.Data = maps.Clone(d.Data)
	return cp
}

// InsertDocument stores a copy of doc.
func (m *MockStore) InsertDocument(ctx context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prepareInsert(doc, time.Now().UTC())
	coll := m.documents[doc.Collection]
	if coll == nil {
		coll = make(map[string]*Document)
		m.documents[doc.Collection] = coll
	}
	if _, exists := coll[doc.ID]; exists {
		return ErrDuplicate
	}
	cp := copyDocument(doc)
	coll[doc.ID] = &cp
	return nil
}

// UpdateDocument merges fields into a stored document.
func (m *MockStore) UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	applyUpdate(doc, fields, time.Now().UTC())
	cp := copyDocument(doc)
	return &cp, nil
}

// GetDocument returns a copy of a stored document.
func (m *MockStore) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := copyDocument(doc)
	return &cp, nil
}

// FindDocuments evaluates sel against the collection.
func (m *MockStore) FindDocuments(ctx context.Context, collection string, sel selector.Selector, opts FindOptions) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Document
	for _, doc := range m.documents[collection] {
		if selector.Match(doc.Data, sel) {
			out = append(out, copyDocument(doc))
		}
	}
	// Map iteration is random; fix a base order before the requested sort.
	slices.SortFunc(out, func(a, b Document) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return sortAndLimit(out, opts), nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}
