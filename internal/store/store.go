// ABOUTME: Store interfaces and data types for panorama persistence
// ABOUTME: Defines tool call logs, workspace documents and the interfaces over them

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2389/panorama/internal/mcpclient"
	"github.com/2389/panorama/internal/selector"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrServerNotFound is returned for unknown server ids. It matches both ErrNotFound
// and mcpclient.ErrServerNotFound.
var ErrServerNotFound = fmt.Errorf("%w: %w", ErrNotFound, mcpclient.ErrServerNotFound)

// ErrDuplicate is returned when an entity with the same id already exists
var ErrDuplicate = errors.New("already exists")

// DefaultRetention is how long tool call logs are kept.
const DefaultRetention = 30 * 24 * time.Hour

// ToolCallLog is one audited tool invocation. Entries are append-only.
type ToolCallLog struct {
	ID         string
	ToolName   string
	Args       map[string]any
	Success    bool
	Error      string // truncated, empty on success
	DurationMs int64
	ResultSize int
	Source     string // "chat" or "mcp"
	Policy     string // "read" or "write"
	Timestamp  time.Time
	Metadata   map[string]any
}

// ToolCallFilter specifies filtering options for listing tool call logs.
type ToolCallFilter struct {
	Since    *time.Time // entries at or after this time
	Until    *time.Time // entries at or before this time
	ToolName *string
	Source   *string
	Success  *bool
	Limit    int // default 100, max 1000; negative means no limit
}

// ToolCallStore persists the tool call audit log.
type ToolCallStore interface {
	InsertToolCall(ctx context.Context, log *ToolCallLog) error
	ListToolCalls(ctx context.Context, f ToolCallFilter) ([]ToolCallLog, error)
	PruneToolCalls(ctx context.Context, before time.Time) (int64, error)
}

// Document is a workspace record (task, project, note, ...) in a collection.
type Document struct {
	ID         string
	Collection string
	Data       map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FindOptions controls document queries.
type FindOptions struct {
	Limit     int    // 0 means no limit
	SortField string // defaults to createdAt
	Desc      bool
}

// DocumentStore persists workspace documents and evaluates selectors over them.
type DocumentStore interface {
	InsertDocument(ctx context.Context, doc *Document) error
	UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) (*Document, error)
	GetDocument(ctx context.Context, collection, id string) (*Document, error)
	FindDocuments(ctx context.Context, collection string, sel selector.Selector, opts FindOptions) ([]Document, error)
}

// Store is everything panorama persists.
type Store interface {
	ToolCallStore
	DocumentStore
	mcpclient.IdentityStore
	Close() error
}

// Compile-time interface checks
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MockStore)(nil)
)
