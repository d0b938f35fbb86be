// ABOUTME: Connection contract shared by the stdio and HTTP transports.
// ABOUTME: Includes the pending-request table correlating responses to in-flight ids.

package mcpclient

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/panorama/internal/jsonrpc"
)

// ProtocolVersion is the MCP revision requested during the handshake.
const ProtocolVersion = "2024-11-05"

// clientInfo identifies this client in the initialize handshake.
var clientInfo = mcp.Implementation{Name: "panorama", Version: "1.0.0"}

// Connection is a live channel to one tool server. Implementations must allow
// concurrent Request calls.
type Connection interface {
	// Initialize performs the capability handshake.
	Initialize(ctx context.Context) (*mcp.InitializeResult, error)
	// Request sends method and waits for the matching response until ctx is done.
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
	// Notify sends a message for which no response is expected.
	Notify(ctx context.Context, method string, params any) error
	// Close tears the connection down. Pending requests are rejected.
	Close() error
}

// initializeParams builds the handshake payload.
func initializeParams() map[string]any {
	return map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]any{
			"roots":    map[string]any{"listChanged": false},
			"sampling": map[string]any{},
		},
		"clientInfo": clientInfo,
	}
}

// pendingTable tracks in-flight requests on one connection. Each entry is removed
// exactly once: by resolve, by remove (timeout/cancel), or by failAll.
type pendingTable struct {
	mu      sync.Mutex
	pending map[string]chan *jsonrpc.Response
	failure error
}

func newPendingTable() *pendingTable {
	return &pendingTable{pending: make(map[string]chan *jsonrpc.Response)}
}

// add registers key and returns the channel its response will arrive on.
func (t *pendingTable) add(key string) (chan *jsonrpc.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failure != nil {
		return nil, t.failure
	}
	if _, exists := t.pending[key]; exists {
		return nil, ErrDuplicateRequestID
	}
	ch := make(chan *jsonrpc.Response, 1)
	t.pending[key] = ch
	return ch, nil
}

// resolve delivers resp to the waiter for key. Unknown or duplicate ids return false.
func (t *pendingTable) resolve(key string, resp *jsonrpc.Response) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.pending[key]
	if !ok {
		return false
	}
	delete(t.pending, key)
	ch <- resp
	return true
}

// remove drops key without delivering anything.
func (t *pendingTable) remove(key string) {
	t.mu.Lock()
	delete(t.pending, key)
	t.mu.Unlock()
}

// failAll rejects every waiter with err and refuses new entries.
func (t *pendingTable) failAll(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failure == nil {
		t.failure = err
	}
	for key, ch := range t.pending {
		close(ch)
		delete(t.pending, key)
	}
}

// err returns the failure recorded by failAll.
func (t *pendingTable) err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failure
}

// len returns the number of in-flight requests.
func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
