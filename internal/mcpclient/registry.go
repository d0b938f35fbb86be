// ABOUTME: Registry of configured tool servers backed by an IdentityStore.
// ABOUTME: Editing or deleting a server closes its pooled connection; Test records connectivity.

package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrServerNotFound is returned by an IdentityStore when no server has the given id.
var ErrServerNotFound = errors.New("server not found")

// maxLastError bounds the connectivity error persisted on an identity.
const maxLastError = 500

// IdentityStore persists server identities.
type IdentityStore interface {
	SaveServer(ctx context.Context, srv *ServerIdentity) error
	GetServer(ctx context.Context, id string) (*ServerIdentity, error)
	ListServers(ctx context.Context) ([]*ServerIdentity, error)
	DeleteServer(ctx context.Context, id string) error
}

// Registry manages server identities and keeps the connection pool consistent with them.
type Registry struct {
	store  IdentityStore
	client *Client
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates a registry over store whose connections live in client.
func NewRegistry(store IdentityStore, client *Client, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default().With("component", "registry")
	}
	return &Registry{store: store, client: client, logger: logger, now: time.Now}
}

// Save creates or updates srv. A new id is assigned when srv has none. If the stored
// identity points at a different endpoint, its pooled connection is closed.
func (r *Registry) Save(ctx context.Context, srv *ServerIdentity) error {
	if srv.ID == "" {
		srv.ID = uuid.NewString()
	}
	if srv.Name == "" {
		srv.Name = srv.ID
	}
	if err := srv.Validate(); err != nil {
		return err
	}

	now := r.now()
	existing, err := r.store.GetServer(ctx, srv.ID)
	switch {
	case err == nil:
		srv.CreatedAt = existing.CreatedAt
		if !existing.SameEndpoint(srv) {
			r.logger.Info("server identity changed, closing connection", "server_id", srv.ID)
			r.client.CloseConnection(existing)
		}
	case errors.Is(err, ErrServerNotFound):
		srv.CreatedAt = now
	default:
		return fmt.Errorf("looking up server %s: %w", srv.ID, err)
	}
	srv.UpdatedAt = now

	if err := r.store.SaveServer(ctx, srv); err != nil {
		return fmt.Errorf("saving server %s: %w", srv.ID, err)
	}
	return nil
}

// Delete removes the server and closes its pooled connection.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.store.DeleteServer(ctx, id); err != nil {
		return fmt.Errorf("deleting server %s: %w", id, err)
	}
	r.client.CloseConnection(&ServerIdentity{ID: id})
	return nil
}

// Get returns the server with id.
func (r *Registry) Get(ctx context.Context, id string) (*ServerIdentity, error) {
	return r.store.GetServer(ctx, id)
}

// List returns every configured server.
func (r *Registry) List(ctx context.Context) ([]*ServerIdentity, error) {
	return r.store.ListServers(ctx)
}

// Test connects to the server within the connect bound and records the outcome on
// the identity. The returned error is the connection failure, if any.
func (r *Registry) Test(ctx context.Context, id string) (*ServerInfo, error) {
	srv, err := r.store.GetServer(ctx, id)
	if err != nil {
		return nil, err
	}

	info, callErr := r.client.Initialize(ctx, srv, DefaultConnectTimeout)
	if callErr != nil {
		srv.LastError = truncate(callErr.Error(), maxLastError)
	} else {
		now := r.now()
		srv.LastConnectedAt = &now
		srv.LastError = ""
	}
	srv.UpdatedAt = r.now()

	if err := r.store.SaveServer(ctx, srv); err != nil {
		r.logger.Warn("recording connectivity result failed", "server_id", id, "error", err)
	}
	return info, callErr
}
