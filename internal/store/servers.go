// ABOUTME: Persistence for external tool server identities in the mcp_servers table
// ABOUTME: Upserts, lookups and deletion used by the mcpclient registry

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/panorama/internal/mcpclient"
)

// serverConfig is the transport-specific part of an identity, stored as JSON.
type serverConfig struct {
	Stdio *mcpclient.StdioConfig `json:"stdio,omitempty"`
	HTTP  *mcpclient.HTTPConfig  `json:"http,omitempty"`
}

// SaveServer inserts or replaces a server identity.
func (s *SQLiteStore) SaveServer(ctx context.Context, srv *mcpclient.ServerIdentity) error {
	if err := srv.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if srv.CreatedAt.IsZero() {
		srv.CreatedAt = now
	}
	if srv.UpdatedAt.IsZero() {
		srv.UpdatedAt = now
	}

	cfg := serverConfig{}
	switch srv.Transport {
	case mcpclient.TransportStdio:
		cfg.Stdio = &srv.Stdio
	case mcpclient.TransportHTTP:
		cfg.HTTP = &srv.HTTP
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling server config: %w", err)
	}

	var lastConnected *string
	if srv.LastConnectedAt != nil {
		v := formatTS(*srv.LastConnectedAt)
		lastConnected = &v
	}

	query := `
		INSERT INTO mcp_servers (id, name, transport, config_json, enabled, last_connected_at, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			transport = excluded.transport,
			config_json = excluded.config_json,
			enabled = excluded.enabled,
			last_connected_at = excluded.last_connected_at,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		srv.ID,
		srv.Name,
		string(srv.Transport),
		string(cfgJSON),
		srv.Enabled,
		lastConnected,
		nullString(srv.LastError),
		formatTS(srv.CreatedAt),
		formatTS(srv.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving server %s: %w", srv.ID, err)
	}

	s.logger.Debug("saved server", "server_id", srv.ID, "transport", srv.Transport)
	return nil
}

const serverColumns = `id, name, transport, config_json, enabled, last_connected_at, last_error, created_at, updated_at`

func scanServer(scanner interface{ Scan(dest ...any) error }) (*mcpclient.ServerIdentity, error) {
	var srv mcpclient.ServerIdentity
	var transport, cfgJSON, createdStr, updatedStr string
	var lastConnected, lastError *string

	if err := scanner.Scan(
		&srv.ID,
		&srv.Name,
		&transport,
		&cfgJSON,
		&srv.Enabled,
		&lastConnected,
		&lastError,
		&createdStr,
		&updatedStr,
	); err != nil {
		return nil, err
	}

	srv.Transport = mcpclient.TransportKind(transport)

	var cfg serverConfig
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling server config: %w", err)
	}
	if cfg.Stdio != nil {
		srv.Stdio = *cfg.Stdio
	}
	if cfg.HTTP != nil {
		srv.HTTP = *cfg.HTTP
	}

	var err error
	if srv.CreatedAt, err = parseTS(createdStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if srv.UpdatedAt, err = parseTS(updatedStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if lastConnected != nil {
		t, err := parseTS(*lastConnected)
		if err != nil {
			return nil, fmt.Errorf("parsing last_connected_at: %w", err)
		}
		srv.LastConnectedAt = &t
	}
	if lastError != nil {
		srv.LastError = *lastError
	}
	return &srv, nil
}

// GetServer retrieves a server identity by id.
func (s *SQLiteStore) GetServer(ctx context.Context, id string) (*mcpclient.ServerIdentity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM mcp_servers WHERE id = ?`, id)
	srv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrServerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting server %s: %w", id, err)
	}
	return srv, nil
}

// ListServers returns every server identity ordered by name.
func (s *SQLiteStore) ListServers(ctx context.Context) ([]*mcpclient.ServerIdentity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+serverColumns+` FROM mcp_servers ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("querying servers: %w", err)
	}
	defer rows.Close()

	var servers []*mcpclient.ServerIdentity
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning server: %w", err)
		}
		servers = append(servers, srv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating servers: %w", err)
	}
	return servers, nil
}

// DeleteServer removes a server identity.
func (s *SQLiteStore) DeleteServer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mcp_servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting server %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrServerNotFound
	}
	s.logger.Debug("deleted server", "server_id", id)
	return nil
}
