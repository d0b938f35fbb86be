// ABOUTME: Server identity describing how to reach an external tool server.
// ABOUTME: Covers the stdio (subprocess) and HTTP transports and their validation rules.

package mcpclient

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// TransportKind selects how a tool server is reached.
type TransportKind string

const (
	TransportStdio TransportKind = "stdio"
	TransportHTTP  TransportKind = "http"
)

// StdioConfig describes a subprocess tool server.
type StdioConfig struct {
	Command string            `json:"command" yaml:"command"`
	Args    []string          `json:"args" yaml:"args"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// HTTPConfig describes a remote tool server reached by HTTP POST.
type HTTPConfig struct {
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ServerIdentity identifies an external tool server. It is referenced by ID on every
// call; the pool keys connections by it.
type ServerIdentity struct {
	ID        string
	Name      string
	Transport TransportKind
	Stdio     StdioConfig
	HTTP      HTTPConfig
	Enabled   bool

	LastConnectedAt *time.Time
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Identity validation errors
var (
	ErrMissingID        = errors.New("server identity missing required field: id")
	ErrUnknownTransport = errors.New("unknown server transport")
	ErrMissingCommand   = errors.New("stdio server missing required field: command")
	ErrMissingURL       = errors.New("http server missing required field: url")
	ErrServerDisabled   = errors.New("server is disabled")
)

// Validate checks the identity carries what its transport needs.
func (s *ServerIdentity) Validate() error {
	if s == nil || s.ID == "" {
		return ErrMissingID
	}
	switch s.Transport {
	case TransportStdio:
		if s.Stdio.Command == "" {
			return ErrMissingCommand
		}
	case TransportHTTP:
		if s.HTTP.URL == "" {
			return ErrMissingURL
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, s.Transport)
	}
	return nil
}

// SameEndpoint reports whether two identities would produce the same connection.
// A change in any connection-relevant field means a pooled connection is stale.
func (s *ServerIdentity) SameEndpoint(other *ServerIdentity) bool {
	if other == nil || s.Transport != other.Transport || s.Enabled != other.Enabled {
		return false
	}
	switch s.Transport {
	case TransportStdio:
		return s.Stdio.Command == other.Stdio.Command &&
			slices.Equal(s.Stdio.Args, other.Stdio.Args) &&
			maps.Equal(s.Stdio.Env, other.Stdio.Env)
	case TransportHTTP:
		return s.HTTP.URL == other.HTTP.URL && maps.Equal(s.HTTP.Headers, other.HTTP.Headers)
	}
	return false
}
