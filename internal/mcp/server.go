// ABOUTME: MCP-compatible HTTP server exposing panorama tools to external agents.
// ABOUTME: Implements Streamable HTTP transport (POST/DELETE /mcp) with session management.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/panorama/internal/auth"
	"github.com/2389/panorama/internal/jsonrpc"
	"github.com/2389/panorama/internal/tools"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-06-18": true,
	"2025-11-25": true,
}

// latestProtocolVersion is the version we advertise in initialize responses
const latestProtocolVersion = "2025-11-25"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// SessionHeader carries the session id after initialize.
const SessionHeader = "Mcp-Session-Id"

// callToolParams are the params for tools/call.
type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// mcpSession tracks an active MCP client session.
type mcpSession struct {
	id           string
	subject      string
	capabilities []string
	ownerToken   string // credential used at initialize; DELETE must present the same
	createdAt    time.Time
}

// sessionStore manages active MCP sessions (in-memory).
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*mcpSession
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*mcpSession)}
}

func (s *sessionStore) create(subject string, caps []string, ownerToken string) *mcpSession {
	sess := &mcpSession{
		id:           uuid.New().String(),
		subject:      subject,
		capabilities: caps,
		ownerToken:   ownerToken,
		createdAt:    time.Now(),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

func (s *sessionStore) get(id string) (*mcpSession, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	return sess, ok
}

func (s *sessionStore) delete(id string) bool {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	return existed
}

func (s *sessionStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Config holds configuration for the MCP server.
type Config struct {
	Surface       *Surface
	Logger        *slog.Logger
	TokenVerifier auth.TokenVerifier
	TokenStore    *TokenStore // URL token auth
	RequireAuth   bool        // reject requests without valid auth
	DefaultCaps   []string    // used when auth is optional and none is given; defaults to read
	Name          string
	Version       string
}

// Server implements MCP-compatible HTTP endpoints for external agents.
type Server struct {
	surface     *Surface
	logger      *slog.Logger
	verifier    auth.TokenVerifier
	tokenStore  *TokenStore
	requireAuth bool
	defaultCaps []string
	name        string
	version     string
	sessions    *sessionStore
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Surface == nil {
		return nil, errors.New("surface is required")
	}
	if cfg.RequireAuth && cfg.TokenVerifier == nil && cfg.TokenStore == nil {
		return nil, errors.New("token verifier or token store required when auth is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	defaultCaps := slices.Clone(cfg.DefaultCaps)
	if defaultCaps == nil {
		defaultCaps = []string{CapRead}
	}
	name := cfg.Name
	if name == "" {
		name = "panorama"
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	return &Server{
		surface:     cfg.Surface,
		logger:      logger.With("component", "mcp-http"),
		verifier:    cfg.TokenVerifier,
		tokenStore:  cfg.TokenStore,
		requireAuth: cfg.RequireAuth,
		defaultCaps: defaultCaps,
		name:        name,
		version:     version,
		sessions:    newSessionStore(),
	}, nil
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
// Supports both /mcp (bare) and /mcp/<token> (token-in-path) access patterns.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/mcp/", s.handleMCP)
}

// SessionCount returns the number of open sessions.
func (s *Server) SessionCount() int {
	return s.sessions.count()
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		// No server-initiated SSE streams
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete terminates a session. The caller must present the credential
// that created it.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}

	sess, ok := s.sessions.get(sessionID)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	if sess.ownerToken != "" && extractOwnerToken(r) != sess.ownerToken {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	s.sessions.delete(sessionID)
	s.logger.Info("MCP session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionHeader)
	protoVersion := r.Header.Get("Mcp-Protocol-Version")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendError(w, nil, jsonrpc.ParseError, "failed to read request body")
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendError(w, nil, jsonrpc.InvalidRequest, "request body too large")
		return
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendError(w, nil, jsonrpc.ParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != jsonrpc.Version {
		s.sendError(w, req.ID, jsonrpc.InvalidRequest, "invalid JSON-RPC version")
		return
	}

	isInitialize := req.Method == "initialize"

	if !isInitialize && protoVersion != "" && !supportedProtocolVersions[protoVersion] {
		http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
		return
	}

	var sess *mcpSession
	if isInitialize {
		subject, caps, authErr := s.authenticate(r)
		if authErr != nil {
			if errors.Is(authErr, errInvalidToken) {
				s.sendError(w, req.ID, jsonrpc.InvalidRequest, "invalid or expired token")
				return
			}
			if s.requireAuth {
				s.sendError(w, req.ID, jsonrpc.InvalidRequest, "authentication required")
				return
			}
			subject, caps = "anonymous", s.defaultCaps
		}
		sess = s.sessions.create(subject, caps, extractOwnerToken(r))
	} else {
		if sessionID == "" {
			http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
			return
		}
		var ok bool
		sess, ok = s.sessions.get(sessionID)
		if !ok {
			// Client must re-initialize
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
	}

	s.logger.Debug("MCP request",
		"method", req.Method,
		"is_notification", req.IsNotification(),
		"session_id", sess.id,
	)

	if req.IsNotification() {
		if !strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, req, sess)
	case "ping":
		s.sendResult(w, req.ID, map[string]any{})
	case "tools/list":
		s.handleToolsList(w, req, sess)
	case "tools/call":
		s.handleToolsCall(w, r, req, sess)
	default:
		s.sendError(w, req.ID, jsonrpc.MethodNotFound, "method not found")
	}
}

func (s *Server) handleInitialize(w http.ResponseWriter, req jsonrpc.Request, sess *mcpSession) {
	s.logger.Info("MCP session created",
		"session_id", sess.id,
		"subject", sess.subject,
		"capabilities", sess.capabilities,
	)

	w.Header().Set(SessionHeader, sess.id)
	s.sendResult(w, req.ID, map[string]any{
		"protocolVersion": latestProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    s.name,
			"version": s.version,
		},
	})
}

func (s *Server) handleToolsList(w http.ResponseWriter, req jsonrpc.Request, sess *mcpSession) {
	list := s.surface.Tools(sess.capabilities)
	s.logger.Debug("tools/list", "count", len(list), "capabilities", sess.capabilities)
	if list == nil {
		s.sendResult(w, req.ID, map[string]any{"tools": []any{}})
		return
	}
	s.sendResult(w, req.ID, map[string]any{"tools": list})
}

func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req jsonrpc.Request, sess *mcpSession) {
	var params callToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendError(w, req.ID, jsonrpc.InvalidParams, "invalid params")
			return
		}
	}
	if params.Name == "" {
		s.sendError(w, req.ID, jsonrpc.InvalidParams, "tool name is required")
		return
	}

	result, err := s.surface.Call(r.Context(), sess.capabilities, params.Name, params.Arguments)
	if err != nil {
		s.handleToolError(w, req.ID, params.Name, sess, err)
		return
	}

	s.logger.Debug("tools/call complete",
		"tool_name", params.Name,
		"session_id", sess.id,
		"is_error", result.IsError,
	)
	s.sendResult(w, req.ID, result)
}

// errInvalidToken is returned when a token is provided but invalid or expired.
// Such requests are rejected rather than treated as anonymous.
var errInvalidToken = errors.New("invalid or expired token")

var errNoAuth = errors.New("no authentication provided")

// authenticate resolves the caller's subject and capabilities from a path
// token, a token query parameter, or a bearer JWT, in that order.
func (s *Server) authenticate(r *http.Request) (string, []string, error) {
	if token, ok := pathToken(r); ok {
		return s.lookupURLToken(token)
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return s.lookupURLToken(token)
	}

	token, err := auth.BearerToken(r)
	if errors.Is(err, auth.ErrMissingAuthorization) {
		return "", nil, errNoAuth
	}
	if err != nil || s.verifier == nil {
		return "", nil, errInvalidToken
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		s.logger.Debug("bearer token rejected", "error", err)
		return "", nil, errInvalidToken
	}
	return claims.Subject, claims.Capabilities, nil
}

func (s *Server) lookupURLToken(token string) (string, []string, error) {
	if s.tokenStore == nil {
		return "", nil, errInvalidToken
	}
	g, ok := s.tokenStore.Lookup(token)
	if !ok {
		return "", nil, errInvalidToken
	}
	return g.Subject, g.Capabilities, nil
}

// pathToken returns the token of /mcp/<token>. Extra path segments make the
// token invalid.
func pathToken(r *http.Request) (string, bool) {
	rest, ok := strings.CutPrefix(r.URL.Path, "/mcp/")
	if !ok {
		return "", false
	}
	rest = strings.TrimRight(rest, "/")
	if rest == "" {
		return "", false
	}
	if strings.Contains(rest, "/") {
		return "\x00invalid", true
	}
	return rest, true
}

// extractOwnerToken derives the credential a session is bound to.
func extractOwnerToken(r *http.Request) string {
	if token, ok := pathToken(r); ok {
		return token
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if token, err := auth.BearerToken(r); err == nil {
		return token
	}
	return ""
}

func (s *Server) handleToolError(w http.ResponseWriter, id json.RawMessage, toolName string, sess *mcpSession, err error) {
	s.logger.Warn("tool call rejected",
		"tool_name", toolName,
		"session_id", sess.id,
		"error", err,
	)

	code := jsonrpc.InternalError
	message := "tool execution failed"

	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		code = jsonrpc.InvalidParams
		message = "tool not found"
	case errors.Is(err, ErrInsufficientCapabilities):
		code = jsonrpc.InvalidRequest
		message = "insufficient capabilities for this tool"
	case errors.Is(err, context.DeadlineExceeded):
		message = "tool execution timed out"
	case errors.Is(err, context.Canceled):
		message = "request cancelled"
	}

	s.sendError(w, id, code, message)
}

func (s *Server) sendResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp, err := jsonrpc.NewResultResponse(id, result)
	if err != nil {
		s.logger.Warn("failed to encode JSON-RPC result", "error", err)
		resp = jsonrpc.NewErrorResponse(id, jsonrpc.InternalError, "failed to encode result")
	}
	s.write(w, resp)
}

func (s *Server) sendError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	s.write(w, jsonrpc.NewErrorResponse(id, code, message))
}

func (s *Server) write(w http.ResponseWriter, resp *jsonrpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}
