// ABOUTME: Gateway wires the store, tool server client, middleware, tools and MCP exposure
// ABOUTME: Manages the HTTP server, external tool loading and the background retention loop

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/2389/panorama/internal/auth"
	"github.com/2389/panorama/internal/config"
	"github.com/2389/panorama/internal/mcp"
	"github.com/2389/panorama/internal/mcpclient"
	"github.com/2389/panorama/internal/middleware"
	"github.com/2389/panorama/internal/orchestrator"
	"github.com/2389/panorama/internal/pool"
	"github.com/2389/panorama/internal/store"
	"github.com/2389/panorama/internal/tools"
)

// EnvDBPath overrides database.path.
const EnvDBPath = "PANORAMA_DB_PATH"

// EnvMCPEndpoint overrides the advertised MCP endpoint URL.
const EnvMCPEndpoint = "PANORAMA_MCP_ENDPOINT"

// Options injects collaborators, mostly for tests. Zero values use the real ones.
type Options struct {
	Store      store.Store
	Starter    mcpclient.Starter
	HTTPClient *http.Client
	Version    string
	Now        func() time.Time
}

// Gateway owns every long-lived panorama component.
type Gateway struct {
	config *config.Config
	logger *slog.Logger
	now    func() time.Time

	store    store.Store
	client   *mcpclient.Client
	servers  *mcpclient.Registry
	guard    *middleware.LoopGuard
	recorder *middleware.Recorder
	mw       *middleware.Middleware
	tools    *tools.Registry
	orch     *orchestrator.Orchestrator
	surface  *mcp.Surface

	// mcpTokens maps URL tokens to capabilities
	mcpTokens *mcp.TokenStore

	// mcpServer is the Streamable HTTP endpoint for external agents
	mcpServer *mcp.Server

	httpServer *http.Server
	version    string

	bgCancel  context.CancelFunc
	bgWG      sync.WaitGroup
	closeOnce sync.Once
}

// initStore opens the SQLite store named by config or environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv(EnvDBPath); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newTokenVerifier returns nil when no secret is configured.
func newTokenVerifier(cfg *config.Config) (auth.TokenVerifier, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, nil
	}
	v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}
	return v, nil
}

// New creates a Gateway from cfg.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	return NewWithOptions(cfg, logger, Options{})
}

// NewWithOptions creates a Gateway, seeds configured servers and starts the
// retention loop. External tools are not loaded until LoadExternalTools.
func NewWithOptions(cfg *config.Config, logger *slog.Logger, opts Options) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := opts.Store
	if s == nil {
		var err error
		if s, err = initStore(cfg); err != nil {
			return nil, err
		}
	}

	verifier, err := newTokenVerifier(cfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	client := mcpclient.NewClient(mcpclient.Options{
		Pool: pool.Config{
			SweepInterval: cfg.Pool.SweepInterval,
			IdleTimeout:   cfg.Pool.IdleTimeout,
			Logger:        logger.With("component", "pool"),
		},
		Timeouts: mcpclient.Timeouts{
			Connect:   cfg.Timeouts.Connect,
			ListTools: cfg.Timeouts.ListTools,
			CallTool:  cfg.Timeouts.CallTool,
		},
		HTTPClient: opts.HTTPClient,
		Starter:    opts.Starter,
		Logger:     logger.With("component", "mcpclient"),
	})

	guard := middleware.NewLoopGuard(middleware.LoopGuardConfig{
		Window:        cfg.LoopGuard.Window,
		Threshold:     cfg.LoopGuard.Threshold,
		PruneInterval: cfg.LoopGuard.PruneInterval,
	})
	recorder := middleware.NewRecorder(s, cfg.Audit.QueueSize, logger.With("component", "audit"))
	mw := middleware.New(guard, recorder, logger.With("component", "middleware"))

	registry := tools.NewRegistry(logger.With("component", "tool-registry"))
	if err := registry.RegisterPack(tools.WorkspacePack(&tools.Workspace{
		Docs:  s,
		Specs: registry.Specs,
		Now:   now,
	})); err != nil {
		recorder.Close()
		guard.Close()
		client.Close()
		_ = s.Close()
		return nil, fmt.Errorf("registering workspace pack: %w", err)
	}

	surface := mcp.NewSurface(registry, mw, logger)
	mcpTokens := mcp.NewTokenStore()

	gw := &Gateway{
		config:   cfg,
		logger:   logger.With("component", "gateway"),
		now:      now,
		store:    s,
		client:   client,
		servers:  mcpclient.NewRegistry(s, client, logger.With("component", "server-registry")),
		guard:    guard,
		recorder: recorder,
		mw:       mw,
		tools:    registry,
		orch: orchestrator.New(orchestrator.Config{
			Registry:    registry,
			Middleware:  mw,
			MaxSteps:    cfg.Orchestrator.MaxSteps,
			AllowWrites: cfg.Orchestrator.AllowWrites,
			Logger:      logger,
		}),
		surface:   surface,
		mcpTokens: mcpTokens,
		version:   version,
	}

	mcpServer, err := mcp.NewServer(mcp.Config{
		Surface:       surface,
		Logger:        logger,
		TokenVerifier: verifier,
		TokenStore:    mcpTokens,
		RequireAuth:   cfg.Server.RequireAuth,
		DefaultCaps:   cfg.Server.DefaultCaps,
		Name:          "panorama",
		Version:       version,
	})
	if err != nil {
		_ = gw.Close()
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}
	gw.mcpServer = mcpServer

	mux := http.NewServeMux()
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)
	gw.mcpServer.RegisterRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := gw.seedServers(context.Background()); err != nil {
		_ = gw.Close()
		return nil, err
	}

	gw.startRetention()
	return gw, nil
}

// seedServers saves configured servers, keeping their recorded connectivity.
func (g *Gateway) seedServers(ctx context.Context) error {
	for _, entry := range g.config.Servers {
		srv := entry.Identity()
		if existing, err := g.servers.Get(ctx, srv.ID); err == nil {
			srv.LastConnectedAt = existing.LastConnectedAt
			srv.LastError = existing.LastError
		}
		if err := g.servers.Save(ctx, srv); err != nil {
			return fmt.Errorf("seeding server %s: %w", entry.ID, err)
		}
	}
	if n := len(g.config.Servers); n > 0 {
		g.logger.Info("seeded configured servers", "count", n)
	}
	return nil
}

func (g *Gateway) startRetention() {
	ctx, cancel := context.WithCancel(context.Background())
	g.bgCancel = cancel
	g.bgWG.Add(1)
	go func() {
		defer g.bgWG.Done()
		store.RunRetention(ctx, g.store, store.RetentionConfig{
			MaxAge:   g.config.Audit.Retention,
			Interval: g.config.Audit.RetentionInterval,
			Logger:   g.logger.With("component", "retention"),
			Now:      g.now,
		})
	}()
}

// LoadExternalTools connects to every enabled server and registers its tools.
// A server that cannot be reached is logged and skipped. Reloading a server
// replaces its previous tools. Returns the number of tools registered.
func (g *Gateway) LoadExternalTools(ctx context.Context) (int, error) {
	servers, err := g.servers.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing servers: %w", err)
	}

	loaded := 0
	for _, srv := range servers {
		g.tools.UnregisterPack(tools.ExternalPackID(srv.ID))
		if !srv.Enabled {
			continue
		}
		info, err := g.client.Initialize(ctx, srv, g.config.Timeouts.Connect)
		if err != nil {
			if ctx.Err() != nil {
				return loaded, ctx.Err()
			}
			g.logger.Warn("skipping unreachable server", "server_id", srv.ID, "error", err)
			continue
		}
		pack := tools.ExternalPack(g.client, srv, info.Tools, g.config.Timeouts.CallTool)
		if err := g.tools.RegisterPack(pack); err != nil {
			g.logger.Warn("skipping server tools", "server_id", srv.ID, "error", err)
			continue
		}
		loaded += len(pack.Tools)
	}
	return loaded, nil
}

// Store returns the persistent store.
func (g *Gateway) Store() store.Store { return g.store }

// Servers returns the server identity registry.
func (g *Gateway) Servers() *mcpclient.Registry { return g.servers }

// Tools returns the tool registry.
func (g *Gateway) Tools() *tools.Registry { return g.tools }

// Orchestrator returns the plan executor.
func (g *Gateway) Orchestrator() *orchestrator.Orchestrator { return g.orch }

// Surface returns the MCP tool surface.
func (g *Gateway) Surface() *mcp.Surface { return g.surface }

// Handler returns the HTTP handler serving /health and /mcp.
func (g *Gateway) Handler() http.Handler { return g.httpServer.Handler }

// Version returns the version advertised to MCP clients.
func (g *Gateway) Version() string { return g.version }

// MCPEndpoint returns the URL external agents should use.
// Priority: PANORAMA_MCP_ENDPOINT env > derived from server.http_addr.
func (g *Gateway) MCPEndpoint() string {
	if env := os.Getenv(EnvMCPEndpoint); env != "" {
		return env
	}
	return "http://" + g.config.Server.HTTPAddr + "/mcp"
}

// MintURLToken creates a /mcp/<token> URL carrying caps. It returns "" when caps is empty.
func (g *Gateway) MintURLToken(subject string, caps []string) string {
	if len(caps) == 0 {
		return ""
	}
	return g.MCPEndpoint() + "/" + g.mcpTokens.Create(subject, caps)
}

// startServers starts the HTTP server in a goroutine, returning error channel.
func (g *Gateway) startServers(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run serves HTTP on server.http_addr and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = g.Close()
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := g.startServers(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases every component.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "close", g.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// Close stops background work, drains the audit queue and closes the store.
// Safe to call more than once.
func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		if g.bgCancel != nil {
			g.bgCancel()
		}
		g.bgWG.Wait()
		g.recorder.Close()
		g.guard.Close()
		g.client.Close()
		err = g.store.Close()
	})
	return err
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once at least one tool is registered.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	n := len(g.tools.Tools())
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no tools registered"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d tools)", n)
}
