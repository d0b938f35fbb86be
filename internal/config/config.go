// ABOUTME: Configuration loading and parsing for panorama
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/panorama/internal/auth"
	"github.com/2389/panorama/internal/mcpclient"
	"github.com/2389/panorama/internal/middleware"
	"github.com/2389/panorama/internal/orchestrator"
	"github.com/2389/panorama/internal/pool"
	"github.com/2389/panorama/internal/store"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "PANORAMA_CONFIG"

// Config represents the complete panorama configuration
type Config struct {
	Database     DatabaseConfig     `yaml:"database" toml:"database"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Server       ServerConfig       `yaml:"server" toml:"server"`
	Auth         AuthConfig         `yaml:"auth" toml:"auth"`
	Pool         PoolConfig         `yaml:"pool" toml:"pool"`
	LoopGuard    LoopGuardConfig    `yaml:"loop_guard" toml:"loop_guard"`
	Timeouts     TimeoutsConfig     `yaml:"timeouts" toml:"timeouts"`
	Audit        AuditConfig        `yaml:"audit" toml:"audit"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" toml:"orchestrator"`
	Servers      []ServerEntry      `yaml:"servers" toml:"servers"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "json" or "text"
}

// ServerConfig holds the MCP exposure endpoint configuration
type ServerConfig struct {
	HTTPAddr    string `yaml:"http_addr" toml:"http_addr"`
	RequireAuth bool   `yaml:"require_auth" toml:"require_auth"`
	// DefaultCaps apply to unauthenticated sessions when auth is optional.
	DefaultCaps []string `yaml:"default_caps" toml:"default_caps"`
	// URLTokenCaps mints a /mcp/<token> URL at startup with these capabilities.
	URLTokenCaps []string `yaml:"url_token_caps" toml:"url_token_caps"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// PoolConfig holds connection pool timing
type PoolConfig struct {
	SweepInterval time.Duration `yaml:"-" toml:"-"`
	IdleTimeout   time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval"`
	IdleTimeoutRaw   string `yaml:"idle_timeout" toml:"idle_timeout"`
}

// LoopGuardConfig holds repeated-call detection settings
type LoopGuardConfig struct {
	Threshold     int           `yaml:"threshold" toml:"threshold"`
	Window        time.Duration `yaml:"-" toml:"-"`
	PruneInterval time.Duration `yaml:"-" toml:"-"`

	WindowRaw        string `yaml:"window" toml:"window"`
	PruneIntervalRaw string `yaml:"prune_interval" toml:"prune_interval"`
}

// TimeoutsConfig holds per-operation bounds for external tool servers
type TimeoutsConfig struct {
	Connect   time.Duration `yaml:"-" toml:"-"`
	ListTools time.Duration `yaml:"-" toml:"-"`
	CallTool  time.Duration `yaml:"-" toml:"-"`

	ConnectRaw   string `yaml:"connect" toml:"connect"`
	ListToolsRaw string `yaml:"list_tools" toml:"list_tools"`
	CallToolRaw  string `yaml:"call_tool" toml:"call_tool"`
}

// AuditConfig holds tool call audit settings
type AuditConfig struct {
	QueueSize         int           `yaml:"queue_size" toml:"queue_size"`
	Retention         time.Duration `yaml:"-" toml:"-"`
	RetentionInterval time.Duration `yaml:"-" toml:"-"`

	RetentionRaw         string `yaml:"retention" toml:"retention"`
	RetentionIntervalRaw string `yaml:"retention_interval" toml:"retention_interval"`
}

// OrchestratorConfig holds plan execution settings
type OrchestratorConfig struct {
	MaxSteps    int  `yaml:"max_steps" toml:"max_steps"`
	AllowWrites bool `yaml:"allow_writes" toml:"allow_writes"`
}

// ServerEntry seeds an external tool server at startup.
type ServerEntry struct {
	ID        string            `yaml:"id" toml:"id"`
	Name      string            `yaml:"name" toml:"name"`
	Transport string            `yaml:"transport" toml:"transport"`
	Command   string            `yaml:"command" toml:"command"`
	Args      []string          `yaml:"args" toml:"args"`
	Env       map[string]string `yaml:"env" toml:"env"`
	URL       string            `yaml:"url" toml:"url"`
	Headers   map[string]string `yaml:"headers" toml:"headers"`
	Enabled   *bool             `yaml:"enabled" toml:"enabled"` // defaults to true
}

// Identity converts the entry into a server identity.
func (e ServerEntry) Identity() *mcpclient.ServerIdentity {
	enabled := e.Enabled == nil || *e.Enabled
	name := e.Name
	if name == "" {
		name = e.ID
	}
	return &mcpclient.ServerIdentity{
		ID:        e.ID,
		Name:      name,
		Transport: mcpclient.TransportKind(e.Transport),
		Stdio:     mcpclient.StdioConfig{Command: e.Command, Args: e.Args, Env: e.Env},
		HTTP:      mcpclient.HTTPConfig{URL: e.URL, Headers: e.Headers},
		Enabled:   enabled,
	}
}

// Path returns the config file location.
// Priority: PANORAMA_CONFIG env var > XDG_CONFIG_HOME/panorama/config.yaml > ~/.config/panorama/config.yaml
func Path() string {
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "panorama", "config.yaml")
}

// DataPath returns the default data directory.
// Priority: XDG_DATA_HOME/panorama > ~/.local/share/panorama
func DataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "panorama")
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
}

// LoadOrDefault loads path, falling back to defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Parse decodes raw configuration content.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(DataPath(), "panorama.db")
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = "127.0.0.1:8765"
	}
	if cfg.Server.DefaultCaps == nil {
		cfg.Server.DefaultCaps = []string{"read"}
	}
	if cfg.Pool.SweepInterval == 0 {
		cfg.Pool.SweepInterval = pool.DefaultSweepInterval
	}
	if cfg.Pool.IdleTimeout == 0 {
		cfg.Pool.IdleTimeout = pool.DefaultIdleTimeout
	}
	if cfg.LoopGuard.Threshold == 0 {
		cfg.LoopGuard.Threshold = middleware.DefaultThreshold
	}
	if cfg.LoopGuard.Window == 0 {
		cfg.LoopGuard.Window = middleware.DefaultWindow
	}
	if cfg.LoopGuard.PruneInterval == 0 {
		cfg.LoopGuard.PruneInterval = middleware.DefaultPruneInterval
	}
	if cfg.Timeouts.Connect == 0 {
		cfg.Timeouts.Connect = mcpclient.DefaultConnectTimeout
	}
	if cfg.Timeouts.ListTools == 0 {
		cfg.Timeouts.ListTools = mcpclient.DefaultListToolsTimeout
	}
	if cfg.Timeouts.CallTool == 0 {
		cfg.Timeouts.CallTool = mcpclient.DefaultCallToolTimeout
	}
	if cfg.Audit.QueueSize == 0 {
		cfg.Audit.QueueSize = middleware.DefaultQueueSize
	}
	if cfg.Audit.Retention == 0 {
		cfg.Audit.Retention = store.DefaultRetention
	}
	if cfg.Audit.RetentionInterval == 0 {
		cfg.Audit.RetentionInterval = store.DefaultRetentionInterval
	}
	if cfg.Orchestrator.MaxSteps == 0 {
		cfg.Orchestrator.MaxSteps = orchestrator.DefaultMaxSteps
	}
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d characters", auth.MinSecretLength)
	}
	if c.Server.RequireAuth && c.Auth.JWTSecret == "" && len(c.Server.URLTokenCaps) == 0 {
		return fmt.Errorf("server.require_auth needs auth.jwt_secret or server.url_token_caps")
	}
	for _, field := range []struct {
		name string
		caps []string
	}{
		{"server.default_caps", c.Server.DefaultCaps},
		{"server.url_token_caps", c.Server.URLTokenCaps},
	} {
		for _, cp := range field.caps {
			if cp != "read" && cp != "write" {
				return fmt.Errorf("%s: unknown capability %q", field.name, cp)
			}
		}
	}

	if c.LoopGuard.Threshold < 0 {
		return fmt.Errorf("loop_guard.threshold must be positive")
	}
	if c.Audit.QueueSize < 0 {
		return fmt.Errorf("audit.queue_size must be positive")
	}
	if c.Orchestrator.MaxSteps < 0 {
		return fmt.Errorf("orchestrator.max_steps must be positive")
	}

	seen := make(map[string]bool, len(c.Servers))
	for i, entry := range c.Servers {
		if err := entry.Identity().Validate(); err != nil {
			return fmt.Errorf("servers[%d]: %w", i, err)
		}
		if seen[entry.ID] {
			return fmt.Errorf("servers[%d]: duplicate id %q", i, entry.ID)
		}
		seen[entry.ID] = true
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"pool.sweep_interval", cfg.Pool.SweepIntervalRaw, &cfg.Pool.SweepInterval},
		{"pool.idle_timeout", cfg.Pool.IdleTimeoutRaw, &cfg.Pool.IdleTimeout},
		{"loop_guard.window", cfg.LoopGuard.WindowRaw, &cfg.LoopGuard.Window},
		{"loop_guard.prune_interval", cfg.LoopGuard.PruneIntervalRaw, &cfg.LoopGuard.PruneInterval},
		{"timeouts.connect", cfg.Timeouts.ConnectRaw, &cfg.Timeouts.Connect},
		{"timeouts.list_tools", cfg.Timeouts.ListToolsRaw, &cfg.Timeouts.ListTools},
		{"timeouts.call_tool", cfg.Timeouts.CallToolRaw, &cfg.Timeouts.CallTool},
		{"audit.retention", cfg.Audit.RetentionRaw, &cfg.Audit.Retention},
		{"audit.retention_interval", cfg.Audit.RetentionIntervalRaw, &cfg.Audit.RetentionInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := parseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}

// parseDuration extends time.ParseDuration with a day unit ("30d").
func parseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		var n int
		if _, err := fmt.Sscanf(days, "%d", &n); err == nil && fmt.Sprint(n) == days {
			return time.Duration(n) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}
