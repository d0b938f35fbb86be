// ABOUTME: Root cobra command with the persistent --config flag and shared helpers
// ABOUTME: Subcommands load configuration and build a gateway through these helpers

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/2389/panorama/internal/config"
	"github.com/2389/panorama/internal/gateway"
)

// newRootCmd builds the full command tree.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "panorama",
		Short: "Tool-calling core for agents: external tool servers, guarded calls, MCP exposure",
		Long: `panorama connects to external tool servers over stdio or HTTP, runs tool
calls through a loop guard and audit log, and exposes its tools to other
agents as an MCP server.`,
		Version: version,
		// Errors are printed once by main.
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "panorama version %s\n" .Version}}`)
	root.PersistentFlags().String("config", config.Path(), "config file (YAML, or TOML by .toml extension)")

	root.AddCommand(
		newServeCmd(),
		newStdioCmd(),
		newRunCmd(),
		newStatsCmd(),
		newServersCmd(),
		newTokenCmd(),
		newHealthCmd(),
	)
	return root
}

// loadConfig reads the --config file. A missing default file yields the defaults;
// a missing file named explicitly is an error.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	flag := cmd.Flag("config")
	path := flag.Value.String()

	var cfg *config.Config
	var err error
	if flag.Changed {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadOrDefault(path)
	}
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// openGateway builds a gateway from cfg, logging to stderr.
func openGateway(cmd *cobra.Command, cfg *config.Config) (*gateway.Gateway, *slog.Logger, error) {
	logger := setupLogger(cfg.Logging, cmd.ErrOrStderr())
	gw, err := gateway.NewWithOptions(cfg, logger, gateway.Options{Version: version})
	if err != nil {
		return nil, nil, fmt.Errorf("creating gateway: %w", err)
	}
	return gw, logger, nil
}

// loadGateway is loadConfig followed by openGateway.
func loadGateway(cmd *cobra.Command) (*gateway.Gateway, *config.Config, *slog.Logger, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	gw, logger, err := openGateway(cmd, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return gw, cfg, logger, nil
}
