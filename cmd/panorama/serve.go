// ABOUTME: serve command: runs the MCP Streamable HTTP endpoint until interrupted
// ABOUTME: Prints the banner and startup summary before handing off to the gateway

package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Expose tools over MCP Streamable HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cyan := color.New(color.FgCyan)
	cyan.Fprint(out, banner)

	gray := color.New(color.FgHiBlack)
	gray.Fprintf(out, "    version: %s\n\n", version)

	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	gw, logger, err := openGateway(cmd, cfg)
	if err != nil {
		return err
	}

	loaded, err := gw.LoadExternalTools(ctx)
	if err != nil {
		_ = gw.Close()
		return err
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	line := func(label, value string) {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "%-10s %s\n", label+":", value)
	}

	line("Config", configPath)
	line("Database", cfg.Database.Path)
	line("HTTP", cfg.Server.HTTPAddr)
	line("MCP", gw.MCPEndpoint())
	line("Tools", fmt.Sprintf("%d (%d external)", len(gw.Tools().Tools()), loaded))

	if cfg.Server.RequireAuth {
		line("Auth", "required")
	} else {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "%-10s ", "Auth:")
		yellow.Fprintf(out, "optional (anonymous caps: %s)\n", strings.Join(cfg.Server.DefaultCaps, ","))
	}
	if url := gw.MintURLToken("url-token", cfg.Server.URLTokenCaps); url != "" {
		line("Token URL", url)
	}
	fmt.Fprintln(out)

	logger.Info("starting panorama",
		"http_addr", cfg.Server.HTTPAddr,
		"tools", len(gw.Tools().Tools()),
	)

	return gw.Run(ctx)
}
