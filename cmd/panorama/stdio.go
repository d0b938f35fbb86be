// ABOUTME: stdio command: serves the tool catalog as an MCP server on stdin/stdout
// ABOUTME: Logs go to stderr so stdout carries only protocol messages

package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/2389/panorama/internal/mcp"
)

func newStdioCmd() *cobra.Command {
	var caps []string
	cmd := &cobra.Command{
		Use:   "stdio",
		Short: "Expose tools as an MCP server over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, c := range caps {
				if c != mcp.CapRead && c != mcp.CapWrite {
					return fmt.Errorf("unknown capability %q", c)
				}
			}

			gw, cfg, logger, err := loadGateway(cmd)
			if err != nil {
				return err
			}
			defer gw.Close()

			if !cmd.Flag("caps").Changed {
				caps = slices.Clone(cfg.Server.DefaultCaps)
			}
			if _, err := gw.LoadExternalTools(cmd.Context()); err != nil {
				return err
			}

			logger.Info("serving MCP over stdio", "capabilities", caps, "tools", len(gw.Surface().Tools(caps)))
			return gw.Surface().ServeStdio("panorama", gw.Version(), caps)
		},
	}
	cmd.Flags().StringSliceVar(&caps, "caps", nil, "capabilities granted to the client: read, write (default server.default_caps)")
	return cmd
}
