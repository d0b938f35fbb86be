// ABOUTME: health command: probes a running panorama server
// ABOUTME: Reports liveness and tool readiness from the HTTP health endpoints

package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check a running server's health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}
}
