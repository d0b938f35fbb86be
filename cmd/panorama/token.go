// ABOUTME: token command: mints a bearer JWT for the /mcp endpoint
// ABOUTME: Signs with auth.jwt_secret and embeds the granted capabilities

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/panorama/internal/auth"
	"github.com/2389/panorama/internal/mcp"
)

func newTokenCmd() *cobra.Command {
	var (
		subject string
		caps    []string
		expires time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if subject == "" {
				return errors.New("--subject is required")
			}
			for _, c := range caps {
				if c != mcp.CapRead && c != mcp.CapWrite {
					return fmt.Errorf("unknown capability %q", c)
				}
			}
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not configured")
			}
			verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
			if err != nil {
				return err
			}
			token, err := verifier.Generate(subject, caps, expires)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringSliceVar(&caps, "caps", []string{mcp.CapRead}, "capabilities: read, write")
	cmd.Flags().DurationVar(&expires, "expires", 30*24*time.Hour, "lifetime, 0 for no expiry")
	return cmd
}
