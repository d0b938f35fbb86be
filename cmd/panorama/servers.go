// ABOUTME: servers command group: list, add, test and remove external tool servers
// ABOUTME: Changes go through the server registry so pooled connections stay consistent

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/2389/panorama/internal/mcpclient"
)

func newServersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Manage external tool servers",
	}
	cmd.AddCommand(
		newServersListCmd(),
		newServersAddCmd(),
		newServersTestCmd(),
		newServersRemoveCmd(),
	)
	return cmd
}

func newServersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured tool servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gw, _, _, err := loadGateway(cmd)
			if err != nil {
				return err
			}
			defer gw.Close()

			servers, err := gw.Servers().List(cmd.Context())
			if err != nil {
				return err
			}
			printServers(cmd.OutOrStdout(), servers)
			return nil
		},
	}
}

func endpoint(srv *mcpclient.ServerIdentity) string {
	if srv.Transport == mcpclient.TransportHTTP {
		return srv.HTTP.URL
	}
	return strings.TrimSpace(srv.Stdio.Command + " " + strings.Join(srv.Stdio.Args, " "))
}

func printServers(w io.Writer, servers []*mcpclient.ServerIdentity) {
	if len(servers) == 0 {
		fmt.Fprintf(w, "%s\n", text.FgYellow.Sprint("No servers configured"))
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("ID"),
		text.FgHiCyan.Sprint("NAME"),
		text.FgHiCyan.Sprint("TRANSPORT"),
		text.FgHiCyan.Sprint("ENDPOINT"),
		text.FgHiCyan.Sprint("ENABLED"),
		text.FgHiCyan.Sprint("LAST CONNECTED"),
		text.FgHiCyan.Sprint("LAST ERROR"),
	})
	for _, srv := range servers {
		enabled := text.FgGreen.Sprint("yes")
		if !srv.Enabled {
			enabled = text.FgHiBlack.Sprint("no")
		}
		last := "never"
		if srv.LastConnectedAt != nil {
			last = srv.LastConnectedAt.Local().Format(time.DateTime)
		}
		t.AppendRow(table.Row{
			srv.ID, srv.Name, srv.Transport, clip(endpoint(srv), 60),
			enabled, last, text.FgRed.Sprint(clip(srv.LastError, 60)),
		})
	}
	t.Render()
}

func newServersAddCmd() *cobra.Command {
	var (
		srv      mcpclient.ServerIdentity
		disabled bool
		kind     string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a tool server",
		Example: `  panorama servers add --id docs --transport stdio --command docs-server --arg --readonly
  panorama servers add --id search --transport http --url https://search.example/mcp --header Authorization="Bearer $TOKEN"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv.Transport = mcpclient.TransportKind(kind)
			srv.Enabled = !disabled

			gw, _, _, err := loadGateway(cmd)
			if err != nil {
				return err
			}
			defer gw.Close()

			if existing, err := gw.Servers().Get(cmd.Context(), srv.ID); err == nil {
				srv.LastConnectedAt = existing.LastConnectedAt
				srv.LastError = existing.LastError
			}
			if err := gw.Servers().Save(cmd.Context(), &srv); err != nil {
				return err
			}

			color.New(color.FgGreen).Fprint(cmd.OutOrStdout(), "✓ ")
			fmt.Fprintf(cmd.OutOrStdout(), "saved server %s (%s)\n", srv.ID, srv.Transport)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&srv.ID, "id", "", "server id (generated when empty)")
	f.StringVar(&srv.Name, "name", "", "display name (defaults to the id)")
	f.StringVar(&kind, "transport", string(mcpclient.TransportStdio), "stdio or http")
	f.StringVar(&srv.Stdio.Command, "command", "", "stdio: executable to launch")
	f.StringArrayVar(&srv.Stdio.Args, "arg", nil, "stdio: argument, repeatable")
	f.StringToStringVar(&srv.Stdio.Env, "env", nil, "stdio: extra environment, KEY=VALUE")
	f.StringVar(&srv.HTTP.URL, "url", "", "http: endpoint URL")
	f.StringToStringVar(&srv.HTTP.Headers, "header", nil, "http: request header, NAME=VALUE")
	f.BoolVar(&disabled, "disabled", false, "save the server disabled")
	return cmd
}

func newServersTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <id>",
		Short: "Connect to a server, record the result and list its tools",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, _, err := loadGateway(cmd)
			if err != nil {
				return err
			}
			defer gw.Close()

			out := cmd.OutOrStdout()
			info, err := gw.Servers().Test(cmd.Context(), args[0])
			if err != nil {
				color.New(color.FgRed).Fprint(out, "✗ ")
				fmt.Fprintf(out, "%s: %v\n", args[0], err)
				return fmt.Errorf("server %s unreachable", args[0])
			}

			color.New(color.FgGreen).Fprint(out, "✓ ")
			fmt.Fprintf(out, "%s: %s %s (protocol %s)\n",
				args[0], info.ServerInfo.Name, info.ServerInfo.Version, info.ProtocolVersion)
			gray := color.New(color.FgHiBlack)
			for _, tool := range info.Tools {
				fmt.Fprintf(out, "    %s", tool.Name)
				if tool.Description != "" {
					gray.Fprintf(out, "  %s", clip(tool.Description, 80))
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

func newServersRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a tool server",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, _, err := loadGateway(cmd)
			if err != nil {
				return err
			}
			defer gw.Close()

			if err := gw.Servers().Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprint(cmd.OutOrStdout(), "✓ ")
			fmt.Fprintf(cmd.OutOrStdout(), "removed server %s\n", args[0])
			return nil
		},
	}
}
