// ABOUTME: The local tool surface shared by the HTTP and stdio MCP servers.
// ABOUTME: Filters tools by capability and runs calls through the tool middleware with source "mcp".

package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/2389/panorama/internal/catalog"
	"github.com/2389/panorama/internal/middleware"
	"github.com/2389/panorama/internal/tools"
)

// Capabilities
const (
	CapRead  = "read"
	CapWrite = "write" // implies read
)

// ErrInsufficientCapabilities is returned when a caller may not use a tool.
var ErrInsufficientCapabilities = errors.New("insufficient capabilities for this tool")

// Surface exposes a tool registry to external agents.
type Surface struct {
	registry *tools.Registry
	mw       *middleware.Middleware
	logger   *slog.Logger
}

// NewSurface creates a surface over registry. mw may be nil.
func NewSurface(registry *tools.Registry, mw *middleware.Middleware, logger *slog.Logger) *Surface {
	if logger == nil {
		logger = slog.Default()
	}
	return &Surface{
		registry: registry,
		mw:       mw,
		logger:   logger.With("component", "mcp"),
	}
}

// Allowed reports whether caps grant use of spec.
func Allowed(caps []string, spec *catalog.Spec) bool {
	if slices.Contains(caps, CapWrite) {
		return true
	}
	return spec.ReadOnly && slices.Contains(caps, CapRead)
}

// Tools lists the tools caps may use, sorted by name.
func (s *Surface) Tools(caps []string) []mcp.Tool {
	var out []mcp.Tool
	for _, spec := range s.registry.Specs() {
		if Allowed(caps, spec) {
			out = append(out, toolDefinition(spec))
		}
	}
	slices.SortFunc(out, func(a, b mcp.Tool) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

// Call runs a tool for an external agent. Unknown tools and missing
// capabilities are errors; tool failures, including validation and loop-guard
// refusals, come back as isError results.
func (s *Surface) Call(ctx context.Context, caps []string, name string, args map[string]any) (*mcp.CallToolResult, error) {
	tool, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if !Allowed(caps, tool.Spec) {
		return nil, fmt.Errorf("%w: %s requires %q", ErrInsufficientCapabilities, name, tool.Spec.Policy())
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := s.registry.Catalog().Validate(name, args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	h := tool.Handler
	if s.mw != nil {
		h = s.mw.Wrap(name, h, middleware.Options{
			Source: middleware.SourceMCP,
			Policy: tool.Spec.Policy(),
		})
	}

	res, err := h(ctx, args, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(res.Output), nil
}

// NewMCPServer builds an mcp-go server offering the tools caps may use.
// Tools registered afterwards are not picked up.
func (s *Surface) NewMCPServer(name, version string, caps []string) *server.MCPServer {
	srv := server.NewMCPServer(name, version, server.WithToolCapabilities(false))
	for _, t := range s.registry.Tools() {
		if !Allowed(caps, t.Spec) {
			continue
		}
		toolName := t.Name()
		srv.AddTool(toolDefinition(t.Spec), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return s.Call(ctx, caps, toolName, req.GetArguments())
		})
	}
	return srv
}

// ServeStdio serves the surface on stdin/stdout until the input closes.
func (s *Surface) ServeStdio(name, version string, caps []string) error {
	s.logger.Info("serving MCP on stdio", "capabilities", caps)
	return server.ServeStdio(s.NewMCPServer(name, version, caps))
}

func toolDefinition(spec *catalog.Spec) mcp.Tool {
	props, _ := spec.Schema()["properties"].(map[string]any)
	readOnly := spec.ReadOnly
	destructive := !spec.ReadOnly
	return mcp.Tool{
		Name:        spec.Name,
		Description: spec.Description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
			Required:   slices.Clone(spec.RequiredArgs),
		},
		Annotations: mcp.ToolAnnotation{
			ReadOnlyHint:    &readOnly,
			DestructiveHint: &destructive,
		},
	}
}
