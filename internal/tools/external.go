// ABOUTME: Adapts tools advertised by external tool servers into executable tools.
// ABOUTME: Calls go through the protocol client; text content becomes the tool output.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/2389/panorama/internal/catalog"
	"github.com/2389/panorama/internal/mcpclient"
	"github.com/2389/panorama/internal/memory"
	"github.com/2389/panorama/internal/middleware"
)

// ErrToolFailed wraps the text of a tool result flagged isError.
var ErrToolFailed = errors.New("tool returned an error")

// ToolCaller invokes tools on an external server.
type ToolCaller interface {
	CallTool(ctx context.Context, srv *mcpclient.ServerIdentity, name string, args map[string]any, timeout time.Duration) (*mcp.CallToolResult, error)
}

// ExternalPackID is the pack id used for a server's tools.
func ExternalPackID(serverID string) string {
	return "server:" + serverID
}

// ExternalToolName namespaces a remote tool name by its server.
func ExternalToolName(serverID, tool string) string {
	return serverID + "__" + tool
}

// ExternalPack wraps the tools a server advertised. Calls fail with
// mcpclient.ErrServerDisabled while the server is disabled.
func ExternalPack(caller ToolCaller, srv *mcpclient.ServerIdentity, remote []mcp.Tool, timeout time.Duration) *Pack {
	pack := &Pack{ID: ExternalPackID(srv.ID)}
	for _, rt := range remote {
		pack.Tools = append(pack.Tools, &Tool{
			Spec:    externalSpec(srv.ID, rt),
			Handler: externalHandler(caller, srv, rt.Name, timeout),
		})
	}
	return pack
}

// externalSpec derives a catalog spec from a remote tool definition. Tools are
// treated as writes unless they declare readOnlyHint.
func externalSpec(serverID string, rt mcp.Tool) *catalog.Spec {
	spec := &catalog.Spec{
		Name:         ExternalToolName(serverID, rt.Name),
		Description:  rt.Description,
		RequiredArgs: slices.Clone(rt.InputSchema.Required),
		ReadOnly:     rt.Annotations.ReadOnlyHint != nil && *rt.Annotations.ReadOnlyHint,
	}

	names := make([]string, 0, len(rt.InputSchema.Properties))
	for name := range rt.InputSchema.Properties {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		p := catalog.Param{Name: name, Type: "string"}
		if prop, ok := rt.InputSchema.Properties[name].(map[string]any); ok {
			if t, ok := prop["type"].(string); ok {
				p.Type = t
			}
			if d, ok := prop["description"].(string); ok {
				p.Description = d
			}
		}
		spec.Params = append(spec.Params, p)
	}
	return spec
}

func externalHandler(caller ToolCaller, srv *mcpclient.ServerIdentity, remoteName string, timeout time.Duration) middleware.Handler {
	localName := ExternalToolName(srv.ID, remoteName)
	return func(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
		if !srv.Enabled {
			return nil, fmt.Errorf("%w: %s", mcpclient.ErrServerDisabled, srv.ID)
		}

		res, err := caller.CallTool(ctx, srv, remoteName, args, timeout)
		if err != nil {
			return nil, err
		}

		output := contentText(res.Content)
		if res.IsError {
			return nil, fmt.Errorf("%w: %s", ErrToolFailed, output)
		}

		mem.SetEntity(localName, memory.Doc{"text": output})
		return &middleware.Result{Output: output}, nil
	}
}

// contentText joins the text parts of a result. Non-text parts are rendered as JSON.
func contentText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
			continue
		}
		if data, err := json.Marshal(c); err == nil {
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, "\n")
}
