// ABOUTME: Tool and pack types pairing catalog specs with executable handlers.
// ABOUTME: Shared output helpers used by workspace and external tool handlers.

package tools

import (
	"encoding/json"
	"fmt"

	"github.com/2389/panorama/internal/catalog"
	"github.com/2389/panorama/internal/middleware"
)

// Tool is an executable tool: its catalog entry and the handler that runs it.
type Tool struct {
	Spec    *catalog.Spec
	Handler middleware.Handler
}

// Name returns the tool's catalog name.
func (t *Tool) Name() string {
	return t.Spec.Name
}

// Pack is a named group of tools registered and removed together.
type Pack struct {
	ID    string
	Tools []*Tool
}

// maxText is the length summary fields are clamped to in tool output.
const maxText = 300

// clampText shortens s to max runes, marking the cut with an ellipsis.
func clampText(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

// jsonResult serializes v as the tool output.
func jsonResult(v any) (*middleware.Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling tool output: %w", err)
	}
	return &middleware.Result{Output: string(data)}, nil
}

// str reads a string argument, tolerating non-string JSON scalars.
func str(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
