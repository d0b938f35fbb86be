// ABOUTME: Argument binder: fills tool arguments from episode memory before dispatch.
// ABOUTME: Resolves {"var": "dot.path"} placeholders and injects implicitly scoped ids.

package binder

import (
	"maps"
	"slices"

	"github.com/2389/panorama/internal/catalog"
	"github.com/2389/panorama/internal/memory"
)

// VarKey is the placeholder key: {"var": "ids.projectId"}.
const VarKey = "var"

// ScopeFunc returns the implicit bindings for a tool, argument name to memory path.
type ScopeFunc func(tool string) map[string]string

// Binder resolves tool arguments against memory.
type Binder struct {
	scopes ScopeFunc
}

// New creates a binder from a fixed tool -> argument -> memory path table.
func New(scopes map[string]map[string]string) *Binder {
	return &Binder{scopes: func(tool string) map[string]string { return scopes[tool] }}
}

// FromCatalog creates a binder that reads each tool's Scope from cat at bind time,
// so tools added later are covered.
func FromCatalog(cat *catalog.Catalog) *Binder {
	return &Binder{scopes: func(tool string) map[string]string {
		if s, ok := cat.Get(tool); ok {
			return s.Scope
		}
		return nil
	}}
}

// Bind returns a copy of raw with placeholders resolved and scoped arguments filled.
// Explicitly supplied values are never replaced, and binding a bound result again
// changes nothing.
func (b *Binder) Bind(tool string, raw map[string]any, mem *memory.Memory) map[string]any {
	args := resolveMap(raw, mem)

	var scope map[string]string
	if b != nil && b.scopes != nil {
		scope = b.scopes(tool)
	}
	for _, arg := range slices.Sorted(maps.Keys(scope)) {
		if catalog.Supplied(args[arg]) {
			continue
		}
		if v, ok := mem.Lookup(scope[arg]); ok && memory.Truthy(v) {
			args[arg] = v
		}
	}
	return args
}

// placeholder returns the path of a {"var": path} value.
func placeholder(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	path, ok := m[VarKey].(string)
	if !ok || path == "" {
		return "", false
	}
	return path, true
}

// resolve returns v with placeholders replaced; ok is false when v itself is an
// unresolved placeholder.
func resolve(v any, mem *memory.Memory) (any, bool) {
	if path, isVar := placeholder(v); isVar {
		return mem.Lookup(path)
	}
	switch t := v.(type) {
	case map[string]any:
		return resolveMap(t, mem), true
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			if r, ok := resolve(item, mem); ok {
				out = append(out, r)
			}
		}
		return out, true
	}
	return v, true
}

func resolveMap(in map[string]any, mem *memory.Memory) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if r, ok := resolve(v, mem); ok {
			out[k] = r
		}
	}
	return out
}
