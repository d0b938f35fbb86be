// ABOUTME: Tool catalog: per-tool required arguments, side-effect class and memory scopes.
// ABOUTME: Validates arguments before dispatch and describes tools to external agents.

package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ErrUnknownTool indicates the tool is not in the catalog.
var ErrUnknownTool = errors.New("unknown tool")

// ErrDuplicateTool indicates a tool with the same name is already cataloged.
var ErrDuplicateTool = errors.New("tool already cataloged")

// Param describes one tool argument.
type Param struct {
	Name        string
	Type        string // "string", "number", "boolean", "object" or "array"
	Description string
	Enum        []string
}

// Spec is the catalog entry for a tool.
type Spec struct {
	Name         string
	Description  string
	Params       []Param
	RequiredArgs []string
	ReadOnly     bool

	// Scope maps an argument to the memory path it is implicitly bound from,
	// e.g. "projectId" -> "ids.projectId".
	Scope map[string]string
}

// Policy names the side-effect class recorded with each call.
func (s *Spec) Policy() string {
	if s.ReadOnly {
		return "read"
	}
	return "write"
}

// Schema renders the parameters as a JSON Schema object.
func (s *Spec) Schema() map[string]any {
	props := make(map[string]any, len(s.Params))
	for _, p := range s.Params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[p.Name] = prop
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.RequiredArgs) > 0 {
		schema["required"] = slices.Clone(s.RequiredArgs)
	}
	return schema
}

// ValidationError reports required arguments that were not supplied.
type ValidationError struct {
	Tool    string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: missing required %s", e.Tool, strings.Join(e.Missing, ", "))
}

// Catalog is a thread-safe set of tool specs.
type Catalog struct {
	mu    sync.RWMutex
	specs map[string]*Spec
}

// New creates a catalog holding specs.
func New(specs ...*Spec) (*Catalog, error) {
	c := &Catalog{specs: make(map[string]*Spec)}
	for _, s := range specs {
		if err := c.Add(s); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add registers a spec. Names must be unique.
func (c *Catalog) Add(s *Spec) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.specs[s.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, s.Name)
	}
	c.specs[s.Name] = s
	return nil
}

// Remove drops a spec; unknown names are ignored.
func (c *Catalog) Remove(name string) {
	c.mu.Lock()
	delete(c.specs, name)
	c.mu.Unlock()
}

// Get returns the spec for name.
func (c *Catalog) Get(name string) (*Spec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.specs[name]
	return s, ok
}

// Names returns every cataloged tool name, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.specs))
	for name := range c.specs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Specs returns every spec sorted by name.
func (c *Catalog) Specs() []*Spec {
	names := c.Names()

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Spec, 0, len(names))
	for _, name := range names {
		if s, ok := c.specs[name]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks that every required argument of name is supplied.
func (c *Catalog) Validate(name string, args map[string]any) error {
	s, ok := c.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	var missing []string
	for _, arg := range s.RequiredArgs {
		if !Supplied(args[arg]) {
			missing = append(missing, arg)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Tool: name, Missing: missing}
	}
	return nil
}

// Supplied reports whether an argument value counts as provided: nil and blank
// strings do not.
func Supplied(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	}
	return true
}
