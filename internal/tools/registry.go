// ABOUTME: Thread-safe registry of executable tools grouped into packs.
// ABOUTME: Detects name collisions and keeps a catalog in sync for validation and binding.

package tools

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/2389/panorama/internal/catalog"
)

// ErrToolNotFound indicates no registered tool has the requested name.
var ErrToolNotFound = errors.New("tool not found")

// ErrToolCollision indicates a tool name already exists from another pack.
var ErrToolCollision = errors.New("tool name collision")

// ErrPackAlreadyRegistered indicates a pack with the same ID is already registered.
var ErrPackAlreadyRegistered = errors.New("pack already registered")

// entry stores a tool with its pack ID for lookup.
type entry struct {
	tool   *Tool
	packID string
}

// Registry maintains the registered packs and their tools. Every registered
// tool's spec is also added to the registry's catalog.
type Registry struct {
	mu      sync.RWMutex
	packs   map[string]*Pack
	tools   map[string]*entry
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	cat, _ := catalog.New()
	return &Registry{
		packs:   make(map[string]*Pack),
		tools:   make(map[string]*entry),
		catalog: cat,
		logger:  logger.With("component", "tools"),
	}
}

// Catalog returns the catalog of every registered tool.
func (r *Registry) Catalog() *catalog.Catalog {
	return r.catalog
}

// RegisterPack stores a pack and its tools.
// Returns ErrPackAlreadyRegistered if a pack with the same ID exists.
// Returns ErrToolCollision if any tool name already exists from another pack.
func (r *Registry) RegisterPack(pack *Pack) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.packs[pack.ID]; exists {
		return fmt.Errorf("%w: %s", ErrPackAlreadyRegistered, pack.ID)
	}

	seen := make(map[string]bool, len(pack.Tools))
	for _, tool := range pack.Tools {
		name := tool.Name()
		if existing, exists := r.tools[name]; exists {
			return fmt.Errorf("%w: tool '%s' already registered by pack '%s'",
				ErrToolCollision, name, existing.packID)
		}
		if seen[name] {
			return fmt.Errorf("%w: tool '%s' listed twice in pack '%s'", ErrToolCollision, name, pack.ID)
		}
		seen[name] = true
	}

	for _, tool := range pack.Tools {
		r.tools[tool.Name()] = &entry{tool: tool, packID: pack.ID}
		if err := r.catalog.Add(tool.Spec); err != nil {
			r.logger.Warn("tool already cataloged", "tool_name", tool.Name(), "error", err)
		}
	}
	r.packs[pack.ID] = pack

	r.logger.Info("tool pack registered",
		"pack_id", pack.ID,
		"tool_count", len(pack.Tools),
		"total_packs", len(r.packs),
		"total_tools", len(r.tools),
	)
	return nil
}

// UnregisterPack removes a pack and all its tools. Unknown ids are ignored.
func (r *Registry) UnregisterPack(packID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pack, exists := r.packs[packID]
	if !exists {
		return
	}
	for _, tool := range pack.Tools {
		delete(r.tools, tool.Name())
		r.catalog.Remove(tool.Name())
	}
	delete(r.packs, packID)

	r.logger.Info("tool pack unregistered",
		"pack_id", packID,
		"total_packs", len(r.packs),
		"total_tools", len(r.tools),
	)
}

// Get returns the tool with name.
func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return e.tool, nil
}

// PackOf returns the id of the pack that registered name.
func (r *Registry) PackOf(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return "", false
	}
	return e.packID, true
}

// Tools returns every registered tool ordered by name.
func (r *Registry) Tools() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tool, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.tool)
	}
	slices.SortFunc(out, func(a, b *Tool) int { return strings.Compare(a.Name(), b.Name()) })
	return out
}

// Specs returns the spec of every registered tool ordered by name.
func (r *Registry) Specs() []*catalog.Spec {
	tools := r.Tools()
	specs := make([]*catalog.Spec, len(tools))
	for i, t := range tools {
		specs[i] = t.Spec
	}
	return specs
}

// PackIDs returns the registered pack ids in order.
func (r *Registry) PackIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.packs))
	for id := range r.packs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
