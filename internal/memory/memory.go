// ABOUTME: Episode memory gathered across tool calls: ids, lists and entities.
// ABOUTME: Provides typed dot-path lookup and the stop-condition predicate over it.

package memory

import (
	"strconv"
	"strings"
)

// Doc is one document returned by a tool: a task, a project, a search hit.
type Doc = map[string]any

// Category names addressable in paths.
const (
	CategoryIDs      = "ids"
	CategoryLists    = "lists"
	CategoryEntities = "entities"
)

// Memory is the state of one agent episode. It is not safe for concurrent use;
// one goroutine drives an episode.
type Memory struct {
	IDs      map[string]string `json:"ids"`
	Lists    map[string][]Doc  `json:"lists"`
	Entities map[string]Doc    `json:"entities"`
}

// New returns an empty memory.
func New() *Memory {
	return &Memory{
		IDs:      make(map[string]string),
		Lists:    make(map[string][]Doc),
		Entities: make(map[string]Doc),
	}
}

// SetID records an identifier, e.g. SetID("projectId", "p42"). Nil memories ignore writes.
func (m *Memory) SetID(key, value string) {
	if m == nil {
		return
	}
	if m.IDs == nil {
		m.IDs = make(map[string]string)
	}
	m.IDs[key] = value
}

// SetList records a list result under key.
func (m *Memory) SetList(key string, docs []Doc) {
	if m == nil {
		return
	}
	if m.Lists == nil {
		m.Lists = make(map[string][]Doc)
	}
	m.Lists[key] = docs
}

// SetEntity records a single document under key.
func (m *Memory) SetEntity(key string, doc Doc) {
	if m == nil {
		return
	}
	if m.Entities == nil {
		m.Entities = make(map[string]Doc)
	}
	m.Entities[key] = doc
}

// Keys lists the populated categories, for audit metadata.
func (m *Memory) Keys() []string {
	if m == nil {
		return nil
	}
	var keys []string
	if len(m.IDs) > 0 {
		keys = append(keys, CategoryIDs)
	}
	if len(m.Lists) > 0 {
		keys = append(keys, CategoryLists)
	}
	if len(m.Entities) > 0 {
		keys = append(keys, CategoryEntities)
	}
	return keys
}

// Lookup resolves a dot path such as "ids.projectId", "lists.tasks",
// "lists.tasks.0.title" or "entities.project.name".
func (m *Memory) Lookup(path string) (any, bool) {
	if m == nil {
		return nil, false
	}
	parts := strings.Split(strings.TrimSpace(path), ".")
	if len(parts) == 0 || parts[0] == "" {
		return nil, false
	}

	var cur any
	switch parts[0] {
	case CategoryIDs:
		if len(parts) == 1 {
			return m.IDs, m.IDs != nil
		}
		v, ok := m.IDs[parts[1]]
		if !ok {
			return nil, false
		}
		cur = v
	case CategoryLists:
		if len(parts) == 1 {
			return m.Lists, m.Lists != nil
		}
		v, ok := m.Lists[parts[1]]
		if !ok {
			return nil, false
		}
		cur = v
	case CategoryEntities:
		if len(parts) == 1 {
			return m.Entities, m.Entities != nil
		}
		v, ok := m.Entities[parts[1]]
		if !ok {
			return nil, false
		}
		cur = v
	default:
		return nil, false
	}

	for _, part := range parts[2:] {
		next, ok := descend(cur, part)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// descend steps one path segment into a document or list.
func descend(v any, key string) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		next, ok := t[key]
		return next, ok
	case []Doc:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(t) {
			return nil, false
		}
		return t[i], true
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(t) {
			return nil, false
		}
		return t[i], true
	}
	return nil, false
}

// Truthy reports whether v counts as present: lists must be non-empty, strings
// non-empty, numbers non-zero, and documents non-nil.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []Doc:
		return len(t) > 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return t != nil
	}
	return true
}

// Evaluate reports whether every required path is satisfied by mem. A path is either
// concrete ("lists.tasks") or a one-level wildcard ("lists.*") that passes when any
// value in the category is truthy. An empty requirement list never stops the loop.
func Evaluate(required []string, mem *Memory) bool {
	if len(required) == 0 {
		return false
	}
	for _, path := range required {
		if !satisfied(strings.TrimSpace(path), mem) {
			return false
		}
	}
	return true
}

func satisfied(path string, mem *Memory) bool {
	if path == "" || mem == nil {
		return false
	}
	switch path {
	case CategoryIDs + ".*":
		for _, v := range mem.IDs {
			if Truthy(v) {
				return true
			}
		}
		return false
	case CategoryLists + ".*":
		for _, v := range mem.Lists {
			if Truthy(v) {
				return true
			}
		}
		return false
	case CategoryEntities + ".*":
		for _, v := range mem.Entities {
			if Truthy(v) {
				return true
			}
		}
		return false
	}

	v, ok := mem.Lookup(path)
	return ok && Truthy(v)
}
