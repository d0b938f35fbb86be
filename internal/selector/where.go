// ABOUTME: Read-only where mini-language compiled into selectors over allowlisted fields.
// ABOUTME: Supports eq, ne, lt, lte, gt, gte, in, nin and nested and/or arrays.

package selector

import "slices"

// FieldAllowlist lists the queryable fields of each collection.
var FieldAllowlist = map[string][]string{
	"tasks":        {"title", "status", "deadline", "projectId", "isUrgent", "isImportant", "tags", "createdAt", "updatedAt"},
	"projects":     {"name", "description", "createdAt", "updatedAt"},
	"notes":        {"projectId", "title", "content", "createdAt", "updatedAt"},
	"noteSessions": {"projectId", "name", "createdAt", "updatedAt"},
	"noteLines":    {"sessionId", "content", "createdAt", "updatedAt"},
	"links":        {"projectId", "name", "url", "createdAt", "updatedAt"},
	"people":       {"name", "createdAt", "updatedAt"},
	"teams":        {"name", "createdAt", "updatedAt"},
	"files":        {"projectId", "name", "createdAt", "updatedAt"},
	"alarms":       {"title", "enabled", "when", "createdAt", "updatedAt"},
}

// Collections returns the queryable collection names.
func Collections() []string {
	names := make([]string, 0, len(FieldAllowlist))
	for name := range FieldAllowlist {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ListKey is the memory list a collection's query results are stored under.
func ListKey(collection string) string {
	return collection
}

var whereOps = []string{"eq", "ne", "lt", "lte", "gt", "gte", "in", "nin"}

// Compile turns a where object into a selector. Fields outside the collection's
// allowlist and unknown operators are dropped.
func Compile(collection string, where map[string]any) Selector {
	allowed := FieldAllowlist[collection]
	return compileNode(where, allowed)
}

func compileNode(node map[string]any, allowed []string) Selector {
	sel := Selector{}
	if node == nil {
		return sel
	}

	for _, logical := range []string{"and", "or"} {
		children, ok := node[logical].([]any)
		if !ok {
			continue
		}
		compiled := make([]any, 0, len(children))
		for _, child := range children {
			if m, ok := child.(map[string]any); ok {
				compiled = append(compiled, compileNode(m, allowed))
			}
		}
		sel["$"+logical] = compiled
	}

	for field, v := range node {
		if field == "and" || field == "or" || !slices.Contains(allowed, field) {
			continue
		}
		cond, isMap := v.(map[string]any)
		if !isMap {
			sel[field] = v
			continue
		}
		ops := map[string]any{}
		for _, op := range whereOps {
			arg, present := cond[op]
			if !present {
				continue
			}
			if op == "in" || op == "nin" {
				if _, isList := arg.([]any); !isList {
					arg = []any{arg}
				}
			}
			ops["$"+op] = arg
		}
		if len(ops) > 0 {
			sel[field] = ops
		}
	}
	return sel
}
