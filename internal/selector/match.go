// ABOUTME: In-process evaluation of selectors against decoded documents.
// ABOUTME: Time and YYYY-MM-DD string values only compare with their own kind.

package selector

import (
	"regexp"
	"strings"
	"time"
)

// Match reports whether doc satisfies sel. Field names may be dotted paths.
func Match(doc map[string]any, sel Selector) bool {
	for key, cond := range sel {
		switch key {
		case "$or":
			if !matchAny(doc, cond) {
				return false
			}
		case "$and":
			if !matchAll(doc, cond) {
				return false
			}
		default:
			v, present := field(doc, key)
			if !matchCondition(v, present, cond) {
				return false
			}
		}
	}
	return true
}

func subSelectors(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func matchAny(doc map[string]any, v any) bool {
	subs := subSelectors(v)
	if len(subs) == 0 {
		return true
	}
	for _, s := range subs {
		if Match(doc, s) {
			return true
		}
	}
	return false
}

func matchAll(doc map[string]any, v any) bool {
	for _, s := range subSelectors(v) {
		if !Match(doc, s) {
			return false
		}
	}
	return true
}

func field(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// isOperatorMap reports whether cond is {"$op": arg, ...}.
func isOperatorMap(cond any) (map[string]any, bool) {
	m, ok := cond.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func matchCondition(v any, present bool, cond any) bool {
	ops, ok := isOperatorMap(cond)
	if !ok {
		return present && equalOrContains(v, cond)
	}

	for op, arg := range ops {
		var pass bool
		switch op {
		case "$eq":
			pass = present && equalOrContains(v, arg)
		case "$ne":
			pass = !present || !equalOrContains(v, arg)
		case "$lt", "$lte", "$gt", "$gte":
			pass = present && compareOp(op, v, arg)
		case "$in":
			pass = present && inList(v, arg)
		case "$nin":
			pass = !present || !inList(v, arg)
		case "$exists":
			want, _ := arg.(bool)
			pass = present == want
		case "$regex":
			pass = present && regexMatch(v, arg, ops["$options"])
		case "$options":
			pass = true
		default:
			pass = false
		}
		if !pass {
			return false
		}
	}
	return true
}

// equalOrContains treats array fields as matching when any element equals want.
func equalOrContains(v, want any) bool {
	if list, ok := v.([]any); ok {
		if _, wantList := want.([]any); !wantList {
			for _, item := range list {
				if equal(item, want) {
					return true
				}
			}
			return false
		}
	}
	return equal(v, want)
}

func inList(v, arg any) bool {
	list, ok := arg.([]any)
	if !ok {
		list = []any{arg}
	}
	for _, want := range list {
		if equalOrContains(v, want) {
			return true
		}
	}
	return false
}

func equal(a, b any) bool {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		return ok && fa == fb
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// compare orders two values of the same kind; ok is false across kinds.
func compare(a, b any) (int, bool) {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

func compareOp(op string, v, arg any) bool {
	c, ok := compare(v, arg)
	if !ok {
		return false
	}
	switch op {
	case "$lt":
		return c < 0
	case "$lte":
		return c <= 0
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	}
	return false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func regexMatch(v, pattern, options any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	expr, ok := pattern.(string)
	if !ok {
		return false
	}
	if opts, _ := options.(string); strings.Contains(opts, "i") {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
