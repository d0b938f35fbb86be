// ABOUTME: Builders turning tool arguments into document query selectors.
// ABOUTME: Selectors use Mongo-style operators so any document source can evaluate them.

package selector

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Selector is a document filter: field -> literal or operator map, plus $and/$or.
type Selector = map[string]any

// StatusDone is the task status excluded by open-task selectors.
const StatusDone = "done"

// DateLayout is the date-only representation some documents store deadlines in.
const DateLayout = "2006-01-02"

// DeadlineField is the task field date selectors compare against.
const DeadlineField = "deadline"

// notDone excludes completed tasks.
func notDone() map[string]any {
	return map[string]any{"$ne": StatusDone}
}

// DueBefore matches field <= t whether the field holds a native time or a
// YYYY-MM-DD string, by OR-ing both comparisons.
func DueBefore(field string, t time.Time) Selector {
	return Selector{
		"$or": []any{
			map[string]any{field: map[string]any{"$lte": t}},
			map[string]any{field: map[string]any{"$lte": t.UTC().Format(DateLayout)}},
		},
	}
}

// ParseTime accepts RFC 3339 timestamps, local date-times and bare dates.
func ParseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", DateLayout} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// TaskSearch holds the arguments of a task listing.
type TaskSearch struct {
	ProjectID string
	Status    string
	DueBefore string
}

// Tasks builds a task selector. Blank fields and unparseable dates are ignored.
func Tasks(search TaskSearch) Selector {
	sel := Selector{}
	if id := strings.TrimSpace(search.ProjectID); id != "" {
		sel["projectId"] = id
	}
	if status := strings.TrimSpace(search.Status); status != "" {
		sel["status"] = status
	}
	if t, ok := ParseTime(search.DueBefore); ok {
		sel["$or"] = DueBefore(DeadlineField, t)["$or"]
	}
	return sel
}

// Overdue matches open tasks whose deadline is at or before now.
func Overdue(now time.Time) Selector {
	return Selector{
		"status": notDone(),
		"$or":    DueBefore(DeadlineField, now)["$or"],
	}
}

// ByProject matches tasks of a project. The id is trimmed; a blank id adds no
// project condition.
func ByProject(projectID string, excludeDone bool) Selector {
	sel := Selector{}
	if id := strings.TrimSpace(projectID); id != "" {
		sel["projectId"] = id
	}
	if excludeDone {
		sel["status"] = notDone()
	}
	return sel
}

// Filter maps named task filters onto exact-match fields. Filters that are not
// supplied are omitted.
func Filter(args map[string]any) Selector {
	sel := Selector{}
	for arg, field := range map[string]string{"projectId": "projectId", "status": "status", "tag": "tags"} {
		if s := stringArg(args[arg]); s != "" {
			sel[field] = s
		}
	}
	for arg, field := range map[string]string{"important": "isImportant", "urgent": "isUrgent"} {
		if b, ok := boolArg(args[arg]); ok {
			sel[field] = b
		}
	}
	return sel
}

// NameMatch builds a case-insensitive, fully anchored exact match on field. Regular
// expression metacharacters in raw are matched literally.
func NameMatch(field, raw string) Selector {
	name := strings.TrimSpace(raw)
	if name == "" {
		return Selector{}
	}
	return Selector{
		field: map[string]any{
			"$regex":   "^" + regexp.QuoteMeta(name) + "$",
			"$options": "i",
		},
	}
}

func stringArg(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// boolArg accepts booleans and the strings "true"/"false"/"1"/"0".
func boolArg(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
	case float64:
		if t == 1 {
			return true, true
		}
		if t == 0 {
			return false, true
		}
	}
	return false, false
}
