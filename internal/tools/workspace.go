// ABOUTME: Workspace tools: selector-backed reads and task/note writes over the document store.
// ABOUTME: Each handler folds its results into episode memory for binding and stop conditions.

package tools

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/2389/panorama/internal/catalog"
	"github.com/2389/panorama/internal/memory"
	"github.com/2389/panorama/internal/middleware"
	"github.com/2389/panorama/internal/selector"
	"github.com/2389/panorama/internal/store"
)

// WorkspacePackID identifies the built-in workspace tools.
const WorkspacePackID = "builtin:workspace"

// Collection names
const (
	CollTasks        = "tasks"
	CollProjects     = "projects"
	CollNotes        = "notes"
	CollNoteSessions = "noteSessions"
	CollNoteLines    = "noteLines"
	CollLinks        = "links"
	CollFiles        = "files"
	CollPeople       = "people"
	CollTeams        = "teams"
	CollAlarms       = "alarms"
)

// Collection query limits
const (
	defaultQueryLimit = 50
	maxQueryLimit     = 200
)

// ErrUnsupportedCollection is returned by collection queries outside the allowlist.
var ErrUnsupportedCollection = errors.New("unsupported collection")

// ErrNoFieldsToUpdate is returned by update tools given nothing to change.
var ErrNoFieldsToUpdate = errors.New("no fields to update")

// Workspace holds the dependencies of the workspace tools.
type Workspace struct {
	Docs store.DocumentStore
	// Specs lists the tools reported by tool_listTools.
	Specs func() []*catalog.Spec
	Now   func() time.Time
}

// WorkspacePack builds the workspace tool pack. Specs come from catalog.Builtin;
// a spec without a handler here is skipped.
func WorkspacePack(w *Workspace) *Pack {
	if w.Now == nil {
		w.Now = time.Now
	}
	handlers := map[string]middleware.Handler{
		"tool_listTools":             w.listTools,
		"tool_tasks":                 w.tasks,
		"tool_overdue":               w.overdue,
		"tool_tasksByProject":        w.tasksByProject,
		"tool_tasksFilter":           w.tasksFilter,
		"tool_projectsList":          w.projectsList,
		"tool_projectByName":         w.projectByName,
		"tool_collectionQuery":       w.collectionQuery,
		"tool_notesByProject":        w.notesByProject,
		"tool_noteById":              w.noteByID,
		"tool_noteSessionsByProject": w.noteSessionsByProject,
		"tool_noteLinesBySession":    w.noteLinesBySession,
		"tool_linksByProject":        w.linksByProject,
		"tool_filesByProject":        w.filesByProject,
		"tool_peopleList":            w.peopleList,
		"tool_teamsList":             w.teamsList,
		"tool_alarmsList":            w.alarmsList,
		"tool_createTask":            w.createTask,
		"tool_updateTask":            w.updateTask,
		"tool_createNote":            w.createNote,
		"tool_updateNote":            w.updateNote,
	}

	pack := &Pack{ID: WorkspacePackID}
	for _, spec := range catalog.Builtin() {
		if h, ok := handlers[spec.Name]; ok {
			pack.Tools = append(pack.Tools, &Tool{Spec: spec, Handler: h})
		}
	}
	return pack
}

// find runs sel over collection and maps every document with shape.
func (w *Workspace) find(ctx context.Context, collection string, sel selector.Selector, opts store.FindOptions, shape func(store.Document) memory.Doc) ([]memory.Doc, error) {
	docs, err := w.Docs.FindDocuments(ctx, collection, sel, opts)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	out := make([]memory.Doc, len(docs))
	for i, d := range docs {
		out[i] = shape(d)
	}
	return out, nil
}

// listResult stores items in memory under listKey and renders {outKey: items, total}.
func listResult(mem *memory.Memory, listKey, outKey string, items []memory.Doc) (*middleware.Result, error) {
	mem.SetList(listKey, items)
	return jsonResult(map[string]any{outKey: items, "total": len(items)})
}

func text(d store.Document, field string) string {
	s, _ := d.Data[field].(string)
	return s
}

func flag(d store.Document, field string) bool {
	b, _ := d.Data[field].(bool)
	return b
}

func orNil(v any) any {
	if s, ok := v.(string); ok && s == "" {
		return nil
	}
	return v
}

func taskShape(d store.Document) memory.Doc {
	status := text(d, "status")
	if status == "" {
		status = "todo"
	}
	return memory.Doc{
		"id":          d.ID,
		"projectId":   orNil(d.Data["projectId"]),
		"title":       clampText(text(d, "title"), maxText),
		"notes":       text(d, "notes"),
		"status":      status,
		"deadline":    orNil(d.Data["deadline"]),
		"isUrgent":    flag(d, "isUrgent"),
		"isImportant": flag(d, "isImportant"),
	}
}

// namedShape renders {id, <field>: clamped text}.
func namedShape(field string) func(store.Document) memory.Doc {
	return func(d store.Document) memory.Doc {
		return memory.Doc{"id": d.ID, field: clampText(text(d, field), maxText)}
	}
}

func (w *Workspace) listTools(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	var specs []*catalog.Spec
	if w.Specs != nil {
		specs = w.Specs()
	}
	items := make([]memory.Doc, 0, len(specs))
	for _, s := range specs {
		params := make([]any, len(s.Params))
		for i, p := range s.Params {
			params[i] = p.Name
		}
		required := make([]any, len(s.RequiredArgs))
		for i, r := range s.RequiredArgs {
			required[i] = r
		}
		items = append(items, memory.Doc{
			"name":        s.Name,
			"description": s.Description,
			"parameters":  params,
			"required":    required,
			"readOnly":    s.ReadOnly,
		})
	}
	return listResult(mem, "tools", "tools", items)
}

// openTasks queries tasks ordered by deadline.
func (w *Workspace) openTasks(ctx context.Context, sel selector.Selector, mem *memory.Memory) (*middleware.Result, error) {
	items, err := w.find(ctx, CollTasks, sel, store.FindOptions{SortField: selector.DeadlineField}, taskShape)
	if err != nil {
		return nil, err
	}
	return listResult(mem, CollTasks, "tasks", items)
}

func (w *Workspace) tasks(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	sel := selector.Tasks(selector.TaskSearch{
		ProjectID: str(args, "projectId"),
		Status:    str(args, "status"),
		DueBefore: str(args, "dueBefore"),
	})
	if _, hasStatus := sel["status"]; !hasStatus {
		sel["status"] = map[string]any{"$ne": selector.StatusDone}
	}
	return w.openTasks(ctx, sel, mem)
}

func (w *Workspace) overdue(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	now := w.Now()
	if t, ok := selector.ParseTime(str(args, "now")); ok {
		now = t
	}
	return w.openTasks(ctx, selector.Overdue(now), mem)
}

func (w *Workspace) tasksByProject(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	return w.openTasks(ctx, selector.ByProject(str(args, "projectId"), true), mem)
}

func (w *Workspace) tasksFilter(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	return w.openTasks(ctx, selector.Filter(args), mem)
}

func projectShape(d store.Document) memory.Doc {
	return memory.Doc{
		"id":          d.ID,
		"name":        clampText(text(d, "name"), maxText),
		"description": clampText(text(d, "description"), maxText),
	}
}

func (w *Workspace) projectsList(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	items, err := w.find(ctx, CollProjects, selector.Selector{}, store.FindOptions{SortField: "name"}, projectShape)
	if err != nil {
		return nil, err
	}
	return listResult(mem, CollProjects, "projects", items)
}

func (w *Workspace) projectByName(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	sel := selector.NameMatch("name", str(args, "name"))
	if len(sel) == 0 {
		return jsonResult(map[string]any{"project": nil})
	}
	docs, err := w.Docs.FindDocuments(ctx, CollProjects, sel, store.FindOptions{Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	if len(docs) == 0 {
		return jsonResult(map[string]any{"project": nil})
	}

	p := docs[0]
	mem.SetID("projectId", p.ID)
	mem.SetEntity("project", memory.Doc{"name": text(p, "name"), "description": text(p, "description")})
	return jsonResult(map[string]any{"project": projectShape(p)})
}

func (w *Workspace) collectionQuery(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	collection := strings.TrimSpace(str(args, "collection"))
	allowed, ok := selector.FieldAllowlist[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCollection, collection)
	}

	where, _ := args["where"].(map[string]any)
	sel := selector.Compile(collection, where)

	var fields []string
	if list, ok := args["select"].([]any); ok {
		for _, f := range list {
			if name, ok := f.(string); ok && slices.Contains(allowed, name) {
				fields = append(fields, name)
			}
		}
	}

	limit := defaultQueryLimit
	if n, ok := args["limit"].(float64); ok && n >= 1 {
		limit = min(int(n), maxQueryLimit)
	}

	items, err := w.find(ctx, collection, sel, store.FindOptions{Limit: limit}, func(d store.Document) memory.Doc {
		if len(fields) == 0 {
			out := maps.Clone(d.Data)
			delete(out, store.FieldID)
			out["id"] = d.ID
			return out
		}
		out := memory.Doc{"id": d.ID}
		for _, f := range fields {
			if v, ok := d.Data[f]; ok {
				out[f] = v
			}
		}
		return out
	})
	if err != nil {
		return nil, err
	}
	key := selector.ListKey(collection)
	return listResult(mem, key, key, items)
}

// byField lists collection documents whose field equals the trimmed argument.
func (w *Workspace) byField(ctx context.Context, args map[string]any, mem *memory.Memory, collection, field, outKey string, shape func(store.Document) memory.Doc) (*middleware.Result, error) {
	sel := selector.Selector{field: strings.TrimSpace(str(args, field))}
	items, err := w.find(ctx, collection, sel, store.FindOptions{}, shape)
	if err != nil {
		return nil, err
	}
	return listResult(mem, collection, outKey, items)
}

func (w *Workspace) notesByProject(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	return w.byField(ctx, args, mem, CollNotes, "projectId", "notes", namedShape("title"))
}

func (w *Workspace) noteByID(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	id := strings.TrimSpace(str(args, "noteId"))
	doc, err := w.Docs.GetDocument(ctx, CollNotes, id)
	if errors.Is(err, store.ErrNotFound) {
		return jsonResult(map[string]any{"note": nil})
	}
	if err != nil {
		return nil, fmt.Errorf("getting note: %w", err)
	}

	note := memory.Doc{
		"id":        doc.ID,
		"title":     text(*doc, "title"),
		"content":   text(*doc, "content"),
		"projectId": orNil(doc.Data["projectId"]),
		"createdAt": doc.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt": doc.UpdatedAt.UTC().Format(time.RFC3339),
	}
	mem.SetEntity("note", note)
	return jsonResult(map[string]any{"note": note})
}

func (w *Workspace) noteSessionsByProject(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	return w.byField(ctx, args, mem, CollNoteSessions, "projectId", "sessions", namedShape("name"))
}

func (w *Workspace) noteLinesBySession(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	return w.byField(ctx, args, mem, CollNoteLines, "sessionId", "lines", namedShape("content"))
}

func (w *Workspace) linksByProject(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	return w.byField(ctx, args, mem, CollLinks, "projectId", "links", func(d store.Document) memory.Doc {
		return memory.Doc{"id": d.ID, "name": clampText(text(d, "name"), maxText), "url": orNil(d.Data["url"])}
	})
}

func (w *Workspace) filesByProject(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	return w.byField(ctx, args, mem, CollFiles, "projectId", "files", namedShape("name"))
}

// all lists every document of collection.
func (w *Workspace) all(ctx context.Context, mem *memory.Memory, collection string, sel selector.Selector, shape func(store.Document) memory.Doc) (*middleware.Result, error) {
	items, err := w.find(ctx, collection, sel, store.FindOptions{}, shape)
	if err != nil {
		return nil, err
	}
	return listResult(mem, collection, collection, items)
}

func (w *Workspace) peopleList(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	return w.all(ctx, mem, CollPeople, selector.Selector{}, namedShape("name"))
}

func (w *Workspace) teamsList(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	return w.all(ctx, mem, CollTeams, selector.Selector{}, namedShape("name"))
}

func (w *Workspace) alarmsList(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	sel := selector.Selector{}
	if enabled, ok := args["enabled"].(bool); ok {
		sel["enabled"] = enabled
	}
	return w.all(ctx, mem, CollAlarms, sel, namedShape("title"))
}

// deadlineValue stores bare dates as YYYY-MM-DD strings and full timestamps as times.
func deadlineValue(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if _, err := time.Parse(selector.DateLayout, raw); err == nil {
		return raw, nil
	}
	if t, ok := selector.ParseTime(raw); ok {
		return t.UTC(), nil
	}
	return nil, fmt.Errorf("invalid deadline %q", raw)
}

func (w *Workspace) createTask(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	title := strings.TrimSpace(str(args, "title"))
	if title == "" {
		return nil, errors.New("title is required")
	}

	data := map[string]any{"title": title, "status": "todo"}
	if s := strings.TrimSpace(str(args, "status")); s != "" {
		data["status"] = s
	}
	if p := strings.TrimSpace(str(args, "projectId")); p != "" {
		data["projectId"] = p
	}
	if n := str(args, "notes"); n != "" {
		data["notes"] = n
	}
	if d := str(args, "deadline"); strings.TrimSpace(d) != "" {
		v, err := deadlineValue(d)
		if err != nil {
			return nil, err
		}
		data["deadline"] = v
	}
	for _, f := range []string{"isUrgent", "isImportant"} {
		if b, ok := args[f].(bool); ok {
			data[f] = b
		}
	}

	doc := &store.Document{Collection: CollTasks, Data: data}
	if err := w.Docs.InsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}

	mem.SetID("taskId", doc.ID)
	return jsonResult(map[string]any{"taskId": doc.ID, "title": title, "projectId": orNil(data["projectId"])})
}

func (w *Workspace) updateTask(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	id := strings.TrimSpace(str(args, "taskId"))
	if id == "" {
		return nil, errors.New("taskId is required")
	}

	fields := map[string]any{}
	if t := str(args, "title"); t != "" {
		fields["title"] = t
	}
	if _, ok := args["notes"]; ok {
		fields["notes"] = str(args, "notes")
	}
	if s := str(args, "status"); s != "" {
		fields["status"] = s
	}
	if _, ok := args["deadline"]; ok {
		fields["deadline"] = nil
		if d := str(args, "deadline"); strings.TrimSpace(d) != "" {
			v, err := deadlineValue(d)
			if err != nil {
				return nil, err
			}
			fields["deadline"] = v
		}
	}
	if _, ok := args["projectId"]; ok {
		fields["projectId"] = orNil(strings.TrimSpace(str(args, "projectId")))
	}
	for _, f := range []string{"isUrgent", "isImportant"} {
		if b, ok := args[f].(bool); ok {
			fields[f] = b
		}
	}
	if len(fields) == 0 {
		return nil, ErrNoFieldsToUpdate
	}

	if _, err := w.Docs.UpdateDocument(ctx, CollTasks, id, fields); err != nil {
		return nil, fmt.Errorf("updating task %s: %w", id, err)
	}
	mem.SetID("taskId", id)
	return jsonResult(map[string]any{"updated": true, "taskId": id})
}

func (w *Workspace) createNote(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	title := strings.TrimSpace(str(args, "title"))
	if title == "" {
		return nil, errors.New("title is required")
	}

	data := map[string]any{"title": title}
	if c := str(args, "content"); c != "" {
		data["content"] = c
	}
	if p := strings.TrimSpace(str(args, "projectId")); p != "" {
		data["projectId"] = p
	}

	doc := &store.Document{Collection: CollNotes, Data: data}
	if err := w.Docs.InsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("creating note: %w", err)
	}

	mem.SetID("noteId", doc.ID)
	return jsonResult(map[string]any{"noteId": doc.ID, "title": title, "projectId": orNil(data["projectId"])})
}

func (w *Workspace) updateNote(ctx context.Context, args map[string]any, mem *memory.Memory) (*middleware.Result, error) {
	id := strings.TrimSpace(str(args, "noteId"))
	if id == "" {
		return nil, errors.New("noteId is required")
	}

	fields := map[string]any{}
	if t := str(args, "title"); t != "" {
		fields["title"] = t
	}
	if _, ok := args["content"]; ok {
		fields["content"] = str(args, "content")
	}
	if _, ok := args["projectId"]; ok {
		fields["projectId"] = orNil(strings.TrimSpace(str(args, "projectId")))
	}
	if len(fields) == 0 {
		return nil, ErrNoFieldsToUpdate
	}

	if _, err := w.Docs.UpdateDocument(ctx, CollNotes, id, fields); err != nil {
		return nil, fmt.Errorf("updating note %s: %w", id, err)
	}
	mem.SetID("noteId", id)
	return jsonResult(map[string]any{"updated": true, "noteId": id})
}
