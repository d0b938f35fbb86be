// ABOUTME: Tests for the workspace tool handlers over an in-memory document store.
// ABOUTME: Checks selector-backed reads, memory folding and the task/note write tools.

package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/panorama/internal/memory"
	"github.com/2389/panorama/internal/middleware"
	"github.com/2389/panorama/internal/store"
)

var fixedNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	docs *store.MockStore
	reg  *Registry
	ws   *Workspace
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{docs: store.NewMockStore(), reg: NewRegistry(nil)}
	f.ws = &Workspace{Docs: f.docs, Specs: f.reg.Specs, Now: func() time.Time { return fixedNow }}
	require.NoError(t, f.reg.RegisterPack(WorkspacePack(f.ws)))
	return f
}

func (f *fixture) insert(t *testing.T, collection, id string, data map[string]any, offset time.Duration) {
	t.Helper()
	require.NoError(t, f.docs.InsertDocument(context.Background(), &store.Document{
		ID:         id,
		Collection: collection,
		Data:       data,
		CreatedAt:  fixedNow.Add(offset),
	}))
}

func (f *fixture) call(t *testing.T, tool string, args map[string]any, mem *memory.Memory) (map[string]any, error) {
	t.Helper()
	tl, err := f.reg.Get(tool)
	require.NoError(t, err)
	res, err := tl.Handler(context.Background(), args, mem)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Output), &out))
	return out, nil
}

func (f *fixture) seed(t *testing.T) {
	f.insert(t, CollProjects, "p42", map[string]any{"name": "Panorama", "description": "Assistant"}, 0)
	f.insert(t, CollProjects, "p7", map[string]any{"name": "a.b*", "description": "Literal"}, time.Minute)
	f.insert(t, CollTasks, "t1", map[string]any{"title": "Write report", "projectId": "p42", "status": "todo", "deadline": "2025-05-30", "tags": []any{"work"}, "isUrgent": true}, 0)
	f.insert(t, CollTasks, "t2", map[string]any{"title": "Ship", "projectId": "p42", "status": "done", "deadline": "2025-05-01"}, time.Minute)
	f.insert(t, CollTasks, "t3", map[string]any{"title": "Plan", "projectId": "p7", "status": "doing", "deadline": fixedNow.Add(48 * time.Hour)}, 2*time.Minute)
	f.insert(t, CollNotes, "n1", map[string]any{"title": "Kickoff", "content": "Agenda", "projectId": "p42"}, 0)
	f.insert(t, CollNoteSessions, "s1", map[string]any{"name": "Standup", "projectId": "p42"}, 0)
	f.insert(t, CollNoteLines, "l1", map[string]any{"content": "first line", "sessionId": "s1"}, 0)
	f.insert(t, CollLinks, "k1", map[string]any{"name": "Docs", "url": "https://example.com", "projectId": "p42"}, 0)
	f.insert(t, CollAlarms, "a1", map[string]any{"title": "Wake", "enabled": true}, 0)
	f.insert(t, CollAlarms, "a2", map[string]any{"title": "Nap", "enabled": false}, time.Minute)
}

func TestWorkspacePack_CoversBuiltinCatalog(t *testing.T) {
	f := newFixture(t)
	assert.Len(t, f.reg.Tools(), 21)
	assert.Equal(t, f.reg.Catalog().Names(), func() []string {
		var names []string
		for _, s := range f.reg.Specs() {
			names = append(names, s.Name)
		}
		return names
	}())
}

func TestTasksByProject(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	mem := memory.New()

	out, err := f.call(t, "tool_tasksByProject", map[string]any{"projectId": " p42 "}, mem)
	require.NoError(t, err)
	assert.Equal(t, float64(1), out["total"])

	require.Len(t, mem.Lists["tasks"], 1)
	task := mem.Lists["tasks"][0]
	assert.Equal(t, "t1", task["id"])
	assert.Equal(t, true, task["isUrgent"])
	assert.Equal(t, false, task["isImportant"])
	assert.True(t, memory.Evaluate([]string{"lists.tasks"}, mem))
}

func TestTasks_DefaultsToOpen(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	mem := memory.New()

	out, err := f.call(t, "tool_tasks", map[string]any{"dueBefore": "2025-06-01"}, mem)
	require.NoError(t, err)
	assert.Equal(t, float64(1), out["total"])
	assert.Equal(t, "t1", mem.Lists["tasks"][0]["id"])

	_, err = f.call(t, "tool_tasks", map[string]any{"status": "done"}, mem)
	require.NoError(t, err)
	require.Len(t, mem.Lists["tasks"], 1)
	assert.Equal(t, "t2", mem.Lists["tasks"][0]["id"])
}

func TestOverdue(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	mem := memory.New()

	_, err := f.call(t, "tool_overdue", nil, mem)
	require.NoError(t, err)
	require.Len(t, mem.Lists["tasks"], 1)
	assert.Equal(t, "t1", mem.Lists["tasks"][0]["id"])

	_, err = f.call(t, "tool_overdue", map[string]any{"now": "2025-06-04T00:00:00Z"}, mem)
	require.NoError(t, err)
	assert.Len(t, mem.Lists["tasks"], 2)
}

func TestTasksFilter(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	mem := memory.New()

	_, err := f.call(t, "tool_tasksFilter", map[string]any{"tag": "work", "urgent": "true"}, mem)
	require.NoError(t, err)
	require.Len(t, mem.Lists["tasks"], 1)
	assert.Equal(t, "t1", mem.Lists["tasks"][0]["id"])
}

func TestProjectByName(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	t.Run("case insensitive", func(t *testing.T) {
		mem := memory.New()
		out, err := f.call(t, "tool_projectByName", map[string]any{"name": "panorama"}, mem)
		require.NoError(t, err)
		project := out["project"].(map[string]any)
		assert.Equal(t, "p42", project["id"])
		assert.Equal(t, "p42", mem.IDs["projectId"])
		assert.Equal(t, "Panorama", mem.Entities["project"]["name"])
	})

	t.Run("metacharacters are literal", func(t *testing.T) {
		mem := memory.New()
		out, err := f.call(t, "tool_projectByName", map[string]any{"name": "A.B*"}, mem)
		require.NoError(t, err)
		assert.Equal(t, "p7", out["project"].(map[string]any)["id"])

		out, err = f.call(t, "tool_projectByName", map[string]any{"name": "axbb"}, memory.New())
		require.NoError(t, err)
		assert.Nil(t, out["project"])
	})

	t.Run("blank name", func(t *testing.T) {
		out, err := f.call(t, "tool_projectByName", map[string]any{"name": "  "}, nil)
		require.NoError(t, err)
		assert.Nil(t, out["project"])
	})
}

func TestCollectionQuery(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	t.Run("where and select", func(t *testing.T) {
		mem := memory.New()
		out, err := f.call(t, "tool_collectionQuery", map[string]any{
			"collection": "tasks",
			"where":      map[string]any{"status": map[string]any{"ne": "done"}, "secret": "x"},
			"select":     []any{"title", "password"},
		}, mem)
		require.NoError(t, err)
		assert.Equal(t, float64(2), out["total"])
		require.Len(t, mem.Lists["tasks"], 2)
		assert.Equal(t, memory.Doc{"id": "t1", "title": "Write report"}, mem.Lists["tasks"][0])
	})

	t.Run("limit", func(t *testing.T) {
		mem := memory.New()
		_, err := f.call(t, "tool_collectionQuery", map[string]any{"collection": "tasks", "limit": float64(1)}, mem)
		require.NoError(t, err)
		require.Len(t, mem.Lists["tasks"], 1)
		assert.Equal(t, "t1", mem.Lists["tasks"][0]["id"])
		assert.NotContains(t, mem.Lists["tasks"][0], store.FieldID)
	})

	t.Run("unsupported collection", func(t *testing.T) {
		_, err := f.call(t, "tool_collectionQuery", map[string]any{"collection": "users"}, nil)
		assert.ErrorIs(t, err, ErrUnsupportedCollection)
	})
}

func TestProjectScopedLists(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	mem := memory.New()

	cases := []struct {
		tool    string
		args    map[string]any
		outKey  string
		listKey string
	}{
		{"tool_notesByProject", map[string]any{"projectId": "p42"}, "notes", CollNotes},
		{"tool_noteSessionsByProject", map[string]any{"projectId": "p42"}, "sessions", CollNoteSessions},
		{"tool_noteLinesBySession", map[string]any{"sessionId": "s1"}, "lines", CollNoteLines},
		{"tool_linksByProject", map[string]any{"projectId": "p42"}, "links", CollLinks},
	}
	for _, tc := range cases {
		t.Run(tc.tool, func(t *testing.T) {
			out, err := f.call(t, tc.tool, tc.args, mem)
			require.NoError(t, err)
			assert.Equal(t, float64(1), out["total"])
			assert.Len(t, out[tc.outKey], 1)
			assert.Len(t, mem.Lists[tc.listKey], 1)
		})
	}

	out, err := f.call(t, "tool_filesByProject", map[string]any{"projectId": "p42"}, mem)
	require.NoError(t, err)
	assert.Equal(t, float64(0), out["total"])
	assert.False(t, memory.Evaluate([]string{"lists.files"}, mem))
}

func TestAlarmsList(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	out, err := f.call(t, "tool_alarmsList", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(2), out["total"])

	mem := memory.New()
	out, err = f.call(t, "tool_alarmsList", map[string]any{"enabled": true}, mem)
	require.NoError(t, err)
	assert.Equal(t, float64(1), out["total"])
	assert.Equal(t, "Wake", mem.Lists[CollAlarms][0]["title"])
}

func TestNoteByID(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	mem := memory.New()

	out, err := f.call(t, "tool_noteById", map[string]any{"noteId": "n1"}, mem)
	require.NoError(t, err)
	note := out["note"].(map[string]any)
	assert.Equal(t, "Agenda", note["content"])
	assert.Equal(t, "Kickoff", mem.Entities["note"]["title"])

	out, err = f.call(t, "tool_noteById", map[string]any{"noteId": "missing"}, nil)
	require.NoError(t, err)
	assert.Nil(t, out["note"])
}

func TestListTools(t *testing.T) {
	f := newFixture(t)
	mem := memory.New()

	out, err := f.call(t, "tool_listTools", nil, mem)
	require.NoError(t, err)
	assert.Equal(t, float64(21), out["total"])
	require.Len(t, mem.Lists["tools"], 21)

	var byProject memory.Doc
	for _, tool := range mem.Lists["tools"] {
		if tool["name"] == "tool_tasksByProject" {
			byProject = tool
		}
	}
	require.NotNil(t, byProject)
	assert.Equal(t, []any{"projectId"}, byProject["required"])
	assert.Equal(t, true, byProject["readOnly"])
}

func TestTaskWrites(t *testing.T) {
	f := newFixture(t)
	mem := memory.New()

	out, err := f.call(t, "tool_createTask", map[string]any{"title": " Draft spec ", "projectId": "p42", "deadline": "2025-06-10"}, mem)
	require.NoError(t, err)
	id, _ := out["taskId"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, id, mem.IDs["taskId"])

	doc, err := f.docs.GetDocument(context.Background(), CollTasks, id)
	require.NoError(t, err)
	assert.Equal(t, "Draft spec", doc.Data["title"])
	assert.Equal(t, "todo", doc.Data["status"])
	assert.Equal(t, "2025-06-10", doc.Data["deadline"])

	_, err = f.call(t, "tool_updateTask", map[string]any{"taskId": id, "status": "done", "deadline": "2025-06-12T15:00:00Z"}, mem)
	require.NoError(t, err)
	doc, err = f.docs.GetDocument(context.Background(), CollTasks, id)
	require.NoError(t, err)
	assert.Equal(t, "done", doc.Data["status"])
	assert.IsType(t, time.Time{}, doc.Data["deadline"])

	_, err = f.call(t, "tool_updateTask", map[string]any{"taskId": id}, mem)
	assert.ErrorIs(t, err, ErrNoFieldsToUpdate)

	_, err = f.call(t, "tool_updateTask", map[string]any{"taskId": "nope", "title": "x"}, mem)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.call(t, "tool_createTask", map[string]any{"title": "x", "deadline": "someday"}, mem)
	assert.ErrorContains(t, err, "invalid deadline")

	_, err = f.call(t, "tool_createTask", map[string]any{"title": "  "}, mem)
	assert.ErrorContains(t, err, "title is required")
}

func TestNoteWrites(t *testing.T) {
	f := newFixture(t)
	mem := memory.New()

	out, err := f.call(t, "tool_createNote", map[string]any{"title": "Ideas", "content": "one"}, mem)
	require.NoError(t, err)
	id := out["noteId"].(string)
	assert.Nil(t, out["projectId"])

	_, err = f.call(t, "tool_updateNote", map[string]any{"noteId": id, "content": ""}, mem)
	require.NoError(t, err)
	doc, err := f.docs.GetDocument(context.Background(), CollNotes, id)
	require.NoError(t, err)
	assert.Equal(t, "", doc.Data["content"])
	assert.Equal(t, id, mem.IDs["noteId"])

	_, err = f.call(t, "tool_updateNote", map[string]any{"noteId": id}, mem)
	assert.ErrorIs(t, err, ErrNoFieldsToUpdate)
}

func TestHandlersTolerateNilMemory(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	for _, tool := range []string{"tool_projectsList", "tool_peopleList", "tool_teamsList", "tool_tasksByProject"} {
		tl, err := f.reg.Get(tool)
		require.NoError(t, err)
		res, err := tl.Handler(context.Background(), map[string]any{"projectId": "p42"}, nil)
		require.NoError(t, err, tool)
		assert.IsType(t, &middleware.Result{}, res)
	}
}

func TestClampText(t *testing.T) {
	assert.Equal(t, "short", clampText("short", 10))
	assert.Equal(t, "abcd…", clampText("abcdefgh", 5))
}
