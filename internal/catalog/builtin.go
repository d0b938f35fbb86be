// ABOUTME: Built-in workspace tool definitions: task, project, note and reference lookups
// ABOUTME: plus the task and note write tools.

package catalog

// Memory paths tools are implicitly scoped by.
const (
	ScopeProject = "ids.projectId"
	ScopeSession = "ids.sessionId"
)

var byProject = map[string]string{"projectId": ScopeProject}

func projectParam() Param {
	return Param{Name: "projectId", Type: "string", Description: "Project id"}
}

// Builtin returns the workspace tool specs.
func Builtin() []*Spec {
	return []*Spec{
		{
			Name:        "tool_listTools",
			Description: "List available tools with their parameters.",
			ReadOnly:    true,
		},
		{
			Name:        "tool_tasks",
			Description: "List non-completed tasks filtered by deadline upper bound and/or project.",
			Params: []Param{
				{Name: "dueBefore", Type: "string", Description: "ISO date/time upper bound for deadline"},
				projectParam(),
				{Name: "status", Type: "string", Enum: []string{"todo", "doing", "done"}},
			},
			ReadOnly: true,
		},
		{
			Name:        "tool_overdue",
			Description: "Return non-completed tasks with deadline <= now.",
			Params:      []Param{{Name: "now", Type: "string", Description: "ISO date/time, defaults to the current time"}},
			ReadOnly:    true,
		},
		{
			Name:         "tool_tasksByProject",
			Description:  "Return non-completed tasks for a project.",
			Params:       []Param{projectParam()},
			RequiredArgs: []string{"projectId"},
			ReadOnly:     true,
			Scope:        byProject,
		},
		{
			Name:        "tool_tasksFilter",
			Description: "Return tasks filtered by status, tag, project or flags.",
			Params: []Param{
				projectParam(),
				{Name: "status", Type: "string"},
				{Name: "tag", Type: "string"},
				{Name: "important", Type: "boolean"},
				{Name: "urgent", Type: "boolean"},
			},
			ReadOnly: true,
		},
		{
			Name:        "tool_projectsList",
			Description: "List projects (name, description).",
			ReadOnly:    true,
		},
		{
			Name:         "tool_projectByName",
			Description:  "Fetch a single project by its name (case-insensitive).",
			Params:       []Param{{Name: "name", Type: "string", Description: "Project name"}},
			RequiredArgs: []string{"name"},
			ReadOnly:     true,
		},
		{
			Name:        "tool_collectionQuery",
			Description: "Generic read-only query across collections with a validated where DSL.",
			Params: []Param{
				{Name: "collection", Type: "string"},
				{Name: "where", Type: "object"},
				{Name: "select", Type: "array"},
				{Name: "limit", Type: "number"},
			},
			RequiredArgs: []string{"collection"},
			ReadOnly:     true,
		},
		{
			Name:         "tool_notesByProject",
			Description:  "List notes of a project.",
			Params:       []Param{projectParam()},
			RequiredArgs: []string{"projectId"},
			ReadOnly:     true,
			Scope:        byProject,
		},
		{
			Name:         "tool_noteById",
			Description:  "Fetch one note.",
			Params:       []Param{{Name: "noteId", Type: "string"}},
			RequiredArgs: []string{"noteId"},
			ReadOnly:     true,
		},
		{
			Name:         "tool_noteSessionsByProject",
			Description:  "List note sessions of a project.",
			Params:       []Param{projectParam()},
			RequiredArgs: []string{"projectId"},
			ReadOnly:     true,
			Scope:        byProject,
		},
		{
			Name:         "tool_noteLinesBySession",
			Description:  "List the lines of a note session.",
			Params:       []Param{{Name: "sessionId", Type: "string"}},
			RequiredArgs: []string{"sessionId"},
			ReadOnly:     true,
			Scope:        map[string]string{"sessionId": ScopeSession},
		},
		{
			Name:         "tool_linksByProject",
			Description:  "List links of a project.",
			Params:       []Param{projectParam()},
			RequiredArgs: []string{"projectId"},
			ReadOnly:     true,
			Scope:        byProject,
		},
		{
			Name:         "tool_filesByProject",
			Description:  "List files of a project.",
			Params:       []Param{projectParam()},
			RequiredArgs: []string{"projectId"},
			ReadOnly:     true,
			Scope:        byProject,
		},
		{
			Name:        "tool_peopleList",
			Description: "List people.",
			ReadOnly:    true,
		},
		{
			Name:        "tool_teamsList",
			Description: "List teams.",
			ReadOnly:    true,
		},
		{
			Name:        "tool_alarmsList",
			Description: "List alarms, optionally only enabled ones.",
			Params:      []Param{{Name: "enabled", Type: "boolean"}},
			ReadOnly:    true,
		},
		{
			Name:        "tool_createTask",
			Description: "Create a task.",
			Params: []Param{
				{Name: "title", Type: "string"},
				projectParam(),
				{Name: "status", Type: "string", Enum: []string{"todo", "doing", "done"}},
				{Name: "deadline", Type: "string", Description: "YYYY-MM-DD or ISO date/time"},
			},
			RequiredArgs: []string{"title"},
		},
		{
			Name:        "tool_updateTask",
			Description: "Update fields of a task.",
			Params: []Param{
				{Name: "taskId", Type: "string"},
				{Name: "title", Type: "string"},
				{Name: "status", Type: "string", Enum: []string{"todo", "doing", "done"}},
				{Name: "deadline", Type: "string"},
			},
			RequiredArgs: []string{"taskId"},
		},
		{
			Name:        "tool_createNote",
			Description: "Create a note.",
			Params: []Param{
				{Name: "title", Type: "string"},
				projectParam(),
				{Name: "content", Type: "string"},
			},
			RequiredArgs: []string{"title"},
		},
		{
			Name:        "tool_updateNote",
			Description: "Update a note.",
			Params: []Param{
				{Name: "noteId", Type: "string"},
				{Name: "title", Type: "string"},
				{Name: "content", Type: "string"},
			},
			RequiredArgs: []string{"noteId"},
		},
	}
}

// Default returns a catalog of the built-in tools.
func Default() *Catalog {
	c, err := New(Builtin()...)
	if err != nil {
		panic(err) // builtin names are unique
	}
	return c
}
