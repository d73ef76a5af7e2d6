package capability

import "sync"

// Catalog lists the operations exposed to the model. Each entry mirrors the
// store operation of the same name argument for argument.
var Catalog = []Descriptor{
	{
		Name:        AddTask,
		Description: "Add a new task to the to-do list.",
		Params: []Param{
			{Name: "title", Type: String, Required: true, NonEmpty: true, Description: "Short task title"},
			{Name: "description", Type: String, Description: "Optional longer description"},
		},
	},
	{
		Name:        GetTasks,
		Description: "Retrieve all tasks.",
	},
	{
		Name:        CompleteTask,
		Description: "Mark a task as completed by ID.",
		Params: []Param{
			{Name: "task_id", Type: Integer, Required: true, Description: "Task ID"},
		},
	},
	{
		Name:        DeleteTask,
		Description: "Delete a task by ID.",
		Params: []Param{
			{Name: "task_id", Type: Integer, Required: true, Description: "Task ID"},
		},
	},
	{
		Name:        ToggleComplete,
		Description: "Set a task's completed status by ID.",
		Params: []Param{
			{Name: "task_id", Type: Integer, Required: true, Description: "Task ID"},
			{Name: "completed", Type: Boolean, Required: true, Description: "True if complete, False if pending"},
		},
	},
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	r, err := New(Catalog...)
	if err != nil {
		panic(err)
	}
	return r
})

// Default returns the registry built from Catalog.
func Default() *Registry {
	return defaultRegistry()
}
