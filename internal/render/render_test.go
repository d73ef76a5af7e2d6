package render

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/haricheung/agentic-todo/internal/dispatch"
	"github.com/haricheung/agentic-todo/internal/types"
)

func TestRender_TaskList(t *testing.T) {
	got := Render(dispatch.TaskListResult{Tasks: []types.Task{
		{ID: 1, Title: "Buy milk", Completed: true},
		{ID: 3, Title: "Call mom"},
	}})
	assert.Equal(t, "1. Buy milk - ✅ Completed\n3. Call mom - ❌ Pending", got)
}

func TestRender_EmptyTaskList(t *testing.T) {
	// an empty list renders ""
	assert.Equal(t, "", Render(dispatch.TaskListResult{}))
}

func TestRender_Task(t *testing.T) {
	assert.Equal(t, "Task 1: Buy milk - ✅ Completed",
		Render(dispatch.TaskResult{Task: types.Task{ID: 1, Title: "Buy milk", Completed: true}}))
	assert.Equal(t, "Task 2: Walk dog - ❌ Pending",
		Render(dispatch.TaskResult{Task: types.Task{ID: 2, Title: "Walk dog"}}))
}

func TestRender_Deleted(t *testing.T) {
	assert.Equal(t, "Task deleted successfully.",
		Render(dispatch.StatusResult{Status: types.Status{Status: types.StatusDeleted}}))
}

func TestRender_NotFound(t *testing.T) {
	assert.Equal(t, "Task 9 not found.", Render(dispatch.NotFoundResult{TaskID: 9}))
}

func TestRender_ValidationErrorNamesField(t *testing.T) {
	got := Render(dispatch.ValidationErrorResult{Capability: "addTask", Field: "title", Reason: "is required"})
	assert.Equal(t, "Invalid arguments for addTask: title is required.", got)
}

func TestRender_UnknownCapability(t *testing.T) {
	got := Render(dispatch.ValidationErrorResult{Capability: "fly", Reason: "unknown capability"})
	assert.Contains(t, got, `"fly"`)
	assert.Contains(t, got, "unknown capability")
}

// unlisted is a value the renderer has no case for.
type unlisted struct{ N int }

func TestRender_TotalOverEveryVariant(t *testing.T) {
	// Anything else renders a non-empty JSON-safe fallback
	variants := []dispatch.Result{
		dispatch.TaskListResult{Tasks: []types.Task{{ID: 1, Title: "a"}}},
		dispatch.TaskResult{Task: types.Task{ID: 1, Title: "a"}},
		dispatch.StatusResult{Status: types.Status{Status: types.StatusDeleted}},
		dispatch.StatusResult{},
		dispatch.NotFoundResult{TaskID: 1},
		dispatch.ValidationErrorResult{},
		dispatch.InternalErrorResult{Reason: "boom"},
		nil,
	}
	for _, v := range variants {
		assert.NotPanics(t, func() {
			assert.NotEmpty(t, Render(v), "variant %T", v)
		})
	}
}

func TestFallback_IsJSON(t *testing.T) {
	for _, v := range []any{nil, unlisted{N: 4}, make(chan int)} {
		assert.True(t, json.Valid([]byte(fallback(v))), "value %T", v)
	}
}
