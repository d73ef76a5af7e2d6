// Package render turns dispatch results into the text shown in chat.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haricheung/agentic-todo/internal/dispatch"
	"github.com/haricheung/agentic-todo/internal/types"
)

const (
	completedMark = "✅ Completed"
	pendingMark   = "❌ Pending"
)

// Render is pure and total: every Result, including nil and variants added
// later, yields a string without panicking.
//
// Expectations:
//   - TaskListResult renders one "{id}. {title} - {mark}" line per task; an empty list renders ""
//   - TaskResult renders "Task {id}: {title} - {mark}"
//   - StatusResult{deleted} renders "Task deleted successfully."
//   - NotFoundResult names the missing ID
//   - ValidationErrorResult names the capability, field and reason
//   - Anything else renders a non-empty JSON-safe fallback
func Render(r dispatch.Result) string {
	switch v := r.(type) {
	case dispatch.TaskListResult:
		lines := make([]string, 0, len(v.Tasks))
		for _, t := range v.Tasks {
			lines = append(lines, fmt.Sprintf("%d. %s - %s", t.ID, t.Title, mark(t)))
		}
		return strings.Join(lines, "\n")
	case dispatch.TaskResult:
		return fmt.Sprintf("Task %d: %s - %s", v.Task.ID, v.Task.Title, mark(v.Task))
	case dispatch.StatusResult:
		if v.Status.Status == types.StatusDeleted {
			return "Task deleted successfully."
		}
		return fmt.Sprintf("Status: %s", orUnknown(v.Status.Status))
	case dispatch.NotFoundResult:
		return fmt.Sprintf("Task %d not found.", v.TaskID)
	case dispatch.ValidationErrorResult:
		return validationMessage(v)
	case dispatch.InternalErrorResult:
		return "Sorry, something went wrong while handling that request."
	}
	return fallback(r)
}

func mark(t types.Task) string {
	if t.Completed {
		return completedMark
	}
	return pendingMark
}

func validationMessage(v dispatch.ValidationErrorResult) string {
	if v.Reason == dispatch.ReasonUnknownCapability {
		return fmt.Sprintf("Sorry, I can't do %q: unknown capability.", v.Capability)
	}
	switch {
	case v.Field != "":
		return fmt.Sprintf("Invalid arguments for %s: %s %s.", v.Capability, v.Field, v.Reason)
	case v.Reason != "":
		return fmt.Sprintf("Invalid arguments for %s: %s.", v.Capability, v.Reason)
	}
	return fmt.Sprintf("Invalid arguments for %s.", v.Capability)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// fallback encodes r as JSON, falling back to a fixed string when r cannot be
// encoded.
func fallback(r any) string {
	if r == nil {
		return `{"error":"no result"}`
	}
	b, err := json.Marshal(map[string]any{"result": r})
	if err != nil {
		return `{"error":"unrenderable result"}`
	}
	return string(b)
}
