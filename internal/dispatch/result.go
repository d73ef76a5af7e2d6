package dispatch

import "github.com/haricheung/agentic-todo/internal/types"

// Result is the outcome of one dispatch. The set of variants is closed:
// TaskResult, TaskListResult, StatusResult, NotFoundResult,
// ValidationErrorResult and InternalErrorResult.
type Result interface {
	Kind() string
	isResult()
}

// TaskResult carries a single task returned by the store.
type TaskResult struct {
	Task types.Task
}

// TaskListResult carries a snapshot of every task in insertion order.
type TaskListResult struct {
	Tasks []types.Task
}

// StatusResult carries a marker such as {"status":"deleted"}.
type StatusResult struct {
	Status types.Status
}

// NotFoundResult reports a task ID the store does not know.
type NotFoundResult struct {
	TaskID int
}

// ReasonUnknownCapability is the ValidationErrorResult reason for a call
// naming no registered capability.
const ReasonUnknownCapability = "unknown capability"

// ValidationErrorResult reports arguments that failed validation, or an
// unknown capability name. Field is empty when no single field is to blame.
type ValidationErrorResult struct {
	Capability string
	Field      string
	Reason     string
}

// InternalErrorResult reports a state that exhaustive dispatch should never
// reach. Reason is for logs, not for users.
type InternalErrorResult struct {
	Capability string
	Reason     string
}

func (TaskResult) Kind() string            { return "task" }
func (TaskListResult) Kind() string        { return "task_list" }
func (StatusResult) Kind() string          { return "status" }
func (NotFoundResult) Kind() string        { return "not_found" }
func (ValidationErrorResult) Kind() string { return "validation_error" }
func (InternalErrorResult) Kind() string   { return "internal_error" }

func (TaskResult) isResult()            {}
func (TaskListResult) isResult()        {}
func (StatusResult) isResult()          {}
func (NotFoundResult) isResult()        {}
func (ValidationErrorResult) isResult() {}
func (InternalErrorResult) isResult()   {}

// Outcome summarises r for bus observers.
func Outcome(capability string, r Result) types.DispatchOutcome {
	o := types.DispatchOutcome{Capability: capability, Kind: "internal_error"}
	if r == nil {
		return o
	}
	o.Kind = r.Kind()
	switch v := r.(type) {
	case ValidationErrorResult:
		o.Field, o.Reason = v.Field, v.Reason
	case InternalErrorResult:
		o.Reason = v.Reason
	}
	return o
}
