// Package dispatch is the bridge between model-proposed calls and the task
// store. A call is looked up in the capability registry, its arguments are
// parsed and validated against the capability's schema, and only then is
// exactly one store operation run.
package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/haricheung/agentic-todo/internal/capability"
	"github.com/haricheung/agentic-todo/internal/metrics"
	"github.com/haricheung/agentic-todo/internal/store"
	"github.com/haricheung/agentic-todo/internal/types"
)

// CallRequest is a capability name plus the model's untyped argument blob.
type CallRequest struct {
	Name      string
	Arguments json.RawMessage
}

// TaskStore is the subset of *store.Store the bridge drives.
type TaskStore interface {
	AddTask(title, description string) (types.Task, error)
	Tasks() []types.Task
	CompleteTask(id int) (types.Task, error)
	DeleteTask(id int) types.Status
	ToggleComplete(id int, completed bool) (types.Task, error)
}

// handler runs one store operation with already-validated arguments.
type handler func(s TaskStore, raw []byte) (Result, error)

// typed decodes validated arguments into A before calling fn.
func typed[A any](fn func(TaskStore, A) (Result, error)) handler {
	return func(s TaskStore, raw []byte) (Result, error) {
		var args A
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&args); err != nil {
			var te *json.UnmarshalTypeError
			if errors.As(err, &te) {
				return nil, &capability.ArgumentError{Field: te.Field, Reason: "is out of range"}
			}
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
		return fn(s, args)
	}
}

func taskOrNotFound(id int, t types.Task, err error) (Result, error) {
	if errors.Is(err, store.ErrNotFound) {
		return NotFoundResult{TaskID: id}, nil
	}
	if err != nil {
		return nil, err
	}
	return TaskResult{Task: t}, nil
}

var handlers = map[string]handler{
	capability.AddTask: typed(func(s TaskStore, a addTaskArgs) (Result, error) {
		t, err := s.AddTask(a.Title, a.Description)
		if err != nil {
			return nil, err
		}
		return TaskResult{Task: t}, nil
	}),
	capability.GetTasks: typed(func(s TaskStore, _ getTasksArgs) (Result, error) {
		return TaskListResult{Tasks: s.Tasks()}, nil
	}),
	capability.CompleteTask: typed(func(s TaskStore, a taskIDArgs) (Result, error) {
		t, err := s.CompleteTask(a.TaskID)
		return taskOrNotFound(a.TaskID, t, err)
	}),
	capability.DeleteTask: typed(func(s TaskStore, a taskIDArgs) (Result, error) {
		return StatusResult{Status: s.DeleteTask(a.TaskID)}, nil
	}),
	capability.ToggleComplete: typed(func(s TaskStore, a toggleCompleteArgs) (Result, error) {
		t, err := s.ToggleComplete(a.TaskID, a.Completed)
		return taskOrNotFound(a.TaskID, t, err)
	}),
}

// Bridge validates and executes call requests.
type Bridge struct {
	store    TaskStore
	registry *capability.Registry
	handlers map[string]handler
}

// New creates a Bridge over s using the capabilities in reg.
func New(s TaskStore, reg *capability.Registry) *Bridge {
	return &Bridge{store: s, registry: reg, handlers: handlers}
}

// Dispatch runs one call request and always returns a Result; failures are
// values, never panics or errors. The bridge never retries.
//
// Expectations:
//   - Unknown names yield ValidationErrorResult{Reason: "unknown capability"} without touching the store
//   - Arguments failing the schema yield ValidationErrorResult naming the field; the store is not called
//   - Exactly one store operation runs for a valid request
//   - ErrNotFound from the store becomes NotFoundResult carrying the requested ID
//   - *store.ValidationError becomes ValidationErrorResult
func (b *Bridge) Dispatch(req CallRequest) Result {
	r := b.dispatch(req)

	label := req.Name
	if _, ok := b.registry.Lookup(req.Name); !ok {
		label = "unknown"
	}
	metrics.DispatchTotal.WithLabelValues(label, r.Kind()).Inc()
	log.Printf("[DISPATCH] %s(%s) → %s", req.Name, firstN(string(req.Arguments), 120), r.Kind())
	return r
}

func (b *Bridge) dispatch(req CallRequest) Result {
	desc, ok := b.registry.Lookup(req.Name)
	h, hasHandler := b.handlers[req.Name]
	if !ok || !hasHandler {
		if ok {
			log.Printf("[DISPATCH] ERROR: capability %q is registered without a handler", req.Name)
		}
		return ValidationErrorResult{Capability: req.Name, Reason: ReasonUnknownCapability}
	}

	args, err := parseArguments(desc, req.Arguments)
	if err == nil {
		err = b.registry.Validate(req.Name, args)
	}
	if err != nil {
		var ae *capability.ArgumentError
		if errors.As(err, &ae) {
			return ValidationErrorResult{Capability: req.Name, Field: ae.Field, Reason: ae.Reason}
		}
		return ValidationErrorResult{Capability: req.Name, Reason: err.Error()}
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return InternalErrorResult{Capability: req.Name, Reason: fmt.Sprintf("re-encode arguments: %v", err)}
	}

	res, err := h(b.store, raw)
	if err != nil {
		var ve *store.ValidationError
		if errors.As(err, &ve) {
			return ValidationErrorResult{Capability: req.Name, Field: ve.Field, Reason: ve.Reason}
		}
		var ae *capability.ArgumentError
		if errors.As(err, &ae) {
			return ValidationErrorResult{Capability: req.Name, Field: ae.Field, Reason: ae.Reason}
		}
		log.Printf("[DISPATCH] ERROR: %s: %v", req.Name, err)
		return InternalErrorResult{Capability: req.Name, Reason: err.Error()}
	}
	return res
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
