package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haricheung/agentic-todo/internal/capability"
	"github.com/haricheung/agentic-todo/internal/store"
	"github.com/haricheung/agentic-todo/internal/types"
)

// spyStore wraps a real store and counts every call made through it.
type spyStore struct {
	*store.Store
	calls []string
}

func (s *spyStore) AddTask(title, description string) (types.Task, error) {
	s.calls = append(s.calls, "AddTask")
	return s.Store.AddTask(title, description)
}

func (s *spyStore) Tasks() []types.Task {
	s.calls = append(s.calls, "Tasks")
	return s.Store.Tasks()
}

func (s *spyStore) CompleteTask(id int) (types.Task, error) {
	s.calls = append(s.calls, "CompleteTask")
	return s.Store.CompleteTask(id)
}

func (s *spyStore) DeleteTask(id int) types.Status {
	s.calls = append(s.calls, "DeleteTask")
	return s.Store.DeleteTask(id)
}

func (s *spyStore) ToggleComplete(id int, completed bool) (types.Task, error) {
	s.calls = append(s.calls, "ToggleComplete")
	return s.Store.ToggleComplete(id, completed)
}

func newBridge(t *testing.T) (*Bridge, *spyStore) {
	t.Helper()
	spy := &spyStore{Store: store.New()}
	return New(spy, capability.Default()), spy
}

func call(name, args string) CallRequest {
	return CallRequest{Name: name, Arguments: json.RawMessage(args)}
}

func TestDispatch_AddTaskMissingTitleNeverTouchesStore(t *testing.T) {
	// Arguments failing the schema yield ValidationErrorResult naming the field; the store is not called
	b, spy := newBridge(t)
	r := b.Dispatch(call(capability.AddTask, `{}`))

	ve, ok := r.(ValidationErrorResult)
	require.True(t, ok, "got %T", r)
	assert.Equal(t, "title", ve.Field)
	assert.Empty(t, spy.calls)
	assert.Equal(t, 0, spy.Len())
}

func TestDispatch_UnknownCapability(t *testing.T) {
	// Unknown names yield ValidationErrorResult{Reason: "unknown capability"} without touching the store
	b, spy := newBridge(t)
	r := b.Dispatch(call("launchRocket", `{}`))
	assert.Equal(t, ValidationErrorResult{Capability: "launchRocket", Reason: "unknown capability"}, r)
	assert.Empty(t, spy.calls)
}

func TestDispatch_AddTask(t *testing.T) {
	// Exactly one store operation runs for a valid request
	b, spy := newBridge(t)
	r := b.Dispatch(call(capability.AddTask, `{"title":"Buy milk","description":"2l"}`))
	assert.Equal(t, TaskResult{Task: types.Task{ID: 1, Title: "Buy milk", Description: "2l"}}, r)
	assert.Equal(t, []string{"AddTask"}, spy.calls)
}

func TestDispatch_AddTaskBlankTitleFromStore(t *testing.T) {
	// *store.ValidationError becomes ValidationErrorResult
	b, _ := newBridge(t)
	r := b.Dispatch(call(capability.AddTask, `{"title":"   "}`))
	ve, ok := r.(ValidationErrorResult)
	require.True(t, ok, "got %T", r)
	assert.Equal(t, "title", ve.Field)
}

func TestDispatch_GetTasks(t *testing.T) {
	b, spy := newBridge(t)
	_, _ = spy.Store.AddTask("a", "")
	_, _ = spy.Store.AddTask("b", "")

	r := b.Dispatch(call(capability.GetTasks, ``))
	list, ok := r.(TaskListResult)
	require.True(t, ok, "got %T", r)
	require.Len(t, list.Tasks, 2)
	assert.Equal(t, "a", list.Tasks[0].Title)
}

func TestDispatch_CompleteTask(t *testing.T) {
	b, spy := newBridge(t)
	_, _ = spy.Store.AddTask("Buy milk", "")

	r := b.Dispatch(call(capability.CompleteTask, `{"task_id":1}`))
	assert.Equal(t, TaskResult{Task: types.Task{ID: 1, Title: "Buy milk", Completed: true}}, r)
}

func TestDispatch_CompleteTaskNotFound(t *testing.T) {
	// ErrNotFound from the store becomes NotFoundResult carrying the requested ID
	b, _ := newBridge(t)
	r := b.Dispatch(call(capability.CompleteTask, `{"task_id":9}`))
	assert.Equal(t, NotFoundResult{TaskID: 9}, r)
}

func TestDispatch_DeleteMissingIsStatus(t *testing.T) {
	b, _ := newBridge(t)
	r := b.Dispatch(call(capability.DeleteTask, `{"task_id":999}`))
	assert.Equal(t, StatusResult{Status: types.Status{Status: "deleted"}}, r)
}

func TestDispatch_ToggleCompleteSetsExactValue(t *testing.T) {
	b, spy := newBridge(t)
	_, _ = spy.Store.AddTask("a", "")

	b.Dispatch(call(capability.ToggleComplete, `{"task_id":1,"completed":true}`))
	r := b.Dispatch(call(capability.ToggleComplete, `{"task_id":1,"completed":false}`))
	tr, ok := r.(TaskResult)
	require.True(t, ok, "got %T", r)
	assert.False(t, tr.Task.Completed)
}

func TestDispatch_ToggleCompleteMissingCompleted(t *testing.T) {
	b, spy := newBridge(t)
	_, _ = spy.Store.AddTask("a", "")
	spy.calls = nil

	r := b.Dispatch(call(capability.ToggleComplete, `{"task_id":1}`))
	ve, ok := r.(ValidationErrorResult)
	require.True(t, ok, "got %T", r)
	assert.Equal(t, "completed", ve.Field)
	assert.Empty(t, spy.calls)
}

func TestDispatch_CoercesStringScalars(t *testing.T) {
	// "7" for an integer param and "true" for a boolean param are accepted
	b, spy := newBridge(t)
	_, _ = spy.Store.AddTask("a", "")

	r := b.Dispatch(call(capability.ToggleComplete, `{"task_id":"1","completed":"true"}`))
	tr, ok := r.(TaskResult)
	require.True(t, ok, "got %T", r)
	assert.True(t, tr.Task.Completed)
}

func TestDispatch_RejectsUnknownField(t *testing.T) {
	b, spy := newBridge(t)
	r := b.Dispatch(call(capability.DeleteTask, `{"task_id":1,"cascade":true}`))
	ve, ok := r.(ValidationErrorResult)
	require.True(t, ok, "got %T", r)
	assert.Equal(t, "cascade", ve.Field)
	assert.Empty(t, spy.calls)
}

func TestDispatch_RejectsNonObjectPayload(t *testing.T) {
	b, spy := newBridge(t)
	for _, raw := range []string{`[1]`, `"x"`, `{"task_id":`, `{} {}`} {
		r := b.Dispatch(call(capability.DeleteTask, raw))
		_, ok := r.(ValidationErrorResult)
		assert.True(t, ok, "payload %s: got %T", raw, r)
	}
	assert.Empty(t, spy.calls)
}

func TestDispatch_OutOfRangeIntegerIsValidationError(t *testing.T) {
	b, _ := newBridge(t)
	r := b.Dispatch(call(capability.CompleteTask, `{"task_id":1e40}`))
	ve, ok := r.(ValidationErrorResult)
	require.True(t, ok, "got %T", r)
	assert.Equal(t, "task_id", ve.Field)
	assert.Equal(t, "is out of range", ve.Reason)
}

func TestDispatch_IntegralFloatTaskID(t *testing.T) {
	// Integral numbers written as 1.0 or 1e0 become their canonical integer text
	for _, raw := range []string{`{"task_id":1.0}`, `{"task_id":1e0}`, `{"task_id":"1.0"}`, `{"task_id":10e-1}`} {
		b, spy := newBridge(t)
		_, _ = spy.Store.AddTask("Buy milk", "")

		r := b.Dispatch(call(capability.CompleteTask, raw))
		assert.Equal(t, TaskResult{Task: types.Task{ID: 1, Title: "Buy milk", Completed: true}}, r, raw)
	}
}

func TestDispatch_FractionalTaskIDIsNotOutOfRange(t *testing.T) {
	b, spy := newBridge(t)
	_, _ = spy.Store.AddTask("a", "")
	spy.calls = nil

	r := b.Dispatch(call(capability.CompleteTask, `{"task_id":1.5}`))
	ve, ok := r.(ValidationErrorResult)
	require.True(t, ok, "got %T", r)
	assert.Equal(t, "task_id", ve.Field)
	assert.NotEqual(t, "is out of range", ve.Reason)
	assert.Empty(t, spy.calls)
}

func TestCanonicalInt(t *testing.T) {
	for in, want := range map[string]json.Number{"7": "7", "7.0": "7", "7e0": "7", "-2.00": "-2", "70e-1": "7"} {
		got, ok := canonicalInt(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"1.5", "1e40", "9223372036854775808", "abc", "1e999999999"} {
		_, ok := canonicalInt(in)
		assert.False(t, ok, in)
	}
}

func TestParseArguments_EmptyAndNull(t *testing.T) {
	// Empty, whitespace-only and null payloads decode to an empty object
	d, _ := capability.Default().Lookup(capability.GetTasks)
	for _, raw := range []string{"", "  ", "null"} {
		args, err := parseArguments(d, json.RawMessage(raw))
		require.NoError(t, err)
		assert.Empty(t, args)
	}
}

func TestParseArguments_LeavesUncoercibleValues(t *testing.T) {
	// Values that cannot be coerced are left as-is for the schema to reject
	d, _ := capability.Default().Lookup(capability.ToggleComplete)
	args, err := parseArguments(d, json.RawMessage(`{"task_id":"one","completed":"yes"}`))
	require.NoError(t, err)
	assert.Equal(t, "one", args["task_id"])
	assert.Equal(t, "yes", args["completed"])
}

func TestOutcome(t *testing.T) {
	o := Outcome(capability.AddTask, ValidationErrorResult{Field: "title", Reason: "is required"})
	assert.Equal(t, types.DispatchOutcome{Capability: "addTask", Kind: "validation_error", Field: "title", Reason: "is required"}, o)
	assert.Equal(t, "internal_error", Outcome("x", nil).Kind)
}
