// Package store is the in-memory task registry. It is the only writer of
// task state; the REST layer and the dispatch bridge are both clients.
package store

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/haricheung/agentic-todo/internal/types"
)

// ErrNotFound is returned when no task has the requested ID.
var ErrNotFound = errors.New("task not found")

// ValidationError reports a user-correctable problem with an argument.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Store holds tasks in insertion order behind a single mutex.
//
// Expectations:
//   - IDs start at 1, are strictly increasing and never reused
//   - Every method is safe for concurrent use
//   - Returned tasks are copies; mutating them never changes stored state
type Store struct {
	mu     sync.Mutex
	tasks  []types.Task
	nextID int
}

// New returns an empty Store.
func New() *Store {
	return &Store{nextID: 1}
}

// AddTask appends a new pending task.
//
// Expectations:
//   - Returns *ValidationError for an empty or whitespace-only title
//   - Does not consume an ID when validation fails
//   - Stores the description as given (empty by default)
func (s *Store) AddTask(title, description string) (types.Task, error) {
	if strings.TrimSpace(title) == "" {
		return types.Task{}, &ValidationError{Field: "title", Reason: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := types.Task{ID: s.nextID, Title: title, Description: description}
	s.tasks = append(s.tasks, t)
	s.nextID++
	log.Printf("[STORE] added task id=%d title=%q", t.ID, t.Title)
	return t, nil
}

// Tasks returns a snapshot of all tasks in insertion order.
// The result is never nil so it always encodes as a JSON array.
func (s *Store) Tasks() []types.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Len returns the current number of tasks.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// CompleteTask marks a task completed. Completing an already completed task
// succeeds and returns it unchanged.
func (s *Store) CompleteTask(id int) (types.Task, error) {
	return s.ToggleComplete(id, true)
}

// ToggleComplete sets completed to exactly the supplied value. Despite the
// name it never flips the current state.
func (s *Store) ToggleComplete(id int, completed bool) (types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return types.Task{}, fmt.Errorf("store: task %d: %w", id, ErrNotFound)
	}
	s.tasks[i].Completed = completed
	log.Printf("[STORE] task id=%d completed=%t", id, completed)
	return s.tasks[i], nil
}

// DeleteTask removes a task. Deleting an unknown ID is not an error so chat
// retries stay harmless.
func (s *Store) DeleteTask(id int) types.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(id); i >= 0 {
		s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
		log.Printf("[STORE] deleted task id=%d", id)
	}
	return types.Status{Status: types.StatusDeleted}
}

// indexOf must be called with s.mu held.
func (s *Store) indexOf(id int) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}
