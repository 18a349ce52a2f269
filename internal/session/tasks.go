package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexiqai/meeting-agent/internal/intent"
)

// ErrRegistryClosed is returned by Spawn once draining started
var ErrRegistryClosed = errors.New("task registry is closed")

// TaskInfo describes one in-flight background action
type TaskInfo struct {
	ID      string
	Kind    intent.ActionKind
	Started time.Time
}

type task struct {
	info TaskInfo
	done chan struct{}
}

// TaskRegistry tracks fire-and-forget actions. Each task removes itself when
// it returns, so Len is exactly the number in flight.
type TaskRegistry struct {
	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
}

// NewTaskRegistry creates an empty registry
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]*task)}
}

// Spawn runs fn in its own goroutine and returns the task id
func (r *TaskRegistry) Spawn(kind intent.ActionKind, fn func(id string)) (string, error) {
	t := &task{
		info: TaskInfo{ID: uuid.NewString(), Kind: kind, Started: time.Now()},
		done: make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrRegistryClosed
	}
	r.tasks[t.info.ID] = t
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.tasks, t.info.ID)
			r.mu.Unlock()
			close(t.done)
		}()
		fn(t.info.ID)
	}()

	return t.info.ID, nil
}

// Len returns the number of tasks in flight
func (r *TaskRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Snapshot lists the tasks in flight
func (r *TaskRegistry) Snapshot() []TaskInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TaskInfo, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.info)
	}
	return out
}

// Drain rejects new tasks and waits for the running ones or ctx
func (r *TaskRegistry) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	for {
		r.mu.Lock()
		pending := make([]chan struct{}, 0, len(r.tasks))
		for _, t := range r.tasks {
			pending = append(pending, t.done)
		}
		r.mu.Unlock()

		if len(pending) == 0 {
			return nil
		}
		for _, done := range pending {
			select {
			case <-done:
			case <-ctx.Done():
				return fmt.Errorf("%d background actions still running: %w", r.Len(), ctx.Err())
			}
		}
	}
}
