package subscription

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// TaskScheduler registers time-delayed conditional callbacks: a check
// function gating execution plus the execute function itself. Tasks cancel
// by id.
type TaskScheduler interface {
	Schedule(runAt int64, check func() (bool, error), execute func() error) (string, error)
	Cancel(taskID string) error
}

// ErrTaskNotFound is returned when canceling an unknown or already-consumed
// task.
var ErrTaskNotFound = errors.New("scheduler: task not found")

type memoryTask struct {
	id      string
	runAt   int64
	check   func() (bool, error)
	execute func() error
}

// MemoryScheduler is the in-process TaskScheduler used by local deployments
// and tests. Tasks fire when Tick advances past their run time and their
// check passes.
type MemoryScheduler struct {
	mu    sync.Mutex
	tasks map[string]*memoryTask
}

// NewMemoryScheduler returns an empty in-process scheduler.
func NewMemoryScheduler() *MemoryScheduler {
	return &MemoryScheduler{tasks: make(map[string]*memoryTask)}
}

// Schedule registers the callback pair and returns the task id.
func (s *MemoryScheduler) Schedule(runAt int64, check func() (bool, error), execute func() error) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	s.tasks[id] = &memoryTask{id: id, runAt: runAt, check: check, execute: execute}
	s.mu.Unlock()
	return id, nil
}

// Cancel removes a pending task. Canceling a consumed task returns
// ErrTaskNotFound.
func (s *MemoryScheduler) Cancel(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return ErrTaskNotFound
	}
	delete(s.tasks, taskID)
	return nil
}

// Pending returns the number of registered tasks.
func (s *MemoryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Tick runs every task due at or before now whose check passes. Tasks whose
// check fails stay registered for a later tick; executed tasks are consumed.
// The first execution error aborts the tick.
func (s *MemoryScheduler) Tick(now int64) error {
	s.mu.Lock()
	due := make([]*memoryTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		if task.runAt <= now {
			due = append(due, task)
		}
	}
	s.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].runAt < due[j].runAt })

	for _, task := range due {
		if task.check != nil {
			ok, err := task.check()
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
		}
		s.mu.Lock()
		_, pending := s.tasks[task.id]
		delete(s.tasks, task.id)
		s.mu.Unlock()
		if !pending {
			// Consumed by its own execution path in a prior iteration.
			continue
		}
		if task.execute == nil {
			continue
		}
		if err := task.execute(); err != nil {
			return err
		}
	}
	return nil
}
