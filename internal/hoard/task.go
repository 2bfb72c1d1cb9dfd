package hoard

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// TaskState is the lifecycle state of a Task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s TaskState) Terminal() bool { return s == TaskCompleted || s == TaskFailed }

// Task is a snapshot of a submitted unit of work.
type Task struct {
	ID         string
	Kind       string
	Target     string
	State      TaskState
	Message    string
	Err        error
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// TaskEvent announces a task state change.
type TaskEvent struct {
	TaskID string
	Kind   string
	Target string
	State  TaskState
	// Message is the result message or error text once the task is terminal.
	Message string
	At      time.Time
}

// TaskFunc is the work of a task. The returned string becomes its message.
type TaskFunc func(ctx context.Context) (string, error)

type taskEntry struct {
	task Task
	done chan struct{}
}

// TaskManager runs submitted work in the background and reports state
// changes to subscribers.
type TaskManager struct {
	mu     sync.Mutex
	tasks  map[string]*taskEntry
	subs   map[int]chan TaskEvent
	nextID int
	wg     sync.WaitGroup

	ids    IDGenerator
	clock  Clock
	logger Logger
}

// NewTaskManager creates a TaskManager. Nil arguments fall back to
// UUIDGenerator, RealClock and NopLogger.
func NewTaskManager(ids IDGenerator, clock Clock, logger Logger) *TaskManager {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	return &TaskManager{
		tasks:  make(map[string]*taskEntry),
		subs:   make(map[int]chan TaskEvent),
		ids:    ids,
		clock:  clock,
		logger: logger,
	}
}

// Submit registers fn as a pending task and starts it. The task runs with
// ctx; cancelling ctx is the only way to stop it.
func (m *TaskManager) Submit(ctx context.Context, kind, target string, fn TaskFunc) Task {
	m.mu.Lock()
	entry := &taskEntry{
		task: Task{
			ID:        m.ids.New(),
			Kind:      kind,
			Target:    target,
			State:     TaskPending,
			CreatedAt: m.clock.Now(),
		},
		done: make(chan struct{}),
	}
	m.tasks[entry.task.ID] = entry
	m.publishLocked(entry.task)
	snapshot := entry.task
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx, entry, fn)
	return snapshot
}

func (m *TaskManager) run(ctx context.Context, entry *taskEntry, fn TaskFunc) {
	defer m.wg.Done()
	defer close(entry.done)

	m.transition(entry, TaskRunning, "", nil)

	msg, err := func() (msg string, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return fn(ctx)
	}()

	if err != nil {
		m.logger.Warn("task failed", "task", entry.task.ID, "kind", entry.task.Kind, "target", entry.task.Target, "error", err)
		m.transition(entry, TaskFailed, err.Error(), err)
		return
	}
	m.transition(entry, TaskCompleted, msg, nil)
}

func (m *TaskManager) transition(entry *taskEntry, state TaskState, msg string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	entry.task.State = state
	switch state {
	case TaskRunning:
		entry.task.StartedAt = now
	case TaskCompleted, TaskFailed:
		entry.task.FinishedAt = now
		entry.task.Message = msg
		entry.task.Err = err
	}
	m.publishLocked(entry.task)
}

// publishLocked sends an event to every subscriber without blocking. A
// subscriber whose buffer is full misses the event.
func (m *TaskManager) publishLocked(t Task) {
	ev := TaskEvent{TaskID: t.ID, Kind: t.Kind, Target: t.Target, State: t.State, Message: t.Message, At: m.clock.Now()}
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.logger.Debug("dropped task event for slow subscriber", "task", t.ID, "state", string(t.State))
		}
	}
}

// Subscribe returns a channel of task events buffered to size and a
// function that ends the subscription and closes the channel.
func (m *TaskManager) Subscribe(size int) (<-chan TaskEvent, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan TaskEvent, size)
	m.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Get returns a snapshot of a task.
func (m *TaskManager) Get(id string) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.tasks[id]
	if !ok {
		return Task{}, false
	}
	return entry.task, true
}

// List returns snapshots of every task, oldest first.
func (m *TaskManager) List() []Task {
	m.mu.Lock()
	out := make([]Task, 0, len(m.tasks))
	for _, entry := range m.tasks {
		out = append(out, entry.task)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Wait blocks until the task reaches a terminal state or ctx is done.
func (m *TaskManager) Wait(ctx context.Context, id string) (Task, error) {
	m.mu.Lock()
	entry, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return Task{}, fmt.Errorf("unknown task %s", id)
	}
	select {
	case <-entry.done:
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
	t, _ := m.Get(id)
	return t, nil
}

// Close waits for every running task to finish.
func (m *TaskManager) Close() {
	m.wg.Wait()
}
