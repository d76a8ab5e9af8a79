package monitor

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"tokenwatch/internal/market"
)

// Manager owns the set of active monitoring tasks, at most one per token.
// A new request for an already-monitored token replaces the old task: the
// stale task is stopped cooperatively, never merged into.
type Manager struct {
	logger zerolog.Logger

	mu    sync.Mutex
	tasks map[string]*Task
}

// NewManager constructs an empty manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		logger: logger.With().Str("component", "monitor_manager").Logger(),
		tasks:  make(map[string]*Task),
	}
}

// StartMonitoring registers and launches a task for the token, stopping any
// task already registered for it. The returned task handle lets callers
// observe lifetime (Done, State, Samples) instead of relying on unobserved
// background execution.
func (m *Manager) StartMonitoring(ctx context.Context, token string, provider market.Provider,
	onSample SampleFunc, onAlert AlertFunc, opts TaskOptions) *Task {

	task := NewTask(token, provider, onSample, onAlert, opts, m.logger)

	m.mu.Lock()
	if old, ok := m.tasks[token]; ok {
		old.Stop()
		m.logger.Info().Str("token", token).Msg("replacing active monitoring task")
	}
	m.tasks[token] = task
	m.mu.Unlock()

	go func() {
		task.Start(ctx)
		m.release(token, task)
	}()

	return task
}

// StopMonitoring stops the token's task and removes it from the table. The
// table entry disappears synchronously; the task goroutine may still be
// unwinding its current wait.
func (m *Manager) StopMonitoring(token string) {
	m.mu.Lock()
	task, ok := m.tasks[token]
	if ok {
		delete(m.tasks, token)
	}
	m.mu.Unlock()

	if ok {
		task.Stop()
		m.logger.Info().Str("token", token).Msg("monitoring stopped")
	}
}

// IsMonitoring reports whether a task for the token is registered and still
// running at call time.
func (m *Manager) IsMonitoring(token string) bool {
	m.mu.Lock()
	task, ok := m.tasks[token]
	m.mu.Unlock()
	return ok && task.Running()
}

// ActiveCount returns the number of registered tasks.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// StopAll stops every registered task and waits for their goroutines to
// unwind. Used on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	tasks := make([]*Task, 0, len(m.tasks))
	for token, task := range m.tasks {
		tasks = append(tasks, task)
		delete(m.tasks, token)
	}
	m.mu.Unlock()

	for _, task := range tasks {
		task.Stop()
	}
	for _, task := range tasks {
		<-task.Done()
	}
}

// WaitAll blocks until every currently registered task finishes on its own,
// without stopping any of them.
func (m *Manager) WaitAll() {
	m.mu.Lock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		tasks = append(tasks, task)
	}
	m.mu.Unlock()

	for _, task := range tasks {
		<-task.Done()
	}
}

// release drops the table entry when a task's goroutine exits, unless the
// entry was already replaced by a newer task for the same token.
func (m *Manager) release(token string, task *Task) {
	m.mu.Lock()
	if cur, ok := m.tasks[token]; ok && cur == task {
		delete(m.tasks, token)
	}
	m.mu.Unlock()
}
