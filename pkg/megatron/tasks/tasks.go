// Package tasks – tasks.go tracks delayed, cancellable per-chat operations
// such as a group purge that waits a grace period before running.
//
// Per chat the lifecycle is none → pending → (completed | cancelled). A
// chat holds at most one pending operation.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrPending is returned by Start when the chat already has an operation.
var ErrPending = fmt.Errorf("an operation is already pending for this chat")

// Func is the operation body. ctx is cancelled when the task is cancelled
// or the registry shuts down.
type Func func(ctx context.Context) error

// Status reports a task outcome.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

type task struct {
	chatID  string
	name    string
	started time.Time
	cancel  context.CancelFunc
}

// Info describes a pending task.
type Info struct {
	ChatID  string
	Name    string
	Started time.Time
}

// Registry holds the pending operations.
type Registry struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*task
	wg      sync.WaitGroup

	// OnDone, when set, observes each finished task.
	OnDone func(chatID, name string, status Status, err error)
}

// New creates a registry. Call Shutdown to cancel everything pending.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With("component", "tasks"),
		pending: make(map[string]*task),
	}
}

// Start schedules fn to run for chatID after delay. The context passed to
// fn is cancelled by Cancel, both during the delay and while fn runs.
func (r *Registry) Start(chatID, name string, delay time.Duration, fn Func) error {
	r.mu.Lock()
	if _, ok := r.pending[chatID]; ok {
		r.mu.Unlock()
		return ErrPending
	}
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		return fmt.Errorf("tasks: registry is shut down")
	}
	ctx, cancel := context.WithCancel(r.ctx)
	t := &task{chatID: chatID, name: name, started: time.Now(), cancel: cancel}
	r.pending[chatID] = t
	r.wg.Add(1)
	r.mu.Unlock()

	r.logger.Info("tasks: scheduled", "chat", chatID, "task", name, "delay", delay)

	go func() {
		defer r.wg.Done()
		defer cancel()
		status, err := r.run(ctx, delay, fn)

		r.mu.Lock()
		if r.pending[chatID] == t {
			delete(r.pending, chatID)
		}
		r.mu.Unlock()

		r.logger.Info("tasks: finished", "chat", chatID, "task", name, "status", status, "error", err)
		if r.OnDone != nil {
			r.OnDone(chatID, name, status, err)
		}
	}()
	return nil
}

func (r *Registry) run(ctx context.Context, delay time.Duration, fn Func) (status Status, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			status, err = StatusFailed, fmt.Errorf("task panic: %v", rec)
		}
	}()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return StatusCancelled, nil
		case <-timer.C:
		}
	}

	err = fn(ctx)
	switch {
	case ctx.Err() != nil:
		return StatusCancelled, err
	case err != nil:
		return StatusFailed, err
	}
	return StatusCompleted, nil
}

// Cancel cancels the pending operation of chatID. Returns false if there
// is none.
func (r *Registry) Cancel(chatID string) bool {
	r.mu.Lock()
	t, ok := r.pending[chatID]
	if ok {
		delete(r.pending, chatID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	t.cancel()
	r.logger.Info("tasks: cancelled", "chat", chatID, "task", t.name)
	return true
}

// Pending reports whether chatID has a pending operation.
func (r *Registry) Pending(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[chatID]
	return ok
}

// List returns the pending operations.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.pending))
	for _, t := range r.pending {
		out = append(out, Info{ChatID: t.chatID, Name: t.name, Started: t.started})
	}
	return out
}

// Shutdown cancels every pending operation and waits for them to return.
func (r *Registry) Shutdown() {
	r.cancel()
	r.wg.Wait()
}
