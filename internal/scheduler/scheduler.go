// Package scheduler runs named callbacks at a fixed rate on behalf of agents
// and the auctioneer. It is the only source of asynchrony in a cluster: every
// market operation is synchronous, and the scheduler is what drives periodic
// bid updates and clearing cycles.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned when scheduling on a stopped Scheduler.
var ErrStopped = errors.New("scheduler stopped")

// Scheduler owns a set of periodic tasks.
type Scheduler struct {
	clock  Clock
	logger *zap.Logger

	mu      sync.Mutex
	tasks   map[*Task]struct{}
	stopped bool
}

// Task is a handle on one scheduled callback.
type Task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	runs int
	last time.Time
}

// New creates a Scheduler. A nil clock means Real(); a nil logger discards output.
func New(clock Clock, logger *zap.Logger) *Scheduler {
	if clock == nil {
		clock = Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		clock:  clock,
		logger: logger.Named("scheduler"),
		tasks:  make(map[*Task]struct{}),
	}
}

// ScheduleAtFixedRate runs fn after initialDelay and then every period until
// ctx is done, the task is cancelled or the scheduler is stopped. Invocations
// of one task never overlap; if fn takes longer than period the missed ticks
// are dropped. A panicking fn is logged and the task keeps running.
func (s *Scheduler) ScheduleAtFixedRate(ctx context.Context, name string, initialDelay, period time.Duration, fn func(context.Context)) (*Task, error) {
	if period <= 0 {
		return nil, fmt.Errorf("task '%s': period must be positive, got %s", name, period)
	}
	if fn == nil {
		return nil, fmt.Errorf("task '%s': callback cannot be nil", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, fmt.Errorf("failed to schedule task '%s': %w", name, ErrStopped)
	}

	taskCtx, cancel := context.WithCancel(ctx)
	task := &Task{name: name, cancel: cancel, done: make(chan struct{})}
	s.tasks[task] = struct{}{}

	go s.run(taskCtx, task, initialDelay, period, fn)

	s.logger.Debug("task scheduled",
		zap.String("task", name),
		zap.Duration("initial_delay", initialDelay),
		zap.Duration("period", period))
	return task, nil
}

// Stop cancels every task and waits for their goroutines to exit. Further
// calls to ScheduleAtFixedRate fail with ErrStopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	tasks := make([]*Task, 0, len(s.tasks))
	for t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
}

func (s *Scheduler) run(ctx context.Context, t *Task, initialDelay, period time.Duration, fn func(context.Context)) {
	defer func() {
		s.mu.Lock()
		delete(s.tasks, t)
		s.mu.Unlock()
		close(t.done)
	}()

	select {
	case <-ctx.Done():
		return
	case <-s.clock.After(initialDelay):
	}

	ticker := s.clock.NewTicker(period)
	defer ticker.Stop()

	for {
		s.invoke(ctx, t, fn)

		select {
		case <-ctx.Done():
			s.logger.Debug("task stopped", zap.String("task", t.name), zap.Int("runs", t.Runs()))
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) invoke(ctx context.Context, t *Task, fn func(context.Context)) {
	if ctx.Err() != nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", zap.String("task", t.name), zap.Any("panic", r))
		}
	}()

	fn(ctx)

	t.mu.Lock()
	t.runs++
	t.last = s.clock.Now()
	t.mu.Unlock()
}

// Name returns the task name given at scheduling time.
func (t *Task) Name() string { return t.name }

// Cancel stops future invocations and waits until the task goroutine has
// exited. A running invocation is allowed to finish. Safe to call more than
// once, but not from inside the task's own callback.
func (t *Task) Cancel() {
	t.cancel()
	<-t.done
}

// Done is closed once the task goroutine has exited.
func (t *Task) Done() <-chan struct{} { return t.done }

// Runs returns how many invocations completed.
func (t *Task) Runs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

// LastRun returns when the last invocation completed, or the zero time.
func (t *Task) LastRun() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
