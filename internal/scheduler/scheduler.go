// Package scheduler drives the fixed periodic-task table: each task runs
// on its own aligned interval, independently of the others, the same
// aligned-timer-per-loop shape the teacher's bms.Service uses for its
// base/cell data polling loops, generalized from two hardcoded loops to
// an arbitrary table of named tasks.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one entry of the periodic-task table: a name for logging, the
// tick interval, and the function to run each tick. Fn receives the
// elapsed milliseconds since the previous tick of this same task.
type Task struct {
	Name     string
	Interval time.Duration
	Fn       func(dtMS uint32)
}

// Scheduler runs a fixed set of Tasks, each on its own goroutine and its
// own aligned timer.
type Scheduler struct {
	tasks []Task
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Scheduler for the given tasks. Tasks is immutable
// after construction.
func New(tasks []Task, log *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:  tasks,
		log:    log.With(zap.String("component", "scheduler")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches one aligned-timer goroutine per task.
func (s *Scheduler) Start() {
	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.runTask(task)
	}
}

// Stop cancels every task loop and waits for them to exit.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) runTask(task Task) {
	defer s.wg.Done()

	interval := task.Interval
	nextTick := time.Now().Truncate(interval).Add(interval)
	timer := time.NewTimer(time.Until(nextTick))
	defer timer.Stop()

	last := time.Now()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
			now := time.Now()
			dtMS := uint32(now.Sub(last).Milliseconds())
			s.runWithRecovery(task, dtMS)
			last = now

			if elapsed := time.Since(now); elapsed > interval {
				s.log.Warn("task exceeded its own interval",
					zap.String("task", task.Name),
					zap.Duration("elapsed", elapsed),
					zap.Duration("interval", interval))
			}

			nextTick = time.Now().Truncate(interval).Add(interval)
			timer.Reset(time.Until(nextTick))
		}
	}
}

func (s *Scheduler) runWithRecovery(task Task, dtMS uint32) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic recovered in scheduled task",
				zap.String("task", task.Name), zap.Any("panic", r))
		}
	}()
	task.Fn(dtMS)
}

// RunInline drives every task synchronously and deterministically for
// ticks iterations, in table order, each call passing dtMS as the
// elapsed time. This is the cooperative single-threaded mode used by
// desktop/integration tests that want reproducible ordering without real
// wall-clock timers.
func RunInline(tasks []Task, ticks int, dtMS uint32) {
	for i := 0; i < ticks; i++ {
		for _, task := range tasks {
			task.Fn(dtMS)
		}
	}
}
