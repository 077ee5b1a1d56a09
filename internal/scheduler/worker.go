package scheduler

import (
	"context"
	"sync"
	"time"

	"messaging-platform/pkg/logger"
)

// Task is one recurring job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Worker runs recurring tasks, taking the per-task lock before each run so
// only one process executes a task at a time.
type Worker struct {
	lock    Lock
	lockTTL time.Duration
	tasks   []Task
}

func NewWorker(lock Lock, lockTTL time.Duration) *Worker {
	return &Worker{lock: lock, lockTTL: lockTTL}
}

func (w *Worker) Add(t Task) { w.tasks = append(w.tasks, t) }

// Run blocks until ctx is cancelled. Each task ticks on its own interval;
// a run longer than the interval simply skips ticks because the lock is
// still held.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range w.tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			ticker := time.NewTicker(t.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					w.runOnce(ctx, t)
				}
			}
		}(t)
	}
	wg.Wait()
}

func (w *Worker) runOnce(ctx context.Context, t Task) {
	log := logger.From(ctx)

	release, ok, err := w.lock.Acquire(ctx, "task:"+t.Name, w.lockTTL)
	if err != nil {
		log.Error("task lock failed", "task", t.Name, "error", err)
		return
	}
	if !ok {
		return
	}
	defer func() {
		if err := release(ctx); err != nil {
			log.Error("task lock release failed", "task", t.Name, "error", err)
		}
	}()

	start := time.Now()
	if err := t.Run(ctx); err != nil {
		log.Error("task failed", "task", t.Name, "error", err, "took", time.Since(start))
		return
	}
	log.Debug("task completed", "task", t.Name, "took", time.Since(start))
}
