package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryLock_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	lock := NewMemoryLock()

	release, ok, err := lock.Acquire(ctx, "task:dispatch", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := lock.Acquire(ctx, "task:dispatch", time.Minute); ok {
		t.Fatal("second acquire succeeded while held")
	}
	// A different name is independent.
	if _, ok, _ := lock.Acquire(ctx, "task:inbox", time.Minute); !ok {
		t.Fatal("unrelated lock blocked")
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := lock.Acquire(ctx, "task:dispatch", time.Minute); !ok {
		t.Fatal("acquire after release failed")
	}
}

func TestMemoryLock_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	lock := NewMemoryLock()
	lock.clock = func() time.Time { return now }

	if _, ok, _ := lock.Acquire(ctx, "task:sweep", 30*time.Second); !ok {
		t.Fatal("first acquire failed")
	}
	now = now.Add(10 * time.Second)
	if _, ok, _ := lock.Acquire(ctx, "task:sweep", 30*time.Second); ok {
		t.Fatal("acquired before expiry")
	}
	now = now.Add(25 * time.Second)
	if _, ok, _ := lock.Acquire(ctx, "task:sweep", 30*time.Second); !ok {
		t.Fatal("stale lock not reclaimed")
	}
}

func TestMemoryLock_StaleReleaseIsNoop(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	lock := NewMemoryLock()
	lock.clock = func() time.Time { return now }

	releaseOld, _, _ := lock.Acquire(ctx, "task:sweep", time.Second)
	now = now.Add(2 * time.Second)
	if _, ok, _ := lock.Acquire(ctx, "task:sweep", time.Minute); !ok {
		t.Fatal("reclaim failed")
	}

	// The expired holder must not free the new holder's lock.
	if err := releaseOld(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if _, ok, _ := lock.Acquire(ctx, "task:sweep", time.Minute); ok {
		t.Fatal("stale release freed the current holder's lock")
	}
}

func TestWorker_RunsAndReleases(t *testing.T) {
	ctx := context.Background()
	lock := NewMemoryLock()
	w := NewWorker(lock, time.Minute)

	var runs atomic.Int64
	task := Task{
		Name:     "dispatch",
		Interval: time.Second,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}

	w.runOnce(ctx, task)
	w.runOnce(ctx, task)
	if got := runs.Load(); got != 2 {
		t.Fatalf("runs = %d, want 2", got)
	}
	// Lock must be free again after each run.
	if _, ok, _ := lock.Acquire(ctx, "task:dispatch", time.Minute); !ok {
		t.Fatal("lock still held after run")
	}
}

func TestWorker_SkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	lock := NewMemoryLock()
	if _, ok, _ := lock.Acquire(ctx, "task:dispatch", time.Minute); !ok {
		t.Fatal("setup acquire failed")
	}

	w := NewWorker(lock, time.Minute)
	var runs atomic.Int64
	w.runOnce(ctx, Task{
		Name:     "dispatch",
		Interval: time.Second,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	if got := runs.Load(); got != 0 {
		t.Fatalf("task ran %d times while lock held", got)
	}
}

func TestWorker_ReleasesAfterTaskError(t *testing.T) {
	ctx := context.Background()
	lock := NewMemoryLock()
	w := NewWorker(lock, time.Minute)

	w.runOnce(ctx, Task{
		Name:     "inbox",
		Interval: time.Second,
		Run: func(ctx context.Context) error {
			return errors.New("boom")
		},
	})
	if _, ok, _ := lock.Acquire(ctx, "task:inbox", time.Minute); !ok {
		t.Fatal("lock still held after failed run")
	}
}
