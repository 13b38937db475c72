package xact

import (
	"context"
	"sync"
	"time"

	"github.com/fusio-io/fusio-manifest/internal/xlog"
)

// Runner drives a fixed set of named Tasks on their own interval each, until
// the supplied context is cancelled or every task is explicitly stopped.
// Checkpointer, GC coordinator, and lease keeper each run as one Task on one
// Runner per Manifest (§9: "independent loops that coordinate only through
// HEAD and the gc/PLAN object").
type Runner struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	cancels map[string]context.CancelFunc
}

// NewRunner constructs an empty Runner.
func NewRunner() *Runner {
	return &Runner{cancels: map[string]context.CancelFunc{}}
}

// Go starts task on its own goroutine, ticking every interval until ctx is
// cancelled, Stop(name) is called, or the task reports IsDone().
func (r *Runner) Go(ctx context.Context, name string, interval time.Duration, task Task) {
	taskCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancels[name] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-taskCtx.Done():
				return
			case <-ticker.C:
				if task.IsDone() {
					return
				}
				if err := task.Tick(taskCtx); err != nil {
					xlog.Warningf("xact: %s: %v", name, err)
				}
			}
		}
	}()
}

// Stop cancels the named task, if running. No-op if unknown.
func (r *Runner) Stop(name string) {
	r.mu.Lock()
	cancel, ok := r.cancels[name]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// StopAll cancels every task and waits for their goroutines to exit.
func (r *Runner) StopAll() {
	r.mu.Lock()
	for _, cancel := range r.cancels {
		cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}
