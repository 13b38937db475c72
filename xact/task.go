// Package xact is fusio-manifest's background-task framework: the
// checkpointer, the GC coordinator, and the lease keeper all run as named,
// independently-abortable loops under one small Task interface, modeled on
// the teacher's own xaction idiom (a Base carrying name/state/Snap(),
// wrapped around a type-specific Tick). The teacher's xaction registry
// (xreg) coordinates many concurrent per-bucket jobs across a cluster;
// fusio-manifest has no cluster and no per-bucket multiplicity, so this
// package keeps only the shape that generalizes — a task that runs,
// reports a Snap, and can be aborted cleanly — and drops the renewal/
// registry machinery the teacher needs for the rest.
package xact

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is a task's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateAborted
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateAborted:
		return "Aborted"
	case StateFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// Snap is a point-in-time introspection snapshot, mirroring the teacher's
// cluster.Snap idiom: used by logging/metrics, never a query API.
type Snap struct {
	Name      string
	State     string
	StartedAt time.Time
	ErrCount  int
	LastErr   string
}

// Base is embedded by every Task implementation; it carries the bookkeeping
// every task needs (name, state, error count) so the concrete task only
// implements the one step that's specific to it.
type Base struct {
	mu        sync.Mutex
	name      string
	state     State
	startedAt time.Time
	errCount  int
	lastErr   error
}

// Init sets the task's name and transitions it to Running.
func (b *Base) Init(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.name = name
	b.state = StateRunning
	b.startedAt = time.Now()
}

// Name returns the task's name.
func (b *Base) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.name
}

// AddErr records a non-fatal error observed during a run, without aborting
// the task — the next tick gets another chance (checkpointer/GC conflicts
// are expected and benign, per spec.md §7).
func (b *Base) AddErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errCount++
	b.lastErr = err
}

// Abort transitions the task to Aborted; the runner stops scheduling it.
func (b *Base) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateRunning || b.state == StateIdle {
		b.state = StateAborted
	}
}

// Finish transitions the task to Finished (a deliberate, non-aborted stop).
func (b *Base) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateRunning || b.state == StateIdle {
		b.state = StateFinished
	}
}

// IsDone reports whether the task has reached a terminal state.
func (b *Base) IsDone() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateAborted || b.state == StateFinished
}

// Snap returns the task's current introspection snapshot.
func (b *Base) Snap() Snap {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snap{Name: b.name, State: b.state.String(), StartedAt: b.startedAt, ErrCount: b.errCount}
	if b.lastErr != nil {
		s.LastErr = b.lastErr.Error()
	}
	return s
}

func (b *Base) String() string {
	return fmt.Sprintf("%s[%s]", b.Name(), b.Snap().State)
}

// Task is one named, tickable background job.
type Task interface {
	// Tick performs one unit of work. Returning an error does not abort the
	// task; the runner logs it and tries again on the next tick. Recording
	// it with AddErr is up to the task itself.
	Tick(ctx context.Context) error
	Snap() Snap
	Abort()
	IsDone() bool
}
