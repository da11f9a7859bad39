// ABOUTME: In-memory progress table for in-flight script executions.
// ABOUTME: Observers poll execution state here without blocking on completion.

package script

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// DefaultGrace is how long a terminal execution stays visible in the
// progress table before eviction.
const DefaultGrace = 10 * time.Second

// Progress is the mutable record of one execution as seen by pollers.
type Progress struct {
	ExecutionID string
	AgentID     string
	ScriptID    string
	ScriptName  string
	Status      Status
	CurrentStep int
	TotalSteps  int
	Log         []string
	StartedAt   time.Time
}

// Tracker is a concurrent map from execution ID to progress. Terminal
// entries linger for a grace period so pollers observe the final state,
// then they are evicted; the durable record lives in the store.
type Tracker struct {
	mu     sync.RWMutex
	execs  map[string]*Progress
	grace  time.Duration
	logger *slog.Logger
}

// NewTracker creates a Tracker that keeps terminal entries visible for the
// given grace period. A non-positive grace falls back to DefaultGrace.
func NewTracker(grace time.Duration, logger *slog.Logger) *Tracker {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Tracker{
		execs:  make(map[string]*Progress),
		grace:  grace,
		logger: logger,
	}
}

// Start installs a fresh running entry for an execution.
func (t *Tracker) Start(p Progress) {
	p.Status = StatusRunning
	p.CurrentStep = 0
	p.StartedAt = time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.execs[p.ExecutionID] = &p
}

// Advance moves the step cursor forward. The cursor is monotonically
// non-decreasing and never exceeds the total; stale or out-of-range values
// are ignored.
func (t *Tracker) Advance(executionID string, step int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.execs[executionID]
	if !ok {
		return
	}
	if step > p.CurrentStep && step <= p.TotalSteps {
		p.CurrentStep = step
	}
}

// AppendLog appends one line to an execution's log. The log is append-only
// and visible to readers immediately, not buffered until the end.
func (t *Tracker) AppendLog(executionID, line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.execs[executionID]; ok {
		p.Log = append(p.Log, line)
	}
}

// Finish sets an execution's terminal status exactly once and schedules the
// entry's eviction after the grace period. It returns a snapshot of the
// final progress and false if the execution was unknown or already terminal.
func (t *Tracker) Finish(executionID string, status Status) (Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.execs[executionID]
	if !ok || p.Status != StatusRunning {
		return Progress{}, false
	}
	p.Status = status
	snapshot := snapshotLocked(p)

	time.AfterFunc(t.grace, func() { t.remove(executionID) })
	return snapshot, true
}

// Get returns a snapshot of one execution's progress.
func (t *Tracker) Get(executionID string) (Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.execs[executionID]
	if !ok {
		return Progress{}, false
	}
	return snapshotLocked(p), true
}

// Active returns snapshots of every tracked execution, oldest first.
// Terminal executions inside their grace period are included.
func (t *Tracker) Active() []Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Progress, 0, len(t.execs))
	for _, p := range t.execs {
		out = append(out, snapshotLocked(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (t *Tracker) remove(executionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.execs, executionID)
}

func snapshotLocked(p *Progress) Progress {
	s := *p
	s.Log = append([]string(nil), p.Log...)
	return s
}
