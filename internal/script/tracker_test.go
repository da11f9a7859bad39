// ABOUTME: Tests for the execution progress tracker.
// ABOUTME: Covers cursor monotonicity, terminal set-once and grace eviction.

package script

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startExecution(t *Tracker, id string, total int) {
	t.Start(Progress{ExecutionID: id, AgentID: "agent-1", ScriptName: "deploy", TotalSteps: total})
}

func TestTrackerAdvanceIsMonotonic(t *testing.T) {
	tr := NewTracker(time.Minute, testLogger())
	startExecution(tr, "exec-1", 5)

	tr.Advance("exec-1", 2)
	tr.Advance("exec-1", 1) // stale, ignored
	p, ok := tr.Get("exec-1")
	require.True(t, ok)
	assert.Equal(t, 2, p.CurrentStep)

	tr.Advance("exec-1", 9) // beyond total, ignored
	p, _ = tr.Get("exec-1")
	assert.Equal(t, 2, p.CurrentStep)
}

func TestTrackerLogIsVisibleImmediately(t *testing.T) {
	tr := NewTracker(time.Minute, testLogger())
	startExecution(tr, "exec-1", 1)

	tr.AppendLog("exec-1", "Step 1/1: shell: uptime")
	p, ok := tr.Get("exec-1")
	require.True(t, ok)
	require.Len(t, p.Log, 1)
	assert.Equal(t, "Step 1/1: shell: uptime", p.Log[0])
}

func TestTrackerFinishIsSetOnce(t *testing.T) {
	tr := NewTracker(time.Minute, testLogger())
	startExecution(tr, "exec-1", 1)

	final, ok := tr.Finish("exec-1", StatusCompleted)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, final.Status)

	// A second terminal transition is rejected and does not change state.
	_, ok = tr.Finish("exec-1", StatusFailed)
	assert.False(t, ok)

	p, ok := tr.Get("exec-1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, p.Status)
}

func TestTrackerFinishUnknownExecution(t *testing.T) {
	tr := NewTracker(time.Minute, testLogger())
	_, ok := tr.Finish("exec-1", StatusCompleted)
	assert.False(t, ok)
}

func TestTrackerEvictsAfterGrace(t *testing.T) {
	tr := NewTracker(20*time.Millisecond, testLogger())
	startExecution(tr, "exec-1", 1)
	tr.Finish("exec-1", StatusFailed)

	// Still visible inside the grace period.
	_, ok := tr.Get("exec-1")
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok := tr.Get("exec-1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestTrackerActiveOldestFirst(t *testing.T) {
	tr := NewTracker(time.Minute, testLogger())
	startExecution(tr, "exec-1", 1)
	time.Sleep(2 * time.Millisecond)
	startExecution(tr, "exec-2", 1)

	active := tr.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "exec-1", active[0].ExecutionID)
	assert.Equal(t, "exec-2", active[1].ExecutionID)
}

func TestTrackerSnapshotsAreIsolated(t *testing.T) {
	tr := NewTracker(time.Minute, testLogger())
	startExecution(tr, "exec-1", 1)
	tr.AppendLog("exec-1", "line one")

	p, _ := tr.Get("exec-1")
	p.Log[0] = "mutated"

	fresh, _ := tr.Get("exec-1")
	assert.Equal(t, "line one", fresh.Log[0])
}
