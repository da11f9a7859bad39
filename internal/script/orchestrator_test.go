// ABOUTME: Tests for the script runner using fake dispatch, presence and staging.
// ABOUTME: Covers success paths, first-failure abort, timeouts and transfer resolution.

package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-hq/drover/internal/agent"
	"github.com/drover-hq/drover/internal/dispatch"
	"github.com/drover-hq/drover/internal/protocol"
	"github.com/drover-hq/drover/internal/store"
)

// fakeAgent plays both dispatcher and result store: the nth dispatch gets
// correlation ID "c<n>" and awaits resolve against the scripted results.
type fakeAgent struct {
	mu          sync.Mutex
	dispatched  []protocol.Payload
	results     []protocol.Result
	dispatchErr error
	awaitErr    error
}

func (f *fakeAgent) Dispatch(agentID string, p protocol.Payload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dispatchErr != nil {
		return "", f.dispatchErr
	}
	f.dispatched = append(f.dispatched, p)
	return "c" + strconv.Itoa(len(f.dispatched)), nil
}

func (f *fakeAgent) Await(ctx context.Context, correlationID string, interval time.Duration, maxAttempts int) (protocol.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.awaitErr != nil {
		return nil, f.awaitErr
	}
	n, err := strconv.Atoi(strings.TrimPrefix(correlationID, "c"))
	if err != nil || n < 1 || n > len(f.results) {
		return nil, dispatch.ErrTimeout
	}
	return f.results[n-1], nil
}

func (f *fakeAgent) dispatchedPayloads() []protocol.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Payload(nil), f.dispatched...)
}

// fakePresence marks a fixed set of agents reachable.
type fakePresence map[string]bool

func (f fakePresence) IsOnline(agentID string) bool { return f[agentID] }

// fakeStager resolves transfer steps against a temp directory.
type fakeStager struct {
	dir       string
	mu        sync.Mutex
	slots     int
	slotFiles map[string][]string
}

func newFakeStager(t *testing.T) *fakeStager {
	return &fakeStager{dir: t.TempDir(), slotFiles: make(map[string][]string)}
}

func (f *fakeStager) StagePath(name string) string {
	return filepath.Join(f.dir, filepath.Base(name))
}

func (f *fakeStager) DownloadURL(name string) string {
	return "http://coordinator/files/download/staging/" + name
}

func (f *fakeStager) StageDirZip(name, srcDir string) (string, error) {
	return f.DownloadURL(name + ".zip"), nil
}

func (f *fakeStager) NewUploadSlot() (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots++
	slotID := fmt.Sprintf("slot-%d", f.slots)
	return slotID, "http://coordinator/files/upload/" + slotID
}

func (f *fakeStager) SlotFiles(slotID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slotFiles[slotID], nil
}

func (f *fakeStager) OneTimeLink(path string) string {
	return "http://coordinator/files/fetch/tok-" + filepath.Base(path)
}

type runnerFixture struct {
	runner  *Runner
	agent   *fakeAgent
	stager  *fakeStager
	tracker *Tracker
	store   *store.MockStore
}

func newRunnerFixture(t *testing.T, online fakePresence) *runnerFixture {
	fa := &fakeAgent{}
	fs := newFakeStager(t)
	tr := NewTracker(time.Minute, testLogger())
	st := store.NewMockStore()

	r := NewRunner(RunnerParams{
		Dispatcher:   fa,
		Results:      fa,
		Presence:     online,
		Staging:      fs,
		Tracker:      tr,
		Store:        st,
		Logger:       testLogger(),
		PollInterval: time.Millisecond,
		MaxAttempts:  3,
	})
	return &runnerFixture{runner: r, agent: fa, stager: fs, tracker: tr, store: st}
}

// waitFinished blocks until the execution's history record is terminal.
func (f *runnerFixture) waitFinished(t *testing.T, executionID string) *store.Execution {
	t.Helper()
	var final *store.Execution
	require.Eventually(t, func() bool {
		execs, err := f.store.ListExecutions(context.Background(), 0)
		if err != nil {
			return false
		}
		for _, e := range execs {
			if e.ID == executionID && e.Status != store.ExecutionStatusRunning {
				final = e
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
	return final
}

func shellScript(commands ...string) *store.Script {
	steps := make([]store.Step, 0, len(commands))
	for _, c := range commands {
		steps = append(steps, store.Step{Kind: store.StepShell, Command: c})
	}
	return &store.Script{ID: "script-1", Name: "deploy", Steps: steps}
}

func TestRunScriptAllStepsSucceed(t *testing.T) {
	f := newRunnerFixture(t, fakePresence{"agent-1": true})
	f.agent.results = []protocol.Result{
		protocol.ShellOutput{Stdout: "hi\n", ExitCode: 0},
		protocol.ShellOutput{ExitCode: 0},
	}

	executionID, err := f.runner.Start(context.Background(), "agent-1", shellScript("echo hi", "true"))
	require.NoError(t, err)

	final := f.waitFinished(t, executionID)
	assert.Equal(t, store.ExecutionStatusCompleted, final.Status)
	require.NotNil(t, final.FinishedAt)

	joined := strings.Join(final.Log, "\n")
	assert.Contains(t, joined, "Step 1/2: shell: echo hi")
	assert.Contains(t, joined, "Step 1 succeeded: hi")
	assert.Contains(t, joined, "Step 2/2: shell: true")
	assert.Contains(t, joined, "Step 2 succeeded")

	// The progress entry lingers with the terminal state and full cursor.
	p, ok := f.tracker.Get(executionID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, 2, p.CurrentStep)

	assert.Len(t, f.agent.dispatchedPayloads(), 2)
}

func TestRunScriptStopsAtFirstFailure(t *testing.T) {
	f := newRunnerFixture(t, fakePresence{"agent-1": true})
	f.agent.results = []protocol.Result{
		protocol.ShellOutput{ExitCode: 0},
		protocol.ShellOutput{Stderr: "boom\n", ExitCode: 1},
		protocol.ShellOutput{ExitCode: 0},
	}

	executionID, err := f.runner.Start(context.Background(), "agent-1", shellScript("true", "false", "echo never"))
	require.NoError(t, err)

	final := f.waitFinished(t, executionID)
	assert.Equal(t, store.ExecutionStatusFailed, final.Status)

	joined := strings.Join(final.Log, "\n")
	assert.Contains(t, joined, "Step 2 failed: Shell command failed. Stderr: boom. Exit Code: 1")
	assert.NotContains(t, joined, "Step 3/3")

	// The third step was never dispatched.
	assert.Len(t, f.agent.dispatchedPayloads(), 2)
}

func TestRunScriptErrorResultFails(t *testing.T) {
	f := newRunnerFixture(t, fakePresence{"agent-1": true})
	f.agent.results = []protocol.Result{protocol.Error{Message: "no such directory"}}

	executionID, err := f.runner.Start(context.Background(), "agent-1", shellScript("ls /nope"))
	require.NoError(t, err)

	final := f.waitFinished(t, executionID)
	assert.Equal(t, store.ExecutionStatusFailed, final.Status)
	assert.Contains(t, strings.Join(final.Log, "\n"), "Step 1 failed: no such directory")
}

func TestRunScriptTimeout(t *testing.T) {
	f := newRunnerFixture(t, fakePresence{"agent-1": true})
	f.agent.awaitErr = dispatch.ErrTimeout

	executionID, err := f.runner.Start(context.Background(), "agent-1", shellScript("sleep 999"))
	require.NoError(t, err)

	final := f.waitFinished(t, executionID)
	assert.Equal(t, store.ExecutionStatusFailed, final.Status)
	assert.Contains(t, strings.Join(final.Log, "\n"), "Step 1 failed: Step timed out or failed")
}

func TestRunScriptAgentDisconnected(t *testing.T) {
	f := newRunnerFixture(t, fakePresence{"agent-1": true})
	f.agent.dispatchErr = agent.ErrAgentNotFound

	executionID, err := f.runner.Start(context.Background(), "agent-1", shellScript("uptime"))
	require.NoError(t, err)

	final := f.waitFinished(t, executionID)
	assert.Equal(t, store.ExecutionStatusFailed, final.Status)
	assert.Contains(t, strings.Join(final.Log, "\n"), "Step 1 failed: Agent disconnected")
}

func TestRunScriptEmptyShellCommand(t *testing.T) {
	f := newRunnerFixture(t, fakePresence{"agent-1": true})

	executionID, err := f.runner.Start(context.Background(), "agent-1", shellScript("   "))
	require.NoError(t, err)

	final := f.waitFinished(t, executionID)
	assert.Equal(t, store.ExecutionStatusFailed, final.Status)
	assert.Empty(t, f.agent.dispatchedPayloads())
}

func TestPushFileStepResolvesToDownloadCommand(t *testing.T) {
	f := newRunnerFixture(t, fakePresence{"agent-1": true})
	f.agent.results = []protocol.Result{protocol.Success{Message: "Downloaded"}}

	require.NoError(t, os.WriteFile(f.stager.StagePath("app.tar"), []byte("bits"), 0644))

	sc := &store.Script{ID: "s", Name: "push", Steps: []store.Step{
		{Kind: store.StepPushFile, LocalPath: "/ignored/app.tar", RemotePath: "/opt/app.tar"},
	}}
	executionID, err := f.runner.Start(context.Background(), "agent-1", sc)
	require.NoError(t, err)

	final := f.waitFinished(t, executionID)
	assert.Equal(t, store.ExecutionStatusCompleted, final.Status)

	payloads := f.agent.dispatchedPayloads()
	require.Len(t, payloads, 1)
	dl, ok := payloads[0].(protocol.DownloadFile)
	require.True(t, ok)
	assert.Equal(t, "http://coordinator/files/download/staging/app.tar", dl.URL)
	assert.Equal(t, "/opt/app.tar", dl.DestPath)
}

func TestPushFileStepMissingStagedFile(t *testing.T) {
	f := newRunnerFixture(t, fakePresence{"agent-1": true})

	sc := &store.Script{ID: "s", Name: "push", Steps: []store.Step{
		{Kind: store.StepPushFile, LocalPath: "missing.bin", RemotePath: "/opt/missing.bin"},
	}}
	executionID, err := f.runner.Start(context.Background(), "agent-1", sc)
	require.NoError(t, err)

	final := f.waitFinished(t, executionID)
	assert.Equal(t, store.ExecutionStatusFailed, final.Status)
	assert.Contains(t, strings.Join(final.Log, "\n"), `staged file "missing.bin" not found`)
	assert.Empty(t, f.agent.dispatchedPayloads())
}

func TestPullFileStepPublishesDownloadLinks(t *testing.T) {
	f := newRunnerFixture(t, fakePresence{"agent-1": true})
	f.agent.results = []protocol.Result{protocol.Success{Message: "Uploaded"}}
	f.stager.slotFiles["slot-1"] = []string{"/uploads/inbox/slot-1/report.csv"}

	sc := &store.Script{ID: "s", Name: "pull", Steps: []store.Step{
		{Kind: store.StepPullFile, RemotePath: "/var/log/report.csv"},
	}}
	executionID, err := f.runner.Start(context.Background(), "agent-1", sc)
	require.NoError(t, err)

	final := f.waitFinished(t, executionID)
	assert.Equal(t, store.ExecutionStatusCompleted, final.Status)

	payloads := f.agent.dispatchedPayloads()
	require.Len(t, payloads, 1)
	up, ok := payloads[0].(protocol.UploadFile)
	require.True(t, ok)
	assert.Equal(t, "/var/log/report.csv", up.SrcPath)
	assert.Equal(t, "http://coordinator/files/upload/slot-1", up.UploadURL)

	assert.Contains(t, strings.Join(final.Log, "\n"),
		"Pulled report.csv, download: http://coordinator/files/fetch/tok-report.csv")
}

func TestPullStepsGetFreshSlots(t *testing.T) {
	f := newRunnerFixture(t, fakePresence{"agent-1": true})
	f.agent.results = []protocol.Result{
		protocol.Success{Message: "Uploaded"},
		protocol.Success{Message: "Uploaded"},
	}

	sc := &store.Script{ID: "s", Name: "pull-twice", Steps: []store.Step{
		{Kind: store.StepPullFile, RemotePath: "/a"},
		{Kind: store.StepPullDir, RemotePath: "/b"},
	}}
	executionID, err := f.runner.Start(context.Background(), "agent-1", sc)
	require.NoError(t, err)

	f.waitFinished(t, executionID)

	payloads := f.agent.dispatchedPayloads()
	require.Len(t, payloads, 2)
	first := payloads[0].(protocol.UploadFile).UploadURL
	second := payloads[1].(protocol.ZipAndUpload).UploadURL
	assert.NotEqual(t, first, second)
}
