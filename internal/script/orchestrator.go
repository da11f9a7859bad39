// ABOUTME: Drives one script against one agent: resolve, dispatch, await, classify.
// ABOUTME: Aborts remaining steps on first failure; progress is visible while running.

package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drover-hq/drover/internal/agent"
	"github.com/drover-hq/drover/internal/dispatch"
	"github.com/drover-hq/drover/internal/protocol"
	"github.com/drover-hq/drover/internal/store"
)

// commandDispatcher is the slice of the dispatcher the runner needs.
type commandDispatcher interface {
	Dispatch(agentID string, payload protocol.Payload) (string, error)
}

// resultAwaiter is the slice of the result store the runner needs.
type resultAwaiter interface {
	Await(ctx context.Context, correlationID string, interval time.Duration, maxAttempts int) (protocol.Result, error)
}

// presence answers whether an agent is currently reachable.
type presence interface {
	IsOnline(agentID string) bool
}

// stager is the slice of the transfer staging area the runner needs to
// resolve file and directory steps into concrete transfer URLs.
type stager interface {
	StagePath(name string) string
	DownloadURL(name string) string
	StageDirZip(name, srcDir string) (string, error)
	NewUploadSlot() (slotID, uploadURL string)
	SlotFiles(slotID string) ([]string, error)
	OneTimeLink(path string) string
}

// Runner starts and drives script executions. One orchestration goroutine
// runs per (agent, script) execution.
type Runner struct {
	dispatcher commandDispatcher
	results    resultAwaiter
	presence   presence
	staging    stager
	tracker    *Tracker
	store      store.Store
	logger     *slog.Logger

	pollInterval time.Duration
	maxAttempts  int
}

// RunnerParams carries the dependencies for a Runner.
type RunnerParams struct {
	Dispatcher commandDispatcher
	Results    resultAwaiter
	Presence   presence
	Staging    stager
	Tracker    *Tracker
	Store      store.Store
	Logger     *slog.Logger

	// PollInterval and MaxAttempts bound the per-step wait; zero values
	// fall back to the dispatch defaults (500ms x 60).
	PollInterval time.Duration
	MaxAttempts  int
}

// NewRunner creates a Runner.
func NewRunner(p RunnerParams) *Runner {
	if p.PollInterval <= 0 {
		p.PollInterval = dispatch.DefaultPollInterval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = dispatch.DefaultMaxAttempts
	}
	return &Runner{
		dispatcher:   p.Dispatcher,
		results:      p.Results,
		presence:     p.Presence,
		staging:      p.Staging,
		tracker:      p.Tracker,
		store:        p.Store,
		logger:       p.Logger,
		pollInterval: p.PollInterval,
		maxAttempts:  p.MaxAttempts,
	}
}

// Start begins one execution of a script against an agent and returns its
// execution ID immediately. The history record is persisted before the run
// begins, so history exists even if the process crashes mid-run.
func (r *Runner) Start(ctx context.Context, agentID string, sc *store.Script) (string, error) {
	executionID := uuid.New().String()
	if err := r.prepare(ctx, executionID, agentID, sc); err != nil {
		return "", err
	}
	go r.execute(context.WithoutCancel(ctx), executionID, agentID, sc)
	return executionID, nil
}

// prepare persists the history record and installs the progress entry.
func (r *Runner) prepare(ctx context.Context, executionID, agentID string, sc *store.Script) error {
	record := &store.Execution{
		ID:         executionID,
		AgentID:    agentID,
		ScriptID:   sc.ID,
		ScriptName: sc.Name,
		Status:     store.ExecutionStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	if err := r.store.CreateExecution(ctx, record); err != nil {
		return fmt.Errorf("creating execution record: %w", err)
	}

	r.tracker.Start(Progress{
		ExecutionID: executionID,
		AgentID:     agentID,
		ScriptID:    sc.ID,
		ScriptName:  sc.Name,
		TotalSteps:  len(sc.Steps),
	})
	return nil
}

// execute runs the steps in order, stopping at the first failure. No
// rollback is attempted: steps already applied on the agent stay applied.
func (r *Runner) execute(ctx context.Context, executionID, agentID string, sc *store.Script) {
	total := len(sc.Steps)
	status := store.ExecutionStatusCompleted

	for i, step := range sc.Steps {
		stepNo := i + 1
		r.tracker.Advance(executionID, stepNo)
		r.tracker.AppendLog(executionID, fmt.Sprintf("Step %d/%d: %s", stepNo, total, describeStep(step)))

		if failure := r.runStep(ctx, executionID, agentID, stepNo, step); failure != "" {
			r.tracker.AppendLog(executionID, fmt.Sprintf("Step %d failed: %s", stepNo, failure))
			status = store.ExecutionStatusFailed
			break
		}
	}

	r.finish(ctx, executionID, status)
}

// runStep drives a single step to success or failure. A non-empty return is
// the failure detail for the log.
func (r *Runner) runStep(ctx context.Context, executionID, agentID string, stepNo int, step store.Step) string {
	resolved, err := r.resolveStep(step)
	if err != nil {
		// Resolution failure: nothing was dispatched.
		return err.Error()
	}

	correlationID, err := r.dispatcher.Dispatch(agentID, resolved.payload)
	if err != nil {
		if errors.Is(err, agent.ErrAgentNotFound) {
			return "Agent disconnected"
		}
		return fmt.Sprintf("dispatch failed: %v", err)
	}

	result, err := r.results.Await(ctx, correlationID, r.pollInterval, r.maxAttempts)
	if err != nil {
		return "Step timed out or failed"
	}

	summary, ok := classifyResult(result)
	if !ok {
		return summary
	}

	if summary != "" {
		r.tracker.AppendLog(executionID, fmt.Sprintf("Step %d succeeded: %s", stepNo, summary))
	} else {
		r.tracker.AppendLog(executionID, fmt.Sprintf("Step %d succeeded", stepNo))
	}

	if resolved.slotID != "" {
		r.publishPulled(executionID, resolved.slotID)
	}
	return ""
}

// finish records the terminal state once, persists it, and leaves the
// progress entry visible for the grace period.
func (r *Runner) finish(ctx context.Context, executionID string, status string) {
	trackerStatus := StatusCompleted
	if status == store.ExecutionStatusFailed {
		trackerStatus = StatusFailed
	}

	final, ok := r.tracker.Finish(executionID, trackerStatus)
	if !ok {
		return
	}

	if err := r.store.FinishExecution(ctx, executionID, status, final.Log, time.Now().UTC()); err != nil {
		r.logger.Error("persisting execution result", "execution_id", executionID, "error", err)
	}

	r.logger.Info("execution finished",
		"execution_id", executionID,
		"agent_id", final.AgentID,
		"script", final.ScriptName,
		"status", status,
		"steps", fmt.Sprintf("%d/%d", final.CurrentStep, final.TotalSteps),
	)
}

// resolvedStep pairs a concrete payload with the upload slot allocated for
// it, when the step pulls data back to the coordinator.
type resolvedStep struct {
	payload protocol.Payload
	slotID  string
}

// resolveStep expands a step into a concrete command payload. Transfer steps
// synthesize URLs pointing back at the coordinator's file endpoints; the
// directory variants are the same transfer wrapped in zip/unzip.
func (r *Runner) resolveStep(step store.Step) (resolvedStep, error) {
	switch step.Kind {
	case store.StepShell:
		fields := strings.Fields(step.Command)
		if len(fields) == 0 {
			return resolvedStep{}, errors.New("empty shell command")
		}
		return resolvedStep{payload: protocol.ShellExec{Cmd: fields[0], Args: fields[1:]}}, nil

	case store.StepPushFile:
		name := filepath.Base(step.LocalPath)
		if _, err := os.Stat(r.staging.StagePath(name)); err != nil {
			return resolvedStep{}, fmt.Errorf("staged file %q not found", name)
		}
		return resolvedStep{payload: protocol.DownloadFile{
			URL:      r.staging.DownloadURL(name),
			DestPath: step.RemotePath,
		}}, nil

	case store.StepPullFile:
		slotID, uploadURL := r.staging.NewUploadSlot()
		return resolvedStep{
			payload: protocol.UploadFile{SrcPath: step.RemotePath, UploadURL: uploadURL},
			slotID:  slotID,
		}, nil

	case store.StepPushDir:
		url, err := r.staging.StageDirZip(filepath.Base(step.LocalPath), step.LocalPath)
		if err != nil {
			return resolvedStep{}, fmt.Errorf("zipping %q: %v", step.LocalPath, err)
		}
		return resolvedStep{payload: protocol.DownloadAndUnzip{
			URL:      url,
			DestPath: step.RemotePath,
		}}, nil

	case store.StepPullDir:
		slotID, uploadURL := r.staging.NewUploadSlot()
		return resolvedStep{
			payload: protocol.ZipAndUpload{SrcPath: step.RemotePath, UploadURL: uploadURL},
			slotID:  slotID,
		}, nil

	default:
		return resolvedStep{}, fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

// publishPulled logs one-time download links for whatever landed in a pull
// step's upload slot.
func (r *Runner) publishPulled(executionID, slotID string) {
	files, err := r.staging.SlotFiles(slotID)
	if err != nil {
		r.logger.Warn("listing upload slot", "slot", slotID, "error", err)
		return
	}
	for _, path := range files {
		link := r.staging.OneTimeLink(path)
		r.tracker.AppendLog(executionID, fmt.Sprintf("Pulled %s, download: %s", filepath.Base(path), link))
	}
}

// classifyResult maps a command result to step success or failure. A generic
// error result, or a shell result with a non-zero exit code, is a failure;
// every other result kind counts as success without inspecting its content.
func classifyResult(result protocol.Result) (string, bool) {
	switch v := result.(type) {
	case protocol.Error:
		return v.Message, false
	case protocol.ShellOutput:
		if v.ExitCode != 0 {
			detail := strings.TrimSpace(v.Stderr)
			if detail != "" {
				return fmt.Sprintf("Shell command failed. Stderr: %s. Exit Code: %d", detail, v.ExitCode), false
			}
			return fmt.Sprintf("Shell command failed. Exit Code: %d", v.ExitCode), false
		}
		return strings.TrimSpace(v.Stdout), true
	case protocol.DirChanged:
		return "changed directory to " + v.NewPath, true
	case protocol.FileList:
		return fmt.Sprintf("%d entries listed", len(v.Files)), true
	case protocol.FileContent:
		return fmt.Sprintf("read %d bytes", len(v.Content)), true
	case protocol.HardwareInfo:
		return fmt.Sprintf("cpu %.1f%%, memory %d/%d", v.CPUUsage, v.UsedMemory, v.TotalMemory), true
	case protocol.Success:
		return v.Message, true
	default:
		return "", true
	}
}

// describeStep renders a step for the log.
func describeStep(step store.Step) string {
	switch step.Kind {
	case store.StepShell:
		return "shell: " + step.Command
	case store.StepPushFile:
		return fmt.Sprintf("push file %s -> %s", step.LocalPath, step.RemotePath)
	case store.StepPullFile:
		return fmt.Sprintf("pull file %s", step.RemotePath)
	case store.StepPushDir:
		return fmt.Sprintf("push directory %s -> %s", step.LocalPath, step.RemotePath)
	case store.StepPullDir:
		return fmt.Sprintf("pull directory %s", step.RemotePath)
	default:
		return string(step.Kind)
	}
}
