// ABOUTME: Group fan-out: expands a group into per-(member, script) executions.
// ABOUTME: Members run in parallel; each member's bound scripts run sequentially.

package script

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/drover-hq/drover/internal/store"
)

// ErrEmptyGroup indicates a group run was requested with no members or no
// bound scripts; nothing is started.
var ErrEmptyGroup = errors.New("group has no members or no bound scripts")

// memberRun pairs a pre-created execution with its script.
type memberRun struct {
	executionID string
	script      *store.Script
}

// RunGroup starts one independent execution per (reachable member, bound
// script) pair and returns the execution IDs. Unreachable members are
// silently skipped, not retried, not queued. Per member the bound scripts
// run sequentially in binding order; members run fully in parallel. Every
// history record is created before any step runs.
func (r *Runner) RunGroup(ctx context.Context, groupID string) ([]string, error) {
	group, err := r.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("loading group: %w", err)
	}
	if len(group.Members) == 0 || len(group.ScriptIDs) == 0 {
		return nil, ErrEmptyGroup
	}

	scripts := make([]*store.Script, 0, len(group.ScriptIDs))
	for _, scriptID := range group.ScriptIDs {
		sc, err := r.store.GetScript(ctx, scriptID)
		if err != nil {
			return nil, fmt.Errorf("loading script %s: %w", scriptID, err)
		}
		scripts = append(scripts, sc)
	}

	background := context.WithoutCancel(ctx)
	var executionIDs []string

	for _, member := range group.Members {
		if !r.presence.IsOnline(member) {
			r.logger.Info("skipping unreachable group member",
				"group_id", groupID, "agent_id", member)
			continue
		}

		runs := make([]memberRun, 0, len(scripts))
		for _, sc := range scripts {
			executionID := uuid.New().String()
			if err := r.prepare(ctx, executionID, member, sc); err != nil {
				// Runs already prepared for this member will never start;
				// close their records out instead of leaving them running.
				for _, run := range runs {
					r.tracker.AppendLog(run.executionID, "Aborted: group run failed to start")
					r.finish(background, run.executionID, store.ExecutionStatusFailed)
				}
				return executionIDs[:len(executionIDs)-len(runs)], err
			}
			runs = append(runs, memberRun{executionID: executionID, script: sc})
			executionIDs = append(executionIDs, executionID)
		}

		go func(member string, runs []memberRun) {
			for _, run := range runs {
				r.execute(background, run.executionID, member, run.script)
			}
		}(member, runs)
	}

	return executionIDs, nil
}
