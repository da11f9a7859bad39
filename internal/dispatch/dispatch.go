// ABOUTME: Stateless command dispatch: mints a correlation ID and enqueues to a session.
// ABOUTME: Never waits for the agent; all outcomes are observed via the result store.

package dispatch

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/drover-hq/drover/internal/agent"
	"github.com/drover-hq/drover/internal/protocol"
)

// Dispatcher routes command payloads to live agent sessions.
type Dispatcher struct {
	registry *agent.Registry
	logger   *slog.Logger
}

// NewDispatcher creates a new Dispatcher instance.
func NewDispatcher(registry *agent.Registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger,
	}
}

// Dispatch mints a fresh correlation ID, wraps the payload in a command
// message and enqueues it to the agent's session. It returns the correlation
// ID immediately; it never waits for the agent to execute anything.
//
// Returns agent.ErrAgentNotFound if the agent has no live session. A full
// outbound queue fails this call; it signals the agent is not draining.
func (d *Dispatcher) Dispatch(agentID string, payload protocol.Payload) (string, error) {
	s, ok := d.registry.Get(agentID)
	if !ok {
		return "", agent.ErrAgentNotFound
	}

	correlationID := uuid.New().String()
	msg, err := protocol.NewCommand(correlationID, payload)
	if err != nil {
		return "", fmt.Errorf("building command: %w", err)
	}

	if err := s.Enqueue(msg); err != nil {
		return "", fmt.Errorf("sending to agent %s: %w", agentID, err)
	}

	d.logger.Debug("command dispatched",
		"agent_id", agentID,
		"correlation_id", correlationID,
		"kind", payload.Kind(),
	)
	return correlationID, nil
}
