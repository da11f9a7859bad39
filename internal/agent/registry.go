// ABOUTME: Process-wide registry of live agent sessions keyed by agent ID.
// ABOUTME: The single source of truth for whether an agent is currently reachable.

package agent

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// ErrAgentNotFound indicates the specified agent has no live session.
var ErrAgentNotFound = errors.New("agent not found")

// Registry tracks all live agent sessions and routes lookups to them.
type Registry struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewRegistry creates a new Registry instance.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Register installs a session as the live entry for its agent ID and returns
// the session it displaced, if any. The caller is responsible for closing the
// displaced session; its loops unwind on their next send.
func (r *Registry) Register(s *Session) *Session {
	r.mu.Lock()
	displaced := r.sessions[s.ID]
	r.sessions[s.ID] = s
	total := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("=== AGENT CONNECTED ===",
		"agent_id", s.ID,
		"hostname", s.Hostname,
		"os", s.OS,
		"alias", s.Alias,
		"remote_addr", s.RemoteAddr,
		"total_agents", total,
	)
	return displaced
}

// Unregister removes a session from the registry, but only if it is still the
// current entry for its agent ID. A session displaced by a re-registration
// must not remove its replacement on the way out. Returns whether the entry
// was actually removed, so the caller knows if the agent is truly offline.
func (r *Registry) Unregister(agentID string, s *Session) bool {
	r.mu.Lock()
	current, ok := r.sessions[agentID]
	removed := ok && current == s
	if removed {
		delete(r.sessions, agentID)
	}
	total := len(r.sessions)
	r.mu.Unlock()

	if removed {
		r.logger.Info("=== AGENT DISCONNECTED ===",
			"agent_id", agentID,
			"total_agents", total,
		)
	}
	return removed
}

// Get retrieves the live session for an agent ID.
func (r *Registry) Get(agentID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[agentID]
	return s, ok
}

// IsOnline reports whether an agent currently has a live session.
func (r *Registry) IsOnline(agentID string) bool {
	_, ok := r.Get(agentID)
	return ok
}

// List returns all live sessions sorted by agent ID.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Evict force-removes an agent's session. The session is closed, which makes
// its loops unwind; the agent becomes unreachable to new dispatches
// immediately. Returns false if the agent had no live session.
func (r *Registry) Evict(agentID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[agentID]
	if ok {
		delete(r.sessions, agentID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.Close()
	r.logger.Info("agent evicted", "agent_id", agentID)
	return true
}
