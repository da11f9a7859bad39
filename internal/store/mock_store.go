// ABOUTME: Mock Store implementation for testing.
// ABOUTME: Allows tests to run without SQLite.

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	agents     map[string]*AgentRecord
	scripts    map[string]*Script
	groups     map[string]*Group
	executions map[string]*Execution
	execOrder  []string // execution IDs in creation order
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		agents:     make(map[string]*AgentRecord),
		scripts:    make(map[string]*Script),
		groups:     make(map[string]*Group),
		executions: make(map[string]*Execution),
	}
}

// UpsertAgent inserts or updates an agent record.
func (m *MockStore) UpsertAgent(ctx context.Context, agent *AgentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := *agent
	now := time.Now().UTC()
	if existing, ok := m.agents[a.ID]; ok {
		a.CreatedAt = existing.CreatedAt
	} else {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	m.agents[a.ID] = &a
	return nil
}

// GetAgent retrieves an agent by ID.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*AgentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	a := *agent
	return &a, nil
}

// ListAgents returns all agents, most recently seen first.
func (m *MockStore) ListAgents(ctx context.Context) ([]*AgentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agents := make([]*AgentRecord, 0, len(m.agents))
	for _, agent := range m.agents {
		a := *agent
		agents = append(agents, &a)
	}
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].LastSeen.After(agents[j].LastSeen)
	})
	return agents, nil
}

// TouchAgent updates an agent's last-seen timestamp.
func (m *MockStore) TouchAgent(ctx context.Context, id string, seen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	agent, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	agent.LastSeen = seen
	agent.UpdatedAt = time.Now().UTC()
	return nil
}

// SetAgentStatus updates an agent's connection status.
func (m *MockStore) SetAgentStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	agent, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	agent.Status = status
	agent.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteAgent removes an agent record.
func (m *MockStore) DeleteAgent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[id]; !ok {
		return ErrNotFound
	}
	delete(m.agents, id)
	return nil
}

// CreateScript stores a new script.
func (m *MockStore) CreateScript(ctx context.Context, script *Script) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := copyScript(script)
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	m.scripts[s.ID] = s
	return nil
}

// GetScript retrieves a script by ID.
func (m *MockStore) GetScript(ctx context.Context, id string) (*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	script, ok := m.scripts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyScript(script), nil
}

// ListScripts returns all scripts ordered by name.
func (m *MockStore) ListScripts(ctx context.Context) ([]*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scripts := make([]*Script, 0, len(m.scripts))
	for _, script := range m.scripts {
		scripts = append(scripts, copyScript(script))
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].Name < scripts[j].Name })
	return scripts, nil
}

// UpdateScript replaces a script's name and steps.
func (m *MockStore) UpdateScript(ctx context.Context, script *Script) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.scripts[script.ID]
	if !ok {
		return ErrNotFound
	}
	s := copyScript(script)
	s.CreatedAt = existing.CreatedAt
	s.UpdatedAt = time.Now().UTC()
	m.scripts[s.ID] = s
	return nil
}

// DeleteScript removes a script.
func (m *MockStore) DeleteScript(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.scripts[id]; !ok {
		return ErrNotFound
	}
	delete(m.scripts, id)
	return nil
}

// CreateGroup stores a new group.
func (m *MockStore) CreateGroup(ctx context.Context, group *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := copyGroup(group)
	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now
	m.groups[g.ID] = g
	return nil
}

// GetGroup retrieves a group by ID.
func (m *MockStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	group, ok := m.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyGroup(group), nil
}

// ListGroups returns all groups ordered by name.
func (m *MockStore) ListGroups(ctx context.Context) ([]*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	groups := make([]*Group, 0, len(m.groups))
	for _, group := range m.groups {
		groups = append(groups, copyGroup(group))
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

// UpdateGroup replaces a group's name, membership and bindings.
func (m *MockStore) UpdateGroup(ctx context.Context, group *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.groups[group.ID]
	if !ok {
		return ErrNotFound
	}
	g := copyGroup(group)
	g.CreatedAt = existing.CreatedAt
	g.UpdatedAt = time.Now().UTC()
	m.groups[g.ID] = g
	return nil
}

// DeleteGroup removes a group.
func (m *MockStore) DeleteGroup(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[id]; !ok {
		return ErrNotFound
	}
	delete(m.groups, id)
	return nil
}

// CreateExecution stores a new execution record.
func (m *MockStore) CreateExecution(ctx context.Context, exec *Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := copyExecution(exec)
	m.executions[e.ID] = e
	m.execOrder = append(m.execOrder, e.ID)
	return nil
}

// FinishExecution records an execution's terminal state.
func (m *MockStore) FinishExecution(ctx context.Context, id, status string, log []string, finishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.executions[id]
	if !ok {
		return ErrNotFound
	}
	exec.Status = status
	exec.Log = append([]string(nil), log...)
	t := finishedAt
	exec.FinishedAt = &t
	return nil
}

// ListExecutions returns up to limit executions, newest first.
func (m *MockStore) ListExecutions(ctx context.Context, limit int) ([]*Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	execs := make([]*Execution, 0, len(m.execOrder))
	for i := len(m.execOrder) - 1; i >= 0; i-- {
		if limit > 0 && len(execs) >= limit {
			break
		}
		execs = append(execs, copyExecution(m.executions[m.execOrder[i]]))
	}
	return execs, nil
}

// ClearExecutions removes all execution history.
func (m *MockStore) ClearExecutions(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.executions = make(map[string]*Execution)
	m.execOrder = nil
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error { return nil }

func copyScript(s *Script) *Script {
	c := *s
	c.Steps = append([]Step(nil), s.Steps...)
	return &c
}

func copyGroup(g *Group) *Group {
	c := *g
	c.Members = append([]string(nil), g.Members...)
	c.ScriptIDs = append([]string(nil), g.ScriptIDs...)
	return &c
}

func copyExecution(e *Execution) *Execution {
	c := *e
	c.Log = append([]string(nil), e.Log...)
	if e.FinishedAt != nil {
		t := *e.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
