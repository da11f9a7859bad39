// ABOUTME: Store interface and data types for drover persistence.
// ABOUTME: Defines agent, script, group and execution records and their CRUD surface.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Agent status constants
const (
	AgentStatusConnected    = "connected"
	AgentStatusDisconnected = "disconnected"
)

// Execution status constants
const (
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)

// AgentRecord is the durable identity of an agent, created on first
// registration and updated in place on every later one.
type AgentRecord struct {
	ID        string
	Hostname  string
	OS        string
	Alias     string
	Version   string
	Addresses []string
	Status    string // "connected" or "disconnected"
	LastSeen  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StepKind identifies what a script step does.
type StepKind string

const (
	StepShell    StepKind = "shell"     // run a shell command
	StepPushFile StepKind = "push_file" // coordinator -> agent file
	StepPullFile StepKind = "pull_file" // agent -> coordinator file
	StepPushDir  StepKind = "push_dir"  // coordinator -> agent directory (zipped)
	StepPullDir  StepKind = "pull_dir"  // agent -> coordinator directory (zipped)
)

// Step is one unit of a script. Which fields are meaningful depends on Kind:
// shell steps use Command, transfer steps use LocalPath/RemotePath.
type Step struct {
	Kind       StepKind `json:"kind"`
	Command    string   `json:"command,omitempty"`
	LocalPath  string   `json:"local_path,omitempty"`
	RemotePath string   `json:"remote_path,omitempty"`
}

// Script is a named ordered list of steps. In-flight executions hold their
// own copy, so edits never affect a running execution.
type Script struct {
	ID        string
	Name      string
	Steps     []Step
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Group names a set of member agents together with the scripts bound to run
// against them. Membership and bindings take effect on the next run.
type Group struct {
	ID        string
	Name      string
	Members   []string // agent IDs
	ScriptIDs []string // bound scripts, in run order
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Execution is the durable history record of one script run against one
// agent. Created before the run starts; finished exactly once.
type Execution struct {
	ID         string
	AgentID    string
	ScriptID   string
	ScriptName string
	Status     string // "running", "completed" or "failed"
	Log        []string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Store defines the persistence surface the coordinator depends on.
// Everything is keyed access; there is no query language.
type Store interface {
	// Agents
	UpsertAgent(ctx context.Context, agent *AgentRecord) error
	GetAgent(ctx context.Context, id string) (*AgentRecord, error)
	ListAgents(ctx context.Context) ([]*AgentRecord, error)
	TouchAgent(ctx context.Context, id string, seen time.Time) error
	SetAgentStatus(ctx context.Context, id, status string) error
	DeleteAgent(ctx context.Context, id string) error

	// Scripts
	CreateScript(ctx context.Context, script *Script) error
	GetScript(ctx context.Context, id string) (*Script, error)
	ListScripts(ctx context.Context) ([]*Script, error)
	UpdateScript(ctx context.Context, script *Script) error
	DeleteScript(ctx context.Context, id string) error

	// Groups
	CreateGroup(ctx context.Context, group *Group) error
	GetGroup(ctx context.Context, id string) (*Group, error)
	ListGroups(ctx context.Context) ([]*Group, error)
	UpdateGroup(ctx context.Context, group *Group) error
	DeleteGroup(ctx context.Context, id string) error

	// Execution history
	CreateExecution(ctx context.Context, exec *Execution) error
	FinishExecution(ctx context.Context, id, status string, log []string, finishedAt time.Time) error
	ListExecutions(ctx context.Context, limit int) ([]*Execution, error)
	ClearExecutions(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}
