// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite.
// ABOUTME: Provides agent/script/group/execution persistence with automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			hostname TEXT NOT NULL,
			os TEXT NOT NULL,
			alias TEXT NOT NULL DEFAULT '',
			version TEXT NOT NULL DEFAULT '',
			addresses TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			last_seen TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS scripts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			steps TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS agent_groups (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS group_members (
			group_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			PRIMARY KEY (group_id, agent_id),
			FOREIGN KEY (group_id) REFERENCES agent_groups(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS group_scripts (
			group_id TEXT NOT NULL,
			script_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (group_id, script_id),
			FOREIGN KEY (group_id) REFERENCES agent_groups(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			script_id TEXT NOT NULL,
			script_name TEXT NOT NULL,
			status TEXT NOT NULL,
			log TEXT NOT NULL DEFAULT '[]',
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_executions_started_at ON executions(started_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertAgent inserts a new agent record or updates the existing one in place.
// The created_at of an existing record is preserved.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, agent *AgentRecord) error {
	addresses, err := json.Marshal(agent.Addresses)
	if err != nil {
		return fmt.Errorf("encoding addresses: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, hostname, os, alias, version, addresses, status, last_seen, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hostname = excluded.hostname,
			os = excluded.os,
			alias = excluded.alias,
			version = excluded.version,
			addresses = excluded.addresses,
			status = excluded.status,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`,
		agent.ID, agent.Hostname, agent.OS, agent.Alias, agent.Version,
		string(addresses), agent.Status, agent.LastSeen.UTC(), now, now)
	if err != nil {
		return fmt.Errorf("upserting agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent record by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*AgentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, hostname, os, alias, version, addresses, status, last_seen, created_at, updated_at
		FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// ListAgents returns all known agents, most recently seen first.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hostname, os, alias, version, addresses, status, last_seen, created_at, updated_at
		FROM agents ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*AgentRecord
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// TouchAgent updates an agent's last-seen timestamp.
func (s *SQLiteStore) TouchAgent(ctx context.Context, id string, seen time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET last_seen = ?, updated_at = ? WHERE id = ?`,
		seen.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touching agent: %w", err)
	}
	return requireRow(res)
}

// SetAgentStatus updates an agent's connection status.
func (s *SQLiteStore) SetAgentStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("setting agent status: %w", err)
	}
	return requireRow(res)
}

// DeleteAgent removes an agent record.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	return requireRow(res)
}

// CreateScript stores a new script.
func (s *SQLiteStore) CreateScript(ctx context.Context, script *Script) error {
	steps, err := json.Marshal(script.Steps)
	if err != nil {
		return fmt.Errorf("encoding steps: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scripts (id, name, steps, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		script.ID, script.Name, string(steps), now, now)
	if err != nil {
		return fmt.Errorf("creating script: %w", err)
	}
	return nil
}

// GetScript retrieves a script by ID.
func (s *SQLiteStore) GetScript(ctx context.Context, id string) (*Script, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, steps, created_at, updated_at FROM scripts WHERE id = ?`, id)
	return scanScript(row)
}

// ListScripts returns all scripts ordered by name.
func (s *SQLiteStore) ListScripts(ctx context.Context) ([]*Script, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, steps, created_at, updated_at FROM scripts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying scripts: %w", err)
	}
	defer rows.Close()

	var scripts []*Script
	for rows.Next() {
		script, err := scanScript(rows)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, script)
	}
	return scripts, rows.Err()
}

// UpdateScript replaces a script's name and steps.
func (s *SQLiteStore) UpdateScript(ctx context.Context, script *Script) error {
	steps, err := json.Marshal(script.Steps)
	if err != nil {
		return fmt.Errorf("encoding steps: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE scripts SET name = ?, steps = ?, updated_at = ? WHERE id = ?`,
		script.Name, string(steps), time.Now().UTC(), script.ID)
	if err != nil {
		return fmt.Errorf("updating script: %w", err)
	}
	return requireRow(res)
}

// DeleteScript removes a script.
func (s *SQLiteStore) DeleteScript(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scripts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting script: %w", err)
	}
	return requireRow(res)
}

// CreateGroup stores a new group with its membership and script bindings.
func (s *SQLiteStore) CreateGroup(ctx context.Context, group *Group) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO agent_groups (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		group.ID, group.Name, now, now); err != nil {
		return fmt.Errorf("creating group: %w", err)
	}

	if err := insertGroupLinks(ctx, tx, group); err != nil {
		return err
	}
	return tx.Commit()
}

// GetGroup retrieves a group with its members and bound scripts.
func (s *SQLiteStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM agent_groups WHERE id = ?`, id)

	group := &Group{}
	err := row.Scan(&group.ID, &group.Name, &group.CreatedAt, &group.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning group: %w", err)
	}

	if err := s.loadGroupLinks(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

// ListGroups returns all groups with members and bindings, ordered by name.
func (s *SQLiteStore) ListGroups(ctx context.Context) ([]*Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at FROM agent_groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		group := &Group{}
		if err := rows.Scan(&group.ID, &group.Name, &group.CreatedAt, &group.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, group := range groups {
		if err := s.loadGroupLinks(ctx, group); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// UpdateGroup replaces a group's name, membership and script bindings.
func (s *SQLiteStore) UpdateGroup(ctx context.Context, group *Group) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE agent_groups SET name = ?, updated_at = ? WHERE id = ?`,
		group.Name, time.Now().UTC(), group.ID)
	if err != nil {
		return fmt.Errorf("updating group: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ?`, group.ID); err != nil {
		return fmt.Errorf("clearing group members: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM group_scripts WHERE group_id = ?`, group.ID); err != nil {
		return fmt.Errorf("clearing group scripts: %w", err)
	}
	if err := insertGroupLinks(ctx, tx, group); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteGroup removes a group; membership and bindings cascade.
func (s *SQLiteStore) DeleteGroup(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agent_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}
	return requireRow(res)
}

// CreateExecution stores a new execution history record.
func (s *SQLiteStore) CreateExecution(ctx context.Context, exec *Execution) error {
	log, err := json.Marshal(exec.Log)
	if err != nil {
		return fmt.Errorf("encoding log: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, agent_id, script_id, script_name, status, log, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.AgentID, exec.ScriptID, exec.ScriptName, exec.Status,
		string(log), exec.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("creating execution: %w", err)
	}
	return nil
}

// FinishExecution records an execution's terminal status, full log and end time.
func (s *SQLiteStore) FinishExecution(ctx context.Context, id, status string, log []string, finishedAt time.Time) error {
	encoded, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("encoding log: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, log = ?, finished_at = ? WHERE id = ?`,
		status, string(encoded), finishedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("finishing execution: %w", err)
	}
	return requireRow(res)
}

// ListExecutions returns up to limit execution records, newest first.
// A limit of 0 or less returns everything.
func (s *SQLiteStore) ListExecutions(ctx context.Context, limit int) ([]*Execution, error) {
	query := `
		SELECT id, agent_id, script_id, script_name, status, log, started_at, finished_at
		FROM executions ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		exec := &Execution{}
		var log string
		var finishedAt sql.NullTime
		if err := rows.Scan(&exec.ID, &exec.AgentID, &exec.ScriptID, &exec.ScriptName,
			&exec.Status, &log, &exec.StartedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		if err := json.Unmarshal([]byte(log), &exec.Log); err != nil {
			return nil, fmt.Errorf("decoding log: %w", err)
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			exec.FinishedAt = &t
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// ClearExecutions removes all execution history.
func (s *SQLiteStore) ClearExecutions(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM executions`); err != nil {
		return fmt.Errorf("clearing executions: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*AgentRecord, error) {
	agent := &AgentRecord{}
	var addresses string
	err := row.Scan(&agent.ID, &agent.Hostname, &agent.OS, &agent.Alias, &agent.Version,
		&addresses, &agent.Status, &agent.LastSeen, &agent.CreatedAt, &agent.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}
	if err := json.Unmarshal([]byte(addresses), &agent.Addresses); err != nil {
		return nil, fmt.Errorf("decoding addresses: %w", err)
	}
	return agent, nil
}

func scanScript(row scanner) (*Script, error) {
	script := &Script{}
	var steps string
	err := row.Scan(&script.ID, &script.Name, &steps, &script.CreatedAt, &script.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning script: %w", err)
	}
	if err := json.Unmarshal([]byte(steps), &script.Steps); err != nil {
		return nil, fmt.Errorf("decoding steps: %w", err)
	}
	return script, nil
}

func insertGroupLinks(ctx context.Context, tx *sql.Tx, group *Group) error {
	for _, agentID := range group.Members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_members (group_id, agent_id) VALUES (?, ?)`,
			group.ID, agentID); err != nil {
			return fmt.Errorf("adding group member: %w", err)
		}
	}
	for i, scriptID := range group.ScriptIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_scripts (group_id, script_id, position) VALUES (?, ?, ?)`,
			group.ID, scriptID, i); err != nil {
			return fmt.Errorf("binding group script: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) loadGroupLinks(ctx context.Context, group *Group) error {
	memberRows, err := s.db.QueryContext(ctx,
		`SELECT agent_id FROM group_members WHERE group_id = ? ORDER BY agent_id`, group.ID)
	if err != nil {
		return fmt.Errorf("querying group members: %w", err)
	}
	defer memberRows.Close()
	for memberRows.Next() {
		var agentID string
		if err := memberRows.Scan(&agentID); err != nil {
			return fmt.Errorf("scanning group member: %w", err)
		}
		group.Members = append(group.Members, agentID)
	}
	if err := memberRows.Err(); err != nil {
		return err
	}

	scriptRows, err := s.db.QueryContext(ctx,
		`SELECT script_id FROM group_scripts WHERE group_id = ? ORDER BY position`, group.ID)
	if err != nil {
		return fmt.Errorf("querying group scripts: %w", err)
	}
	defer scriptRows.Close()
	for scriptRows.Next() {
		var scriptID string
		if err := scriptRows.Scan(&scriptID); err != nil {
			return fmt.Errorf("scanning group script: %w", err)
		}
		group.ScriptIDs = append(group.ScriptIDs, scriptID)
	}
	return scriptRows.Err()
}

// requireRow converts a zero-rows-affected update into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
