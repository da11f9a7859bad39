// ABOUTME: Operator API handlers: agents, ad-hoc commands, scripts, groups, executions, history.
// ABOUTME: Handlers translate between store/protocol types and the JSON wire DTOs.

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drover-hq/drover/internal/agent"
	"github.com/drover-hq/drover/internal/protocol"
	"github.com/drover-hq/drover/internal/script"
	"github.com/drover-hq/drover/internal/store"
)

// agentInfo is the API view of an agent: the durable record plus liveness.
type agentInfo struct {
	ID        string    `json:"id"`
	Hostname  string    `json:"hostname"`
	OS        string    `json:"os"`
	Alias     string    `json:"alias,omitempty"`
	Version   string    `json:"version,omitempty"`
	Addresses []string  `json:"addresses,omitempty"`
	Status    string    `json:"status"`
	Online    bool      `json:"online"`
	LastSeen  time.Time `json:"last_seen"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListAgents(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]agentInfo, 0, len(records))
	for _, rec := range records {
		out = append(out, agentInfo{
			ID:        rec.ID,
			Hostname:  rec.Hostname,
			OS:        rec.OS,
			Alias:     rec.Alias,
			Version:   rec.Version,
			Addresses: rec.Addresses,
			Status:    rec.Status,
			Online:    s.registry.IsOnline(rec.ID),
			LastSeen:  rec.LastSeen,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEvictAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	evicted := s.registry.Evict(id)

	if err := s.store.DeleteAgent(r.Context(), id); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"evicted": evicted})
}

// handleSendCommand takes a raw command payload, dispatches it to the agent
// and returns the correlation ID without waiting for the result.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}

	payload, err := protocol.UnmarshalPayload(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	correlationID, err := s.dispatcher.Dispatch(r.PathValue("id"), payload)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, agent.ErrAgentNotFound) {
			status = http.StatusNotFound
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"correlation_id": correlationID})
}

func (s *Server) handleCommandResult(w http.ResponseWriter, r *http.Request) {
	result, ok := s.results.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "no result yet")
		return
	}

	data, err := protocol.MarshalResult(result)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// scriptRequest is the create/update body for scripts.
type scriptRequest struct {
	Name  string       `json:"name"`
	Steps []store.Step `json:"steps"`
}

// scriptInfo is the API view of a script.
type scriptInfo struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Steps     []store.Step `json:"steps"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func scriptView(sc *store.Script) scriptInfo {
	return scriptInfo{
		ID:        sc.ID,
		Name:      sc.Name,
		Steps:     sc.Steps,
		CreatedAt: sc.CreatedAt,
		UpdatedAt: sc.UpdatedAt,
	}
}

func validateScript(req scriptRequest) string {
	if strings.TrimSpace(req.Name) == "" {
		return "script name is required"
	}
	if len(req.Steps) == 0 {
		return "script needs at least one step"
	}
	for i, step := range req.Steps {
		switch step.Kind {
		case store.StepShell:
			if strings.TrimSpace(step.Command) == "" {
				return "step " + strconv.Itoa(i+1) + ": shell step needs a command"
			}
		case store.StepPushFile, store.StepPushDir:
			if step.LocalPath == "" || step.RemotePath == "" {
				return "step " + strconv.Itoa(i+1) + ": push step needs local_path and remote_path"
			}
		case store.StepPullFile, store.StepPullDir:
			if step.RemotePath == "" {
				return "step " + strconv.Itoa(i+1) + ": pull step needs remote_path"
			}
		default:
			return "step " + strconv.Itoa(i+1) + ": unknown kind " + string(step.Kind)
		}
	}
	return ""
}

func (s *Server) handleListScripts(w http.ResponseWriter, r *http.Request) {
	scripts, err := s.store.ListScripts(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]scriptInfo, 0, len(scripts))
	for _, sc := range scripts {
		out = append(out, scriptView(sc))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateScript(w http.ResponseWriter, r *http.Request) {
	var req scriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := validateScript(req); msg != "" {
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}

	now := time.Now().UTC()
	sc := &store.Script{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Steps:     req.Steps,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateScript(r.Context(), sc); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, scriptView(sc))
}

func (s *Server) handleUpdateScript(w http.ResponseWriter, r *http.Request) {
	var req scriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg := validateScript(req); msg != "" {
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}

	sc, err := s.store.GetScript(r.Context(), r.PathValue("id"))
	if err != nil {
		s.notFoundOr500(w, err)
		return
	}
	sc.Name = req.Name
	sc.Steps = req.Steps
	sc.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateScript(r.Context(), sc); err != nil {
		s.notFoundOr500(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, scriptView(sc))
}

func (s *Server) handleDeleteScript(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteScript(r.Context(), r.PathValue("id")); err != nil {
		s.notFoundOr500(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunScript starts the script against each named agent. Agents without
// a live session are skipped and reported, not failed.
func (s *Server) handleRunScript(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentIDs []string `json:"agent_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.AgentIDs) == 0 {
		s.writeError(w, http.StatusBadRequest, "agent_ids is required")
		return
	}

	sc, err := s.store.GetScript(r.Context(), r.PathValue("id"))
	if err != nil {
		s.notFoundOr500(w, err)
		return
	}

	var started []string
	var skipped []string
	for _, agentID := range req.AgentIDs {
		if !s.registry.IsOnline(agentID) {
			skipped = append(skipped, agentID)
			continue
		}
		executionID, err := s.runner.Start(r.Context(), agentID, sc)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		started = append(started, executionID)
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"execution_ids":  started,
		"skipped_agents": skipped,
	})
}

// groupRequest is the create/update body for groups.
type groupRequest struct {
	Name      string   `json:"name"`
	Members   []string `json:"members"`
	ScriptIDs []string `json:"script_ids"`
}

// groupInfo is the API view of a group.
type groupInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Members   []string  `json:"members"`
	ScriptIDs []string  `json:"script_ids"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func groupView(g *store.Group) groupInfo {
	return groupInfo{
		ID:        g.ID,
		Name:      g.Name,
		Members:   g.Members,
		ScriptIDs: g.ScriptIDs,
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
	}
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListGroups(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]groupInfo, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupView(g))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "group name is required")
		return
	}

	now := time.Now().UTC()
	g := &store.Group{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Members:   req.Members,
		ScriptIDs: req.ScriptIDs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateGroup(r.Context(), g); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, groupView(g))
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	g, err := s.store.GetGroup(r.Context(), r.PathValue("id"))
	if err != nil {
		s.notFoundOr500(w, err)
		return
	}
	if strings.TrimSpace(req.Name) != "" {
		g.Name = req.Name
	}
	g.Members = req.Members
	g.ScriptIDs = req.ScriptIDs
	g.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateGroup(r.Context(), g); err != nil {
		s.notFoundOr500(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, groupView(g))
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteGroup(r.Context(), r.PathValue("id")); err != nil {
		s.notFoundOr500(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunGroup(w http.ResponseWriter, r *http.Request) {
	executionIDs, err := s.runner.RunGroup(r.Context(), r.PathValue("id"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, script.ErrEmptyGroup):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"execution_ids": executionIDs})
}

// executionInfo is the API view of a live execution.
type executionInfo struct {
	ExecutionID string    `json:"execution_id"`
	AgentID     string    `json:"agent_id"`
	ScriptID    string    `json:"script_id"`
	ScriptName  string    `json:"script_name"`
	Status      string    `json:"status"`
	CurrentStep int       `json:"current_step"`
	TotalSteps  int       `json:"total_steps"`
	Log         []string  `json:"log"`
	StartedAt   time.Time `json:"started_at"`
}

func progressView(p script.Progress) executionInfo {
	return executionInfo{
		ExecutionID: p.ExecutionID,
		AgentID:     p.AgentID,
		ScriptID:    p.ScriptID,
		ScriptName:  p.ScriptName,
		Status:      string(p.Status),
		CurrentStep: p.CurrentStep,
		TotalSteps:  p.TotalSteps,
		Log:         p.Log,
		StartedAt:   p.StartedAt,
	}
}

func (s *Server) handleActiveExecutions(w http.ResponseWriter, r *http.Request) {
	active := s.tracker.Active()
	out := make([]executionInfo, 0, len(active))
	for _, p := range active {
		out = append(out, progressView(p))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleGetExecution serves live progress if the execution is still tracked,
// falling back to the durable history record.
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if p, ok := s.tracker.Get(id); ok {
		s.writeJSON(w, http.StatusOK, progressView(p))
		return
	}

	execs, err := s.store.ListExecutions(r.Context(), 0)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, e := range execs {
		if e.ID == id {
			s.writeJSON(w, http.StatusOK, historyView(e))
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "execution not found")
}

// historyEntry is the API view of a finished execution record.
type historyEntry struct {
	ID         string     `json:"id"`
	AgentID    string     `json:"agent_id"`
	ScriptID   string     `json:"script_id"`
	ScriptName string     `json:"script_name"`
	Status     string     `json:"status"`
	Log        []string   `json:"log"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func historyView(e *store.Execution) historyEntry {
	return historyEntry{
		ID:         e.ID,
		AgentID:    e.AgentID,
		ScriptID:   e.ScriptID,
		ScriptName: e.ScriptName,
		Status:     e.Status,
		Log:        e.Log,
		StartedAt:  e.StartedAt,
		FinishedAt: e.FinishedAt,
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	execs, err := s.store.ListExecutions(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]historyEntry, 0, len(execs))
	for _, e := range execs {
		out = append(out, historyView(e))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearExecutions(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) notFoundOr500(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}
