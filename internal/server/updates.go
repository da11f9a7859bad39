// ABOUTME: Fleet update trigger: fans an update_agent command out to live agents.
// ABOUTME: The binary itself travels through the staging area like any pushed file.

package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/drover-hq/drover/internal/protocol"
)

// updateRequest names the staged binary to roll out, or a direct URL to it.
// When AgentIDs is empty the update goes to every connected agent.
type updateRequest struct {
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	AgentIDs []string `json:"agent_ids"`
}

// handleTriggerUpdate dispatches the update command to the selected agents
// and returns the correlation IDs so callers can poll the install results.
// Per-agent dispatch failures are reported, not fatal: a rollout should
// reach everyone it can.
func (s *Server) handleTriggerUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	url := req.URL
	if url == "" {
		if strings.TrimSpace(req.Name) == "" {
			s.writeError(w, http.StatusBadRequest, "name or url is required")
			return
		}
		url = s.staging.DownloadURL(req.Name)
	}

	targets := req.AgentIDs
	if len(targets) == 0 {
		for _, session := range s.registry.List() {
			targets = append(targets, session.ID)
		}
	}
	if len(targets) == 0 {
		s.writeError(w, http.StatusConflict, "no connected agents to update")
		return
	}

	dispatched := make(map[string]string)
	failed := make(map[string]string)
	for _, agentID := range targets {
		correlationID, err := s.dispatcher.Dispatch(agentID, protocol.UpdateAgent{URL: url})
		if err != nil {
			failed[agentID] = err.Error()
			continue
		}
		dispatched[agentID] = correlationID
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"dispatched": dispatched,
		"failed":     failed,
	})
}
