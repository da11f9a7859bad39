// ABOUTME: HTTP control surface for drover: agent websocket endpoint, operator API, file endpoints.
// ABOUTME: Thin layer over the registry, dispatcher, runner, tracker, staging and store.

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/drover-hq/drover/internal/agent"
	"github.com/drover-hq/drover/internal/dispatch"
	"github.com/drover-hq/drover/internal/script"
	"github.com/drover-hq/drover/internal/store"
	"github.com/drover-hq/drover/internal/transfer"
)

// Server wires the coordinator's components behind an HTTP mux.
type Server struct {
	registry   *agent.Registry
	dispatcher *dispatch.Dispatcher
	results    *dispatch.ResultStore
	runner     *script.Runner
	tracker    *script.Tracker
	store      store.Store
	staging    *transfer.Staging
	authToken  string
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// Params carries the dependencies for a Server.
type Params struct {
	Registry   *agent.Registry
	Dispatcher *dispatch.Dispatcher
	Results    *dispatch.ResultStore
	Runner     *script.Runner
	Tracker    *script.Tracker
	Store      store.Store
	Staging    *transfer.Staging
	AuthToken  string
	Logger     *slog.Logger
}

// New creates a Server.
func New(p Params) *Server {
	return &Server{
		registry:   p.Registry,
		dispatcher: p.Dispatcher,
		results:    p.Results,
		runner:     p.Runner,
		tracker:    p.Tracker,
		store:      p.Store,
		staging:    p.Staging,
		authToken:  p.AuthToken,
		logger:     p.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Agents connect from anywhere; registration is token-gated.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the complete route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Agent transport
	mux.HandleFunc("GET /ws", s.handleAgentSocket)

	// Agents
	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("DELETE /api/agents/{id}", s.handleEvictAgent)
	mux.HandleFunc("POST /api/agents/{id}/command", s.handleSendCommand)
	mux.HandleFunc("GET /api/commands/{id}/result", s.handleCommandResult)

	// Scripts
	mux.HandleFunc("GET /api/scripts", s.handleListScripts)
	mux.HandleFunc("POST /api/scripts", s.handleCreateScript)
	mux.HandleFunc("PUT /api/scripts/{id}", s.handleUpdateScript)
	mux.HandleFunc("DELETE /api/scripts/{id}", s.handleDeleteScript)
	mux.HandleFunc("POST /api/scripts/{id}/run", s.handleRunScript)

	// Groups
	mux.HandleFunc("GET /api/groups", s.handleListGroups)
	mux.HandleFunc("POST /api/groups", s.handleCreateGroup)
	mux.HandleFunc("PUT /api/groups/{id}", s.handleUpdateGroup)
	mux.HandleFunc("DELETE /api/groups/{id}", s.handleDeleteGroup)
	mux.HandleFunc("POST /api/groups/{id}/run", s.handleRunGroup)

	// Executions
	mux.HandleFunc("GET /api/executions/active", s.handleActiveExecutions)
	mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("DELETE /api/history", s.handleClearHistory)

	// Fleet updates
	mux.HandleFunc("POST /api/updates/trigger", s.handleTriggerUpdate)

	// File transfer endpoints
	mux.HandleFunc("POST /api/files/stage", s.handleStageFile)
	mux.HandleFunc("GET /files/download/staging/{name}", s.handleDownloadStaged)
	mux.HandleFunc("POST /files/upload/{slot}", s.handleUpload)
	mux.HandleFunc("GET /files/fetch/{token}", s.handleFetchOnce)

	return mux
}

// handleAgentSocket upgrades the connection and hands it to the session
// lifecycle; the handler blocks until the agent disconnects.
func (s *Server) handleAgentSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	_ = agent.ServeSession(r.Context(), agent.ServeParams{
		Conn:       conn,
		RemoteAddr: r.RemoteAddr,
		AuthToken:  s.authToken,
		Registry:   s.registry,
		Results:    s.results,
		Store:      s.store,
		Logger:     s.logger,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
