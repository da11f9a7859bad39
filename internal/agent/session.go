// ABOUTME: Represents one agent's live connection and its paired pump loops.
// ABOUTME: Runs the handshake, then outbound delivery and inbound parsing until either fails.

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drover-hq/drover/internal/protocol"
	"github.com/drover-hq/drover/internal/store"
)

// ErrQueueFull indicates the session's outbound queue is at capacity; the
// agent is not draining fast enough.
var ErrQueueFull = errors.New("outbound queue full")

// ErrSessionClosed indicates the session has already terminated.
var ErrSessionClosed = errors.New("session closed")

// ErrAuthFailed indicates a registration carried the wrong token.
var ErrAuthFailed = errors.New("authentication failed")

const (
	// outboundQueueSize bounds how many undelivered messages a slow agent
	// may accumulate before dispatch starts failing.
	outboundQueueSize = 100

	writeWait = 10 * time.Second
)

// Session is the ephemeral state of one live agent connection: the transport
// handle, a bounded outbound queue and the metadata snapshot captured at
// handshake time.
type Session struct {
	ID          string
	Hostname    string
	OS          string
	Alias       string
	Version     string
	Addresses   []string
	RemoteAddr  string
	ConnectedAt time.Time

	conn      *websocket.Conn
	outbound  chan protocol.Message
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func newSession(reg protocol.Register, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Session {
	return &Session{
		ID:          reg.AgentID,
		Hostname:    reg.Hostname,
		OS:          reg.OS,
		Alias:       reg.Alias,
		Version:     reg.Version,
		Addresses:   reg.Addresses,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		conn:        conn,
		outbound:    make(chan protocol.Message, outboundQueueSize),
		done:        make(chan struct{}),
		logger:      logger.With("agent_id", reg.AgentID),
	}
}

// Enqueue places a message on the session's outbound queue without blocking.
// Returns ErrSessionClosed if the session has terminated and ErrQueueFull if
// the queue is at capacity.
func (s *Session) Enqueue(msg protocol.Message) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.outbound <- msg:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrQueueFull
	}
}

// Close terminates the session. Safe to call any number of times, including
// on a session whose loops have already finished.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Done is closed when the session terminates.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ServeParams carries the dependencies for one agent connection's lifecycle.
type ServeParams struct {
	Conn       *websocket.Conn
	RemoteAddr string
	AuthToken  string
	Registry   *Registry
	Results    ResultSink
	Store      store.Store
	Logger     *slog.Logger
}

// ResultSink receives command results parsed off an agent's inbound stream.
// Implemented by the dispatch result store.
type ResultSink interface {
	Put(correlationID string, result protocol.Result)
}

// ServeSession runs the complete lifecycle of one agent connection: the
// handshake, registration, the paired pump loops and teardown. It blocks
// until the connection terminates. The handshake is a single attempt: the
// first frame must be a Register message with the configured token, or the
// connection is closed with no registry entry created.
func ServeSession(ctx context.Context, p ServeParams) error {
	defer p.Conn.Close()

	reg, err := readRegistration(p.Conn)
	if err != nil {
		p.Logger.Warn("handshake failed", "remote_addr", p.RemoteAddr, "error", err)
		return err
	}

	if reg.Token != p.AuthToken {
		if msg, err := protocol.NewAuthFailed("Invalid token"); err == nil {
			p.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = p.Conn.WriteJSON(msg)
		}
		p.Logger.Warn("registration rejected", "agent_id", reg.AgentID, "remote_addr", p.RemoteAddr)
		return ErrAuthFailed
	}

	p.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := p.Conn.WriteJSON(protocol.NewAuthSuccess()); err != nil {
		return fmt.Errorf("sending auth success: %w", err)
	}

	s := newSession(reg, p.Conn, p.RemoteAddr, p.Logger)

	now := time.Now().UTC()
	record := &store.AgentRecord{
		ID:        reg.AgentID,
		Hostname:  reg.Hostname,
		OS:        reg.OS,
		Alias:     reg.Alias,
		Version:   reg.Version,
		Addresses: reg.Addresses,
		Status:    store.AgentStatusConnected,
		LastSeen:  now,
	}
	if err := p.Store.UpsertAgent(ctx, record); err != nil {
		s.logger.Error("persisting agent record", "error", err)
	}

	if displaced := p.Registry.Register(s); displaced != nil {
		displaced.Close()
	}

	// Outbound loop in its own goroutine; it closes the session on exit,
	// which unblocks the inbound loop's read. The inbound loop runs here.
	go s.writePump()
	s.readPump(ctx, p.Results, p.Store)
	s.Close()

	// A session displaced by a re-registration must not mark the agent
	// disconnected: the replacement session is live and the record is its.
	if p.Registry.Unregister(s.ID, s) {
		// The session context is usually gone by now; status still needs writing.
		if err := p.Store.SetAgentStatus(context.WithoutCancel(ctx), s.ID, store.AgentStatusDisconnected); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("marking agent disconnected", "error", err)
		}
	}
	return nil
}

// readRegistration waits for exactly one inbound message and requires it to
// be a Register. Anything else is a protocol violation.
func readRegistration(conn *websocket.Conn) (protocol.Register, error) {
	var reg protocol.Register

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return reg, fmt.Errorf("reading registration: %w", err)
	}

	var msg protocol.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return reg, fmt.Errorf("malformed registration frame: %w", err)
	}
	if msg.Type != protocol.TypeRegister {
		return reg, fmt.Errorf("first message must be %s, got %s", protocol.TypeRegister, msg.Type)
	}
	return protocol.DecodeRegister(msg)
}

// writePump drains the outbound queue onto the transport in enqueue order.
// A write failure or session close terminates the loop; on exit it closes
// the session so the inbound loop unwinds too.
func (s *Session) writePump() {
	defer s.Close()

	for {
		select {
		case msg := <-s.outbound:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Warn("outbound write failed", "error", err)
				return
			}
		case <-s.done:
			return
		}
	}
}

// readPump parses inbound frames until a transport failure or close.
// Heartbeats touch the agent's last-seen timestamp, responses land in the
// result sink, anything else is ignored (commands flow coordinator->agent
// only). One malformed frame is logged and skipped, not fatal.
func (s *Session) readPump(ctx context.Context, results ResultSink, st store.Store) {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Debug("inbound read terminated", "error", err)
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("skipping malformed inbound frame", "error", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeHeartbeat:
			if err := st.TouchAgent(ctx, s.ID, time.Now().UTC()); err != nil && !errors.Is(err, store.ErrNotFound) {
				s.logger.Error("updating last seen", "error", err)
			}

		case protocol.TypeResponse:
			resp, err := protocol.DecodeResponse(msg)
			if err != nil {
				s.logger.Warn("skipping malformed response", "error", err)
				continue
			}
			results.Put(resp.ID, resp.Result)
			s.logger.Debug("response received", "correlation_id", resp.ID, "status", resp.Result.Status())

		default:
			// Register after handshake, or message kinds that only flow
			// coordinator->agent. Ignore.
		}
	}
}
