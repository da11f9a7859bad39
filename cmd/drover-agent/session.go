// ABOUTME: One coordinator connection: handshake, heartbeats, command execution loop.
// ABOUTME: Returns when the connection drops; the caller decides whether to reconnect.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drover-hq/drover/internal/executor"
	"github.com/drover-hq/drover/internal/protocol"
)

// errAuthRejected means the coordinator refused our registration; retrying
// with the same token would fail the same way.
var errAuthRejected = errors.New("registration rejected")

// errRestart means an update was installed and the process must exit so the
// supervisor starts the new binary.
var errRestart = errors.New("restart requested")

const (
	writeWait       = 10 * time.Second
	commandBacklog  = 100
	handshakeWindow = 10 * time.Second
)

// wsConn serializes writes to the websocket; gorilla connections allow only
// one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) WriteMessage(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// runSession dials the coordinator, registers, and serves commands until the
// connection drops or the context is cancelled.
func runSession(ctx context.Context, cfg agentConfig, agentID string, logger *slog.Logger) error {
	dialCtx, cancel := context.WithTimeout(ctx, handshakeWindow)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, cfg.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", cfg.ServerURL, err)
	}
	defer conn.Close()

	if err := register(conn, cfg, agentID); err != nil {
		return err
	}
	logger.Info("registered with coordinator", "server", cfg.ServerURL)

	exec, err := executor.New(logger)
	if err != nil {
		return err
	}

	ws := &wsConn{conn: conn}
	sessionCtx, stop := context.WithCancel(ctx)
	defer stop()

	// Cancellation must unblock the read loop.
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()

	go heartbeatLoop(sessionCtx, ws, cfg.Heartbeat, logger)

	// Commands execute in order on a single worker, so change_dir affects
	// the commands that follow it. The channel gives the read loop slack
	// while a slow command runs.
	commands := make(chan protocol.Command, commandBacklog)
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- commandWorker(sessionCtx, ws, exec, commands, logger)
	}()

	readErr := readLoop(conn, commands, logger)
	close(commands)

	if err := <-workerDone; errors.Is(err, errRestart) {
		return errRestart
	}
	if sessionCtx.Err() != nil {
		return nil
	}
	return readErr
}

// register sends the registration message and waits for the coordinator's
// verdict. Anything other than auth_success ends the session.
func register(conn *websocket.Conn, cfg agentConfig, agentID string) error {
	hostname, _ := os.Hostname()

	msg, err := protocol.NewRegister(protocol.Register{
		AgentID:   agentID,
		Token:     cfg.Token,
		Hostname:  hostname,
		OS:        runtime.GOOS,
		Alias:     cfg.Alias,
		Version:   version,
		Addresses: localAddresses(),
	})
	if err != nil {
		return fmt.Errorf("building registration: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("sending registration: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeWindow))
	var reply protocol.Message
	if err := conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("reading registration reply: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	switch reply.Type {
	case protocol.TypeAuthSuccess:
		return nil
	case protocol.TypeAuthFailed:
		if failed, err := protocol.DecodeAuthFailed(reply); err == nil {
			return fmt.Errorf("%w: %s", errAuthRejected, failed.Reason)
		}
		return errAuthRejected
	default:
		return fmt.Errorf("unexpected registration reply %q", reply.Type)
	}
}

// readLoop decodes inbound frames and queues commands. Other message types
// from the coordinator are ignored.
func readLoop(conn *websocket.Conn, commands chan<- protocol.Command, logger *slog.Logger) error {
	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		if msg.Type != protocol.TypeCommand {
			continue
		}

		cmd, err := protocol.DecodeCommand(msg)
		if err != nil {
			logger.Warn("dropping malformed command", "error", err)
			continue
		}
		commands <- cmd
	}
}

// commandWorker executes queued commands one at a time, replying with the
// command's correlation ID. A restart outcome is reported after the reply
// has been written.
func commandWorker(ctx context.Context, ws *wsConn, exec *executor.Executor, commands <-chan protocol.Command, logger *slog.Logger) error {
	for cmd := range commands {
		outcome := exec.Execute(ctx, cmd.Cmd)

		reply, err := protocol.NewResponse(cmd.ID, outcome.Result)
		if err != nil {
			logger.Error("encoding response", "correlation_id", cmd.ID, "error", err)
			continue
		}
		if err := ws.WriteMessage(reply); err != nil {
			logger.Warn("sending response", "correlation_id", cmd.ID, "error", err)
			return nil
		}

		if outcome.Restart {
			return errRestart
		}
	}
	return nil
}

func heartbeatLoop(ctx context.Context, ws *wsConn, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.WriteMessage(protocol.NewHeartbeat()); err != nil {
				logger.Debug("heartbeat write failed", "error", err)
				return
			}
		}
	}
}
