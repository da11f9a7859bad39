// ABOUTME: Tests for the agent session lifecycle over real websocket pairs.
// ABOUTME: Covers handshake rejection, registration, heartbeats and response routing.

package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-hq/drover/internal/protocol"
	"github.com/drover-hq/drover/internal/store"
)

const testToken = "sekrit"

// connPair is a connected websocket client/server pair.
type connPair struct {
	server *websocket.Conn
	client *websocket.Conn
}

func newConnPair(t *testing.T) connPair {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- c
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	server := <-serverConns
	t.Cleanup(func() { server.Close() })

	return connPair{server: server, client: client}
}

// newSessionPair builds a registered-looking session around a live server
// conn, for registry tests that never exercise the pumps.
func newSessionPair(t *testing.T, agentID string) (*Session, *websocket.Conn) {
	t.Helper()
	pair := newConnPair(t)
	s := newSession(protocol.Register{AgentID: agentID, Hostname: "host", OS: "linux"}, pair.server, "127.0.0.1:0", testLogger())
	t.Cleanup(s.Close)
	return s, pair.client
}

// resultRecorder collects results pushed off the inbound loop.
type resultRecorder struct {
	mu      sync.Mutex
	results map[string]protocol.Result
}

func newResultRecorder() *resultRecorder {
	return &resultRecorder{results: make(map[string]protocol.Result)}
}

func (r *resultRecorder) Put(correlationID string, result protocol.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[correlationID] = result
}

func (r *resultRecorder) get(correlationID string) (protocol.Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.results[correlationID]
	return v, ok
}

// serveParams wires a ServeSession invocation against fresh fakes.
func serveParams(t *testing.T, conn *websocket.Conn) (ServeParams, *Registry, *store.MockStore, *resultRecorder) {
	t.Helper()
	registry := NewRegistry(testLogger())
	st := store.NewMockStore()
	results := newResultRecorder()
	return ServeParams{
		Conn:       conn,
		RemoteAddr: "127.0.0.1:0",
		AuthToken:  testToken,
		Registry:   registry,
		Results:    results,
		Store:      st,
		Logger:     testLogger(),
	}, registry, st, results
}

func sendRegister(t *testing.T, conn *websocket.Conn, agentID, token string) {
	t.Helper()
	msg, err := protocol.NewRegister(protocol.Register{
		AgentID:  agentID,
		Token:    token,
		Hostname: "box",
		OS:       "linux",
		Version:  "1.0.0",
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg protocol.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestServeSessionRejectsBadToken(t *testing.T) {
	pair := newConnPair(t)
	params, registry, st, _ := serveParams(t, pair.server)

	done := make(chan error, 1)
	go func() { done <- ServeSession(context.Background(), params) }()

	sendRegister(t, pair.client, "agent-1", "wrong-token")

	reply := readMessage(t, pair.client)
	assert.Equal(t, protocol.TypeAuthFailed, reply.Type)
	failed, err := protocol.DecodeAuthFailed(reply)
	require.NoError(t, err)
	assert.Equal(t, "Invalid token", failed.Reason)

	require.ErrorIs(t, <-done, ErrAuthFailed)
	assert.Equal(t, 0, registry.Len())

	_, err = st.GetAgent(context.Background(), "agent-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestServeSessionRejectsNonRegisterFirstFrame(t *testing.T) {
	pair := newConnPair(t)
	params, registry, _, _ := serveParams(t, pair.server)

	done := make(chan error, 1)
	go func() { done <- ServeSession(context.Background(), params) }()

	require.NoError(t, pair.client.WriteJSON(protocol.NewHeartbeat()))

	require.Error(t, <-done)
	assert.Equal(t, 0, registry.Len())
}

func TestServeSessionRegistersAndRoutesTraffic(t *testing.T) {
	pair := newConnPair(t)
	params, registry, st, results := serveParams(t, pair.server)

	done := make(chan error, 1)
	go func() { done <- ServeSession(context.Background(), params) }()

	sendRegister(t, pair.client, "agent-1", testToken)
	reply := readMessage(t, pair.client)
	require.Equal(t, protocol.TypeAuthSuccess, reply.Type)

	require.Eventually(t, func() bool { return registry.IsOnline("agent-1") }, time.Second, 10*time.Millisecond)

	rec, err := st.GetAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, store.AgentStatusConnected, rec.Status)
	assert.Equal(t, "box", rec.Hostname)

	// Command flows out through the session queue.
	s, ok := registry.Get("agent-1")
	require.True(t, ok)
	cmd, err := protocol.NewCommand("corr-1", protocol.ShellExec{Cmd: "echo", Args: []string{"hi"}})
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(cmd))

	inbound := readMessage(t, pair.client)
	require.Equal(t, protocol.TypeCommand, inbound.Type)
	decoded, err := protocol.DecodeCommand(inbound)
	require.NoError(t, err)
	assert.Equal(t, "corr-1", decoded.ID)

	// Response lands in the result sink under its correlation ID.
	resp, err := protocol.NewResponse("corr-1", protocol.ShellOutput{Stdout: "hi\n"})
	require.NoError(t, err)
	require.NoError(t, pair.client.WriteJSON(resp))

	require.Eventually(t, func() bool {
		_, ok := results.get("corr-1")
		return ok
	}, time.Second, 10*time.Millisecond)

	// Heartbeat advances the stored last-seen timestamp.
	before := rec.LastSeen
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, pair.client.WriteJSON(protocol.NewHeartbeat()))
	require.Eventually(t, func() bool {
		rec, err := st.GetAgent(context.Background(), "agent-1")
		return err == nil && rec.LastSeen.After(before)
	}, time.Second, 10*time.Millisecond)

	// Disconnect tears the session down and flips the stored status.
	pair.client.Close()
	require.NoError(t, <-done)
	assert.False(t, registry.IsOnline("agent-1"))

	rec, err = st.GetAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, store.AgentStatusDisconnected, rec.Status)
}

func TestReRegistrationKeepsAgentConnected(t *testing.T) {
	registry := NewRegistry(testLogger())
	st := store.NewMockStore()
	results := newResultRecorder()

	params := func(conn *websocket.Conn) ServeParams {
		return ServeParams{
			Conn:       conn,
			RemoteAddr: "127.0.0.1:0",
			AuthToken:  testToken,
			Registry:   registry,
			Results:    results,
			Store:      st,
			Logger:     testLogger(),
		}
	}

	first := newConnPair(t)
	firstDone := make(chan error, 1)
	go func() { firstDone <- ServeSession(context.Background(), params(first.server)) }()
	sendRegister(t, first.client, "agent-1", testToken)
	require.Equal(t, protocol.TypeAuthSuccess, readMessage(t, first.client).Type)

	firstSession, ok := registry.Get("agent-1")
	require.True(t, ok)

	// Same agent reconnects; the new session displaces the old one.
	second := newConnPair(t)
	secondDone := make(chan error, 1)
	go func() { secondDone <- ServeSession(context.Background(), params(second.server)) }()
	sendRegister(t, second.client, "agent-1", testToken)
	require.Equal(t, protocol.TypeAuthSuccess, readMessage(t, second.client).Type)

	require.Eventually(t, func() bool {
		s, ok := registry.Get("agent-1")
		return ok && s != firstSession
	}, time.Second, 10*time.Millisecond)

	// The displaced session's teardown finishes completely before we look
	// at the record it must no longer own.
	require.NoError(t, <-firstDone)

	assert.True(t, registry.IsOnline("agent-1"))
	rec, err := st.GetAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, store.AgentStatusConnected, rec.Status)

	// The replacement session going away does flip the status.
	second.client.Close()
	require.NoError(t, <-secondDone)
	rec, err = st.GetAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, store.AgentStatusDisconnected, rec.Status)
}

func TestServeSessionMalformedFrameIsSkipped(t *testing.T) {
	pair := newConnPair(t)
	params, registry, _, results := serveParams(t, pair.server)

	done := make(chan error, 1)
	go func() { done <- ServeSession(context.Background(), params) }()

	sendRegister(t, pair.client, "agent-1", testToken)
	readMessage(t, pair.client)

	require.NoError(t, pair.client.WriteMessage(websocket.TextMessage, []byte("not json")))

	// The session survives the bad frame and keeps processing.
	resp, err := protocol.NewResponse("corr-2", protocol.Success{Message: "ok"})
	require.NoError(t, err)
	require.NoError(t, pair.client.WriteJSON(resp))

	require.Eventually(t, func() bool {
		_, ok := results.get("corr-2")
		return ok
	}, time.Second, 10*time.Millisecond)
	assert.True(t, registry.IsOnline("agent-1"))

	pair.client.Close()
	require.NoError(t, <-done)
}

func TestEnqueueAfterCloseFails(t *testing.T) {
	s, _ := newSessionPair(t, "agent-1")
	s.Close()

	msg, err := protocol.NewCommand("corr", protocol.GetHardwareInfo{})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Enqueue(msg), ErrSessionClosed)
}

func TestEnqueueFullQueue(t *testing.T) {
	s, _ := newSessionPair(t, "agent-1")

	msg, err := protocol.NewCommand("corr", protocol.GetHardwareInfo{})
	require.NoError(t, err)

	// No writePump is draining, so the queue fills at its capacity.
	for i := 0; i < outboundQueueSize; i++ {
		require.NoError(t, s.Enqueue(msg))
	}
	assert.ErrorIs(t, s.Enqueue(msg), ErrQueueFull)
}
