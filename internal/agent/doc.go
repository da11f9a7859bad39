// Package agent manages live connections from drover agents.
//
// # Session lifecycle
//
// Each WebSocket connection is served by ServeSession, which runs a strict
// single-attempt handshake: the first inbound frame must be a Register
// message carrying the shared-secret token. On success the session is
// installed in the Registry and two loops run until either fails:
//
//   - the outbound loop drains the session's bounded queue onto the
//     transport in enqueue order
//   - the inbound loop parses frames, routing heartbeats to the store and
//     command responses to the result sink
//
// The loops are joined by the session's done channel: whichever exits first
// closes the session, which unwinds the other. On termination the registry
// entry is removed, so the agent becomes unreachable to new dispatches
// immediately, and its store record is marked disconnected.
//
// # Registry
//
// The Registry is the process-wide map from agent ID to live session and is
// the single source of truth for reachability. At most one live entry exists
// per agent ID: a new registration from the same ID displaces the previous
// session, whose loops fail on their next send. Eviction force-removes an
// entry and closes its session.
//
// # Thread safety
//
// Registry and Session are safe for concurrent use. Sessions never block
// producers: Enqueue fails fast with ErrQueueFull when the agent is not
// draining its queue.
package agent
