// Package dispatch provides the command/response correlation mechanism that
// lets many in-flight requests share one agent connection.
//
// Dispatch is a local decision: the agent is looked up in the registry, a
// fresh correlation ID is minted, and the command is enqueued to the
// session's outbound queue. No network round-trip happens and the call never
// blocks on the agent. The correlation ID is the only join key between a
// request and its response; there is no requirement that responses arrive in
// the order requests were sent.
//
// Results arrive on the session's inbound loop and land in the ResultStore,
// where callers observe them by bounded polling with Await. Nothing here
// retries automatically: a timeout, an offline agent or a full queue is
// reported to the caller and recovery is the operator's (or the agent's
// reconnect loop's) problem.
package dispatch
