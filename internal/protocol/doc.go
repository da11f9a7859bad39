// Package protocol defines the wire messages exchanged between the drover
// coordinator and its agents.
//
// # Envelope
//
// Every frame is a Message with a type tag and an optional payload:
//
//	{"type": "command", "payload": {"id": "...", "cmd": {...}}}
//
// The message types are Register, AuthSuccess, AuthFailed, Heartbeat,
// Command and Response. Commands flow coordinator->agent only; responses
// flow agent->coordinator and are joined to their command by correlation ID.
//
// # Command payloads and results
//
// Payload and Result are sealed interfaces: the variant sets are closed to
// this package, so every consumer can type-switch exhaustively and adding a
// kind is a compile-visible change at each boundary. On the wire, payloads
// are tagged {cmd_type, args} and results {status, data}.
//
// Each payload kind has a matching result kind (a shell_exec answers with
// shell_output, and so on), but that pairing is a contract between the
// dispatcher and the executor, not something the envelope enforces. The
// generic Error result may substitute for any kind.
package protocol
