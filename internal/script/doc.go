// Package script orchestrates multi-step script executions against agents.
//
// # Execution state machine
//
// One Runner goroutine drives one (agent, script) execution through
// Running(step=i) -> Completed | Failed. Each step is resolved into exactly
// one command payload, dispatched, and awaited with a bounded poll. The
// first failing step stops the run: a generic error result, a shell result
// with a non-zero exit code, a timeout, a dispatch to a vanished agent, or
// a step that cannot even be resolved (for example zipping a missing
// directory). Remaining steps are skipped and nothing is rolled back.
//
// File and directory transfer steps synthesize one-shot URLs against the
// coordinator's file endpoints at resolution time: push steps point the
// agent at a staged download, pull steps allocate a fresh upload slot per
// resolution. Directory transfers are the same mechanism wrapped in
// zip/unzip, not a separate protocol concept.
//
// # Progress
//
// The Tracker is the in-memory progress table observers poll. Logs are
// append-only and ordered by step; terminal status is set exactly once and
// the entry lingers for a short grace period before eviction, while the
// durable record is persisted to the store.
//
// # Groups
//
// RunGroup fans a group out into one independent execution per (reachable
// member, bound script) pair: members in parallel, each member's scripts in
// order. Unreachable members are skipped without a history record.
package script
