// Package store provides persistence for drover's durable state: agent
// identities, scripts, groups and execution history.
//
// # Store Interface
//
// The Store interface is the only persistence surface the rest of the
// coordinator sees. Everything is create/read/update/delete by identifier;
// there is no query language.
//
//	store, err := store.NewSQLiteStore("/var/lib/drover/drover.db")
//
// # Implementations
//
//   - SQLiteStore: production implementation using modernc.org/sqlite with
//     WAL mode and automatic schema creation.
//   - MockStore: in-memory implementation for tests.
//
// # Entities
//
//   - AgentRecord: durable agent identity, upserted on every registration.
//     Live reachability is the connection registry's job, not the store's;
//     the Status column only mirrors the last observed transition.
//   - Script: named ordered list of steps (steps serialized as JSON).
//   - Group: named member set plus ordered script bindings.
//   - Execution: one run of one script against one agent; created before
//     the run starts so history survives a coordinator crash mid-run.
package store
