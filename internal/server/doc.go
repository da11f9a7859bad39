// ABOUTME: Package documentation for the server package.
// ABOUTME: Explains the HTTP surface and how it maps onto the coordinator's components.

// Package server exposes the coordinator over HTTP.
//
// Three surfaces share one mux:
//
//   - GET /ws upgrades to a websocket and runs the agent session lifecycle.
//   - /api/** is the operator surface: agents, ad-hoc commands, scripts,
//     groups, executions and history.
//   - /files/** are the transfer endpoints that the URLs embedded in
//     transfer commands point back at: staged downloads, per-slot uploads
//     and one-time fetch links.
//
// The server holds no domain state of its own; every handler delegates to
// the registry, dispatcher, runner, tracker, staging area or store.
package server
