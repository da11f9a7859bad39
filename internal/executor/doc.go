// ABOUTME: Package documentation for the executor package.
// ABOUTME: Explains how agent-side command execution is structured.

// Package executor runs coordinator commands on the agent's machine.
//
// Execute maps every command kind to its result kind and folds all failures
// into Error results, so the coordinator receives exactly one reply per
// correlation ID regardless of what went wrong locally. The executor is
// stateful in one respect: change_dir (and the intercepted "cd" shell form)
// moves the working directory that later relative paths resolve against.
package executor
