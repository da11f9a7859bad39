// ABOUTME: Package documentation for the transfer package.
// ABOUTME: Explains the staging model behind file and directory steps.

// Package transfer implements the coordinator's side of file movement.
//
// Push steps serve operator-staged files (directories travel as zip
// archives) at stable staging URLs agents download from. Pull steps
// allocate single-use upload slots agents push into; whatever lands in a
// slot is then exposed to operators through one-time download links.
package transfer
