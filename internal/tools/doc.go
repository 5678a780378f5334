// Package tools runs a local command and shapes its result into a
// protocol.WorkerOutput.
//
// Ownership boundary:
// - command execution helpers
// - combined output formatting and truncation
package tools
