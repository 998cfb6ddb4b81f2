// Package runner is the orchestration entry point: it owns the wiring
// between the run/thread hierarchy, the message log, the checkpoint store
// and the routing state machine, and exposes asynchronous run execution
// with event streaming and cancellation.
//
// A Runner is safe for concurrent use; each Run gets its own run context,
// event channel and cancel function.
package runner
