// Package subgraph spawns and supervises nested graph runs. Delegation is
// modeled as message passing between independent tasks: the parent sends a
// spawn request, the child executes on its own goroutine, and the parent
// awaits a completion signal with a deadline. Recursion depth is bounded
// before any child run row is written.
package subgraph
