// Package checkpoint persists versioned conversation state snapshots. Each
// checkpoint carries a monotonically increasing version per (graph,
// conversation) pair, a stability flag marking resume-safe snapshots, and an
// optional summary embedding for semantic retrieval.
package checkpoint
