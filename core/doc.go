// Package core defines the shared domain model of swarmgraph: the
// session/thread/run hierarchy, messages, checkpoints and graph metadata,
// the store interfaces that persist them, and the error taxonomy surfaced
// by the orchestration layers.
//
// Higher-level packages (hierarchy, messagelog, checkpoint, registry,
// router, subgraph, runner) depend on this package only; concrete store
// implementations are injected at construction so they can be substituted
// in tests.
package core
