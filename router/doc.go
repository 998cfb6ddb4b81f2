// Package router implements the orchestration state machine that drives one
// run from an inbound message to a terminal state. The machine moves through
// receive, route, delegate/await, respond and done/error states; the routing
// decision itself is a pure function of graph configuration and current
// state, so replay from a checkpoint reproduces the same decisions. Every
// transition persists an auto checkpoint; reaching done persists a stable
// one.
package router
