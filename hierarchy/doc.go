// Package hierarchy implements identifier allocation and parent-link
// integrity for sessions, threads and runs. The Manager validates parents
// before any row is written, so a half-created entity is never visible, and
// guards run status transitions so terminal states are final.
package hierarchy
