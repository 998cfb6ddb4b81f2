// Package messagelog implements the append-only, per-thread ordered record
// of exchanged messages. Ordering uses logical timestamps rather than
// wall-clock time so a replayed run appends in exactly the same sequence,
// and search ranks stored embeddings by cosine similarity under a
// structural metadata filter.
package messagelog
