// Package sqlite provides a durable backend for the hierarchy, message log,
// checkpoint and graph registry interfaces over a single SQLite database.
// Embeddings and metadata are stored as JSON text; similarity ranking
// happens in process after candidate rows are filtered by SQL.
package sqlite
