// Package embedding provides text embedding backends used to index messages
// and checkpoint summaries for semantic search. The Ollama backend talks to a
// local nomic-embed-text model; the hash backend produces deterministic
// vectors for tests.
package embedding
