// Package memory provides the long-term vector index: an associative
// store mapping embeddings to conversation metadata, queried by
// similarity during turn handling.
package memory

import "context"

// Record pairs an embedding vector with the metadata of the message it
// was computed from. One record is created per persisted message.
type Record struct {
	ID     string // source message ID
	Vector []float32
	ChatID string
	UserID string
	Text   string // copy of the source text
}

// Match is a query result.
type Match struct {
	Record
	Similarity float32
}

// Index defines the interface for the vector index. Consistency with
// the conversation store is the caller's responsibility; the index
// itself only guarantees per-record atomicity.
type Index interface {
	// Upsert inserts a record under its ID. Records are never updated
	// by the core, so an insert-by-new-key is all that is required.
	Upsert(ctx context.Context, rec Record) error

	// Query returns up to k records most similar to the vector, best
	// first. A nil or empty filter searches the whole index; otherwise
	// every filter entry must match the record's metadata.
	Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Match, error)

	Close() error
}
