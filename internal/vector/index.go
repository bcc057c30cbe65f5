// Package vector provides vector storage and similarity search over
// document chunks.
package vector

import "context"

// Entry is a chunk embedding tracked by the index.
type Entry struct {
	ID         string
	DocumentID string
	Vector     []float32
}

// Result is a single similarity search hit.
type Result struct {
	ID         string
	DocumentID string
	Score      float64 // cosine similarity clamped to [0,1]
}

// Index defines chunk vector storage and similarity search. A nil or empty
// docIDs filter means search across all documents.
type Index interface {
	Add(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, query []float32, k int, docIDs []string) ([]*Result, error)
	RemoveByDocument(ctx context.Context, documentID string) error
	Size() int
	Close() error
}
