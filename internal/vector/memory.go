package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryIndex is an in-memory index using brute-force cosine similarity.
// Contents are rebuilt from storage at startup, so there is no on-disk form.
type MemoryIndex struct {
	dimensions int
	entries    []Entry
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		entries:    make([]Entry, 0),
	}, nil
}

// Add appends entries to the index.
func (m *MemoryIndex) Add(ctx context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if len(e.Vector) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(e.Vector), m.dimensions)
		}
		vec := make([]float32, m.dimensions)
		copy(vec, e.Vector)
		m.entries = append(m.entries, Entry{ID: e.ID, DocumentID: e.DocumentID, Vector: vec})
	}
	return nil
}

// Search returns the top-k entries by cosine similarity. When docIDs is
// non-empty, only entries from those documents are considered.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, docIDs []string) ([]*Result, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.entries) == 0 {
		return nil, nil
	}
	var allowed map[string]bool
	if len(docIDs) > 0 {
		allowed = make(map[string]bool, len(docIDs))
		for _, id := range docIDs {
			allowed[id] = true
		}
	}
	results := make([]*Result, 0, len(m.entries))
	for i := range m.entries {
		e := &m.entries[i]
		if allowed != nil && !allowed[e.DocumentID] {
			continue
		}
		results = append(results, &Result{
			ID:         e.ID,
			DocumentID: e.DocumentID,
			Score:      CosineSimilarity(query, e.Vector),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// RemoveByDocument drops every entry belonging to documentID.
func (m *MemoryIndex) RemoveByDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.DocumentID != documentID {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	return nil
}

// Size returns the number of entries in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
