// Package retrieval turns a query into scored document chunks.
package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/embedding"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/storage"
	"github.com/hyperjump/kaiwa/internal/vector"
)

// ScoredChunk is a retrieved chunk with its similarity score.
type ScoredChunk struct {
	Chunk *models.Chunk
	Score float64
}

// Options configures a Retriever.
type Options struct {
	// CandidatePool is how many index hits to pull before hydration.
	CandidatePool int
	// Limit is the maximum number of chunks returned.
	Limit int
}

// Retriever embeds a query and ranks chunks from the vector index.
// Relevance thresholds are applied by the caller; the retriever returns
// the ranked candidates with raw scores.
type Retriever struct {
	embedder embedding.Embedder
	index    vector.Index
	store    storage.Storage
	opts     Options
	logger   *zap.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(embedder embedding.Embedder, index vector.Index, store storage.Storage, opts Options, logger *zap.Logger) *Retriever {
	if opts.CandidatePool <= 0 {
		opts.CandidatePool = 50
	}
	if opts.Limit <= 0 {
		opts.Limit = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{embedder: embedder, index: index, store: store, opts: opts, logger: logger}
}

// Query returns up to Limit chunks ranked by similarity to text, restricted
// to docIDs when non-empty. Index hits whose chunk row has since been
// deleted are skipped.
func (r *Retriever) Query(ctx context.Context, text string, docIDs []string) ([]*ScoredChunk, error) {
	queryVec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := r.index.Search(ctx, queryVec, r.opts.CandidatePool, docIDs)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	chunks, err := r.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	results := make([]*ScoredChunk, 0, r.opts.Limit)
	for _, h := range hits {
		chunk, ok := chunks[h.ID]
		if !ok {
			r.logger.Debug("index hit has no stored chunk, skipping", zap.String("chunk_id", h.ID))
			continue
		}
		results = append(results, &ScoredChunk{Chunk: chunk, Score: h.Score})
		if len(results) == r.opts.Limit {
			break
		}
	}
	return results, nil
}
