package retrieval

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/storage"
	"github.com/hyperjump/kaiwa/internal/vector"
)

type stubEmbedder struct {
	vec []float32
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vec, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return len(s.vec) }
func (s *stubEmbedder) Close() error    { return nil }

func setupRetriever(t *testing.T, limit int) (*Retriever, storage.Storage, vector.Index) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	conv := &models.Conversation{ID: "conv1", UserID: "user1", Title: "t"}
	if err := store.CreateConversation(ctx, conv); err != nil {
		t.Fatal(err)
	}
	doc := &models.Document{ID: "d1", OriginalName: "a.txt", StoragePath: "/tmp/a", UserID: "user1", ConversationID: "conv1"}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	chunks := []*models.Chunk{
		{ID: "c1", DocumentID: "d1", Content: "exact match", Embedding: []float32{1, 0}, ChunkIndex: 0},
		{ID: "c2", DocumentID: "d1", Content: "close match", Embedding: []float32{0.9, 0.4}, ChunkIndex: 1},
		{ID: "c3", DocumentID: "d1", Content: "unrelated", Embedding: []float32{0, 1}, ChunkIndex: 2},
	}
	if err := store.BatchCreateChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}

	idx, err := vector.NewMemoryIndex(2)
	if err != nil {
		t.Fatal(err)
	}
	for _, ch := range chunks {
		if err := idx.Add(ctx, []vector.Entry{{ID: ch.ID, DocumentID: ch.DocumentID, Vector: ch.Embedding}}); err != nil {
			t.Fatal(err)
		}
	}

	r := NewRetriever(&stubEmbedder{vec: []float32{1, 0}}, idx, store,
		Options{CandidatePool: 50, Limit: limit}, nil)
	return r, store, idx
}

func TestRetriever_Query(t *testing.T) {
	r, _, _ := setupRetriever(t, 2)
	results, err := r.Query(context.Background(), "query", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Chunk.ID != "c1" || results[1].Chunk.ID != "c2" {
		t.Errorf("ranking wrong: %s, %s", results[0].Chunk.ID, results[1].Chunk.ID)
	}
	if results[0].Score < results[1].Score {
		t.Error("scores should be descending")
	}
	if results[0].Chunk.Content != "exact match" {
		t.Errorf("chunk not hydrated: %+v", results[0].Chunk)
	}
}

func TestRetriever_DocumentFilter(t *testing.T) {
	r, _, _ := setupRetriever(t, 3)
	results, err := r.Query(context.Background(), "query", []string{"other-doc"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results for unknown document, got %d", len(results))
	}
}

func TestRetriever_SkipsDeletedChunks(t *testing.T) {
	r, store, _ := setupRetriever(t, 3)
	ctx := context.Background()
	// Delete the backing rows but leave the index entries in place.
	if err := store.DeleteDocument(ctx, "d1", "user1"); err != nil {
		t.Fatal(err)
	}
	results, err := r.Query(ctx, "query", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected stale hits to be skipped, got %d", len(results))
	}
}

func TestRetriever_EmptyIndex(t *testing.T) {
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	idx, _ := vector.NewMemoryIndex(2)
	r := NewRetriever(&stubEmbedder{vec: []float32{1, 0}}, idx, store, Options{}, nil)
	results, err := r.Query(context.Background(), "query", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}
