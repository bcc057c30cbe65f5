// Package integration provides end-to-end tests (requires real storage and indices).
package integration

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kaiwa/internal/chat"
	"github.com/hyperjump/kaiwa/internal/embedding"
	"github.com/hyperjump/kaiwa/internal/extract"
	"github.com/hyperjump/kaiwa/internal/ingest"
	"github.com/hyperjump/kaiwa/internal/llm"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/retrieval"
	"github.com/hyperjump/kaiwa/internal/storage"
	"github.com/hyperjump/kaiwa/internal/vector"
)

type echoGenerator struct{}

func (echoGenerator) Generate(ctx context.Context, messages []models.ContextMessage, candidates []string, onChunk llm.StreamFunc) (*llm.Result, error) {
	// Echo the last context entry so the test can inspect what was assembled.
	last := messages[len(messages)-1].Content
	if onChunk != nil {
		if err := onChunk(ctx, []byte(last)); err != nil {
			return nil, err
		}
	}
	return &llm.Result{Content: last, Model: candidates[0], InputTokens: 1, OutputTokens: 1}, nil
}

func TestIntegration_ChatTurnWithUploadedDocument(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	files, err := storage.NewFileStore(filepath.Join(dir, "files"))
	if err != nil {
		t.Fatal(err)
	}
	embedder := embedding.NewMockEmbedder(8)
	defer embedder.Close()
	index, err := vector.NewMemoryIndex(8)
	if err != nil {
		t.Fatal(err)
	}
	defer index.Close()

	ing := ingest.NewService(store, files, extract.NewExtractor(), embedder, index,
		ingest.Options{ChunkSize: 40, ChunkOverlap: 5, MaxUploadBytes: 1 << 20}, nil)
	retriever := retrieval.NewRetriever(embedder, index, store, retrieval.Options{CandidatePool: 20, Limit: 3}, nil)
	// MinScore -1 keeps every retrieved chunk; mock embeddings are not
	// semantically meaningful so real thresholds would be flaky here.
	assembler := chat.NewAssembler(store, retriever, nil,
		chat.AssemblerOptions{HistoryLimit: 10, TitleLength: 30, MinScore: -1}, nil)
	registry := llm.NewRegistry(map[string]string{"Echo": "test/echo"}, []string{"test/echo"})
	turns := chat.NewTurnService(store, assembler, echoGenerator{}, registry, nil)

	conv := &models.Conversation{ID: "conv1", UserID: "user1", Title: "docs"}
	if err := store.CreateConversation(ctx, conv); err != nil {
		t.Fatal(err)
	}
	doc, err := ing.Upload(ctx, "user1", ingest.UploadInput{
		ConversationID: "conv1",
		FileName:       "notes.txt",
		MimeType:       "text/plain",
		Size:           0,
		Reader:         strings.NewReader("The launch codes are stored in the blue binder. The binder lives in the vault."),
	})
	if err != nil {
		t.Fatal(err)
	}
	if index.Size() == 0 {
		t.Fatal("upload did not populate the vector index")
	}

	result, err := turns.Run(ctx, "user1", &models.TurnRequest{
		ConversationID: "conv1",
		Message:        "where are the launch codes?",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.AssistantMessage.Content != "where are the launch codes?" {
		t.Errorf("assistant content = %q", result.AssistantMessage.Content)
	}
	if len(result.AssistantMessage.Citations) == 0 {
		t.Error("expected file citations from retrieved chunks")
	}
	for _, c := range result.AssistantMessage.Citations {
		if c.DocumentID != doc.ID {
			t.Errorf("citation document = %q, want %q", c.DocumentID, doc.ID)
		}
	}

	msgs, err := store.ListMessages(ctx, "conv1", "user1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected transcript: %+v", msgs)
	}

	// Deleting the document must drop its vectors and detach it from the conversation.
	if err := ing.DeleteDocument(ctx, "user1", doc.ID); err != nil {
		t.Fatal(err)
	}
	if index.Size() != 0 {
		t.Errorf("index size after delete = %d", index.Size())
	}
	conv2, err := store.GetConversation(ctx, "conv1", "user1")
	if err != nil {
		t.Fatal(err)
	}
	if len(conv2.FileIDs) != 0 {
		t.Errorf("FileIDs after delete = %v", conv2.FileIDs)
	}
}

func TestIntegration_RebuildRestoresIndex(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	files, err := storage.NewFileStore(filepath.Join(dir, "files"))
	if err != nil {
		t.Fatal(err)
	}
	embedder := embedding.NewMockEmbedder(8)
	index, err := vector.NewMemoryIndex(8)
	if err != nil {
		t.Fatal(err)
	}
	ing := ingest.NewService(store, files, extract.NewExtractor(), embedder, index,
		ingest.Options{ChunkSize: 40, ChunkOverlap: 5, MaxUploadBytes: 1 << 20}, nil)

	conv := &models.Conversation{ID: "conv1", UserID: "user1", Title: "docs"}
	if err := store.CreateConversation(ctx, conv); err != nil {
		t.Fatal(err)
	}
	if _, err := ing.Upload(ctx, "user1", ingest.UploadInput{
		ConversationID: "conv1",
		FileName:       "notes.txt",
		MimeType:       "text/plain",
		Reader:         strings.NewReader("chunk one text here. chunk two text here."),
	}); err != nil {
		t.Fatal(err)
	}
	want := index.Size()
	if want == 0 {
		t.Fatal("upload did not populate the vector index")
	}

	// Simulate a restart: fresh index rebuilt from stored embeddings.
	fresh, err := vector.NewMemoryIndex(8)
	if err != nil {
		t.Fatal(err)
	}
	ing2 := ingest.NewService(store, files, extract.NewExtractor(), embedder, fresh,
		ingest.Options{ChunkSize: 40, ChunkOverlap: 5, MaxUploadBytes: 1 << 20}, nil)
	n, err := ing2.Rebuild(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != want || fresh.Size() != want {
		t.Errorf("rebuilt %d vectors (index size %d), want %d", n, fresh.Size(), want)
	}
}
