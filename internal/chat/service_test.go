package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperjump/kaiwa/internal/llm"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/retrieval"
	"github.com/hyperjump/kaiwa/internal/storage"
)

type fakeGenerator struct {
	result *llm.Result
	err    error
	// stream is written through onChunk before returning err, simulating
	// a model that produced partial output.
	stream []string
	gotCtx []models.ContextMessage
}

func (f *fakeGenerator) Generate(ctx context.Context, messages []models.ContextMessage, candidates []string, onChunk llm.StreamFunc) (*llm.Result, error) {
	f.gotCtx = messages
	if onChunk != nil {
		for _, s := range f.stream {
			if err := onChunk(ctx, []byte(s)); err != nil {
				return nil, err
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func testRegistry() *llm.Registry {
	return llm.NewRegistry(
		map[string]string{"Fast": "provider/fast"},
		[]string{"provider/fast", "provider/backup"},
	)
}

func newTurnService(t *testing.T, store storage.Storage, gen Generator) *TurnService {
	t.Helper()
	a := NewAssembler(store, nil, nil, defaultOpts(), nil)
	return NewTurnService(store, a, gen, testRegistry(), nil)
}

func TestTurnService_Run(t *testing.T) {
	store := newTestStore(t)
	seedConversation(t, store, false)
	gen := &fakeGenerator{result: &llm.Result{
		Content: "the answer", Model: "provider/fast", InputTokens: 10, OutputTokens: 4,
	}}
	svc := newTurnService(t, store, gen)

	result, err := svc.Run(context.Background(), "user1", &models.TurnRequest{
		ConversationID: "conv1",
		Message:        "the question",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.AssistantMessage.Content != "the answer" {
		t.Errorf("got %+v", result.AssistantMessage)
	}
	if result.AssistantMessage.InputTokens != 10 || result.AssistantMessage.OutputTokens != 4 {
		t.Errorf("token counts: %+v", result.AssistantMessage)
	}

	// Both turn messages persisted in order.
	msgs, err := store.ListMessages(context.Background(), "conv1", "user1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Content != "the question" {
		t.Errorf("user message: %+v", msgs[0])
	}
	if msgs[1].Role != models.RoleAssistant || msgs[1].Content != "the answer" {
		t.Errorf("assistant message: %+v", msgs[1])
	}
}

func TestTurnService_InvalidModel(t *testing.T) {
	store := newTestStore(t)
	seedConversation(t, store, false)
	svc := newTurnService(t, store, &fakeGenerator{})

	_, err := svc.Run(context.Background(), "user1", &models.TurnRequest{
		ConversationID: "conv1",
		Message:        "q",
		SelectedModel:  "GPT-9",
	}, nil)
	if !errors.Is(err, llm.ErrInvalidModel) {
		t.Errorf("expected ErrInvalidModel, got %v", err)
	}
	// Nothing persisted before validation.
	msgs, _ := store.ListMessages(context.Background(), "conv1", "user1")
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}
}

func TestTurnService_GenerationFailure(t *testing.T) {
	store := newTestStore(t)
	seedConversation(t, store, false)
	gen := &fakeGenerator{err: llm.ErrNoModelResponse}
	svc := newTurnService(t, store, gen)

	_, err := svc.Run(context.Background(), "user1", &models.TurnRequest{
		ConversationID: "conv1",
		Message:        "q",
	}, nil)
	if !errors.Is(err, llm.ErrNoModelResponse) {
		t.Errorf("expected ErrNoModelResponse, got %v", err)
	}
}

func TestTurnService_StreamsChunks(t *testing.T) {
	store := newTestStore(t)
	seedConversation(t, store, false)
	gen := &fakeGenerator{
		stream: []string{"the ", "answer"},
		result: &llm.Result{Content: "the answer", Model: "provider/fast"},
	}
	svc := newTurnService(t, store, gen)

	var streamed string
	_, err := svc.Run(context.Background(), "user1", &models.TurnRequest{
		ConversationID: "conv1",
		Message:        "q",
	}, &TurnCallbacks{OnChunk: func(ctx context.Context, chunk []byte) error {
		streamed += string(chunk)
		return nil
	}})
	if err != nil {
		t.Fatal(err)
	}
	if streamed != "the answer" {
		t.Errorf("streamed %q", streamed)
	}
}

func TestTurnService_PersistsPartialOnCancel(t *testing.T) {
	store := newTestStore(t)
	seedConversation(t, store, false)

	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGenerator{stream: []string{"partial text"}, err: context.Canceled}
	svc := newTurnService(t, store, gen)

	_, err := svc.Run(ctx, "user1", &models.TurnRequest{
		ConversationID: "conv1",
		Message:        "q",
	}, &TurnCallbacks{OnChunk: func(cctx context.Context, chunk []byte) error {
		// Simulate the client going away after the first chunk.
		cancel()
		return nil
	}})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}

	msgs, err := store.ListMessages(context.Background(), "conv1", "user1")
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, m := range msgs {
		if m.Role == models.RoleAssistant && m.Content == "partial text" {
			found = true
		}
	}
	if !found {
		t.Errorf("partial response not persisted, messages: %+v", msgs)
	}
}

func TestTurnService_CitationsAttached(t *testing.T) {
	store := newTestStore(t)
	seedConversation(t, store, true)
	r := &fakeRetriever{chunks: []*retrieval.ScoredChunk{scoredChunk("c1", 0.9)}}
	gen := &fakeGenerator{result: &llm.Result{Content: "grounded answer", Model: "provider/fast"}}

	a := NewAssembler(store, r, nil, defaultOpts(), nil)
	svc := NewTurnService(store, a, gen, testRegistry(), nil)

	result, err := svc.Run(context.Background(), "user1", &models.TurnRequest{
		ConversationID: "conv1",
		Message:        "q",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.AssistantMessage.Citations) != 1 || result.AssistantMessage.Citations[0].ChunkID != "c1" {
		t.Errorf("citations = %+v", result.AssistantMessage.Citations)
	}

	// Citations survive the round trip through storage.
	msgs, _ := store.ListMessages(context.Background(), "conv1", "user1")
	last := msgs[len(msgs)-1]
	if len(last.Citations) != 1 || last.Citations[0].ChunkID != "c1" {
		t.Errorf("persisted citations = %+v", last.Citations)
	}
}

func TestTurnService_CreatesConversation(t *testing.T) {
	store := newTestStore(t)
	gen := &fakeGenerator{result: &llm.Result{Content: "hi", Model: "provider/fast"}}
	svc := newTurnService(t, store, gen)

	var announcedID string
	result, err := svc.Run(context.Background(), "user1", &models.TurnRequest{Message: "first message"},
		&TurnCallbacks{OnConversation: func(conv *models.Conversation, created bool) {
			announcedID = conv.ID
		}})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Created {
		t.Error("expected created flag")
	}
	if announcedID != result.Conversation.ID {
		t.Errorf("OnConversation announced %q, result has %q", announcedID, result.Conversation.ID)
	}
	if result.Conversation.Title != "first message" {
		t.Errorf("title = %q", result.Conversation.Title)
	}
	msgs, _ := store.ListMessages(context.Background(), result.Conversation.ID, "user1")
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages in new conversation, got %d", len(msgs))
	}
}
