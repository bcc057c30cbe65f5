package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/models"
)

// fakeBackend fails for models in failing and otherwise echoes a canned
// completion, recording which models were called.
type fakeBackend struct {
	failing   map[string]bool
	responses map[string]string
	calls     []string
	lastMsgs  []llms.MessageContent
}

func (f *fakeBackend) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	f.calls = append(f.calls, opts.Model)
	f.lastMsgs = messages
	if f.failing[opts.Model] {
		return nil, errors.New("provider error")
	}
	content := f.responses[opts.Model]
	if content == "" {
		content = "default reply"
	}
	if opts.StreamingFunc != nil {
		for _, part := range strings.SplitAfter(content, " ") {
			if err := opts.StreamingFunc(ctx, []byte(part)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content: content,
			GenerationInfo: map[string]any{
				"PromptTokens":     12,
				"CompletionTokens": 7,
			},
		}},
	}, nil
}

func newTestGenerator(b backend, summarizeAfter int) *Generator {
	return &Generator{
		client:         b,
		summaryModel:   "summary-model",
		systemPrompt:   "You are a helpful assistant.",
		summarizeAfter: summarizeAfter,
		logger:         zap.NewNop(),
	}
}

func userTurns(n int) []models.ContextMessage {
	msgs := make([]models.ContextMessage, n)
	for i := range msgs {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msgs[i] = models.ContextMessage{Role: role, Content: fmt.Sprintf("turn %d", i)}
	}
	return msgs
}

func TestGenerator_FirstModelWins(t *testing.T) {
	b := &fakeBackend{responses: map[string]string{"model-a": "hello there"}}
	g := newTestGenerator(b, 10)

	result, err := g.Generate(context.Background(), userTurns(2), []string{"model-a", "model-b"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "hello there" || result.Model != "model-a" {
		t.Errorf("got %+v", result)
	}
	if result.InputTokens != 12 || result.OutputTokens != 7 {
		t.Errorf("token counts: %+v", result)
	}
	if len(b.calls) != 1 {
		t.Errorf("expected 1 call, got %v", b.calls)
	}
	// System prompt goes first, then the two turns.
	if len(b.lastMsgs) != 3 {
		t.Fatalf("expected 3 wire messages, got %d", len(b.lastMsgs))
	}
	if b.lastMsgs[0].Role != schema.ChatMessageTypeSystem {
		t.Errorf("first message role = %s", b.lastMsgs[0].Role)
	}
}

func TestGenerator_FallsBack(t *testing.T) {
	b := &fakeBackend{
		failing:   map[string]bool{"model-a": true},
		responses: map[string]string{"model-b": "backup answer"},
	}
	g := newTestGenerator(b, 10)

	result, err := g.Generate(context.Background(), userTurns(2), []string{"model-a", "model-b"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Model != "model-b" || result.Content != "backup answer" {
		t.Errorf("got %+v", result)
	}
	if len(b.calls) != 2 {
		t.Errorf("calls = %v", b.calls)
	}
}

func TestGenerator_AllModelsFail(t *testing.T) {
	b := &fakeBackend{failing: map[string]bool{"model-a": true, "model-b": true}}
	g := newTestGenerator(b, 10)

	_, err := g.Generate(context.Background(), userTurns(2), []string{"model-a", "model-b"}, nil)
	if !errors.Is(err, ErrNoModelResponse) {
		t.Errorf("expected ErrNoModelResponse, got %v", err)
	}
}

func TestGenerator_NoCandidates(t *testing.T) {
	g := newTestGenerator(&fakeBackend{}, 10)
	if _, err := g.Generate(context.Background(), userTurns(2), nil, nil); !errors.Is(err, ErrNoModelResponse) {
		t.Errorf("expected ErrNoModelResponse, got %v", err)
	}
}

func TestGenerator_Streaming(t *testing.T) {
	b := &fakeBackend{responses: map[string]string{"model-a": "one two three"}}
	g := newTestGenerator(b, 10)

	var streamed strings.Builder
	result, err := g.Generate(context.Background(), userTurns(2), []string{"model-a"},
		func(ctx context.Context, chunk []byte) error {
			streamed.Write(chunk)
			return nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if streamed.String() != "one two three" {
		t.Errorf("streamed %q", streamed.String())
	}
	if result.Content != "one two three" {
		t.Errorf("result %q", result.Content)
	}
}

func TestGenerator_CompressesLongContext(t *testing.T) {
	b := &fakeBackend{responses: map[string]string{
		"summary-model": "They discussed eleven things.",
		"model-a":       "final answer",
	}}
	g := newTestGenerator(b, 10)

	msgs := userTurns(12)
	result, err := g.Generate(context.Background(), msgs, []string{"model-a"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "final answer" {
		t.Errorf("got %q", result.Content)
	}
	if b.calls[0] != "summary-model" || b.calls[1] != "model-a" {
		t.Errorf("calls = %v", b.calls)
	}
	// system prompt + summary + verbatim last entry
	if len(b.lastMsgs) != 3 {
		t.Fatalf("expected 3 wire messages after compression, got %d", len(b.lastMsgs))
	}
	lastPart := b.lastMsgs[2].Parts[0].(llms.TextContent)
	if lastPart.Text != "turn 11" {
		t.Errorf("last entry not kept verbatim: %q", lastPart.Text)
	}
	summaryPart := b.lastMsgs[1].Parts[0].(llms.TextContent)
	if !strings.Contains(summaryPart.Text, "They discussed eleven things.") {
		t.Errorf("summary missing: %q", summaryPart.Text)
	}
}

func TestGenerator_CompressionFailureFallsThrough(t *testing.T) {
	b := &fakeBackend{
		failing:   map[string]bool{"summary-model": true},
		responses: map[string]string{"model-a": "answer"},
	}
	g := newTestGenerator(b, 10)

	result, err := g.Generate(context.Background(), userTurns(12), []string{"model-a"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "answer" {
		t.Errorf("got %q", result.Content)
	}
	// Full context is sent when the summary model fails.
	if len(b.lastMsgs) != 13 {
		t.Errorf("expected full context, got %d messages", len(b.lastMsgs))
	}
}

func TestGenerator_ShortContextNotCompressed(t *testing.T) {
	b := &fakeBackend{responses: map[string]string{"model-a": "answer"}}
	g := newTestGenerator(b, 10)

	if _, err := g.Generate(context.Background(), userTurns(10), []string{"model-a"}, nil); err != nil {
		t.Fatal(err)
	}
	if len(b.calls) != 1 || b.calls[0] != "model-a" {
		t.Errorf("summary model should not run for 10 entries: %v", b.calls)
	}
}
