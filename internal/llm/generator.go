package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/pkg/utils"
)

// ErrNoModelResponse is returned when every candidate model fails or
// produces empty output.
var ErrNoModelResponse = errors.New("no response from any model")

// StreamFunc receives each generated text fragment as it arrives.
type StreamFunc func(ctx context.Context, chunk []byte) error

// backend is the slice of the langchaingo model API the generator needs.
type backend interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// Result is one completed generation.
type Result struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Options configures a Generator.
type Options struct {
	BaseURL        string
	APIKey         string
	SummaryModel   string
	SystemPrompt   string
	SummarizeAfter int
	Logger         *zap.Logger
}

// Generator produces completions, trying candidate models in order and
// compressing long contexts before the call.
type Generator struct {
	client         backend
	summaryModel   string
	systemPrompt   string
	summarizeAfter int
	logger         *zap.Logger
}

// NewGenerator creates a Generator backed by an OpenAI-compatible API.
func NewGenerator(opts Options) (*Generator, error) {
	client, err := openai.New(
		openai.WithToken(opts.APIKey),
		openai.WithBaseURL(opts.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Generator{
		client:         client,
		summaryModel:   opts.SummaryModel,
		systemPrompt:   opts.SystemPrompt,
		summarizeAfter: opts.SummarizeAfter,
		logger:         opts.Logger,
	}, nil
}

// Generate runs the context through the candidate models in order and
// returns the first non-empty completion. When onChunk is non-nil the
// completion is streamed through it. Contexts longer than the compression
// threshold are summarized first, keeping the final entry verbatim.
func (g *Generator) Generate(ctx context.Context, messages []models.ContextMessage, candidates []string, onChunk StreamFunc) (*Result, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidate models", ErrNoModelResponse)
	}

	msgs := messages
	if g.summarizeAfter > 0 && len(msgs) > g.summarizeAfter {
		compressed, err := g.compress(ctx, msgs)
		if err != nil {
			g.logger.Warn("context compression failed, sending full context", zap.Error(err))
		} else {
			msgs = compressed
		}
	}

	content := g.toLLMMessages(msgs)

	result, _, err := utils.FirstSuccess(ctx, candidates,
		func(ctx context.Context, model string) (*Result, error) {
			return g.generateOne(ctx, content, model, onChunk)
		},
		func(model string, err error) {
			g.logger.Warn("model failed, trying next candidate",
				zap.String("model", model),
				zap.Error(err))
		})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoModelResponse, err)
	}
	return result, nil
}

func (g *Generator) generateOne(ctx context.Context, content []llms.MessageContent, model string, onChunk StreamFunc) (*Result, error) {
	opts := []llms.CallOption{llms.WithModel(model)}
	if onChunk != nil {
		opts = append(opts, llms.WithStreamingFunc(onChunk))
	}
	resp, err := g.client.GenerateContent(ctx, content, opts...)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return nil, fmt.Errorf("model %s returned empty response", model)
	}
	choice := resp.Choices[0]
	return &Result{
		Content:      choice.Content,
		Model:        model,
		InputTokens:  generationInfoInt(choice.GenerationInfo, "PromptTokens"),
		OutputTokens: generationInfoInt(choice.GenerationInfo, "CompletionTokens"),
	}, nil
}

// compress replaces all but the last context entry with a model-written
// summary so long conversations stay inside the context window.
func (g *Generator) compress(ctx context.Context, messages []models.ContextMessage) ([]models.ContextMessage, error) {
	if g.summaryModel == "" {
		return nil, fmt.Errorf("no summary model configured")
	}
	last := messages[len(messages)-1]
	older := messages[:len(messages)-1]

	var transcript strings.Builder
	for _, m := range older {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}
	prompt := "Summarize the following conversation in 3-4 sentences, preserving key facts, names, and decisions:\n\n" + transcript.String()

	resp, err := g.client.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(schema.ChatMessageTypeHuman, prompt)},
		llms.WithModel(g.summaryModel))
	if err != nil {
		return nil, fmt.Errorf("summary model failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return nil, fmt.Errorf("summary model returned empty response")
	}

	g.logger.Debug("compressed conversation context",
		zap.Int("original_entries", len(messages)))
	return []models.ContextMessage{
		{Role: models.RoleSystem, Content: "Summary of the conversation so far: " + resp.Choices[0].Content},
		last,
	}, nil
}

// toLLMMessages converts the context to the wire format, prepending the
// configured system prompt.
func (g *Generator) toLLMMessages(messages []models.ContextMessage) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages)+1)
	if g.systemPrompt != "" {
		out = append(out, llms.TextParts(schema.ChatMessageTypeSystem, g.systemPrompt))
	}
	for _, m := range messages {
		var role schema.ChatMessageType
		switch m.Role {
		case models.RoleAssistant:
			role = schema.ChatMessageTypeAI
		case models.RoleSystem:
			role = schema.ChatMessageTypeSystem
		default:
			role = schema.ChatMessageTypeHuman
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}

func generationInfoInt(info map[string]any, key string) int {
	if info == nil {
		return 0
	}
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
