package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kaiwa/internal/llm"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/storage"
)

// Generator produces a completion from an assembled context.
type Generator interface {
	Generate(ctx context.Context, messages []models.ContextMessage, candidates []string, onChunk llm.StreamFunc) (*llm.Result, error)
}

// TurnCallbacks lets callers observe a turn as it progresses. OnConversation
// fires once the conversation is resolved, before any generation output;
// OnChunk receives streamed fragments when set.
type TurnCallbacks struct {
	OnConversation func(conv *models.Conversation, created bool)
	OnChunk        llm.StreamFunc
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	Conversation     *models.Conversation
	Created          bool
	UserMessage      *models.Message
	AssistantMessage *models.Message
}

// TurnService runs one conversation turn end to end: assemble context,
// persist the user message while generating, then persist the reply.
type TurnService struct {
	store     storage.Storage
	assembler *Assembler
	generator Generator
	registry  *llm.Registry
	logger    *zap.Logger
}

// NewTurnService creates a TurnService.
func NewTurnService(store storage.Storage, assembler *Assembler, generator Generator, registry *llm.Registry, logger *zap.Logger) *TurnService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TurnService{store: store, assembler: assembler, generator: generator, registry: registry, logger: logger}
}

// Run executes a turn. The user message save and the generation run
// concurrently; a save failure aborts the turn. When the client cancels a
// streaming turn mid-generation, the text streamed so far is persisted on
// a detached context so the transcript stays consistent.
func (s *TurnService) Run(ctx context.Context, userID string, req *models.TurnRequest, cb *TurnCallbacks) (*TurnResult, error) {
	if cb == nil {
		cb = &TurnCallbacks{}
	}
	candidates, err := s.registry.Resolve(req.SelectedModel)
	if err != nil {
		return nil, err
	}

	assembly, err := s.assembler.Assemble(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	conv := assembly.Conversation
	if cb.OnConversation != nil {
		cb.OnConversation(conv, assembly.Created)
	}

	userMsg := &models.Message{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        req.Message,
	}

	var partial strings.Builder
	var wrapped llm.StreamFunc
	if cb.OnChunk != nil {
		onChunk := cb.OnChunk
		wrapped = func(ctx context.Context, chunk []byte) error {
			partial.Write(chunk)
			return onChunk(ctx, chunk)
		}
	}

	var result *llm.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.store.CreateMessage(gctx, userMsg); err != nil {
			return fmt.Errorf("failed to save user message: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		r, err := s.generator.Generate(gctx, assembly.Context, candidates, wrapped)
		if err != nil {
			return err
		}
		result = r
		return nil
	})

	if err := g.Wait(); err != nil {
		// Client disconnect mid-stream: keep what was already sent.
		if ctx.Err() != nil && partial.Len() > 0 {
			s.persistPartial(context.WithoutCancel(ctx), conv, userID, assembly, partial.String())
		}
		return nil, err
	}

	assistant := &models.Message{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        result.Content,
		Citations:      assembly.Citations,
		InputTokens:    result.InputTokens,
		OutputTokens:   result.OutputTokens,
	}
	if err := s.store.CreateMessage(ctx, assistant); err != nil {
		return nil, fmt.Errorf("failed to save assistant message: %w", err)
	}

	s.logger.Info("turn completed",
		zap.String("conversation_id", conv.ID),
		zap.String("model", result.Model),
		zap.Int("input_tokens", result.InputTokens),
		zap.Int("output_tokens", result.OutputTokens))

	return &TurnResult{
		Conversation:     conv,
		Created:          assembly.Created,
		UserMessage:      userMsg,
		AssistantMessage: assistant,
	}, nil
}

func (s *TurnService) persistPartial(ctx context.Context, conv *models.Conversation, userID string, assembly *Assembly, content string) {
	msg := &models.Message{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        content,
		Citations:      assembly.Citations,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		s.logger.Warn("failed to persist partial response", zap.Error(err))
	}
}
