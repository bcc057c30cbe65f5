// Package chat assembles generation context and runs conversation turns.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/retrieval"
	"github.com/hyperjump/kaiwa/internal/storage"
	"github.com/hyperjump/kaiwa/internal/websearch"
	"github.com/hyperjump/kaiwa/pkg/utils"
)

// ErrEmptyMessage rejects turns without user text.
var ErrEmptyMessage = errors.New("message must not be empty")

// ragPreamble introduces retrieved document context in the prompt.
const ragPreamble = "Use the following context from user's uploaded documents to answer the question:"

// chunkDelimiter separates retrieved chunks inside the context note.
const chunkDelimiter = "\n---\n"

// Retriever ranks document chunks against a query.
type Retriever interface {
	Query(ctx context.Context, text string, docIDs []string) ([]*retrieval.ScoredChunk, error)
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string) (*websearch.Response, error)
}

// AssemblerOptions tunes context assembly.
type AssemblerOptions struct {
	HistoryLimit int
	TitleLength  int
	MinScore     float64
}

// Assembly is the generation input built for one turn.
type Assembly struct {
	Conversation *models.Conversation
	Created      bool
	Context      []models.ContextMessage
	Citations    []models.Citation
}

// Assembler builds the ordered generation context for a turn: history,
// then the optional web search note, then the optional document context
// note, then the user message.
type Assembler struct {
	store     storage.Storage
	retriever Retriever
	searcher  Searcher
	opts      AssemblerOptions
	logger    *zap.Logger
}

// NewAssembler creates an Assembler. retriever and searcher may be nil to
// disable those context sources.
func NewAssembler(store storage.Storage, retriever Retriever, searcher Searcher, opts AssemblerOptions, logger *zap.Logger) *Assembler {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	if opts.TitleLength <= 0 {
		opts.TitleLength = 30
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{store: store, retriever: retriever, searcher: searcher, opts: opts, logger: logger}
}

// Assemble resolves the conversation (creating one when no id is given)
// and builds the generation context. Context sources that fail degrade the
// turn rather than abort it; only conversation resolution errors are fatal.
func (a *Assembler) Assemble(ctx context.Context, userID string, req *models.TurnRequest) (*Assembly, error) {
	if req.Message == "" {
		return nil, ErrEmptyMessage
	}

	conv, created, err := a.resolveConversation(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	history, err := a.resolveHistory(ctx, conv, userID, req)
	if err != nil {
		return nil, err
	}

	msgs := make([]models.ContextMessage, 0, len(history)+3)
	msgs = append(msgs, history...)
	if conv.SystemInstruction != "" {
		msgs = append([]models.ContextMessage{
			{Role: models.RoleSystem, Content: conv.SystemInstruction},
		}, msgs...)
	}

	var citations []models.Citation

	if webNote, webCitations := a.webContext(ctx, req); webNote != "" {
		msgs = append(msgs, models.ContextMessage{Role: models.RoleSystem, Content: webNote})
		citations = append(citations, webCitations...)
	}

	if ragNote, ragCitations := a.documentContext(ctx, conv, req); ragNote != "" {
		msgs = append(msgs, models.ContextMessage{Role: models.RoleSystem, Content: ragNote})
		citations = append(citations, ragCitations...)
	}

	msgs = append(msgs, models.ContextMessage{Role: models.RoleUser, Content: req.Message})

	return &Assembly{
		Conversation: conv,
		Created:      created,
		Context:      msgs,
		Citations:    citations,
	}, nil
}

func (a *Assembler) resolveConversation(ctx context.Context, userID string, req *models.TurnRequest) (*models.Conversation, bool, error) {
	if req.ConversationID != "" {
		conv, err := a.store.GetConversation(ctx, req.ConversationID, userID)
		if err != nil {
			return nil, false, err
		}
		return conv, false, nil
	}

	conv := &models.Conversation{
		ID:     uuid.NewString(),
		UserID: userID,
		Title:  titleFromMessage(req.Message, a.opts.TitleLength),
		Model:  req.SelectedModel,
	}
	if err := a.store.CreateConversation(ctx, conv); err != nil {
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}
	a.logger.Info("created conversation",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", userID))
	return conv, true, nil
}

// resolveHistory prefers caller-supplied history, sanitized and capped;
// otherwise it loads the most recent persisted window.
func (a *Assembler) resolveHistory(ctx context.Context, conv *models.Conversation, userID string, req *models.TurnRequest) ([]models.ContextMessage, error) {
	if len(req.History) > 0 {
		sane := make([]models.ContextMessage, 0, len(req.History))
		for _, m := range req.History {
			if !models.ValidRole(m.Role) || m.Content == "" {
				continue
			}
			sane = append(sane, m)
		}
		if len(sane) > a.opts.HistoryLimit {
			sane = sane[len(sane)-a.opts.HistoryLimit:]
		}
		return sane, nil
	}

	recent, err := a.store.RecentMessages(ctx, conv.ID, userID, a.opts.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	out := make([]models.ContextMessage, 0, len(recent))
	for _, m := range recent {
		out = append(out, models.ContextMessage{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

// webContext runs a web search when the mode requests it (or the auto
// heuristic fires) and returns the context note plus citations. Search
// failures log a warning and return nothing.
func (a *Assembler) webContext(ctx context.Context, req *models.TurnRequest) (string, []models.Citation) {
	if a.searcher == nil {
		return "", nil
	}
	switch req.UseWebSearch {
	case models.WebSearchOn:
	case models.WebSearchAuto:
		if !websearch.ShouldAutoSearch(req.Message) {
			return "", nil
		}
	default:
		return "", nil
	}

	resp, err := a.searcher.Search(ctx, req.Message)
	if err != nil {
		a.logger.Warn("web search failed, continuing without it", zap.Error(err))
		return "", nil
	}
	note := websearch.FormatContext(resp)
	if note == "" {
		return "", nil
	}
	note = "Current Web Search Context:\n" + note
	citations := make([]models.Citation, 0, len(resp.Results))
	for _, r := range resp.Results {
		citations = append(citations, models.Citation{
			SourceType: models.SourceWeb,
			URL:        r.URL,
			Snippet:    utils.Truncate(r.Content, 300),
			Score:      r.Score,
		})
	}
	return note, citations
}

// documentContext retrieves chunks from the conversation's documents and
// keeps those above the relevance threshold. Retrieval failures log a
// warning and return nothing.
func (a *Assembler) documentContext(ctx context.Context, conv *models.Conversation, req *models.TurnRequest) (string, []models.Citation) {
	if a.retriever == nil || !req.RagEnabled() || len(conv.FileIDs) == 0 {
		return "", nil
	}

	scored, err := a.retriever.Query(ctx, req.Message, conv.FileIDs)
	if err != nil {
		a.logger.Warn("retrieval failed, continuing without it", zap.Error(err))
		return "", nil
	}

	var kept []*retrieval.ScoredChunk
	for _, sc := range scored {
		if sc.Score > a.opts.MinScore {
			kept = append(kept, sc)
		}
	}
	if len(kept) == 0 {
		return "", nil
	}

	note := ragPreamble + "\n"
	citations := make([]models.Citation, 0, len(kept))
	for i, sc := range kept {
		if i > 0 {
			note += chunkDelimiter
		}
		note += sc.Chunk.Content
		citations = append(citations, models.Citation{
			SourceType: models.SourceFile,
			ChunkID:    sc.Chunk.ID,
			DocumentID: sc.Chunk.DocumentID,
			Snippet:    utils.Truncate(sc.Chunk.Content, 200),
			PageNumber: sc.Chunk.PageNumber,
			Score:      sc.Score,
		})
	}
	return note, citations
}

// titleFromMessage derives a new conversation's title from the first
// characters of the opening message.
func titleFromMessage(message string, maxLen int) string {
	runes := []rune(message)
	if len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return message
}
