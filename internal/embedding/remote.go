package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/pkg/utils"
)

// RemoteEmbedder calls an OpenAI-compatible embeddings API. Multiple models
// may be configured; requests rotate the starting model and fall through to
// the next on failure. Results are cached by text.
type RemoteEmbedder struct {
	models     []string
	clients    map[string]*openai.LLM
	dimensions int
	cache      *EmbeddingCache
	logger     *zap.Logger

	mu   sync.Mutex
	next int
}

// RemoteOptions configures a RemoteEmbedder.
type RemoteOptions struct {
	BaseURL    string
	APIKey     string
	Models     []string
	Dimensions int
	CacheSize  int
	Logger     *zap.Logger
}

// NewRemoteEmbedder builds one client per configured model.
func NewRemoteEmbedder(opts RemoteOptions) (*RemoteEmbedder, error) {
	if len(opts.Models) == 0 {
		return nil, fmt.Errorf("no embedding models configured")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	clients := make(map[string]*openai.LLM, len(opts.Models))
	for _, model := range opts.Models {
		client, err := openai.New(
			openai.WithToken(opts.APIKey),
			openai.WithBaseURL(opts.BaseURL),
			openai.WithModel(model),
			openai.WithEmbeddingModel(model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding client for %s: %w", model, err)
		}
		clients[model] = client
	}
	var cache *EmbeddingCache
	if opts.CacheSize > 0 {
		cache = NewEmbeddingCache(opts.CacheSize)
	}
	return &RemoteEmbedder{
		models:     opts.Models,
		clients:    clients,
		dimensions: opts.Dimensions,
		cache:      cache,
		logger:     opts.Logger,
	}, nil
}

// Embed returns the embedding for a single text.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request, serving cache hits locally and
// only sending the misses. Newlines are replaced with spaces before the
// call; embedding APIs treat them as token boundaries that hurt quality.
func (e *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		cleaned := strings.ReplaceAll(text, "\n", " ")
		if e.cache != nil {
			if vec, ok := e.cache.Get(cleaned); ok {
				results[i] = vec
				continue
			}
		}
		missing = append(missing, cleaned)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return results, nil
	}

	vecs, _, err := utils.FirstSuccess(ctx, e.candidates(),
		func(ctx context.Context, model string) ([][]float32, error) {
			out, err := e.clients[model].CreateEmbedding(ctx, missing)
			if err != nil {
				return nil, err
			}
			if len(out) != len(missing) {
				return nil, fmt.Errorf("embedding API returned %d vectors for %d inputs", len(out), len(missing))
			}
			return out, nil
		},
		func(model string, err error) {
			e.logger.Warn("embedding model failed, trying next",
				zap.String("model", model),
				zap.Error(err))
		})
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	for j, vec := range vecs {
		results[missingIdx[j]] = vec
		if e.cache != nil {
			e.cache.Set(missing[j], vec)
		}
	}
	return results, nil
}

// candidates returns the model list rotated so consecutive requests start
// from different models, spreading load across providers.
func (e *RemoteEmbedder) candidates() []string {
	e.mu.Lock()
	start := e.next
	e.next = (e.next + 1) % len(e.models)
	e.mu.Unlock()

	out := make([]string, 0, len(e.models))
	for i := 0; i < len(e.models); i++ {
		out = append(out, e.models[(start+i)%len(e.models)])
	}
	return out
}

// Dimensions returns the configured embedding dimension.
func (e *RemoteEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the underlying HTTP clients hold no resources.
func (e *RemoteEmbedder) Close() error {
	return nil
}
