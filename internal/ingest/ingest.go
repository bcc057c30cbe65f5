// Package ingest turns uploaded files into stored, chunked, embedded
// documents attached to a conversation.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/extract"
	"github.com/hyperjump/kaiwa/internal/models"
	"github.com/hyperjump/kaiwa/internal/storage"
	"github.com/hyperjump/kaiwa/internal/vector"
)

// ErrTooLarge rejects uploads over the configured size cap.
var ErrTooLarge = errors.New("file too large")

// ErrNoContent rejects files whose extraction yields no text.
var ErrNoContent = errors.New("no extractable text content")

// Embedder is the slice of the embedding API ingestion needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Options configures a Service.
type Options struct {
	ChunkSize      int
	ChunkOverlap   int
	MaxUploadBytes int64
}

// UploadInput describes one incoming file.
type UploadInput struct {
	ConversationID string
	FileName       string
	MimeType       string
	Size           int64
	Reader         io.Reader
}

// Service ingests uploads and keeps storage, files, and the vector index
// consistent when documents or conversations go away.
type Service struct {
	store     storage.Storage
	files     *storage.FileStore
	extractor *extract.Extractor
	embedder  Embedder
	index     vector.Index
	splitter  textsplitter.RecursiveCharacter
	opts      Options
	logger    *zap.Logger
}

// NewService creates an ingestion service.
func NewService(store storage.Storage, files *storage.FileStore, extractor *extract.Extractor, embedder Embedder, index vector.Index, opts Options, logger *zap.Logger) *Service {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1000
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		files:     files,
		extractor: extractor,
		embedder:  embedder,
		index:     index,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(opts.ChunkSize),
			textsplitter.WithChunkOverlap(opts.ChunkOverlap),
		),
		opts:   opts,
		logger: logger,
	}
}

// Upload validates, stores, extracts, chunks, embeds, and indexes one file
// for a conversation the user owns. On a failure after the file has been
// written, the document and its file are cleaned up best effort.
func (s *Service) Upload(ctx context.Context, userID string, in UploadInput) (*models.Document, error) {
	if !extract.Supported(in.MimeType) {
		return nil, fmt.Errorf("%w: %s", extract.ErrUnsupportedType, in.MimeType)
	}
	if s.opts.MaxUploadBytes > 0 && in.Size > s.opts.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, in.Size, s.opts.MaxUploadBytes)
	}
	if _, err := s.store.GetConversation(ctx, in.ConversationID, userID); err != nil {
		return nil, err
	}

	limit := s.opts.MaxUploadBytes
	if limit <= 0 {
		limit = 1 << 30
	}
	content, err := io.ReadAll(io.LimitReader(in.Reader, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(content)) > limit {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrTooLarge, limit)
	}

	docID := uuid.NewString()
	path, err := s.files.Save(docID, in.FileName, bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	doc := &models.Document{
		ID:             docID,
		OriginalName:   in.FileName,
		StoragePath:    path,
		MimeType:       in.MimeType,
		Size:           int64(len(content)),
		UserID:         userID,
		ConversationID: in.ConversationID,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		_ = s.files.Delete(path)
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	if err := s.indexContent(ctx, doc, content); err != nil {
		_ = s.store.DeleteDocument(ctx, docID, userID)
		_ = s.files.Delete(path)
		return nil, err
	}

	s.logger.Info("document ingested",
		zap.String("document_id", docID),
		zap.String("conversation_id", in.ConversationID),
		zap.String("mime_type", in.MimeType),
		zap.Int64("size", doc.Size))
	return doc, nil
}

func (s *Service) indexContent(ctx context.Context, doc *models.Document, content []byte) error {
	text, err := s.extractor.Extract(content, doc.MimeType)
	if err != nil {
		return fmt.Errorf("failed to extract text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return ErrNoContent
	}

	parts, err := s.splitter.SplitText(text)
	if err != nil {
		return fmt.Errorf("failed to split text: %w", err)
	}
	if len(parts) == 0 {
		parts = []string{text}
	}

	embeddings, err := s.embedder.EmbedBatch(ctx, parts)
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %w", err)
	}

	chunks := make([]*models.Chunk, len(parts))
	entries := make([]vector.Entry, len(parts))
	for i, part := range parts {
		chunk := &models.Chunk{
			ID:         fmt.Sprintf("%s_%d", doc.ID, i),
			DocumentID: doc.ID,
			Content:    part,
			Embedding:  embeddings[i],
			ChunkIndex: i,
		}
		chunks[i] = chunk
		entries[i] = vector.Entry{ID: chunk.ID, DocumentID: doc.ID, Vector: embeddings[i]}
	}
	if err := s.store.BatchCreateChunks(ctx, chunks); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	if err := s.index.Add(ctx, entries); err != nil {
		return fmt.Errorf("failed to index vectors: %w", err)
	}
	return nil
}

// DeleteDocument removes a document the user owns along with its chunks,
// file, and index entries.
func (s *Service) DeleteDocument(ctx context.Context, userID, documentID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.UserID != userID {
		return storage.ErrNotFound
	}
	if err := s.store.DeleteDocument(ctx, documentID, userID); err != nil {
		return err
	}
	if err := s.index.RemoveByDocument(ctx, documentID); err != nil {
		s.logger.Warn("failed to remove document from index", zap.Error(err))
	}
	if err := s.files.Delete(doc.StoragePath); err != nil {
		s.logger.Warn("failed to delete stored file", zap.Error(err))
	}
	return nil
}

// DeleteConversation removes a conversation the user owns along with its
// messages, documents, files, and index entries.
func (s *Service) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if _, err := s.store.GetConversation(ctx, conversationID, userID); err != nil {
		return err
	}
	docs, err := s.store.ListDocuments(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteConversation(ctx, conversationID, userID); err != nil {
		return err
	}
	for _, doc := range docs {
		if err := s.index.RemoveByDocument(ctx, doc.ID); err != nil {
			s.logger.Warn("failed to remove document from index",
				zap.String("document_id", doc.ID), zap.Error(err))
		}
		if err := s.files.Delete(doc.StoragePath); err != nil {
			s.logger.Warn("failed to delete stored file",
				zap.String("path", doc.StoragePath), zap.Error(err))
		}
	}
	return nil
}

// Rebuild loads every stored chunk into the vector index. Called once at
// startup; the index has no on-disk form of its own.
func (s *Service) Rebuild(ctx context.Context) (int, error) {
	const batchSize = 256
	batch := make([]vector.Entry, 0, batchSize)
	count := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.index.Add(ctx, batch); err != nil {
			return err
		}
		count += len(batch)
		batch = batch[:0]
		return nil
	}
	err := s.store.AllChunks(ctx, func(ch *models.Chunk) error {
		if len(ch.Embedding) == 0 {
			return nil
		}
		batch = append(batch, vector.Entry{ID: ch.ID, DocumentID: ch.DocumentID, Vector: ch.Embedding})
		if len(batch) == batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return count, err
	}
	if err := flush(); err != nil {
		return count, err
	}
	return count, nil
}
