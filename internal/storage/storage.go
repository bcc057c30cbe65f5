// Package storage defines the persistence interface for conversations,
// messages, documents, and chunks.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/kaiwa/internal/models"
)

// ErrNotFound is returned when a record does not exist or is not owned by
// the requesting user.
var ErrNotFound = errors.New("not found")

// Storage defines conversation, message, document, and chunk persistence.
// All reads that take a userID are scoped to that user.
type Storage interface {
	// Conversation operations
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id, userID string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*models.ConversationSummary, error)
	DeleteConversation(ctx context.Context, id, userID string) error

	// Message operations
	CreateMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID, userID string) ([]*models.Message, error)
	RecentMessages(ctx context.Context, conversationID, userID string, limit int) ([]*models.Message, error)
	UpdateMessageFeedback(ctx context.Context, id, userID, feedback string) error

	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, conversationID string) ([]*models.Document, error)
	DeleteDocument(ctx context.Context, id, userID string) error

	// Chunk operations
	BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error
	GetChunks(ctx context.Context, ids []string) (map[string]*models.Chunk, error)
	AllChunks(ctx context.Context, fn func(*models.Chunk) error) error

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
