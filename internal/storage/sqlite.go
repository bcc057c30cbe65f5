// Package storage provides the SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kaiwa/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT 'New Conversation',
		model TEXT NOT NULL DEFAULT '',
		is_archived INTEGER NOT NULL DEFAULT 0,
		system_instruction TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('user','assistant','system')),
		content TEXT NOT NULL,
		rewritten_query TEXT NOT NULL DEFAULT '',
		citations TEXT NOT NULL DEFAULT '',
		user_feedback TEXT NOT NULL DEFAULT 'neutral',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		original_name TEXT NOT NULL,
		storage_path TEXT NOT NULL,
		mime_type TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		user_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_documents_conversation ON documents(conversation_id);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB,
		chunk_index INTEGER NOT NULL,
		page_number INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, chunk_index);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateConversation inserts a conversation.
func (s *SQLiteStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, model, is_archived, system_instruction, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.Title, conv.Model, conv.IsArchived, conv.SystemInstruction,
		conv.CreatedAt, conv.UpdatedAt,
	)
	return err
}

// GetConversation returns a conversation by id scoped to userID, with
// FileIDs populated from the documents table. Returns ErrNotFound when the
// conversation does not exist or belongs to another user.
func (s *SQLiteStorage) GetConversation(ctx context.Context, id, userID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, model, is_archived, system_instruction, created_at, updated_at
		 FROM conversations WHERE id = ? AND user_id = ?`, id, userID,
	).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.Model, &conv.IsArchived,
		&conv.SystemInstruction, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM documents WHERE conversation_id = ? ORDER BY created_at, rowid`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var fileID string
		if err := rows.Scan(&fileID); err != nil {
			return nil, err
		}
		conv.FileIDs = append(conv.FileIDs, fileID)
	}
	return &conv, rows.Err()
}

// ListConversations returns the user's conversations newest-first.
func (s *SQLiteStorage) ListConversations(ctx context.Context, userID string) ([]*models.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations
		 WHERE user_id = ? ORDER BY updated_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]*models.ConversationSummary, 0)
	for rows.Next() {
		var cs models.ConversationSummary
		if err := rows.Scan(&cs.ID, &cs.Title, &cs.CreatedAt, &cs.UpdatedAt); err != nil {
			return nil, err
		}
		summaries = append(summaries, &cs)
	}
	return summaries, rows.Err()
}

// DeleteConversation removes a conversation owned by userID; messages,
// documents, and chunks cascade. Returns ErrNotFound when not owned.
func (s *SQLiteStorage) DeleteConversation(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMessage inserts a message and touches the owning conversation's
// updated_at. Role and content invariants are enforced here as well as by
// the schema.
func (s *SQLiteStorage) CreateMessage(ctx context.Context, msg *models.Message) error {
	if !models.ValidRole(msg.Role) {
		return fmt.Errorf("invalid role %q", msg.Role)
	}
	if msg.Content == "" {
		return fmt.Errorf("message content must not be empty")
	}
	if msg.Feedback == "" {
		msg.Feedback = models.FeedbackNeutral
	}
	citationsJSON := ""
	if len(msg.Citations) > 0 {
		data, err := json.Marshal(msg.Citations)
		if err != nil {
			return fmt.Errorf("failed to marshal citations: %w", err)
		}
		citationsJSON = string(data)
	}
	msg.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, user_id, conversation_id, role, content, rewritten_query,
		 citations, user_feedback, input_tokens, output_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.UserID, msg.ConversationID, msg.Role, msg.Content, msg.RewrittenQuery,
		citationsJSON, msg.Feedback, msg.InputTokens, msg.OutputTokens, msg.CreatedAt,
	)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, msg.CreatedAt, msg.ConversationID)
	return err
}

const messageColumns = `id, user_id, conversation_id, role, content, rewritten_query,
	citations, user_feedback, input_tokens, output_tokens, created_at`

func scanMessage(rows *sql.Rows) (*models.Message, error) {
	var msg models.Message
	var citationsJSON string
	if err := rows.Scan(&msg.ID, &msg.UserID, &msg.ConversationID, &msg.Role, &msg.Content,
		&msg.RewrittenQuery, &citationsJSON, &msg.Feedback,
		&msg.InputTokens, &msg.OutputTokens, &msg.CreatedAt); err != nil {
		return nil, err
	}
	if citationsJSON != "" {
		if err := json.Unmarshal([]byte(citationsJSON), &msg.Citations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal citations: %w", err)
		}
	}
	return &msg, nil
}

// ListMessages returns all messages for a conversation oldest-first,
// scoped to userID.
func (s *SQLiteStorage) ListMessages(ctx context.Context, conversationID, userID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = ? AND user_id = ?
		 ORDER BY created_at, rowid`, conversationID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// RecentMessages returns the most recent limit messages for a conversation
// in chronological (oldest-first) order, scoped to userID.
func (s *SQLiteStorage) RecentMessages(ctx context.Context, conversationID, userID string, limit int) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = ? AND user_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, conversationID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]*models.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Fetched newest-first for the LIMIT; reverse to chronological.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// UpdateMessageFeedback sets the feedback tag on a message owned by userID.
// Feedback is the only mutable message field.
func (s *SQLiteStorage) UpdateMessageFeedback(ctx context.Context, id, userID, feedback string) error {
	if !models.ValidFeedback(feedback) {
		return fmt.Errorf("invalid feedback %q", feedback)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET user_feedback = ? WHERE id = ? AND user_id = ?`, feedback, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateDocument inserts a document record.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	doc.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, original_name, storage_path, mime_type, size, user_id, conversation_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.OriginalName, doc.StoragePath, doc.MimeType, doc.Size,
		doc.UserID, doc.ConversationID, doc.CreatedAt,
	)
	return err
}

// GetDocument returns a document by id.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := s.db.QueryRowContext(ctx,
		`SELECT id, original_name, storage_path, mime_type, size, user_id, conversation_id, created_at
		 FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &doc.OriginalName, &doc.StoragePath, &doc.MimeType, &doc.Size,
		&doc.UserID, &doc.ConversationID, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments returns all documents attached to a conversation.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, conversationID string) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, original_name, storage_path, mime_type, size, user_id, conversation_id, created_at
		 FROM documents WHERE conversation_id = ? ORDER BY created_at, rowid`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]*models.Document, 0)
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(&doc.ID, &doc.OriginalName, &doc.StoragePath, &doc.MimeType, &doc.Size,
			&doc.UserID, &doc.ConversationID, &doc.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document owned by userID; chunks cascade.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// BatchCreateChunks inserts chunks with their embedding vectors in one
// transaction.
func (s *SQLiteStorage) BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, content, embedding, chunk_index, page_number, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, ch := range chunks {
		ch.CreatedAt = now
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.DocumentID, ch.Content,
			encodeVector(ch.Embedding), ch.ChunkIndex, ch.PageNumber, ch.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetChunks returns the chunks with the given ids, keyed by id. Missing ids
// are simply absent from the map.
func (s *SQLiteStorage) GetChunks(ctx context.Context, ids []string) (map[string]*models.Chunk, error) {
	result := make(map[string]*models.Chunk, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, content, embedding, chunk_index, page_number, created_at
		 FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		result[ch.ID] = ch
	}
	return result, rows.Err()
}

// AllChunks streams every chunk through fn; used to rebuild the vector
// index at startup. Iteration stops at the first fn error.
func (s *SQLiteStorage) AllChunks(ctx context.Context, fn func(*models.Chunk) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, content, embedding, chunk_index, page_number, created_at FROM chunks`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return err
		}
		if err := fn(ch); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanChunk(rows *sql.Rows) (*models.Chunk, error) {
	var ch models.Chunk
	var blob []byte
	if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Content, &blob,
		&ch.ChunkIndex, &ch.PageNumber, &ch.CreatedAt); err != nil {
		return nil, err
	}
	ch.Embedding = decodeVector(blob)
	return &ch, nil
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// encodeVector serializes a float32 vector as little-endian bytes.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:(i+1)*4], math.Float32bits(f))
	}
	return out
}

// decodeVector deserializes little-endian bytes into a float32 vector.
func decodeVector(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : (i+1)*4]))
	}
	return out
}
