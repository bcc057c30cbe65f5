package models

import "time"

// Document is an uploaded file attached to a conversation. StoragePath is
// the locator returned by the file store; Chunks cascade on delete.
type Document struct {
	ID             string    `json:"id" db:"id"`
	OriginalName   string    `json:"originalName" db:"original_name"`
	StoragePath    string    `json:"storagePath" db:"storage_path"`
	MimeType       string    `json:"mimeType" db:"mime_type"`
	Size           int64     `json:"size" db:"size"`
	UserID         string    `json:"uploadedBy" db:"user_id"`
	ConversationID string    `json:"conversationId" db:"conversation_id"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

// Chunk is a bounded slice of a document's text together with its embedding
// vector, the unit of retrieval. Created in bulk during ingestion and
// deleted with the owning document.
type Chunk struct {
	ID         string    `json:"id" db:"id"`
	DocumentID string    `json:"documentId" db:"document_id"`
	Content    string    `json:"content" db:"content"`
	Embedding  []float32 `json:"-" db:"embedding"`
	ChunkIndex int       `json:"chunkIndex" db:"chunk_index"`
	PageNumber int       `json:"pageNumber,omitempty" db:"page_number"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}
