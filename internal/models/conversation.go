// Package models defines core data structures for conversations, messages,
// documents, and chat context.
package models

import "time"

// Conversation is a chat thread owned by a user. FileIDs lists the documents
// attached for retrieval; messages and documents cascade on delete.
type Conversation struct {
	ID                string    `json:"id" db:"id"`
	UserID            string    `json:"userId" db:"user_id"`
	Title             string    `json:"title" db:"title"`
	Model             string    `json:"model" db:"model"`
	IsArchived        bool      `json:"isArchived" db:"is_archived"`
	SystemInstruction string    `json:"systemInstruction,omitempty" db:"system_instruction"`
	FileIDs           []string  `json:"files" db:"file_ids"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time `json:"updatedAt" db:"updated_at"`
}

// ConversationSummary is the /history list entry.
type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
