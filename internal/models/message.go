package models

import "time"

// Message roles. Persisted messages carry exactly one of these.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ValidRole reports whether role is one of user, assistant, or system.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant || role == RoleSystem
}

// Feedback values a user can attach to an assistant message.
const (
	FeedbackThumbsUp   = "thumbsUp"
	FeedbackThumbsDown = "thumbsDown"
	FeedbackNeutral    = "neutral"
)

// ValidFeedback reports whether feedback is a known feedback tag.
func ValidFeedback(feedback string) bool {
	return feedback == FeedbackThumbsUp || feedback == FeedbackThumbsDown || feedback == FeedbackNeutral
}

// Citation source types.
const (
	SourceFile = "file"
	SourceWeb  = "web"
)

// Citation records where a piece of grounding context came from. It is a
// snapshot taken at generation time and is not re-resolved if the underlying
// chunk is later deleted.
type Citation struct {
	SourceType string  `json:"sourceType"`
	ChunkID    string  `json:"chunkId,omitempty"`
	DocumentID string  `json:"documentId,omitempty"`
	URL        string  `json:"url,omitempty"`
	Snippet    string  `json:"snippet,omitempty"`
	PageNumber int     `json:"pageNumber,omitempty"`
	Score      float64 `json:"score"`
}

// Message is one persisted turn entry. Immutable once written except for
// Feedback. Content must be non-empty for persisted messages.
type Message struct {
	ID             string     `json:"id" db:"id"`
	UserID         string     `json:"userId" db:"user_id"`
	ConversationID string     `json:"conversationId" db:"conversation_id"`
	Role           string     `json:"role" db:"role"`
	Content        string     `json:"content" db:"content"`
	RewrittenQuery string     `json:"rewrittenQuery,omitempty" db:"rewritten_query"`
	Citations      []Citation `json:"citations,omitempty" db:"citations"`
	Feedback       string     `json:"userFeedback" db:"user_feedback"`
	InputTokens    int        `json:"inputTokens,omitempty" db:"input_tokens"`
	OutputTokens   int        `json:"outputTokens,omitempty" db:"output_tokens"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
}
