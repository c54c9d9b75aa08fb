package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn in a conversation. Assistant turns carry the
// sanitized citation payload and, when produced by a background
// generation, a link to the generation that created them. The link is
// unique per generation and is the sole guard against double-persistence.
type Message struct {
	ID             int64       `json:"id"`
	UserID         int64       `json:"user_id"`
	ConversationID int64       `json:"conversation_id"`
	Role           Role        `json:"role"`
	Content        string      `json:"content"`
	Citations      []string    `json:"citations,omitempty"`
	Matches        []MatchItem `json:"matches,omitempty"`
	GenerationID   string      `json:"generation_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}
