package models

import (
	"fmt"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown message role %q", s)
	}
}

// Conversation is a persistent chat session with an agent.
type Conversation struct {
	ID        surrealmodels.RecordID `json:"id"`
	Agent     surrealmodels.RecordID `json:"agent"`
	Title     *string                `json:"title,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Message is a single chat message within a conversation. Assistant messages
// carry the sources their answer was grounded in, serialized as JSON.
type Message struct {
	ID           surrealmodels.RecordID `json:"id"`
	Conversation surrealmodels.RecordID `json:"conversation"`
	Role         Role                   `json:"role"`
	Content      string                 `json:"content"`
	Sources      *string                `json:"sources,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Source is a citation for one retrieved chunk. The JSON field names are part
// of the streaming wire contract.
type Source struct {
	Filename   string  `json:"filename"`
	ChunkIndex int     `json:"chunk_index"`
	Relevance  float64 `json:"relevance"`
}
