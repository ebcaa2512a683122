// Package models defines the persistent records for the ragserve backend.
package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// DefaultSystemPrompt is used when an agent has no custom system prompt.
const DefaultSystemPrompt = "You are a helpful assistant. Answer questions based only on the provided context. " +
	"If you cannot find the answer in the context, say so clearly. " +
	"Always cite the source when providing information."

// Agent is an isolated RAG unit: one document collection, one vector index,
// one chat configuration.
type Agent struct {
	ID           surrealmodels.RecordID `json:"id"`
	Name         string                 `json:"name"`
	Description  *string                `json:"description,omitempty"`
	Model        string                 `json:"model"`
	SystemPrompt *string                `json:"system_prompt,omitempty"`

	// Aggregates maintained by the ingestion pipeline.
	DocumentCount int `json:"document_count"`
	TotalChunks   int `json:"total_chunks"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgentUpdate carries a partial agent update. Nil fields are left unchanged.
type AgentUpdate struct {
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	Model        *string `json:"model,omitempty"`
	SystemPrompt *string `json:"system_prompt,omitempty"`
}

// Prompt returns the agent's system prompt, falling back to the default.
func (a Agent) Prompt() string {
	if a.SystemPrompt != nil && *a.SystemPrompt != "" {
		return *a.SystemPrompt
	}
	return DefaultSystemPrompt
}
