package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/raphaelgruber/ragserve/internal/models"
)

// detailResponse is the error body shape used by every endpoint.
type detailResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, detailResponse{Detail: fmt.Sprintf(format, args...)})
}

// decodeJSON parses a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// AgentCreate is the body of POST /agents.
type AgentCreate struct {
	Name         string  `json:"name"`
	Description  *string `json:"description"`
	Model        string  `json:"model"`
	SystemPrompt *string `json:"system_prompt"`
}

// AgentUpdate is the body of PATCH /agents/{id}. Absent fields are left
// unchanged.
type AgentUpdate struct {
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	Model        *string `json:"model"`
	SystemPrompt *string `json:"system_prompt"`
}

// AgentResponse is the wire shape of an agent.
type AgentResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   *string   `json:"description"`
	Model         string    `json:"model"`
	SystemPrompt  *string   `json:"system_prompt"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	DocumentCount int       `json:"document_count"`
	TotalChunks   int       `json:"total_chunks"`
}

// AgentListResponse is the body of GET /agents.
type AgentListResponse struct {
	Agents []AgentResponse `json:"agents"`
	Total  int             `json:"total"`
}

func toAgentResponse(a *models.Agent) AgentResponse {
	return AgentResponse{
		ID:            models.MustRecordIDString(a.ID),
		Name:          a.Name,
		Description:   a.Description,
		Model:         a.Model,
		SystemPrompt:  a.SystemPrompt,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
		DocumentCount: a.DocumentCount,
		TotalChunks:   a.TotalChunks,
	}
}

// DocumentResponse is the wire shape of a document.
type DocumentResponse struct {
	ID               string     `json:"id"`
	AgentID          string     `json:"agent_id"`
	OriginalFilename string     `json:"original_filename"`
	FileType         string     `json:"file_type"`
	FileSize         int64      `json:"file_size"`
	Status           string     `json:"status"`
	ErrorMessage     *string    `json:"error_message"`
	ChunkCount       int        `json:"chunk_count"`
	CreatedAt        time.Time  `json:"created_at"`
	ProcessedAt      *time.Time `json:"processed_at"`
}

// DocumentListResponse is the body of GET /agents/{id}/documents.
type DocumentListResponse struct {
	Documents []DocumentResponse `json:"documents"`
	Total     int                `json:"total"`
}

func toDocumentResponse(d *models.Document) DocumentResponse {
	return DocumentResponse{
		ID:               models.MustRecordIDString(d.ID),
		AgentID:          models.MustRecordIDString(d.Agent),
		OriginalFilename: d.OriginalFilename,
		FileType:         d.FileType,
		FileSize:         d.FileSize,
		Status:           string(d.Status),
		ErrorMessage:     d.ErrorMessage,
		ChunkCount:       d.ChunkCount,
		CreatedAt:        d.CreatedAt,
		ProcessedAt:      d.ProcessedAt,
	}
}

// TextIngest is the body of POST /agents/{id}/documents/text.
type TextIngest struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// ChatMessage is one prior turn supplied by the client.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of the chat endpoints.
type ChatRequest struct {
	Query          string        `json:"query"`
	ChatHistory    []ChatMessage `json:"chat_history"`
	ConversationID string        `json:"conversation_id"`
	TopK           int           `json:"top_k"`
}

// MessageCreate is the body of POST .../conversations/{id}/messages.
type MessageCreate struct {
	Role    string          `json:"role"`
	Content string          `json:"content"`
	Sources []models.Source `json:"sources"`
}

// MessageResponse is the wire shape of a stored message.
type MessageResponse struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	Sources        []models.Source `json:"sources,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

func toMessageResponse(m *models.Message) MessageResponse {
	resp := MessageResponse{
		ID:             models.MustRecordIDString(m.ID),
		ConversationID: models.MustRecordIDString(m.Conversation),
		Role:           string(m.Role),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt.Format(time.RFC3339),
	}
	if m.Sources != nil {
		// Stored as a JSON string; a decode failure leaves sources empty.
		_ = json.Unmarshal([]byte(*m.Sources), &resp.Sources)
	}
	return resp
}

// ConversationCreate is the body of POST /agents/{id}/conversations.
type ConversationCreate struct {
	Title *string `json:"title"`
}

// ConversationUpdate is the body of PATCH .../conversations/{id}.
type ConversationUpdate struct {
	Title *string `json:"title"`
}

// ConversationResponse is the wire shape of a conversation. Messages are
// only populated on the single-conversation endpoint.
type ConversationResponse struct {
	ID           string            `json:"id"`
	AgentID      string            `json:"agent_id"`
	Title        *string           `json:"title"`
	Preview      *string           `json:"preview,omitempty"`
	MessageCount int               `json:"message_count"`
	Messages     []MessageResponse `json:"messages,omitempty"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
}

// ConversationListResponse is the body of GET /agents/{id}/conversations.
type ConversationListResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
	Total         int                    `json:"total"`
}

// previewLen bounds the conversation list preview text.
const previewLen = 100

func toConversationResponse(c *models.Conversation, messages []models.Message) ConversationResponse {
	resp := ConversationResponse{
		ID:           models.MustRecordIDString(c.ID),
		AgentID:      models.MustRecordIDString(c.Agent),
		Title:        c.Title,
		MessageCount: len(messages),
		CreatedAt:    c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    c.UpdatedAt.Format(time.RFC3339),
	}
	// Preview comes from the most recent user message.
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != models.RoleUser {
			continue
		}
		preview := messages[i].Content
		if len([]rune(preview)) > previewLen {
			preview = string([]rune(preview)[:previewLen]) + "..."
		}
		resp.Preview = &preview
		break
	}
	return resp
}
