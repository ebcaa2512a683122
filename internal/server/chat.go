package server

import (
	"errors"
	"net/http"

	"github.com/raphaelgruber/ragserve/internal/db"
	"github.com/raphaelgruber/ragserve/internal/models"
	"github.com/raphaelgruber/ragserve/internal/stream"
)

// decodeChatRequest parses and validates a chat body.
func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (*ChatRequest, bool) {
	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: %v", err)
		return nil, false
	}
	if req.Query == "" {
		writeDetail(w, http.StatusBadRequest, "query must not be empty")
		return nil, false
	}
	if req.TopK < 0 || req.TopK > 20 {
		writeDetail(w, http.StatusBadRequest, "top_k must be between 0 and 20 (0 uses the configured default)")
		return nil, false
	}
	return &req, true
}

// conversationOr404 verifies a client-supplied conversation belongs to the
// agent.
func (s *Server) conversationOr404(w http.ResponseWriter, r *http.Request, agentID, conversationID string) bool {
	conv, err := s.store.GetConversation(r.Context(), conversationID)
	if errors.Is(err, db.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Conversation '%s' not found", conversationID)
		return false
	}
	if err != nil {
		s.logger.Error("load conversation", "conversation_id", conversationID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "%v", err)
		return false
	}
	if convAgent, err := models.RecordIDString(conv.Agent); err != nil || convAgent != agentID {
		writeDetail(w, http.StatusNotFound, "Conversation '%s' not found", conversationID)
		return false
	}
	return true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")

	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}
	if _, ok := s.agentOr404(w, r, agentID); !ok {
		return
	}
	if req.ConversationID != "" && !s.conversationOr404(w, r, agentID, req.ConversationID) {
		return
	}

	result, err := s.chat.Chat(r.Context(), agentID, req.ConversationID, req.Query, req.TopK)
	if err != nil {
		s.logger.Error("chat failed", "agent_id", agentID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "Error generating response: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")

	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}
	if _, ok := s.agentOr404(w, r, agentID); !ok {
		return
	}
	if req.ConversationID != "" && !s.conversationOr404(w, r, agentID, req.ConversationID) {
		return
	}

	sink, err := stream.NewWriter(w)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "streaming not supported: %v", err)
		return
	}

	if _, err := s.chat.ChatStream(r.Context(), agentID, req.ConversationID, req.Query, req.TopK, sink); err != nil {
		// Headers are already out; all we can do is emit an error frame.
		s.logger.Error("chat stream failed", "agent_id", agentID, "error", err)
		_ = sink.Error(err.Error())
	}
}
