package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/raphaelgruber/ragserve/internal/db"
	"github.com/raphaelgruber/ragserve/internal/models"
)

// conversationForAgent resolves the path conversation, checking agent
// ownership.
func (s *Server) conversationForAgent(w http.ResponseWriter, r *http.Request, agentID, conversationID string) (*models.Conversation, bool) {
	conv, err := s.store.GetConversation(r.Context(), conversationID)
	if err == nil {
		if owner, idErr := models.RecordIDString(conv.Agent); idErr != nil || owner != agentID {
			err = db.ErrNotFound
		}
	}
	if errors.Is(err, db.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Conversation with id '%s' not found", conversationID)
		return nil, false
	}
	if err != nil {
		s.logger.Error("load conversation", "conversation_id", conversationID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "%v", err)
		return nil, false
	}
	return conv, true
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if _, ok := s.agentOr404(w, r, agentID); !ok {
		return
	}

	convs, err := s.store.ListConversationsByAgent(r.Context(), agentID)
	if err != nil {
		s.logger.Error("list conversations", "agent_id", agentID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "%v", err)
		return
	}

	resp := ConversationListResponse{Conversations: make([]ConversationResponse, 0, len(convs)), Total: len(convs)}
	for i := range convs {
		messages, err := s.store.ListMessages(r.Context(), models.MustRecordIDString(convs[i].ID))
		if err != nil {
			s.logger.Error("list messages", "conversation_id", convs[i].ID, "error", err)
			writeDetail(w, http.StatusInternalServerError, "%v", err)
			return
		}
		item := toConversationResponse(&convs[i], messages)
		item.Messages = nil // list endpoint returns counts and previews only
		resp.Conversations = append(resp.Conversations, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if _, ok := s.agentOr404(w, r, agentID); !ok {
		return
	}

	var req ConversationCreate
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	conv, err := s.store.CreateConversation(r.Context(), uuid.NewString(), agentID, req.Title)
	if err != nil {
		s.logger.Error("create conversation", "agent_id", agentID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "%v", err)
		return
	}

	writeJSON(w, http.StatusCreated, toConversationResponse(conv, nil))
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	convID := r.PathValue("convID")
	if _, ok := s.agentOr404(w, r, agentID); !ok {
		return
	}
	conv, ok := s.conversationForAgent(w, r, agentID, convID)
	if !ok {
		return
	}

	messages, err := s.store.ListMessages(r.Context(), convID)
	if err != nil {
		s.logger.Error("list messages", "conversation_id", convID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "%v", err)
		return
	}

	resp := toConversationResponse(conv, messages)
	resp.Messages = make([]MessageResponse, len(messages))
	for i := range messages {
		resp.Messages[i] = toMessageResponse(&messages[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	convID := r.PathValue("convID")
	if _, ok := s.agentOr404(w, r, agentID); !ok {
		return
	}
	if _, ok := s.conversationForAgent(w, r, agentID, convID); !ok {
		return
	}

	var req ConversationUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	if req.Title != nil {
		if err := s.store.SetConversationTitle(r.Context(), convID, *req.Title); err != nil {
			s.logger.Error("set conversation title", "conversation_id", convID, "error", err)
			writeDetail(w, http.StatusInternalServerError, "%v", err)
			return
		}
	}

	conv, ok := s.conversationForAgent(w, r, agentID, convID)
	if !ok {
		return
	}
	messages, err := s.store.ListMessages(r.Context(), convID)
	if err != nil {
		s.logger.Error("list messages", "conversation_id", convID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(conv, messages))
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	convID := r.PathValue("convID")
	if _, ok := s.agentOr404(w, r, agentID); !ok {
		return
	}
	if _, ok := s.conversationForAgent(w, r, agentID, convID); !ok {
		return
	}

	if err := s.store.DeleteConversation(r.Context(), convID); err != nil {
		s.logger.Error("delete conversation", "conversation_id", convID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "%v", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	convID := r.PathValue("convID")
	if _, ok := s.agentOr404(w, r, agentID); !ok {
		return
	}
	if _, ok := s.conversationForAgent(w, r, agentID, convID); !ok {
		return
	}

	var req MessageCreate
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "%v", err)
		return
	}
	if req.Content == "" {
		writeDetail(w, http.StatusBadRequest, "content must not be empty")
		return
	}

	var sourcesJSON *string
	if len(req.Sources) > 0 {
		raw, err := json.Marshal(req.Sources)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid sources: %v", err)
			return
		}
		str := string(raw)
		sourcesJSON = &str
	}

	msg, err := s.store.CreateMessage(r.Context(), uuid.NewString(), convID, role, req.Content, sourcesJSON)
	if err != nil {
		s.logger.Error("create message", "conversation_id", convID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "%v", err)
		return
	}

	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}
