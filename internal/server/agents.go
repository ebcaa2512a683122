package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/raphaelgruber/ragserve/internal/db"
	"github.com/raphaelgruber/ragserve/internal/models"
)

// agentOr404 resolves the path agent or writes the canonical 404 body.
func (s *Server) agentOr404(w http.ResponseWriter, r *http.Request, id string) (*models.Agent, bool) {
	agent, err := s.store.GetAgent(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Agent with id '%s' not found", id)
		return nil, false
	}
	if err != nil {
		s.logger.Error("load agent", "agent_id", id, "error", err)
		writeDetail(w, http.StatusInternalServerError, "%v", err)
		return nil, false
	}
	return agent, true
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req AgentCreate
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.Name == "" {
		writeDetail(w, http.StatusBadRequest, "name must not be empty")
		return
	}
	model := req.Model
	if model == "" {
		model = s.currentSettings().DefaultModel
	}

	agent, err := s.store.CreateAgent(r.Context(), uuid.NewString(), req.Name, req.Description, model, req.SystemPrompt)
	if err != nil {
		s.logger.Error("create agent", "name", req.Name, "error", err)
		writeDetail(w, http.StatusInternalServerError, "%v", err)
		return
	}

	s.logger.Info("agent created", "agent_id", models.MustRecordIDString(agent.ID), "name", agent.Name)
	writeJSON(w, http.StatusCreated, toAgentResponse(agent))
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		s.logger.Error("list agents", "error", err)
		writeDetail(w, http.StatusInternalServerError, "%v", err)
		return
	}

	resp := AgentListResponse{Agents: make([]AgentResponse, len(agents)), Total: len(agents)}
	for i := range agents {
		resp.Agents[i] = toAgentResponse(&agents[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.agentOr404(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toAgentResponse(agent))
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req AgentUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.Name != nil && *req.Name == "" {
		writeDetail(w, http.StatusBadRequest, "name must not be empty")
		return
	}

	agent, err := s.store.UpdateAgent(r.Context(), id, models.AgentUpdate{
		Name:         req.Name,
		Description:  req.Description,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
	})
	if errors.Is(err, db.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Agent with id '%s' not found", id)
		return
	}
	if err != nil {
		s.logger.Error("update agent", "agent_id", id, "error", err)
		writeDetail(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentResponse(agent))
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.agentOr404(w, r, id); !ok {
		return
	}

	if err := s.ingester.DeleteAgent(r.Context(), id); err != nil {
		s.logger.Error("delete agent", "agent_id", id, "error", err)
		writeDetail(w, http.StatusInternalServerError, "%v", err)
		return
	}

	s.logger.Info("agent deleted", "agent_id", id)
	w.WriteHeader(http.StatusNoContent)
}
