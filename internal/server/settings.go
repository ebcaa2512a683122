package server

import (
	"net/http"
	"strings"
)

// SettingsResponse is the body of GET and PATCH /settings. API keys are
// never returned in full.
type SettingsResponse struct {
	ChunkSize            int    `json:"chunk_size"`
	ChunkOverlap         int    `json:"chunk_overlap"`
	TopKResults          int    `json:"top_k_results"`
	EmbeddingModel       string `json:"embedding_model"`
	DefaultModel         string `json:"default_model"`
	OpenRouterConfigured bool   `json:"openrouter_configured"`
	OpenAIConfigured     bool   `json:"openai_configured"`
	OpenRouterKeyMasked  string `json:"openrouter_api_key_masked"`
	OpenAIKeyMasked      string `json:"openai_api_key_masked"`
}

// SettingsUpdate is the body of PATCH /settings. Changes apply to the
// running process only and reset on restart.
type SettingsUpdate struct {
	ChunkSize        *int    `json:"chunk_size"`
	ChunkOverlap     *int    `json:"chunk_overlap"`
	TopKResults      *int    `json:"top_k_results"`
	OpenRouterAPIKey *string `json:"openrouter_api_key"`
	OpenAIAPIKey     *string `json:"openai_api_key"`
}

func (s *Server) currentSettings() runtimeSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// maskAPIKey hides all but the last 4 characters of a key.
func maskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

func toSettingsResponse(st runtimeSettings) SettingsResponse {
	return SettingsResponse{
		ChunkSize:            st.ChunkSize,
		ChunkOverlap:         st.ChunkOverlap,
		TopKResults:          st.TopKResults,
		EmbeddingModel:       st.EmbedModel,
		DefaultModel:         st.DefaultModel,
		OpenRouterConfigured: st.OpenRouterAPIKey != "",
		OpenAIConfigured:     st.OpenAIAPIKey != "",
		OpenRouterKeyMasked:  maskAPIKey(st.OpenRouterAPIKey),
		OpenAIKeyMasked:      maskAPIKey(st.OpenAIAPIKey),
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSettingsResponse(s.currentSettings()))
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	s.mu.Lock()
	next := s.settings
	if req.ChunkSize != nil {
		next.ChunkSize = *req.ChunkSize
	}
	if req.ChunkOverlap != nil {
		next.ChunkOverlap = *req.ChunkOverlap
	}
	if req.TopKResults != nil {
		next.TopKResults = *req.TopKResults
	}
	if req.OpenRouterAPIKey != nil {
		next.OpenRouterAPIKey = *req.OpenRouterAPIKey
	}
	if req.OpenAIAPIKey != nil {
		next.OpenAIAPIKey = *req.OpenAIAPIKey
	}

	if next.ChunkSize < 100 || next.ChunkSize > 4000 {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "chunk_size must be between 100 and 4000")
		return
	}
	if next.ChunkOverlap < 0 || next.ChunkOverlap >= next.ChunkSize {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "chunk_overlap must be >= 0 and < chunk_size")
		return
	}
	if next.TopKResults < 1 || next.TopKResults > 20 {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "top_k_results must be between 1 and 20")
		return
	}

	s.settings = next
	s.mu.Unlock()

	s.ingester.SetChunking(next.ChunkSize, next.ChunkOverlap)
	s.chat.SetTopK(next.TopKResults)
	s.logger.Info("settings updated",
		"chunk_size", next.ChunkSize,
		"chunk_overlap", next.ChunkOverlap,
		"top_k_results", next.TopKResults)

	writeJSON(w, http.StatusOK, toSettingsResponse(next))
}
