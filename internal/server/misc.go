package server

import (
	"net/http"
	"strings"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"name":    "ragserve",
		"version": Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.currentSettings()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                "healthy",
		"version":               Version,
		"openrouter_configured": st.OpenRouterAPIKey != "",
		"data_dir":              st.DataDir,
		"embedding_model":       st.EmbedModel,
	})
}

// handleStats reports operation timings and token usage collected since
// startup.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeDetail(w, http.StatusNotFound, "metrics collection disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// frontendLogEntry is a log record forwarded by the browser frontend.
type frontendLogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
}

// handleFrontendLog folds frontend log entries into the server log under a
// frontend component tag.
func (s *Server) handleFrontendLog(w http.ResponseWriter, r *http.Request) {
	var entry frontendLogEntry
	if err := decodeJSON(r, &entry); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	log := s.logger.With("component", "frontend", "client_time", entry.Timestamp)
	attrs := []any{}
	if entry.Data != nil {
		attrs = append(attrs, "data", entry.Data)
	}

	switch strings.ToLower(entry.Level) {
	case "error":
		log.Error(entry.Message, attrs...)
	case "warn", "warning":
		log.Warn(entry.Message, attrs...)
	case "debug":
		log.Debug(entry.Message, attrs...)
	default:
		log.Info(entry.Message, attrs...)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged"})
}
