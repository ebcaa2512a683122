// Package server exposes the REST and streaming API over the service layer.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/raphaelgruber/ragserve/internal/config"
	"github.com/raphaelgruber/ragserve/internal/metrics"
	"github.com/raphaelgruber/ragserve/internal/models"
	"github.com/raphaelgruber/ragserve/internal/service"
)

// Version is reported by the root and health endpoints.
const Version = "1.0.0"

// store is the subset of db.Client the handlers need.
type store interface {
	CreateAgent(ctx context.Context, id, name string, description *string, model string, systemPrompt *string) (*models.Agent, error)
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)
	UpdateAgent(ctx context.Context, id string, upd models.AgentUpdate) (*models.Agent, error)

	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByAgent(ctx context.Context, agentID string) ([]models.Document, error)

	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversationsByAgent(ctx context.Context, agentID string) ([]models.Conversation, error)
	CreateConversation(ctx context.Context, id, agentID string, title *string) (*models.Conversation, error)
	SetConversationTitle(ctx context.Context, id, title string) error
	DeleteConversation(ctx context.Context, id string) error
	CreateMessage(ctx context.Context, id, conversationID string, role models.Role, content string, sources *string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
}

// ingester runs the document pipeline. Satisfied by service.IngestService.
type ingester interface {
	Upload(ctx context.Context, agentID, filename string, content []byte) (*models.Document, error)
	IngestText(ctx context.Context, agentID, title, text string) (*models.Document, error)
	DeleteDocument(ctx context.Context, agentID, docID string) error
	DeleteAgent(ctx context.Context, agentID string) error
	SetChunking(size, overlap int)
}

// chatter answers chat requests. Satisfied by service.RAGService.
type chatter interface {
	Chat(ctx context.Context, agentID, conversationID, message string, topK int) (*service.ChatResult, error)
	ChatStream(ctx context.Context, agentID, conversationID, message string, topK int, sink service.Sink) (string, error)
	SetTopK(k int)
}

// Server wires the HTTP API to the service layer.
type Server struct {
	store    store
	ingester ingester
	chat     chatter
	metrics  *metrics.Collector
	logger   *slog.Logger

	// catalogURL is the model catalog endpoint, overridable in tests.
	catalogURL string
	httpClient *http.Client

	mu       sync.RWMutex
	settings runtimeSettings
}

// runtimeSettings holds the values PATCH /settings may change. Changes are
// process-local and reset on restart.
type runtimeSettings struct {
	ChunkSize        int
	ChunkOverlap     int
	TopKResults      int
	EmbedModel       string
	DefaultModel     string
	DataDir          string
	OpenRouterAPIKey string
	OpenAIAPIKey     string
}

// New creates the API server.
func New(cfg config.Config, st store, ing ingester, chat chatter, mc *metrics.Collector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:      st,
		ingester:   ing,
		chat:       chat,
		metrics:    mc,
		logger:     logger,
		catalogURL: openRouterModelsURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		settings: runtimeSettings{
			ChunkSize:        cfg.ChunkSize,
			ChunkOverlap:     cfg.ChunkOverlap,
			TopKResults:      cfg.TopKResults,
			EmbedModel:       cfg.EmbedModel,
			DefaultModel:     cfg.DefaultModel,
			DataDir:          cfg.DataDir,
			OpenRouterAPIKey: cfg.OpenRouterAPIKey,
			OpenAIAPIKey:     cfg.OpenAIAPIKey,
		},
	}
}

// Handler builds the route table with logging, recovery and CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /logs/frontend", s.handleFrontendLog)

	mux.HandleFunc("GET /models", s.handleListModels)

	mux.HandleFunc("GET /settings", s.handleGetSettings)
	mux.HandleFunc("PATCH /settings", s.handleUpdateSettings)

	mux.HandleFunc("POST /agents", s.handleCreateAgent)
	mux.HandleFunc("GET /agents", s.handleListAgents)
	mux.HandleFunc("GET /agents/{id}", s.handleGetAgent)
	mux.HandleFunc("PATCH /agents/{id}", s.handleUpdateAgent)
	mux.HandleFunc("DELETE /agents/{id}", s.handleDeleteAgent)

	mux.HandleFunc("POST /agents/{id}/documents", s.handleUploadDocument)
	mux.HandleFunc("POST /agents/{id}/documents/text", s.handleIngestText)
	mux.HandleFunc("GET /agents/{id}/documents", s.handleListDocuments)
	mux.HandleFunc("GET /agents/{id}/documents/{docID}", s.handleGetDocument)
	mux.HandleFunc("DELETE /agents/{id}/documents/{docID}", s.handleDeleteDocument)

	mux.HandleFunc("POST /agents/{id}/chat", s.handleChat)
	mux.HandleFunc("POST /agents/{id}/chat/stream", s.handleChatStream)
	mux.HandleFunc("GET /agents/{id}/chat/ws", s.handleChatWS)

	mux.HandleFunc("GET /agents/{id}/conversations", s.handleListConversations)
	mux.HandleFunc("POST /agents/{id}/conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /agents/{id}/conversations/{convID}", s.handleGetConversation)
	mux.HandleFunc("PATCH /agents/{id}/conversations/{convID}", s.handleUpdateConversation)
	mux.HandleFunc("DELETE /agents/{id}/conversations/{convID}", s.handleDeleteConversation)
	mux.HandleFunc("POST /agents/{id}/conversations/{convID}/messages", s.handleAddMessage)

	var h http.Handler = mux
	h = loggingMiddleware(s.logger)(h)
	h = corsMiddleware(h)
	h = recoverMiddleware(s.logger)(h)
	return h
}

// Run serves the API until the context is cancelled, then drains in-flight
// requests.
func (s *Server) Run(ctx context.Context, host string, port int) error {
	httpServer := &http.Server{
		Addr:         net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // long for streamed LLM responses
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
