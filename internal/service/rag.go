package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/ragserve/internal/llm"
	"github.com/raphaelgruber/ragserve/internal/metrics"
	"github.com/raphaelgruber/ragserve/internal/models"
	"github.com/raphaelgruber/ragserve/internal/vecindex"
)

// noContextPlaceholder stands in for the knowledge base context when
// retrieval returns nothing. Part of the prompt contract.
const noContextPlaceholder = "No relevant context found in the knowledge base."

// conversationInstruction is appended to the system message when history
// exists.
const conversationInstruction = `
## Conversation Context:
You are in an ongoing conversation. Pay close attention to the previous messages above.
- Reference and build upon your previous answers when relevant
- Maintain consistency with what you've already said
- If the user asks a follow-up question, use context from your prior responses
- Avoid repeating information you've already provided unless asked
`

// maxTitleLen bounds auto-generated conversation titles.
const maxTitleLen = 60

// chatStore is the subset of db.Client the chat flow needs.
type chatStore interface {
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	CreateConversation(ctx context.Context, id, agentID string, title *string) (*models.Conversation, error)
	TouchConversation(ctx context.Context, id string) error
	SetConversationTitle(ctx context.Context, id, title string) error
	CreateMessage(ctx context.Context, id, conversationID string, role models.Role, content string, sources *string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
}

// queryEmbedder embeds a single query text.
type queryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// indexSearcher runs top-k queries against an agent's index.
type indexSearcher interface {
	Search(agentID string, query []float32, k int) ([]vecindex.Hit, error)
}

// generator produces completions over conversation turns.
type generator interface {
	Generate(ctx context.Context, model string, turns []llm.Turn) (string, error)
	Stream(ctx context.Context, model string, turns []llm.Turn, onDelta func(string) error) error
}

// Sink receives stream frames. Satisfied by stream.Writer and the websocket
// transport.
type Sink interface {
	Sources(sources []models.Source) error
	Delta(text string) error
	Done() error
	Error(message string) error
}

// RAGConfig carries retrieval tuning.
type RAGConfig struct {
	TopK            int
	MaxContextChars int
}

// RAGService answers chat messages grounded in the agent's knowledge base.
type RAGService struct {
	store    chatStore
	embedder queryEmbedder
	index    indexSearcher
	model    generator
	logger   *slog.Logger
	metrics  *metrics.Collector

	mu  sync.RWMutex
	cfg RAGConfig
}

// NewRAGService wires the chat flow.
func NewRAGService(store chatStore, embedder queryEmbedder, index indexSearcher, model generator, cfg RAGConfig, logger *slog.Logger, mc *metrics.Collector) *RAGService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RAGService{
		store:    store,
		embedder: embedder,
		index:    index,
		model:    model,
		cfg:      cfg,
		logger:   logger,
		metrics:  mc,
	}
}

// SetTopK retunes the number of chunks retrieved per query.
func (s *RAGService) SetTopK(k int) {
	s.mu.Lock()
	s.cfg.TopK = k
	s.mu.Unlock()
}

func (s *RAGService) tuning() RAGConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Retrieved is one chunk pulled from the index for a query.
type Retrieved struct {
	Filename   string
	ChunkIndex int
	Text       string
	Relevance  float64
}

// Retrieve embeds the query and returns the agent's top-k chunks by
// relevance. A non-positive k falls back to the configured default.
func (s *RAGService) Retrieve(ctx context.Context, agentID, query string, k int) ([]Retrieved, error) {
	if k <= 0 {
		k = s.tuning().TopK
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	start := time.Now()
	hits, err := s.index.Search(agentID, vec, k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordTiming(metrics.OpIndexSearch, time.Since(start))
	}

	out := make([]Retrieved, len(hits))
	for i, h := range hits {
		out[i] = Retrieved{
			Filename:   h.Filename,
			ChunkIndex: h.ChunkIndex,
			Text:       h.Text,
			Relevance:  h.Score,
		}
	}
	return out, nil
}

// buildContext renders retrieved chunks into the knowledge-base context
// block. When the formatted block would exceed the budget, whole chunks are
// dropped from the low-relevance end. Returns the context string and the
// chunks that survived.
func (s *RAGService) buildContext(results []Retrieved) (string, []Retrieved) {
	if len(results) == 0 {
		return noContextPlaceholder, nil
	}

	budget := s.tuning().MaxContextChars
	kept := results
	for len(kept) > 0 {
		text := formatContext(kept)
		if budget <= 0 || len(text) <= budget {
			return text, kept
		}
		// Results arrive relevance-descending, drop from the tail.
		kept = kept[:len(kept)-1]
	}
	return noContextPlaceholder, nil
}

func formatContext(results []Retrieved) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[Source %d: %s]\n%s", i+1, r.Filename, r.Text)
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "\n\n---\n\n" + p
	}
	return out
}

// buildTurns assembles the model input: system message with injected context,
// prior history, then the current query.
func buildTurns(agent *models.Agent, contextBlock string, history []models.Message, query string) []llm.Turn {
	instruction := ""
	if len(history) > 0 {
		instruction = conversationInstruction
	}

	system := fmt.Sprintf(`%s

## Context from Knowledge Base:

%s
%s
## Instructions:
- Answer based ONLY on the context provided above
- If the context doesn't contain relevant information, say so clearly
- Cite sources when providing information (e.g., "According to [Source 1: filename]...")
- Format your response using markdown for readability
- Be concise but thorough`, agent.Prompt(), contextBlock, instruction)

	turns := make([]llm.Turn, 0, len(history)+2)
	turns = append(turns, llm.Turn{Role: "system", Content: system})
	for _, m := range history {
		turns = append(turns, llm.Turn{Role: string(m.Role), Content: m.Content})
	}
	turns = append(turns, llm.Turn{Role: "user", Content: query})
	return turns
}

func toSources(results []Retrieved) []models.Source {
	sources := make([]models.Source, len(results))
	for i, r := range results {
		sources[i] = models.Source{
			Filename:   r.Filename,
			ChunkIndex: r.ChunkIndex,
			Relevance:  r.Relevance,
		}
	}
	return sources
}

// ChatResult is the non-streaming chat response.
type ChatResult struct {
	Response       string          `json:"response"`
	Sources        []models.Source `json:"sources"`
	ContextUsed    bool            `json:"context_used"`
	ConversationID string          `json:"conversation_id"`
}

// prepared carries the state shared by Chat and ChatStream.
type prepared struct {
	agent          *models.Agent
	conversationID string
	history        []models.Message
	sources        []models.Source
	contextUsed    bool
	turns          []llm.Turn
}

// prepare resolves the agent and conversation, loads history, retrieves
// context and builds the model input.
func (s *RAGService) prepare(ctx context.Context, agentID, conversationID, message string, topK int) (*prepared, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	var history []models.Message
	if conversationID == "" {
		conversationID = uuid.NewString()
		if _, err := s.store.CreateConversation(ctx, conversationID, agentID, nil); err != nil {
			return nil, err
		}
	} else {
		if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
			return nil, err
		}
		history, err = s.store.ListMessages(ctx, conversationID)
		if err != nil {
			return nil, err
		}
	}

	results, err := s.Retrieve(ctx, agentID, message, topK)
	if err != nil {
		return nil, err
	}
	contextBlock, kept := s.buildContext(results)

	return &prepared{
		agent:          agent,
		conversationID: conversationID,
		history:        history,
		sources:        toSources(kept),
		contextUsed:    len(kept) > 0,
		turns:          buildTurns(agent, contextBlock, history, message),
	}, nil
}

// persistExchange stores the user and assistant messages after a successful
// completion, titles new conversations and bumps activity.
func (s *RAGService) persistExchange(ctx context.Context, p *prepared, userMessage, response string) {
	if _, err := s.store.CreateMessage(ctx, uuid.NewString(), p.conversationID, models.RoleUser, userMessage, nil); err != nil {
		s.logger.Error("persist user message", "conversation_id", p.conversationID, "error", err)
		return
	}

	var sourcesJSON *string
	if raw, err := json.Marshal(p.sources); err == nil {
		str := string(raw)
		sourcesJSON = &str
	}
	if _, err := s.store.CreateMessage(ctx, uuid.NewString(), p.conversationID, models.RoleAssistant, response, sourcesJSON); err != nil {
		s.logger.Error("persist assistant message", "conversation_id", p.conversationID, "error", err)
		return
	}

	if len(p.history) == 0 {
		title := userMessage
		if len([]rune(title)) > maxTitleLen {
			title = string([]rune(title)[:maxTitleLen]) + "..."
		}
		if err := s.store.SetConversationTitle(ctx, p.conversationID, title); err != nil {
			s.logger.Warn("set conversation title", "conversation_id", p.conversationID, "error", err)
		}
		return
	}
	if err := s.store.TouchConversation(ctx, p.conversationID); err != nil {
		s.logger.Warn("touch conversation", "conversation_id", p.conversationID, "error", err)
	}
}

// Chat answers a message and persists the exchange. A positive topK
// overrides the configured retrieval depth for this request.
func (s *RAGService) Chat(ctx context.Context, agentID, conversationID, message string, topK int) (*ChatResult, error) {
	p, err := s.prepare(ctx, agentID, conversationID, message, topK)
	if err != nil {
		return nil, err
	}

	response, err := s.model.Generate(ctx, p.agent.Model, p.turns)
	if err != nil {
		return nil, err
	}

	s.persistExchange(ctx, p, message, response)

	return &ChatResult{
		Response:       response,
		Sources:        p.sources,
		ContextUsed:    p.contextUsed,
		ConversationID: p.conversationID,
	}, nil
}

// ChatStream answers a message frame by frame: sources first, then content
// deltas, then done. On upstream failure an error frame replaces done and
// nothing is persisted. Returns the conversation id in use.
func (s *RAGService) ChatStream(ctx context.Context, agentID, conversationID, message string, topK int, sink Sink) (string, error) {
	p, err := s.prepare(ctx, agentID, conversationID, message, topK)
	if err != nil {
		return "", err
	}

	if err := sink.Sources(p.sources); err != nil {
		return p.conversationID, err
	}

	var full []byte
	streamErr := s.model.Stream(ctx, p.agent.Model, p.turns, func(delta string) error {
		full = append(full, delta...)
		return sink.Delta(delta)
	})
	if streamErr != nil {
		s.logger.Error("stream failed", "agent_id", agentID, "error", streamErr)
		if err := sink.Error(streamErr.Error()); err != nil {
			return p.conversationID, err
		}
		return p.conversationID, nil
	}

	if err := sink.Done(); err != nil {
		return p.conversationID, err
	}

	s.persistExchange(ctx, p, message, string(full))
	return p.conversationID, nil
}
