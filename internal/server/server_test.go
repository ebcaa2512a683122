package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/raphaelgruber/ragserve/internal/config"
	"github.com/raphaelgruber/ragserve/internal/db"
	"github.com/raphaelgruber/ragserve/internal/models"
	"github.com/raphaelgruber/ragserve/internal/service"
	"github.com/raphaelgruber/ragserve/internal/stream"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

func rid(table, id string) surrealmodels.RecordID {
	return surrealmodels.RecordID{Table: table, ID: id}
}

type fakeStore struct {
	agents        map[string]*models.Agent
	documents     map[string]*models.Document
	conversations map[string]*models.Conversation
	messages      map[string][]models.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		agents:        make(map[string]*models.Agent),
		documents:     make(map[string]*models.Document),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]models.Message),
	}
}

func (f *fakeStore) addAgent(id, name string) *models.Agent {
	a := &models.Agent{
		ID:        rid("agent", id),
		Name:      name,
		Model:     "openai/gpt-4o-mini",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.agents[id] = a
	return a
}

func (f *fakeStore) CreateAgent(_ context.Context, id, name string, description *string, model string, systemPrompt *string) (*models.Agent, error) {
	a := &models.Agent{
		ID:           rid("agent", id),
		Name:         name,
		Description:  description,
		Model:        model,
		SystemPrompt: systemPrompt,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	f.agents[id] = a
	return a, nil
}

func (f *fakeStore) GetAgent(_ context.Context, id string) (*models.Agent, error) {
	a, ok := f.agents[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) ListAgents(_ context.Context) ([]models.Agent, error) {
	ids := make([]string, 0, len(f.agents))
	for id := range f.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]models.Agent, 0, len(ids))
	for _, id := range ids {
		out = append(out, *f.agents[id])
	}
	return out, nil
}

func (f *fakeStore) UpdateAgent(_ context.Context, id string, upd models.AgentUpdate) (*models.Agent, error) {
	a, ok := f.agents[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	if upd.Name != nil {
		a.Name = *upd.Name
	}
	if upd.Description != nil {
		a.Description = upd.Description
	}
	if upd.Model != nil {
		a.Model = *upd.Model
	}
	if upd.SystemPrompt != nil {
		a.SystemPrompt = upd.SystemPrompt
	}
	return a, nil
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	d, ok := f.documents[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return d, nil
}

func (f *fakeStore) ListDocumentsByAgent(_ context.Context, agentID string) ([]models.Document, error) {
	var out []models.Document
	for _, d := range f.documents {
		if d.Agent.ID == agentID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	c, ok := f.conversations[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) ListConversationsByAgent(_ context.Context, agentID string) ([]models.Conversation, error) {
	var out []models.Conversation
	for _, c := range f.conversations {
		if c.Agent.ID == agentID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateConversation(_ context.Context, id, agentID string, title *string) (*models.Conversation, error) {
	c := &models.Conversation{
		ID:        rid("conversation", id),
		Agent:     rid("agent", agentID),
		Title:     title,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.conversations[id] = c
	return c, nil
}

func (f *fakeStore) SetConversationTitle(_ context.Context, id, title string) error {
	c, ok := f.conversations[id]
	if !ok {
		return db.ErrNotFound
	}
	c.Title = &title
	return nil
}

func (f *fakeStore) DeleteConversation(_ context.Context, id string) error {
	delete(f.conversations, id)
	delete(f.messages, id)
	return nil
}

func (f *fakeStore) CreateMessage(_ context.Context, id, conversationID string, role models.Role, content string, sources *string) (*models.Message, error) {
	m := models.Message{
		ID:           rid("message", id),
		Conversation: rid("conversation", conversationID),
		Role:         role,
		Content:      content,
		Sources:      sources,
		CreatedAt:    time.Now(),
	}
	f.messages[conversationID] = append(f.messages[conversationID], m)
	return &m, nil
}

func (f *fakeStore) ListMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	return f.messages[conversationID], nil
}

type fakeIngester struct {
	store *fakeStore

	deletedAgents  []string
	deletedDocs    []string
	chunkSize      int
	chunkOverlap   int
	uploadErr      error
}

func (f *fakeIngester) Upload(ctx context.Context, agentID, filename string, content []byte) (*models.Document, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	if _, err := f.store.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	switch ext {
	case "txt", "md", "csv", "pdf":
	default:
		return nil, fmt.Errorf("%w: %q", service.ErrUnsupportedType, ext)
	}
	id := fmt.Sprintf("d%d", len(f.store.documents)+1)
	doc := &models.Document{
		ID:               rid("document", id),
		Agent:            rid("agent", agentID),
		OriginalFilename: filename,
		FileType:         ext,
		FileSize:         int64(len(content)),
		Status:           models.StatusPending,
		CreatedAt:        time.Now(),
	}
	f.store.documents[id] = doc
	return doc, nil
}

func (f *fakeIngester) IngestText(ctx context.Context, agentID, title, text string) (*models.Document, error) {
	doc, err := f.Upload(ctx, agentID, title+".txt", []byte(text))
	if err != nil {
		return nil, err
	}
	doc.Status = models.StatusCompleted
	doc.ChunkCount = 1
	return doc, nil
}

func (f *fakeIngester) DeleteDocument(_ context.Context, agentID, docID string) error {
	if _, ok := f.store.documents[docID]; !ok {
		return db.ErrNotFound
	}
	delete(f.store.documents, docID)
	f.deletedDocs = append(f.deletedDocs, docID)
	return nil
}

func (f *fakeIngester) DeleteAgent(_ context.Context, agentID string) error {
	delete(f.store.agents, agentID)
	f.deletedAgents = append(f.deletedAgents, agentID)
	return nil
}

func (f *fakeIngester) SetChunking(size, overlap int) {
	f.chunkSize = size
	f.chunkOverlap = overlap
}

type fakeChatter struct {
	result   *service.ChatResult
	deltas   []string
	err      error
	lastTopK int
	topK     int
}

func (f *fakeChatter) Chat(_ context.Context, agentID, conversationID, message string, topK int) (*service.ChatResult, error) {
	f.lastTopK = topK
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeChatter) ChatStream(_ context.Context, agentID, conversationID, message string, topK int, sink service.Sink) (string, error) {
	f.lastTopK = topK
	if f.err != nil {
		return "", f.err
	}
	if err := sink.Sources(f.result.Sources); err != nil {
		return "", err
	}
	for _, d := range f.deltas {
		if err := sink.Delta(d); err != nil {
			return "", err
		}
	}
	if err := sink.Done(); err != nil {
		return "", err
	}
	return f.result.ConversationID, nil
}

func (f *fakeChatter) SetTopK(k int) { f.topK = k }

func testConfig() config.Config {
	return config.Config{
		DataDir:          "/tmp/ragserve-test",
		EmbedModel:       "nomic-embed-text",
		DefaultModel:     "openai/gpt-4o-mini",
		ChunkSize:        512,
		ChunkOverlap:     50,
		TopKResults:      5,
		OpenRouterAPIKey: "sk-or-v1-abcd1234",
	}
}

func newTestServer(t *testing.T) (*Server, *fakeStore, *fakeIngester, *fakeChatter) {
	t.Helper()
	store := newFakeStore()
	ing := &fakeIngester{store: store}
	chat := &fakeChatter{
		result: &service.ChatResult{
			Response:       "Hello world",
			Sources:        []models.Source{{Filename: "intro.md", ChunkIndex: 0, Relevance: 0.9}},
			ContextUsed:    true,
			ConversationID: "c1",
		},
		deltas: []string{"Hello", " world"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(testConfig(), store, ing, chat, nil, logger), store, ing, chat
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestCreateAgent(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/agents", map[string]any{
		"name":        "docs-bot",
		"description": "answers from docs",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[AgentResponse](t, rec)
	if resp.Name != "docs-bot" {
		t.Errorf("name = %q", resp.Name)
	}
	if resp.Model != "openai/gpt-4o-mini" {
		t.Errorf("model should default, got %q", resp.Model)
	}
	if resp.ID == "" {
		t.Error("id not set")
	}
}

func TestCreateAgent_EmptyNameRejected(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/agents", map[string]any{"name": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetAgent_NotFoundDetail(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/agents/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[detailResponse](t, rec)
	if resp.Detail != "Agent with id 'nope' not found" {
		t.Errorf("detail = %q", resp.Detail)
	}
}

func TestListAgents(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	store.addAgent("a1", "first")
	store.addAgent("a2", "second")

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/agents", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[AgentListResponse](t, rec)
	if resp.Total != 2 || len(resp.Agents) != 2 {
		t.Errorf("total = %d, agents = %d", resp.Total, len(resp.Agents))
	}
}

func TestUpdateAgent_Partial(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	store.addAgent("a1", "old-name")

	rec := doJSON(t, srv.Handler(), http.MethodPatch, "/agents/a1", map[string]any{"name": "new-name"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[AgentResponse](t, rec)
	if resp.Name != "new-name" {
		t.Errorf("name = %q", resp.Name)
	}
	if resp.Model != "openai/gpt-4o-mini" {
		t.Errorf("model changed unexpectedly: %q", resp.Model)
	}
}

func TestDeleteAgent(t *testing.T) {
	srv, store, ing, _ := newTestServer(t)
	store.addAgent("a1", "doomed")

	rec := doJSON(t, srv.Handler(), http.MethodDelete, "/agents/a1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(ing.deletedAgents) != 1 || ing.deletedAgents[0] != "a1" {
		t.Errorf("cascade delete not invoked: %v", ing.deletedAgents)
	}
}

func TestUploadDocument(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	store.addAgent("a1", "docs-bot")
	h := srv.Handler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "notes.md")
	_, _ = part.Write([]byte("# Notes\nsome text"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/agents/a1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[DocumentResponse](t, rec)
	if resp.Status != "pending" {
		t.Errorf("status = %q, want pending", resp.Status)
	}
	if resp.OriginalFilename != "notes.md" || resp.AgentID != "a1" {
		t.Errorf("document = %+v", resp)
	}
}

func TestUploadDocument_UnsupportedType(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	store.addAgent("a1", "docs-bot")
	h := srv.Handler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "binary.exe")
	_, _ = part.Write([]byte{0x4d, 0x5a})
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/agents/a1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[detailResponse](t, rec)
	if !strings.Contains(resp.Detail, "File type not supported") {
		t.Errorf("detail = %q", resp.Detail)
	}
}

func TestListDocuments(t *testing.T) {
	srv, store, ing, _ := newTestServer(t)
	store.addAgent("a1", "docs-bot")
	if _, err := ing.Upload(context.Background(), "a1", "one.txt", []byte("hello")); err != nil {
		t.Fatalf("seed upload: %v", err)
	}

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/agents/a1/documents", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[DocumentListResponse](t, rec)
	if resp.Total != 1 {
		t.Errorf("total = %d", resp.Total)
	}
}

func TestChat(t *testing.T) {
	srv, store, _, chat := newTestServer(t)
	store.addAgent("a1", "docs-bot")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/agents/a1/chat", map[string]any{
		"query": "what is this?",
		"top_k": 3,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[service.ChatResult](t, rec)
	if resp.Response != "Hello world" {
		t.Errorf("response = %q", resp.Response)
	}
	if !resp.ContextUsed || len(resp.Sources) != 1 {
		t.Errorf("sources = %+v, context_used = %v", resp.Sources, resp.ContextUsed)
	}
	if chat.lastTopK != 3 {
		t.Errorf("top_k override not passed, got %d", chat.lastTopK)
	}
}

func TestChat_EmptyQueryRejected(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	store.addAgent("a1", "docs-bot")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/agents/a1/chat", map[string]any{"query": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestChat_TopKBounds(t *testing.T) {
	srv, store, _, chat := newTestServer(t)
	store.addAgent("a1", "docs-bot")
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/agents/a1/chat", map[string]any{
		"query": "hi",
		"top_k": 21,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[detailResponse](t, rec)
	if resp.Detail != "top_k must be between 0 and 20 (0 uses the configured default)" {
		t.Errorf("detail = %q", resp.Detail)
	}

	// Zero means "use the configured default" and is accepted.
	rec = doJSON(t, h, http.MethodPost, "/agents/a1/chat", map[string]any{
		"query": "hi",
		"top_k": 0,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if chat.lastTopK != 0 {
		t.Errorf("top_k = %d, want 0 passed through", chat.lastTopK)
	}
}

func TestChat_UnknownConversation(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	store.addAgent("a1", "docs-bot")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/agents/a1/chat", map[string]any{
		"query":           "hi",
		"conversation_id": "ghost",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[detailResponse](t, rec)
	if resp.Detail != "Conversation 'ghost' not found" {
		t.Errorf("detail = %q", resp.Detail)
	}
}

func TestChatStream_Frames(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	store.addAgent("a1", "docs-bot")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/agents/a1/chat/stream", map[string]any{
		"query": "hi",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	d := stream.NewDecoder(rec.Body)
	ev, err := d.Next()
	if err != nil || ev.Type != stream.EventSources {
		t.Fatalf("first frame = %+v, err = %v", ev, err)
	}

	var text strings.Builder
	sawDone := false
	for {
		ev, err := d.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		switch ev.Type {
		case stream.EventData:
			text.WriteString(ev.Delta)
		case stream.EventDone:
			sawDone = true
		default:
			t.Fatalf("unexpected frame %+v", ev)
		}
	}
	if text.String() != "Hello world" {
		t.Errorf("streamed text = %q", text.String())
	}
	if !sawDone {
		t.Error("stream did not terminate with done frame")
	}
}

func TestConversationFlow(t *testing.T) {
	srv, store, _, _ := newTestServer(t)
	store.addAgent("a1", "docs-bot")
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/agents/a1/conversations", map[string]any{"title": "kickoff"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	conv := decodeBody[ConversationResponse](t, rec)
	if conv.Title == nil || *conv.Title != "kickoff" {
		t.Errorf("title = %v", conv.Title)
	}

	rec = doJSON(t, h, http.MethodPost, "/agents/a1/conversations/"+conv.ID+"/messages", map[string]any{
		"role":    "user",
		"content": "What is the project about exactly, in one short paragraph?",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add message status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/agents/a1/conversations/"+conv.ID+"/messages", map[string]any{
		"role":    "assistant",
		"content": "It is a RAG backend.",
		"sources": []models.Source{{Filename: "readme.md", ChunkIndex: 1, Relevance: 0.8}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add assistant message status = %d", rec.Code)
	}
	msg := decodeBody[MessageResponse](t, rec)
	if len(msg.Sources) != 1 || msg.Sources[0].Filename != "readme.md" {
		t.Errorf("sources did not round trip: %+v", msg.Sources)
	}

	rec = doJSON(t, h, http.MethodGet, "/agents/a1/conversations/"+conv.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	got := decodeBody[ConversationResponse](t, rec)
	if got.MessageCount != 2 || len(got.Messages) != 2 {
		t.Errorf("message_count = %d, messages = %d", got.MessageCount, len(got.Messages))
	}

	rec = doJSON(t, h, http.MethodGet, "/agents/a1/conversations", nil)
	list := decodeBody[ConversationListResponse](t, rec)
	if list.Total != 1 {
		t.Fatalf("total = %d", list.Total)
	}
	if list.Conversations[0].Preview == nil || !strings.HasPrefix(*list.Conversations[0].Preview, "What is the project") {
		t.Errorf("preview = %v", list.Conversations[0].Preview)
	}
	if len(list.Conversations[0].Messages) != 0 {
		t.Error("list endpoint should not inline messages")
	}

	rec = doJSON(t, h, http.MethodDelete, "/agents/a1/conversations/"+conv.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
}

func TestSettings_MaskedKeys(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[SettingsResponse](t, rec)
	if !resp.OpenRouterConfigured {
		t.Error("openrouter_configured = false")
	}
	if strings.Contains(resp.OpenRouterKeyMasked, "abcd") {
		t.Errorf("key not masked: %q", resp.OpenRouterKeyMasked)
	}
	if !strings.HasSuffix(resp.OpenRouterKeyMasked, "1234") {
		t.Errorf("masked key should keep last 4 chars: %q", resp.OpenRouterKeyMasked)
	}
}

func TestSettings_UpdatePropagates(t *testing.T) {
	srv, _, ing, chat := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPatch, "/settings", map[string]any{
		"chunk_size":    1000,
		"chunk_overlap": 100,
		"top_k_results": 10,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[SettingsResponse](t, rec)
	if resp.ChunkSize != 1000 || resp.TopKResults != 10 {
		t.Errorf("settings = %+v", resp)
	}
	if ing.chunkSize != 1000 || ing.chunkOverlap != 100 {
		t.Errorf("chunking not propagated: size=%d overlap=%d", ing.chunkSize, ing.chunkOverlap)
	}
	if chat.topK != 10 {
		t.Errorf("top_k not propagated: %d", chat.topK)
	}
}

func TestSettings_Validation(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	h := srv.Handler()

	cases := []map[string]any{
		{"chunk_size": 50},
		{"chunk_size": 5000},
		{"chunk_overlap": 600}, // >= default chunk size of 512
		{"top_k_results": 0},
		{"top_k_results": 21},
	}
	for _, body := range cases {
		rec := doJSON(t, h, http.MethodPatch, "/settings", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %v: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestListModels_FiltersCatalog(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-or-v1-abcd1234" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{"data":[
			{"id":"openai/gpt-4o-mini","name":"GPT-4o mini","pricing":{"prompt":"0.00000015","completion":"0.0000006"},"architecture":{"modality":"text->text","output_modalities":["text"]}},
			{"id":"img/only","name":"Image Gen","pricing":{"prompt":"0.001"},"architecture":{"output_modalities":["image"]}},
			{"id":"free/unpriced","name":"Unpriced"}
		]}`)
	}))
	defer upstream.Close()

	srv, _, _, _ := newTestServer(t)
	srv.catalogURL = upstream.URL

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/models", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[ModelsResponse](t, rec)
	if resp.Total != 1 || len(resp.Models) != 1 {
		t.Fatalf("models = %+v", resp)
	}
	if resp.Models[0].ID != "openai/gpt-4o-mini" {
		t.Errorf("model = %+v", resp.Models[0])
	}
}

func TestListModels_UpstreamDown(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	srv.catalogURL = "http://127.0.0.1:1/models"

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/models", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestFrontendLog(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/logs/frontend", map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"level":     "error",
		"message":   "render failed",
		"data":      map[string]any{"component": "ChatView"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[map[string]string](t, rec)
	if resp["status"] != "logged" {
		t.Errorf("body = %v", resp)
	}
}

func TestHealth(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[map[string]any](t, rec)
	if resp["status"] != "healthy" {
		t.Errorf("status field = %v", resp["status"])
	}
	if resp["openrouter_configured"] != true {
		t.Errorf("openrouter_configured = %v", resp["openrouter_configured"])
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/agents", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
}
