// Package client provides a REST client for the ragserve API, used by the
// CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/raphaelgruber/ragserve/internal/models"
	"github.com/raphaelgruber/ragserve/internal/server"
	"github.com/raphaelgruber/ragserve/internal/stream"
)

// Client talks to a running ragserve server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client. If baseURL is empty, RAGSERVE_SERVER_URL is used,
// falling back to localhost.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("RAGSERVE_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}

	timeout := 5 * time.Minute // generous for LLM-backed endpoints
	if t := os.Getenv("RAGSERVE_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Detail)
}

// do runs one JSON request/response round trip. A nil out discards the body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var detail struct {
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(raw, &detail); err != nil || detail.Detail == "" {
			detail.Detail = strings.TrimSpace(string(raw))
		}
		return &APIError{StatusCode: resp.StatusCode, Detail: detail.Detail}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Stats returns the server's runtime metrics snapshot.
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateAgent creates an agent.
func (c *Client) CreateAgent(ctx context.Context, name string, description, systemPrompt *string, model string) (*server.AgentResponse, error) {
	req := server.AgentCreate{
		Name:         name,
		Description:  description,
		Model:        model,
		SystemPrompt: systemPrompt,
	}
	var out server.AgentResponse
	if err := c.do(ctx, http.MethodPost, "/agents", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAgent fetches one agent.
func (c *Client) GetAgent(ctx context.Context, id string) (*server.AgentResponse, error) {
	var out server.AgentResponse
	if err := c.do(ctx, http.MethodGet, "/agents/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAgents returns all agents.
func (c *Client) ListAgents(ctx context.Context) ([]server.AgentResponse, error) {
	var out server.AgentListResponse
	if err := c.do(ctx, http.MethodGet, "/agents", nil, &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

// DeleteAgent removes an agent and everything it owns.
func (c *Client) DeleteAgent(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/agents/"+id, nil, nil)
}

// UploadDocument uploads a file to an agent's knowledge base. Processing
// continues server-side; poll GetDocument for the outcome.
func (c *Client) UploadDocument(ctx context.Context, agentID, path string) (*server.DocumentResponse, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/agents/"+agentID+"/documents", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	var out server.DocumentResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDocument fetches one document, including its processing status.
func (c *Client) GetDocument(ctx context.Context, agentID, docID string) (*server.DocumentResponse, error) {
	var out server.DocumentResponse
	if err := c.do(ctx, http.MethodGet, "/agents/"+agentID+"/documents/"+docID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDocuments returns an agent's documents.
func (c *Client) ListDocuments(ctx context.Context, agentID string) ([]server.DocumentResponse, error) {
	var out server.DocumentListResponse
	if err := c.do(ctx, http.MethodGet, "/agents/"+agentID+"/documents", nil, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// DeleteDocument removes a document.
func (c *Client) DeleteDocument(ctx context.Context, agentID, docID string) error {
	return c.do(ctx, http.MethodDelete, "/agents/"+agentID+"/documents/"+docID, nil, nil)
}

// ListModels returns the available chat models.
func (c *Client) ListModels(ctx context.Context) ([]server.ModelInfo, error) {
	var out server.ModelsResponse
	if err := c.do(ctx, http.MethodGet, "/models", nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// AskEvents receives the pieces of a streamed answer as they arrive.
type AskEvents struct {
	OnSources func(sources []models.Source)
	OnDelta   func(text string)
}

// Ask streams an answer for a query against an agent's knowledge base.
// Returns the full response text once the stream finishes.
func (c *Client) Ask(ctx context.Context, agentID, query, conversationID string, topK int, events AskEvents) (string, error) {
	req := server.ChatRequest{
		Query:          query,
		ConversationID: conversationID,
		TopK:           topK,
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/agents/"+agentID+"/chat/stream", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", decodeResponse(resp, nil)
	}

	var full strings.Builder
	d := stream.NewDecoder(resp.Body)
	for {
		ev, err := d.Next()
		if err == io.EOF {
			return full.String(), nil
		}
		if err != nil {
			return full.String(), fmt.Errorf("read stream: %w", err)
		}

		switch ev.Type {
		case stream.EventSources:
			if events.OnSources != nil {
				events.OnSources(ev.Sources)
			}
		case stream.EventData:
			full.WriteString(ev.Delta)
			if events.OnDelta != nil {
				events.OnDelta(ev.Delta)
			}
		case stream.EventDone:
			return full.String(), nil
		case stream.EventError:
			return full.String(), fmt.Errorf("server error: %s", ev.Message)
		}
	}
}
