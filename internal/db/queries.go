package db

import (
	"context"
	"time"

	"github.com/raphaelgruber/ragserve/internal/metrics"
	"github.com/raphaelgruber/ragserve/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// SetMetrics attaches a collector that records query timings.
func (c *Client) SetMetrics(mc *metrics.Collector) {
	c.metrics = mc
}

func (c *Client) observe(start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordTiming(metrics.OpDBQuery, time.Since(start))
	}
}

// firstRows unwraps the first statement's result set from a query response.
func firstRows[T any](results *[]surrealdb.QueryResult[[]T]) []T {
	if results == nil || len(*results) == 0 {
		return nil
	}
	return (*results)[0].Result
}

// oneRow unwraps a single expected record, mapping absence to ErrNotFound.
func oneRow[T any](results *[]surrealdb.QueryResult[[]T]) (*T, error) {
	rows := firstRows(results)
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// ---------------------------------------------------------------------------
// Agents

// CreateAgent inserts a new agent record under the given id.
func (c *Client) CreateAgent(ctx context.Context, id, name string, description *string, model string, systemPrompt *string) (*models.Agent, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]models.Agent](ctx, c.db, `
		CREATE type::record("agent", $id) CONTENT {
			name: $name,
			description: $description,
			model: $model,
			system_prompt: $system_prompt,
			document_count: 0,
			total_chunks: 0
		}
	`, map[string]any{
		"id":            id,
		"name":          name,
		"description":   description,
		"model":         model,
		"system_prompt": systemPrompt,
	})
	if err != nil {
		return nil, wrapQueryError(err)
	}
	return oneRow(results)
}

// GetAgent retrieves an agent by id. Returns ErrNotFound if absent.
func (c *Client) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]models.Agent](ctx, c.db, `
		SELECT * FROM type::record("agent", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, wrapQueryError(err)
	}
	return oneRow(results)
}

// ListAgents returns all agents, newest first.
func (c *Client) ListAgents(ctx context.Context) ([]models.Agent, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]models.Agent](ctx, c.db, `
		SELECT * FROM agent ORDER BY created_at DESC
	`, nil)
	if err != nil {
		return nil, wrapQueryError(err)
	}

	agents := firstRows(results)
	if agents == nil {
		agents = []models.Agent{}
	}
	return agents, nil
}

// UpdateAgent applies a partial update. Nil fields keep their current value.
func (c *Client) UpdateAgent(ctx context.Context, id string, upd models.AgentUpdate) (*models.Agent, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]models.Agent](ctx, c.db, `
		UPDATE type::record("agent", $id) SET
			name = IF $name != NONE THEN $name ELSE name END,
			description = IF $description != NONE THEN $description ELSE description END,
			model = IF $model != NONE THEN $model ELSE model END,
			system_prompt = IF $system_prompt != NONE THEN $system_prompt ELSE system_prompt END,
			updated_at = time::now()
	`, map[string]any{
		"id":            id,
		"name":          upd.Name,
		"description":   upd.Description,
		"model":         upd.Model,
		"system_prompt": upd.SystemPrompt,
	})
	if err != nil {
		return nil, wrapQueryError(err)
	}
	return oneRow(results)
}

// AdjustAgentCounters shifts the agent's document and chunk aggregates.
// Deltas may be negative; values are clamped at zero.
func (c *Client) AdjustAgentCounters(ctx context.Context, id string, docDelta, chunkDelta int) error {
	defer c.observe(time.Now())

	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("agent", $id) SET
			document_count = math::max([document_count + $doc_delta, 0]),
			total_chunks = math::max([total_chunks + $chunk_delta, 0]),
			updated_at = time::now()
	`, map[string]any{
		"id":          id,
		"doc_delta":   docDelta,
		"chunk_delta": chunkDelta,
	})
	return wrapQueryError(err)
}

// DeleteAgent removes the agent and cascades to its documents, conversations
// and messages.
func (c *Client) DeleteAgent(ctx context.Context, id string) error {
	defer c.observe(time.Now())

	_, err := surrealdb.Query[any](ctx, c.db, `
		BEGIN TRANSACTION;
		DELETE message WHERE conversation.agent = type::record("agent", $id);
		DELETE conversation WHERE agent = type::record("agent", $id);
		DELETE document WHERE agent = type::record("agent", $id);
		DELETE type::record("agent", $id);
		COMMIT TRANSACTION;
	`, map[string]any{"id": id})
	return wrapQueryError(err)
}

// ---------------------------------------------------------------------------
// Documents

// CreateDocument inserts a new document record in pending state.
func (c *Client) CreateDocument(ctx context.Context, id, agentID string, doc models.Document) (*models.Document, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]models.Document](ctx, c.db, `
		CREATE type::record("document", $id) CONTENT {
			agent: type::record("agent", $agent),
			original_filename: $original_filename,
			stored_filename: $stored_filename,
			file_path: $file_path,
			content_hash: $content_hash,
			file_type: $file_type,
			file_size: $file_size,
			status: "pending",
			chunk_count: 0
		}
	`, map[string]any{
		"id":                id,
		"agent":             agentID,
		"original_filename": doc.OriginalFilename,
		"stored_filename":   doc.StoredFilename,
		"file_path":         doc.FilePath,
		"content_hash":      doc.ContentHash,
		"file_type":         doc.FileType,
		"file_size":         doc.FileSize,
	})
	if err != nil {
		return nil, wrapQueryError(err)
	}
	return oneRow(results)
}

// GetDocument retrieves a document by id.
func (c *Client) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]models.Document](ctx, c.db, `
		SELECT * FROM type::record("document", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, wrapQueryError(err)
	}
	return oneRow(results)
}

// ListDocumentsByAgent returns the agent's documents, newest first.
func (c *Client) ListDocumentsByAgent(ctx context.Context, agentID string) ([]models.Document, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]models.Document](ctx, c.db, `
		SELECT * FROM document WHERE agent = type::record("agent", $agent)
		ORDER BY created_at DESC
	`, map[string]any{"agent": agentID})
	if err != nil {
		return nil, wrapQueryError(err)
	}

	docs := firstRows(results)
	if docs == nil {
		docs = []models.Document{}
	}
	return docs, nil
}

// FindDocumentByHash looks up a document in the agent's collection by content
// hash. Used for duplicate detection on upload.
func (c *Client) FindDocumentByHash(ctx context.Context, agentID, hash string) (*models.Document, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]models.Document](ctx, c.db, `
		SELECT * FROM document
		WHERE agent = type::record("agent", $agent) AND content_hash = $hash
		LIMIT 1
	`, map[string]any{"agent": agentID, "hash": hash})
	if err != nil {
		return nil, wrapQueryError(err)
	}
	return oneRow(results)
}

// SetDocumentStatus transitions a document's processing state. Completed and
// failed transitions also record the processing timestamp.
func (c *Client) SetDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, errorMessage *string, chunkCount int) error {
	defer c.observe(time.Now())

	sql := `
		UPDATE type::record("document", $id) SET
			status = $status,
			error_message = $error_message,
			chunk_count = $chunk_count
	`
	if status.Terminal() {
		sql += `, processed_at = time::now()`
	}

	_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"id":            id,
		"status":        string(status),
		"error_message": errorMessage,
		"chunk_count":   chunkCount,
	})
	return wrapQueryError(err)
}

// DeleteDocument removes a document record.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	defer c.observe(time.Now())

	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE type::record("document", $id)
	`, map[string]any{"id": id})
	return wrapQueryError(err)
}

// ---------------------------------------------------------------------------
// Conversations

// CreateConversation starts a new chat session with an agent.
func (c *Client) CreateConversation(ctx context.Context, id, agentID string, title *string) (*models.Conversation, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]models.Conversation](ctx, c.db, `
		CREATE type::record("conversation", $id) CONTENT {
			agent: type::record("agent", $agent),
			title: $title
		}
	`, map[string]any{"id": id, "agent": agentID, "title": title})
	if err != nil {
		return nil, wrapQueryError(err)
	}
	return oneRow(results)
}

// GetConversation retrieves a conversation by id.
func (c *Client) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]models.Conversation](ctx, c.db, `
		SELECT * FROM type::record("conversation", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, wrapQueryError(err)
	}
	return oneRow(results)
}

// ListConversationsByAgent returns the agent's conversations, most recently
// active first.
func (c *Client) ListConversationsByAgent(ctx context.Context, agentID string) ([]models.Conversation, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]models.Conversation](ctx, c.db, `
		SELECT * FROM conversation WHERE agent = type::record("agent", $agent)
		ORDER BY updated_at DESC
	`, map[string]any{"agent": agentID})
	if err != nil {
		return nil, wrapQueryError(err)
	}

	convs := firstRows(results)
	if convs == nil {
		convs = []models.Conversation{}
	}
	return convs, nil
}

// SetConversationTitle sets the conversation title, used to name a session
// after its first user message.
func (c *Client) SetConversationTitle(ctx context.Context, id, title string) error {
	defer c.observe(time.Now())

	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("conversation", $id) SET
			title = $title,
			updated_at = time::now()
	`, map[string]any{"id": id, "title": title})
	return wrapQueryError(err)
}

// TouchConversation bumps the conversation's activity timestamp.
func (c *Client) TouchConversation(ctx context.Context, id string) error {
	defer c.observe(time.Now())

	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("conversation", $id) SET updated_at = time::now()
	`, map[string]any{"id": id})
	return wrapQueryError(err)
}

// DeleteConversation removes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	defer c.observe(time.Now())

	_, err := surrealdb.Query[any](ctx, c.db, `
		BEGIN TRANSACTION;
		DELETE message WHERE conversation = type::record("conversation", $id);
		DELETE type::record("conversation", $id);
		COMMIT TRANSACTION;
	`, map[string]any{"id": id})
	return wrapQueryError(err)
}

// ---------------------------------------------------------------------------
// Messages

// CreateMessage appends a message to a conversation.
func (c *Client) CreateMessage(ctx context.Context, id, conversationID string, role models.Role, content string, sources *string) (*models.Message, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]models.Message](ctx, c.db, `
		CREATE type::record("message", $id) CONTENT {
			conversation: type::record("conversation", $conversation),
			role: $role,
			content: $content,
			sources: $sources
		}
	`, map[string]any{
		"id":           id,
		"conversation": conversationID,
		"role":         string(role),
		"content":      content,
		"sources":      sources,
	})
	if err != nil {
		return nil, wrapQueryError(err)
	}
	return oneRow(results)
}

// ListMessages returns a conversation's messages in chronological order.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	defer c.observe(time.Now())

	results, err := surrealdb.Query[[]models.Message](ctx, c.db, `
		SELECT * FROM message WHERE conversation = type::record("conversation", $conversation)
		ORDER BY created_at ASC
	`, map[string]any{"conversation": conversationID})
	if err != nil {
		return nil, wrapQueryError(err)
	}

	msgs := firstRows(results)
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}
