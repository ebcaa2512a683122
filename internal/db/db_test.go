// Package db integration tests run against a containerized SurrealDB.
package db

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/ragserve/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *Client
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

func skipShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// newAgent creates a throwaway agent and registers its cleanup.
func newAgent(t *testing.T, ctx context.Context) (*models.Agent, string) {
	t.Helper()

	id := uuid.NewString()
	agent, err := testDB.CreateAgent(ctx, id, "Test Agent "+id[:8], nil, "openai/gpt-4o-mini", nil)
	require.NoError(t, err, "should create agent")
	t.Cleanup(func() { _ = testDB.DeleteAgent(ctx, id) })
	return agent, id
}

func TestCreateAndGetAgent(t *testing.T) {
	skipShort(t)
	ctx := context.Background()

	desc := "An agent for tests"
	prompt := "Answer tersely."
	id := uuid.NewString()
	created, err := testDB.CreateAgent(ctx, id, "Docs Bot", &desc, "openai/gpt-4o-mini", &prompt)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testDB.DeleteAgent(ctx, id) })

	assert.Equal(t, "Docs Bot", created.Name)
	assert.Equal(t, 0, created.DocumentCount)
	assert.Equal(t, 0, created.TotalChunks)
	require.NotNil(t, created.Description)
	assert.Equal(t, desc, *created.Description)

	fetched, err := testDB.GetAgent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Docs Bot", fetched.Name)
	require.NotNil(t, fetched.SystemPrompt)
	assert.Equal(t, prompt, *fetched.SystemPrompt)
}

func TestGetAgent_NotFound(t *testing.T) {
	skipShort(t)
	ctx := context.Background()

	_, err := testDB.GetAgent(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateAgent_DuplicateID(t *testing.T) {
	skipShort(t)
	ctx := context.Background()

	_, id := newAgent(t, ctx)

	_, err := testDB.CreateAgent(ctx, id, "Clone", nil, "openai/gpt-4o-mini", nil)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestListAgents(t *testing.T) {
	skipShort(t)
	ctx := context.Background()

	_, idA := newAgent(t, ctx)
	_, idB := newAgent(t, ctx)

	agents, err := testDB.ListAgents(ctx)
	require.NoError(t, err)

	found := map[string]bool{}
	for _, a := range agents {
		found[models.MustRecordIDString(a.ID)] = true
	}
	assert.True(t, found[idA], "list should contain first agent")
	assert.True(t, found[idB], "list should contain second agent")
}

func TestUpdateAgent_Partial(t *testing.T) {
	skipShort(t)
	ctx := context.Background()

	agent, id := newAgent(t, ctx)

	newName := "Renamed Agent"
	updated, err := testDB.UpdateAgent(ctx, id, models.AgentUpdate{Name: &newName})
	require.NoError(t, err)

	assert.Equal(t, newName, updated.Name)
	// Untouched fields keep their values.
	assert.Equal(t, agent.Model, updated.Model)
	assert.True(t, updated.UpdatedAt.After(agent.UpdatedAt) || updated.UpdatedAt.Equal(agent.UpdatedAt))
}

func TestAdjustAgentCounters(t *testing.T) {
	skipShort(t)
	ctx := context.Background()

	_, id := newAgent(t, ctx)

	require.NoError(t, testDB.AdjustAgentCounters(ctx, id, 1, 12))
	agent, err := testDB.GetAgent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, agent.DocumentCount)
	assert.Equal(t, 12, agent.TotalChunks)

	// Negative deltas clamp at zero rather than going negative.
	require.NoError(t, testDB.AdjustAgentCounters(ctx, id, -5, -100))
	agent, err = testDB.GetAgent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, agent.DocumentCount)
	assert.Equal(t, 0, agent.TotalChunks)
}

func testDocument(agentID string) models.Document {
	return models.Document{
		OriginalFilename: "report.pdf",
		StoredFilename:   uuid.NewString() + ".pdf",
		FilePath:         "/data/agents/" + agentID + "/report.pdf",
		ContentHash:      uuid.NewString(),
		FileType:         "pdf",
		FileSize:         2048,
	}
}

func TestDocumentLifecycle(t *testing.T) {
	skipShort(t)
	ctx := context.Background()

	_, agentID := newAgent(t, ctx)

	docID := uuid.NewString()
	created, err := testDB.CreateDocument(ctx, docID, agentID, testDocument(agentID))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, created.Status)
	assert.Equal(t, 0, created.ChunkCount)
	assert.Nil(t, created.ProcessedAt)

	require.NoError(t, testDB.SetDocumentStatus(ctx, docID, models.StatusProcessing, nil, 0))
	doc, err := testDB.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, doc.Status)
	assert.Nil(t, doc.ProcessedAt, "processed_at set only on terminal status")

	require.NoError(t, testDB.SetDocumentStatus(ctx, docID, models.StatusCompleted, nil, 7))
	doc, err = testDB.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, doc.Status)
	assert.Equal(t, 7, doc.ChunkCount)
	assert.NotNil(t, doc.ProcessedAt)

	require.NoError(t, testDB.DeleteDocument(ctx, docID))
	_, err = testDB.GetDocument(ctx, docID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetDocumentStatus_Failed(t *testing.T) {
	skipShort(t)
	ctx := context.Background()

	_, agentID := newAgent(t, ctx)

	docID := uuid.NewString()
	_, err := testDB.CreateDocument(ctx, docID, agentID, testDocument(agentID))
	require.NoError(t, err)

	msg := "embedding service unavailable"
	require.NoError(t, testDB.SetDocumentStatus(ctx, docID, models.StatusFailed, &msg, 0))

	doc, err := testDB.GetDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, doc.Status)
	require.NotNil(t, doc.ErrorMessage)
	assert.Equal(t, msg, *doc.ErrorMessage)
	assert.NotNil(t, doc.ProcessedAt)
}

func TestFindDocumentByHash(t *testing.T) {
	skipShort(t)
	ctx := context.Background()

	_, agentID := newAgent(t, ctx)
	_, otherAgentID := newAgent(t, ctx)

	doc := testDocument(agentID)
	docID := uuid.NewString()
	_, err := testDB.CreateDocument(ctx, docID, agentID, doc)
	require.NoError(t, err)

	found, err := testDB.FindDocumentByHash(ctx, agentID, doc.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, docID, models.MustRecordIDString(found.ID))

	// The hash is scoped per agent.
	_, err = testDB.FindDocumentByHash(ctx, otherAgentID, doc.ContentHash)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = testDB.FindDocumentByHash(ctx, agentID, "no-such-hash")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDocumentsByAgent(t *testing.T) {
	skipShort(t)
	ctx := context.Background()

	_, agentID := newAgent(t, ctx)
	_, otherAgentID := newAgent(t, ctx)

	for i := 0; i < 3; i++ {
		_, err := testDB.CreateDocument(ctx, uuid.NewString(), agentID, testDocument(agentID))
		require.NoError(t, err)
	}
	_, err := testDB.CreateDocument(ctx, uuid.NewString(), otherAgentID, testDocument(otherAgentID))
	require.NoError(t, err)

	docs, err := testDB.ListDocumentsByAgent(ctx, agentID)
	require.NoError(t, err)
	assert.Len(t, docs, 3, "only this agent's documents")
}

func TestConversationAndMessages(t *testing.T) {
	skipShort(t)
	ctx := context.Background()

	_, agentID := newAgent(t, ctx)

	convID := uuid.NewString()
	conv, err := testDB.CreateConversation(ctx, convID, agentID, nil)
	require.NoError(t, err)
	assert.Nil(t, conv.Title)

	require.NoError(t, testDB.SetConversationTitle(ctx, convID, "What is RAG?"))
	conv2, err := testDB.GetConversation(ctx, convID)
	require.NoError(t, err)
	require.NotNil(t, conv2.Title)
	assert.Equal(t, "What is RAG?", *conv2.Title)

	_, err = testDB.CreateMessage(ctx, uuid.NewString(), convID, models.RoleUser, "What is RAG?", nil)
	require.NoError(t, err)

	sources := `[{"filename":"intro.md","chunk_index":0,"relevance":0.93}]`
	_, err = testDB.CreateMessage(ctx, uuid.NewString(), convID, models.RoleAssistant, "RAG is retrieval augmented generation.", &sources)
	require.NoError(t, err)

	msgs, err := testDB.ListMessages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	require.NotNil(t, msgs[1].Sources)
	assert.Equal(t, sources, *msgs[1].Sources)
}

func TestDeleteConversation_CascadesMessages(t *testing.T) {
	skipShort(t)
	ctx := context.Background()

	_, agentID := newAgent(t, ctx)

	convID := uuid.NewString()
	_, err := testDB.CreateConversation(ctx, convID, agentID, nil)
	require.NoError(t, err)
	_, err = testDB.CreateMessage(ctx, uuid.NewString(), convID, models.RoleUser, "hello", nil)
	require.NoError(t, err)

	require.NoError(t, testDB.DeleteConversation(ctx, convID))

	_, err = testDB.GetConversation(ctx, convID)
	assert.ErrorIs(t, err, ErrNotFound)

	msgs, err := testDB.ListMessages(ctx, convID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestDeleteAgent_Cascades(t *testing.T) {
	skipShort(t)
	ctx := context.Background()

	agentID := uuid.NewString()
	_, err := testDB.CreateAgent(ctx, agentID, "Cascade Agent", nil, "openai/gpt-4o-mini", nil)
	require.NoError(t, err)

	docID := uuid.NewString()
	_, err = testDB.CreateDocument(ctx, docID, agentID, testDocument(agentID))
	require.NoError(t, err)

	convID := uuid.NewString()
	_, err = testDB.CreateConversation(ctx, convID, agentID, nil)
	require.NoError(t, err)
	_, err = testDB.CreateMessage(ctx, uuid.NewString(), convID, models.RoleUser, "bye", nil)
	require.NoError(t, err)

	require.NoError(t, testDB.DeleteAgent(ctx, agentID))

	for _, check := range []error{
		func() error { _, err := testDB.GetAgent(ctx, agentID); return err }(),
		func() error { _, err := testDB.GetDocument(ctx, docID); return err }(),
		func() error { _, err := testDB.GetConversation(ctx, convID); return err }(),
	} {
		if !errors.Is(check, ErrNotFound) {
			t.Errorf("expected ErrNotFound after cascade, got %v", check)
		}
	}

	msgs, err := testDB.ListMessages(ctx, convID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
