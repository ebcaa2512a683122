// Package service implements the ingestion pipeline and RAG chat flow on top
// of the storage, index and model layers.
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/ragserve/internal/chunker"
	"github.com/raphaelgruber/ragserve/internal/extract"
	"github.com/raphaelgruber/ragserve/internal/metrics"
	"github.com/raphaelgruber/ragserve/internal/models"
	"github.com/raphaelgruber/ragserve/internal/storage"
	"github.com/raphaelgruber/ragserve/internal/vecindex"
)

// documentStore is the subset of db.Client the ingestion pipeline needs.
type documentStore interface {
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	CreateDocument(ctx context.Context, id, agentID string, doc models.Document) (*models.Document, error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByAgent(ctx context.Context, agentID string) ([]models.Document, error)
	FindDocumentByHash(ctx context.Context, agentID, hash string) (*models.Document, error)
	SetDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, errorMessage *string, chunkCount int) error
	DeleteDocument(ctx context.Context, id string) error
	AdjustAgentCounters(ctx context.Context, id string, docDelta, chunkDelta int) error
	DeleteAgent(ctx context.Context, id string) error
}

// documentEmbedder produces embedding vectors for chunk texts.
type documentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// indexWriter is the vector index surface the pipeline writes to.
type indexWriter interface {
	Insert(agentID string, chunks []vecindex.Chunk) error
	DeleteByDocument(agentID, documentID string) (int, error)
	Remove(agentID string) error
}

// fileStore persists uploaded files.
type fileStore interface {
	Save(agentID, ext string, r io.Reader) (*storage.SavedFile, error)
	Remove(path string) error
	RemoveAgent(agentID string) error
}

// IngestConfig carries the chunking parameters.
type IngestConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// IngestService runs documents through extract, chunk, embed and index, and
// keeps the document status machine and agent aggregates consistent.
type IngestService struct {
	store    documentStore
	embedder documentEmbedder
	index    indexWriter
	files    fileStore
	cfg      IngestConfig
	logger   *slog.Logger
	metrics  *metrics.Collector

	mu       sync.Mutex
	inFlight map[string]struct{} // document ids currently processing
	wg       sync.WaitGroup
}

// NewIngestService wires the ingestion pipeline.
func NewIngestService(store documentStore, embedder documentEmbedder, index indexWriter, files fileStore, cfg IngestConfig, logger *slog.Logger, mc *metrics.Collector) *IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		store:    store,
		embedder: embedder,
		index:    index,
		files:    files,
		cfg:      cfg,
		logger:   logger,
		metrics:  mc,
		inFlight: make(map[string]struct{}),
	}
}

// SetChunking retunes the chunking parameters for documents processed from
// now on. Already indexed documents keep their original chunking.
func (s *IngestService) SetChunking(size, overlap int) {
	s.mu.Lock()
	s.cfg.ChunkSize = size
	s.cfg.ChunkOverlap = overlap
	s.mu.Unlock()
}

func (s *IngestService) chunking() (size, overlap int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.ChunkSize, s.cfg.ChunkOverlap
}

// ErrDuplicateUpload is returned when the agent already has a document with
// the same content.
var ErrDuplicateUpload = fmt.Errorf("document with identical content already uploaded")

// ErrUnsupportedType is returned for file types outside the supported set.
var ErrUnsupportedType = fmt.Errorf("unsupported file type")

// Upload stores the file, records the document in pending state and kicks off
// background processing. The returned document is still pending; poll its
// status for the outcome.
func (s *IngestService) Upload(ctx context.Context, agentID, filename string, content []byte) (*models.Document, error) {
	if _, err := s.store.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}

	fileType := extract.FileType(filename)
	if !extract.Supported(fileType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, fileType)
	}

	hash := storage.HashBytes(content)
	if existing, err := s.store.FindDocumentByHash(ctx, agentID, hash); err == nil && existing.Status != models.StatusFailed {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateUpload, existing.OriginalFilename)
	}

	saved, err := s.files.Save(agentID, fileType, bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	docID := uuid.NewString()
	doc, err := s.store.CreateDocument(ctx, docID, agentID, models.Document{
		OriginalFilename: filename,
		StoredFilename:   saved.StoredFilename,
		FilePath:         saved.Path,
		ContentHash:      saved.ContentHash,
		FileType:         fileType,
		FileSize:         saved.Size,
	})
	if err != nil {
		_ = s.files.Remove(saved.Path)
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Processing outlives the upload request.
		s.Process(context.Background(), agentID, docID)
	}()

	return doc, nil
}

// IngestText ingests raw text as a document without a file upload. Runs
// synchronously; the returned document is terminal.
func (s *IngestService) IngestText(ctx context.Context, agentID, title, text string) (*models.Document, error) {
	filename := title
	if !strings.HasSuffix(strings.ToLower(filename), ".txt") {
		filename += ".txt"
	}

	if _, err := s.store.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}

	content := []byte(text)
	hash := storage.HashBytes(content)
	if existing, err := s.store.FindDocumentByHash(ctx, agentID, hash); err == nil && existing.Status != models.StatusFailed {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateUpload, existing.OriginalFilename)
	}

	saved, err := s.files.Save(agentID, "txt", bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("store text: %w", err)
	}

	docID := uuid.NewString()
	if _, err := s.store.CreateDocument(ctx, docID, agentID, models.Document{
		OriginalFilename: filename,
		StoredFilename:   saved.StoredFilename,
		FilePath:         saved.Path,
		ContentHash:      saved.ContentHash,
		FileType:         "txt",
		FileSize:         saved.Size,
	}); err != nil {
		_ = s.files.Remove(saved.Path)
		return nil, err
	}

	s.Process(ctx, agentID, docID)
	return s.store.GetDocument(ctx, docID)
}

// Process runs the pipeline for a pending document: extract, chunk, embed,
// index, then mark completed. Any failure rolls the index back and marks the
// document failed. Concurrent processing of the same document is a no-op.
func (s *IngestService) Process(ctx context.Context, agentID, docID string) {
	s.mu.Lock()
	if _, busy := s.inFlight[docID]; busy {
		s.mu.Unlock()
		return
	}
	s.inFlight[docID] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, docID)
		s.mu.Unlock()
	}()

	log := s.logger.With("agent_id", agentID, "document_id", docID)
	start := time.Now()

	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		log.Error("load document for processing", "error", err)
		return
	}
	if doc.Status.Terminal() {
		return
	}

	if err := s.store.SetDocumentStatus(ctx, docID, models.StatusProcessing, nil, 0); err != nil {
		log.Error("mark document processing", "error", err)
		return
	}

	chunkCount, err := s.process(ctx, agentID, docID, doc)
	if err != nil {
		log.Error("document processing failed", "error", err)
		s.rollback(ctx, agentID, docID, err)
		return
	}

	if err := s.store.SetDocumentStatus(ctx, docID, models.StatusCompleted, nil, chunkCount); err != nil {
		log.Error("mark document completed", "error", err)
		s.rollback(ctx, agentID, docID, err)
		return
	}
	if err := s.store.AdjustAgentCounters(ctx, agentID, 1, chunkCount); err != nil {
		log.Error("update agent counters", "error", err)
	}

	log.Info("document ingested",
		"chunks", chunkCount,
		"duration_ms", time.Since(start).Milliseconds())
}

func (s *IngestService) process(ctx context.Context, agentID, docID string, doc *models.Document) (int, error) {
	text, err := extract.Text(doc.FilePath, doc.FileType)
	if err != nil {
		return 0, err
	}

	size, overlap := s.chunking()
	segments, err := chunker.Split(text, size, overlap)
	if err != nil {
		return 0, fmt.Errorf("chunk text: %w", err)
	}
	if len(segments) == 0 {
		return 0, fmt.Errorf("document contains no text")
	}

	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	chunks := make([]vecindex.Chunk, len(segments))
	for i, seg := range segments {
		chunks[i] = vecindex.Chunk{
			Vector:     vectors[i],
			DocumentID: docID,
			Filename:   doc.OriginalFilename,
			ChunkIndex: seg.Index,
			Text:       seg.Text,
		}
	}

	insertStart := time.Now()
	if err := s.index.Insert(agentID, chunks); err != nil {
		return 0, fmt.Errorf("index chunks: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordTiming(metrics.OpIndexInsert, time.Since(insertStart))
	}

	return len(chunks), nil
}

// rollback removes any vectors already indexed for the document and marks it
// failed. A failed document never contributes to search results.
func (s *IngestService) rollback(ctx context.Context, agentID, docID string, cause error) {
	if _, err := s.index.DeleteByDocument(agentID, docID); err != nil {
		s.logger.Error("rollback index", "document_id", docID, "error", err)
	}

	msg := cause.Error()
	if err := s.store.SetDocumentStatus(ctx, docID, models.StatusFailed, &msg, 0); err != nil {
		s.logger.Error("mark document failed", "document_id", docID, "error", err)
	}
}

// DeleteDocument removes a document's vectors, stored file and record, and
// walks the agent aggregates back.
func (s *IngestService) DeleteDocument(ctx context.Context, agentID, docID string) error {
	doc, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return err
	}

	removed, err := s.index.DeleteByDocument(agentID, docID)
	if err != nil {
		return fmt.Errorf("remove document vectors: %w", err)
	}
	if err := s.files.Remove(doc.FilePath); err != nil {
		s.logger.Warn("remove stored file", "path", doc.FilePath, "error", err)
	}
	if err := s.store.DeleteDocument(ctx, docID); err != nil {
		return err
	}

	docDelta := 0
	if doc.Status == models.StatusCompleted {
		docDelta = -1
	}
	if err := s.store.AdjustAgentCounters(ctx, agentID, docDelta, -removed); err != nil {
		s.logger.Error("update agent counters", "agent_id", agentID, "error", err)
	}
	return nil
}

// DeleteAgent cascades an agent delete across records, index and files.
func (s *IngestService) DeleteAgent(ctx context.Context, agentID string) error {
	if err := s.store.DeleteAgent(ctx, agentID); err != nil {
		return err
	}
	if err := s.index.Remove(agentID); err != nil {
		s.logger.Error("remove agent index", "agent_id", agentID, "error", err)
	}
	if err := s.files.RemoveAgent(agentID); err != nil {
		s.logger.Error("remove agent files", "agent_id", agentID, "error", err)
	}
	return nil
}

// Wait blocks until background processing goroutines finish. Used on
// shutdown.
func (s *IngestService) Wait() {
	s.wg.Wait()
}
