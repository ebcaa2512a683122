package models

import (
	"fmt"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// DocumentStatus is the ingestion state of an uploaded document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// ParseDocumentStatus validates a status string. Unknown statuses are
// rejected rather than silently accepted.
func ParseDocumentStatus(s string) (DocumentStatus, error) {
	switch DocumentStatus(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return DocumentStatus(s), nil
	default:
		return "", fmt.Errorf("unknown document status %q", s)
	}
}

// Terminal reports whether the status is final. Terminal documents are not
// auto-retried; re-ingestion requires an explicit re-upload.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document is a file uploaded to an agent's knowledge base.
type Document struct {
	ID    surrealmodels.RecordID `json:"id"`
	Agent surrealmodels.RecordID `json:"agent"`

	// File information
	OriginalFilename string `json:"original_filename"`
	StoredFilename   string `json:"stored_filename"`
	FilePath         string `json:"file_path"`
	ContentHash      string `json:"content_hash"`
	FileType         string `json:"file_type"`
	FileSize         int64  `json:"file_size"`

	// Processing state
	Status       DocumentStatus `json:"status"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	ChunkCount   int            `json:"chunk_count"`

	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}
