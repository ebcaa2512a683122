// Package storage manages uploaded files on disk, one directory per agent.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store writes and removes uploaded document files. Stored names are opaque
// UUIDs so hostile filenames never touch the filesystem.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// SavedFile describes a stored upload.
type SavedFile struct {
	StoredFilename string
	Path           string
	ContentHash    string
	Size           int64
}

// Save streams the upload to the agent's directory, hashing it on the way.
func (s *Store) Save(agentID string, ext string, r io.Reader) (*SavedFile, error) {
	dir := filepath.Join(s.root, agentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create agent directory: %w", err)
	}

	stored := uuid.NewString()
	if ext != "" {
		stored += "." + ext
	}
	path := filepath.Join(dir, stored)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hasher), r)
	closeErr := f.Close()
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write file: %w", err)
	}
	if closeErr != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("close file: %w", closeErr)
	}

	return &SavedFile{
		StoredFilename: stored,
		Path:           path,
		ContentHash:    hex.EncodeToString(hasher.Sum(nil)),
		Size:           size,
	}, nil
}

// Remove deletes a stored file. Missing files are not an error, removal is
// part of cleanup paths that must be idempotent.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// RemoveAgent deletes the agent's whole upload directory.
func (s *Store) RemoveAgent(agentID string) error {
	if err := os.RemoveAll(filepath.Join(s.root, agentID)); err != nil {
		return fmt.Errorf("remove agent files: %w", err)
	}
	return nil
}

// HashBytes returns the hex sha256 of a byte slice. Used to detect duplicate
// uploads before anything is written.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
