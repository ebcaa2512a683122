package vecindex

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Registry maps agent ids to their indexes, loading each lazily on first use.
// One index per agent is the isolation boundary: a search against one agent
// can never observe another agent's vectors.
type Registry struct {
	dir string
	dim int

	mu      sync.Mutex
	indexes map[string]*Index
}

// NewRegistry creates a registry rooted at dir. Each agent's index lives in
// its own subdirectory.
func NewRegistry(dir string, dim int) *Registry {
	return &Registry{
		dir:     dir,
		dim:     dim,
		indexes: make(map[string]*Index),
	}
}

// Get returns the agent's index, loading it from disk on first access.
func (r *Registry) Get(agentID string) (*Index, error) {
	if agentID == "" {
		return nil, fmt.Errorf("get index: empty agent id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, ok := r.indexes[agentID]; ok {
		return idx, nil
	}
	idx, err := Open(filepath.Join(r.dir, agentID), r.dim)
	if err != nil {
		return nil, fmt.Errorf("load index for agent %s: %w", agentID, err)
	}
	r.indexes[agentID] = idx
	return idx, nil
}

// Insert adds chunk vectors to the agent's index.
func (r *Registry) Insert(agentID string, chunks []Chunk) error {
	idx, err := r.Get(agentID)
	if err != nil {
		return err
	}
	return idx.Insert(chunks)
}

// DeleteByDocument removes the document's vectors from the agent's index.
func (r *Registry) DeleteByDocument(agentID, documentID string) (int, error) {
	idx, err := r.Get(agentID)
	if err != nil {
		return 0, err
	}
	return idx.DeleteByDocument(documentID)
}

// Search runs a top-k query against the agent's index.
func (r *Registry) Search(agentID string, query []float32, k int) ([]Hit, error) {
	idx, err := r.Get(agentID)
	if err != nil {
		return nil, err
	}
	return idx.Search(query, k)
}

// Count returns the number of vectors in the agent's index.
func (r *Registry) Count(agentID string) (int, error) {
	idx, err := r.Get(agentID)
	if err != nil {
		return 0, err
	}
	return idx.Count(), nil
}

// Remove drops the agent's index from memory and deletes its on-disk state.
// Part of the agent delete cascade.
func (r *Registry) Remove(agentID string) error {
	if agentID == "" {
		return fmt.Errorf("remove index: empty agent id")
	}

	r.mu.Lock()
	delete(r.indexes, agentID)
	r.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(r.dir, agentID)); err != nil {
		return fmt.Errorf("remove index for agent %s: %w", agentID, err)
	}
	return nil
}
