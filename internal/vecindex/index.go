// Package vecindex implements the per-agent vector index: a flat in-memory
// store of normalized chunk embeddings with cosine top-k search and a gob
// snapshot on disk so an index reloads after restart without re-embedding.
package vecindex

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

var (
	// ErrCorrupt indicates the persisted index snapshot could not be read.
	// Recovery requires rebuilding the index from the source documents.
	ErrCorrupt = errors.New("vector index snapshot corrupt")

	// ErrDimensionMismatch indicates a vector of unexpected width. A
	// persisted index is bound to one embedding model; changing models
	// requires a full rebuild.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

const snapshotFile = "index.gob"

// Chunk is one text segment with its embedding, queued for insertion.
type Chunk struct {
	Vector     []float32
	DocumentID string
	Filename   string
	ChunkIndex int
	Text       string
}

// meta is the per-slot metadata persisted alongside each vector.
type meta struct {
	Slot       uint64
	DocumentID string
	Filename   string
	ChunkIndex int
	Text       string
}

// Hit is one search result, highest similarity first.
type Hit struct {
	Slot       uint64
	Score      float64
	DocumentID string
	Filename   string
	ChunkIndex int
	Text       string
}

// Index holds all chunk vectors for a single agent. Vectors are L2-normalized
// on insert so cosine similarity reduces to a dot product. Mutations are
// serialized; searches run concurrently under a read lock.
type Index struct {
	mu   sync.RWMutex
	dir  string
	dim  int
	next uint64 // next slot id, monotonic across deletes and restarts
	vecs [][]float32
	meta []meta
}

// snapshot is the on-disk representation.
type snapshot struct {
	Dim      int
	NextSlot uint64
	Vectors  [][]float32
	Meta     []meta
}

// Open loads the index stored in dir, creating an empty one if no snapshot
// exists. An unreadable snapshot returns ErrCorrupt; a snapshot written for a
// different embedding width returns ErrDimensionMismatch.
func Open(dir string, dim int) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("open index: dimension must be positive, got %d", dim)
	}

	idx := &Index{dir: dir, dim: dim}

	path := filepath.Join(dir, snapshotFile)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open index snapshot: %w", err)
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if snap.Dim != dim {
		return nil, fmt.Errorf("%w: snapshot has dimension %d, want %d", ErrDimensionMismatch, snap.Dim, dim)
	}
	if len(snap.Vectors) != len(snap.Meta) {
		return nil, fmt.Errorf("%w: %d vectors but %d metadata entries", ErrCorrupt, len(snap.Vectors), len(snap.Meta))
	}

	idx.next = snap.NextSlot
	idx.vecs = snap.Vectors
	idx.meta = snap.Meta
	return idx, nil
}

// Count returns the number of indexed vectors.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vecs)
}

// Insert appends chunk vectors, assigning each a stable slot id, and persists
// the snapshot. Slot ids are never reused.
func (idx *Index) Insert(chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	normalized := make([][]float32, len(chunks))
	for i, c := range chunks {
		if len(c.Vector) != idx.dim {
			return fmt.Errorf("%w: chunk %d has dimension %d, want %d", ErrDimensionMismatch, i, len(c.Vector), idx.dim)
		}
		normalized[i] = normalize(c.Vector)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for i, c := range chunks {
		idx.vecs = append(idx.vecs, normalized[i])
		idx.meta = append(idx.meta, meta{
			Slot:       idx.next,
			DocumentID: c.DocumentID,
			Filename:   c.Filename,
			ChunkIndex: c.ChunkIndex,
			Text:       c.Text,
		})
		idx.next++
	}

	return idx.persistLocked()
}

// DeleteByDocument removes every vector belonging to the document and
// persists the compacted index. Returns the number of vectors removed.
// Deletion compacts in place; no re-embedding is required and slot ids of
// surviving vectors are unchanged.
func (idx *Index) DeleteByDocument(documentID string) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	kept := 0
	for i := range idx.meta {
		if idx.meta[i].DocumentID == documentID {
			continue
		}
		idx.vecs[kept] = idx.vecs[i]
		idx.meta[kept] = idx.meta[i]
		kept++
	}

	removed := len(idx.meta) - kept
	if removed == 0 {
		return 0, nil
	}

	// Release the tails so removed vectors can be collected.
	for i := kept; i < len(idx.vecs); i++ {
		idx.vecs[i] = nil
	}
	idx.vecs = idx.vecs[:kept]
	idx.meta = idx.meta[:kept]

	if err := idx.persistLocked(); err != nil {
		return removed, err
	}
	return removed, nil
}

// Search returns the top-k nearest chunks by cosine similarity, highest
// first, ties broken by insertion order. k is clamped to the index size; an
// empty index yields an empty result.
func (idx *Index) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != idx.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, want %d", ErrDimensionMismatch, len(query), idx.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	q := normalize(query)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.vecs) == 0 {
		return nil, nil
	}
	if k > len(idx.vecs) {
		k = len(idx.vecs)
	}

	order := make([]int, len(idx.vecs))
	scores := make([]float64, len(idx.vecs))
	for i, v := range idx.vecs {
		order[i] = i
		scores[i] = dot(q, v)
	}
	// Stable: equal scores keep insertion order.
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	hits := make([]Hit, k)
	for i := 0; i < k; i++ {
		j := order[i]
		m := idx.meta[j]
		hits[i] = Hit{
			Slot:       m.Slot,
			Score:      scores[j],
			DocumentID: m.DocumentID,
			Filename:   m.Filename,
			ChunkIndex: m.ChunkIndex,
			Text:       m.Text,
		}
	}
	return hits, nil
}

// persistLocked writes the snapshot atomically (temp file + rename).
// Callers must hold the write lock.
func (idx *Index) persistLocked() error {
	if err := os.MkdirAll(idx.dir, 0o755); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}

	tmp, err := os.CreateTemp(idx.dir, snapshotFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	defer os.Remove(tmp.Name())

	snap := snapshot{
		Dim:      idx.dim,
		NextSlot: idx.next,
		Vectors:  idx.vecs,
		Meta:     idx.meta,
	}
	if err := gob.NewEncoder(tmp).Encode(snap); err != nil {
		tmp.Close()
		return fmt.Errorf("persist index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(idx.dir, snapshotFile)); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	return nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
