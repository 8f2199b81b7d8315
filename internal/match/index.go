package match

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Hit is one reference embedding scored against a query.
type Hit struct {
	EmbeddingID uuid.UUID
	PersonID    uuid.UUID
	Score       float64
}

// Entry is a reference embedding as loaded from the store for indexing.
type Entry struct {
	EmbeddingID uuid.UUID
	PersonID    uuid.UUID
	Embedding   []float32
}

// Index is the embedding search capability. An exact scan and an
// approximate structure are interchangeable; the matcher's decision logic
// does not change with the backend.
type Index interface {
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Dimension() int
}

// DimensionError reports a query/store dimensionality mismatch. This
// indicates a model or deployment version mismatch and is never retried.
type DimensionError struct {
	Want, Got int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: index has %d, query has %d", e.Want, e.Got)
}

// LinearIndex is an exact in-memory index: cosine similarity against every
// entry. Tolerates concurrent readers and occasional writers.
type LinearIndex struct {
	mu      sync.RWMutex
	dim     int
	entries []Entry
}

func NewLinearIndex(dim int) *LinearIndex {
	return &LinearIndex{dim: dim}
}

func (l *LinearIndex) Dimension() int {
	return l.dim
}

// Add appends one reference embedding.
func (l *LinearIndex) Add(e Entry) error {
	if len(e.Embedding) != l.dim {
		return &DimensionError{Want: l.dim, Got: len(e.Embedding)}
	}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	return nil
}

// Rebuild replaces the whole index contents.
func (l *LinearIndex) Rebuild(entries []Entry) error {
	for _, e := range entries {
		if len(e.Embedding) != l.dim {
			return &DimensionError{Want: l.dim, Got: len(e.Embedding)}
		}
	}
	l.mu.Lock()
	l.entries = append([]Entry(nil), entries...)
	l.mu.Unlock()
	return nil
}

func (l *LinearIndex) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *LinearIndex) Search(_ context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != l.dim {
		return nil, &DimensionError{Want: l.dim, Got: len(query)}
	}
	if k <= 0 {
		k = 5
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	hits := make([]Hit, 0, len(l.entries))
	for _, e := range l.entries {
		hits = append(hits, Hit{
			EmbeddingID: e.EmbeddingID,
			PersonID:    e.PersonID,
			Score:       Similarity(query, e.Embedding),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
