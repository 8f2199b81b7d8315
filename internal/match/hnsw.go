package match

import (
	"context"
	"sync"

	"github.com/coder/hnsw"
)

const hnswMaxNeighbors = 16

// HNSWIndex is an approximate in-memory index over the same Entry set as
// LinearIndex. Keys are embedding UUIDs in string form since the graph
// requires ordered keys.
type HNSWIndex struct {
	mu     sync.RWMutex
	dim    int
	graph  *hnsw.Graph[string]
	owners map[string]Entry
}

func NewHNSWIndex(dim int) *HNSWIndex {
	return &HNSWIndex{
		dim:    dim,
		owners: make(map[string]Entry),
	}
}

func (h *HNSWIndex) Dimension() int {
	return h.dim
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

// Add inserts one reference embedding.
func (h *HNSWIndex) Add(e Entry) error {
	if len(e.Embedding) != h.dim {
		return &DimensionError{Want: h.dim, Got: len(e.Embedding)}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.graph == nil {
		h.graph = newGraph()
	}
	key := e.EmbeddingID.String()
	h.graph.Add(hnsw.MakeNode(key, e.Embedding))
	h.owners[key] = e
	return nil
}

// Rebuild replaces the graph with a fresh one built from entries. Used at
// startup and on the periodic refresh tick.
func (h *HNSWIndex) Rebuild(entries []Entry) error {
	g := newGraph()
	owners := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if len(e.Embedding) != h.dim {
			return &DimensionError{Want: h.dim, Got: len(e.Embedding)}
		}
		key := e.EmbeddingID.String()
		g.Add(hnsw.MakeNode(key, e.Embedding))
		owners[key] = e
	}

	h.mu.Lock()
	h.graph = g
	h.owners = owners
	h.mu.Unlock()
	return nil
}

func (h *HNSWIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owners)
}

func (h *HNSWIndex) Search(_ context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != h.dim {
		return nil, &DimensionError{Want: h.dim, Got: len(query)}
	}
	if k <= 0 {
		k = 5
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		return nil, nil
	}

	neighbors := h.graph.Search(query, k)
	hits := make([]Hit, 0, len(neighbors))
	for _, n := range neighbors {
		e, ok := h.owners[n.Key]
		if !ok {
			continue
		}
		hits = append(hits, Hit{
			EmbeddingID: e.EmbeddingID,
			PersonID:    e.PersonID,
			// Recompute exactly from the node's vector; graph distance is
			// approximate only in which neighbors it returns.
			Score: Similarity(query, n.Value),
		})
	}
	return hits, nil
}

var _ Index = (*HNSWIndex)(nil)
var _ Index = (*LinearIndex)(nil)
