package match

import (
	"context"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, -1},
		{"empty", nil, nil, -1},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tc.want, Similarity(tc.a, tc.b), 1e-6)
		})
	}
}

func TestLinearIndexSearchOrderAndTruncation(t *testing.T) {
	t.Parallel()

	idx := NewLinearIndex(3)
	people := make([]uuid.UUID, 4)
	vecs := [][]float32{
		unit(1, 0, 0),
		unit(0.9, 0.43, 0),
		unit(0, 1, 0),
		unit(0, 0, 1),
	}
	for i, v := range vecs {
		people[i] = uuid.New()
		require.NoError(t, idx.Add(Entry{EmbeddingID: uuid.New(), PersonID: people[i], Embedding: v}))
	}
	require.Equal(t, 4, idx.Len())

	hits, err := idx.Search(context.Background(), unit(1, 0, 0), 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, people[0], hits[0].PersonID)
	assert.Equal(t, people[1], hits[1].PersonID)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestLinearIndexRejectsWrongDimension(t *testing.T) {
	t.Parallel()

	idx := NewLinearIndex(3)
	err := idx.Add(Entry{EmbeddingID: uuid.New(), PersonID: uuid.New(), Embedding: unit(1, 0)})
	var dimErr *DimensionError
	require.ErrorAs(t, err, &dimErr)

	_, err = idx.Search(context.Background(), unit(1, 0, 0, 0), 1)
	require.ErrorAs(t, err, &dimErr)
}

// The approximate index must agree with the exact scan on the top result
// for well-separated clusters.
func TestHNSWAgreesWithLinear(t *testing.T) {
	t.Parallel()

	const dim = 8
	rng := rand.New(rand.NewSource(42))

	linear := NewLinearIndex(dim)
	approx := NewHNSWIndex(dim)

	var entries []Entry
	for p := 0; p < 5; p++ {
		personID := uuid.New()
		base := make([]float32, dim)
		base[p] = 1
		for shot := 0; shot < 3; shot++ {
			v := make([]float32, dim)
			for i := range v {
				v[i] = base[i] + float32(rng.Float64()*0.05)
			}
			Normalize(v)
			entries = append(entries, Entry{
				EmbeddingID: uuid.New(),
				PersonID:    personID,
				Embedding:   v,
			})
		}
	}
	require.NoError(t, linear.Rebuild(entries))
	require.NoError(t, approx.Rebuild(entries))
	require.Equal(t, linear.Len(), approx.Len())

	for q := 0; q < 10; q++ {
		query := make([]float32, dim)
		query[q%5] = 1
		for i := range query {
			query[i] += float32(rng.Float64() * 0.05)
		}
		Normalize(query)

		exact, err := linear.Search(context.Background(), query, 3)
		require.NoError(t, err)
		got, err := approx.Search(context.Background(), query, 3)
		require.NoError(t, err)

		require.NotEmpty(t, exact)
		require.NotEmpty(t, got)
		assert.Equal(t, exact[0].PersonID, got[0].PersonID)
		assert.InDelta(t, exact[0].Score, got[0].Score, 1e-5)
	}
}
