package match

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(vals ...float32) []float32 {
	v := append([]float32(nil), vals...)
	Normalize(v)
	return v
}

func buildIndex(t *testing.T, dim int, entries ...Entry) *LinearIndex {
	t.Helper()
	idx := NewLinearIndex(dim)
	require.NoError(t, idx.Rebuild(entries))
	return idx
}

func TestMatcherIdentify(t *testing.T) {
	t.Parallel()

	alice := uuid.New()
	bob := uuid.New()

	tests := []struct {
		name         string
		entries      []Entry
		query        []float32
		wantDecision Decision
		wantPerson   uuid.UUID
	}{
		{
			name: "confident match",
			entries: []Entry{
				{EmbeddingID: uuid.New(), PersonID: alice, Embedding: unit(1, 0, 0, 0)},
			},
			query:        unit(1, 0, 0, 0),
			wantDecision: DecisionMatch,
			wantPerson:   alice,
		},
		{
			name: "best below threshold",
			entries: []Entry{
				{EmbeddingID: uuid.New(), PersonID: alice, Embedding: unit(1, 0, 0, 0)},
			},
			query:        unit(0, 1, 0, 0),
			wantDecision: DecisionNoMatch,
		},
		{
			name: "near tie between two persons is ambiguous",
			entries: []Entry{
				{EmbeddingID: uuid.New(), PersonID: alice, Embedding: unit(1, 0, 0, 0)},
				{EmbeddingID: uuid.New(), PersonID: bob, Embedding: unit(0.96, 0.28, 0, 0)},
			},
			query:        unit(1, 0, 0, 0),
			wantDecision: DecisionAmbiguous,
		},
		{
			name: "clear winner over distant runner-up",
			entries: []Entry{
				{EmbeddingID: uuid.New(), PersonID: alice, Embedding: unit(1, 0, 0, 0)},
				{EmbeddingID: uuid.New(), PersonID: bob, Embedding: unit(0, 1, 0, 0)},
			},
			query:        unit(1, 0, 0, 0),
			wantDecision: DecisionMatch,
			wantPerson:   alice,
		},
		{
			name: "close shots of the same person are not ambiguous",
			entries: []Entry{
				{EmbeddingID: uuid.New(), PersonID: alice, Embedding: unit(1, 0, 0, 0)},
				{EmbeddingID: uuid.New(), PersonID: alice, Embedding: unit(0.96, 0.28, 0, 0)},
			},
			query:        unit(1, 0, 0, 0),
			wantDecision: DecisionMatch,
			wantPerson:   alice,
		},
		{
			name:         "empty index",
			entries:      nil,
			query:        unit(1, 0, 0, 0),
			wantDecision: DecisionNoMatch,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			m := NewMatcher(buildIndex(t, 4, tc.entries...), 0.75, 0.12)
			res, err := m.Identify(context.Background(), tc.query)
			require.NoError(t, err)

			assert.Equal(t, tc.wantDecision, res.Decision)
			if tc.wantDecision == DecisionMatch {
				assert.Equal(t, tc.wantPerson, res.PersonID)
			} else {
				assert.Equal(t, uuid.Nil, res.PersonID)
			}
		})
	}
}

func TestMatcherMaxAggregationPerPerson(t *testing.T) {
	t.Parallel()

	alice := uuid.New()
	bob := uuid.New()

	// Bob's best single shot beats every one of Alice's shots; Alice's
	// extra weaker shots must not drag Bob below her.
	idx := buildIndex(t, 4,
		Entry{EmbeddingID: uuid.New(), PersonID: alice, Embedding: unit(0.80, 0.60, 0, 0)},
		Entry{EmbeddingID: uuid.New(), PersonID: alice, Embedding: unit(0.70, 0.71, 0, 0)},
		Entry{EmbeddingID: uuid.New(), PersonID: bob, Embedding: unit(1, 0, 0, 0)},
	)

	m := NewMatcher(idx, 0.75, 0.12)
	res, err := m.Identify(context.Background(), unit(1, 0, 0, 0))
	require.NoError(t, err)

	require.Equal(t, DecisionMatch, res.Decision)
	assert.Equal(t, bob, res.PersonID)
	assert.InDelta(t, 1.0, res.Score, 1e-6)
	assert.Greater(t, res.Score-res.RunnerUp, 0.12)
}

func TestMatcherCrowdedWindowStillSeesRunnerUp(t *testing.T) {
	t.Parallel()

	alice := uuid.New()
	bob := uuid.New()

	// Alice's near-duplicate shots fill the initial candidate window; Bob's
	// single shot inside the identify margin must still force a rejection
	// instead of a silent pick of Alice.
	entries := make([]Entry, 0, 17)
	for i := 0; i < 16; i++ {
		entries = append(entries, Entry{EmbeddingID: uuid.New(), PersonID: alice, Embedding: unit(1, 0, 0, 0)})
	}
	entries = append(entries, Entry{EmbeddingID: uuid.New(), PersonID: bob, Embedding: unit(0.995, 0.0999, 0, 0)})

	m := NewMatcher(buildIndex(t, 4, entries...), 0.75, 0.12)
	res, err := m.Identify(context.Background(), unit(1, 0, 0, 0))
	require.NoError(t, err)

	assert.Equal(t, DecisionAmbiguous, res.Decision)
	assert.Equal(t, uuid.Nil, res.PersonID)
	assert.InDelta(t, 1.0, res.Score, 1e-6)
	assert.InDelta(t, 0.995, res.RunnerUp, 1e-3)
}

func TestMatcherSinglePersonManyShots(t *testing.T) {
	t.Parallel()

	alice := uuid.New()

	// Only one person enrolled: widening must stop once the store is
	// exhausted and the match stands.
	entries := make([]Entry, 0, 40)
	for i := 0; i < 40; i++ {
		entries = append(entries, Entry{EmbeddingID: uuid.New(), PersonID: alice, Embedding: unit(1, 0, 0, 0)})
	}

	m := NewMatcher(buildIndex(t, 4, entries...), 0.75, 0.12)
	res, err := m.Identify(context.Background(), unit(1, 0, 0, 0))
	require.NoError(t, err)

	assert.Equal(t, DecisionMatch, res.Decision)
	assert.Equal(t, alice, res.PersonID)
	assert.Zero(t, res.RunnerUp)
}

func TestMatcherDimensionMismatch(t *testing.T) {
	t.Parallel()

	m := NewMatcher(NewLinearIndex(4), 0.75, 0.12)
	_, err := m.Identify(context.Background(), unit(1, 0, 0))

	var dimErr *DimensionError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 4, dimErr.Want)
	assert.Equal(t, 3, dimErr.Got)
}
