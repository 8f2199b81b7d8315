package registry

import (
	"context"
	"errors"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facerec/internal/match"
	"github.com/your-org/facerec/internal/models"
)

type memStore struct {
	fps []models.Fingerprint
}

func (s *memStore) SearchFingerprints(_ context.Context, query []float32, k int) ([]FingerprintMatch, error) {
	matches := make([]FingerprintMatch, 0, len(s.fps))
	for _, fp := range s.fps {
		matches = append(matches, FingerprintMatch{
			Fingerprint: fp,
			Score:       match.Similarity(query, fp.Embedding),
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *memStore) CreateFingerprint(_ context.Context, fp *models.Fingerprint) error {
	s.fps = append(s.fps, *fp)
	return nil
}

func (s *memStore) UpdateFingerprintSighting(_ context.Context, fp *models.Fingerprint) error {
	for i := range s.fps {
		if s.fps[i].ID == fp.ID {
			s.fps[i] = *fp
			return nil
		}
	}
	return errors.New("fingerprint not found")
}

func unit(vals ...float32) []float32 {
	v := append([]float32(nil), vals...)
	match.Normalize(v)
	return v
}

func TestResolveCreatesOnFirstSighting(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	reg := New(store, 4, 0.75)
	seen := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	res, err := reg.Resolve(context.Background(), unit(1, 0, 0, 0), seen, "unknowns/a.jpg")
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, 1, res.Fingerprint.Sightings)
	assert.Equal(t, seen, res.Fingerprint.FirstSeenAt)
	assert.Equal(t, seen, res.Fingerprint.LastSeenAt)
	assert.Equal(t, "unknowns/a.jpg", res.Fingerprint.SnapshotKey)
	require.Len(t, store.fps, 1)
}

func TestResolveDeduplicatesRepeatSightings(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	reg := New(store, 4, 0.75)
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	first, err := reg.Resolve(context.Background(), unit(1, 0, 0, 0), t0, "unknowns/a.jpg")
	require.NoError(t, err)
	require.True(t, first.Created)

	// Same face a minute later, slightly different shot.
	second, err := reg.Resolve(context.Background(), unit(0.99, 0.05, 0, 0), t0.Add(time.Minute), "unknowns/b.jpg")
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.Fingerprint.ID, second.Fingerprint.ID)
	assert.Equal(t, 2, second.Fingerprint.Sightings)
	assert.Equal(t, t0, second.Fingerprint.FirstSeenAt)
	assert.Equal(t, t0.Add(time.Minute), second.Fingerprint.LastSeenAt)
	assert.Equal(t, "unknowns/b.jpg", second.Fingerprint.SnapshotKey)
	assert.Equal(t, "unknowns/a.jpg", second.ReplacedSnapshotKey)
	assert.Greater(t, second.Score, 0.75)
	require.Len(t, store.fps, 1, "no duplicate fingerprint for the same face")
}

func TestResolveCentroidStaysNormalized(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	reg := New(store, 4, 0.75)
	t0 := time.Now().UTC()

	_, err := reg.Resolve(context.Background(), unit(1, 0, 0, 0), t0, "")
	require.NoError(t, err)
	res, err := reg.Resolve(context.Background(), unit(0.98, 0.1, 0, 0), t0.Add(time.Second), "")
	require.NoError(t, err)
	require.False(t, res.Created)

	var norm float64
	for _, x := range res.Fingerprint.Embedding {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)

	// The representative drifts toward the mean of both shots.
	assert.Greater(t, res.Fingerprint.Embedding[1], float32(0))
}

func TestResolveDistinctFaceCreatesNewFingerprint(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	reg := New(store, 4, 0.75)
	t0 := time.Now().UTC()

	_, err := reg.Resolve(context.Background(), unit(1, 0, 0, 0), t0, "")
	require.NoError(t, err)

	res, err := reg.Resolve(context.Background(), unit(0, 1, 0, 0), t0.Add(time.Minute), "")
	require.NoError(t, err)

	assert.True(t, res.Created)
	require.Len(t, store.fps, 2)
}

func TestResolveRejectsWrongDimension(t *testing.T) {
	t.Parallel()

	reg := New(&memStore{}, 4, 0.75)
	_, err := reg.Resolve(context.Background(), unit(1, 0, 0), time.Now(), "")

	var dimErr *match.DimensionError
	require.ErrorAs(t, err, &dimErr)
}
