// Package registry deduplicates unenrolled faces. The first unmatched
// sighting creates a Fingerprint; later sightings of the same face within
// the verify threshold resolve to the existing one instead of minting a
// new provisional identity every frame.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facerec/internal/match"
	"github.com/your-org/facerec/internal/models"
	"github.com/your-org/facerec/internal/observability"
)

// FingerprintMatch is one stored fingerprint scored against a query.
type FingerprintMatch struct {
	Fingerprint models.Fingerprint
	Score       float64
}

// Store is the persistence surface the registry needs.
type Store interface {
	SearchFingerprints(ctx context.Context, query []float32, k int) ([]FingerprintMatch, error)
	CreateFingerprint(ctx context.Context, fp *models.Fingerprint) error
	UpdateFingerprintSighting(ctx context.Context, fp *models.Fingerprint) error
}

// Resolution reports which fingerprint a sighting resolved to and whether
// it was newly registered. ReplacedSnapshotKey carries the previous crop's
// object key when a fresh snapshot superseded it, so the caller can reap
// the orphan.
type Resolution struct {
	Fingerprint         models.Fingerprint
	Created             bool
	Score               float64
	ReplacedSnapshotKey string
}

// Registry resolves unmatched sightings to fingerprints. Resolutions are
// serialized through one writer lock so a burst of frames of the same new
// face cannot create duplicates. Fingerprint matching is top-1 against the
// threshold with no margin rule.
type Registry struct {
	mu              sync.Mutex
	store           Store
	dim             int
	verifyThreshold float64
}

func New(store Store, dim int, verifyThreshold float64) *Registry {
	return &Registry{
		store:           store,
		dim:             dim,
		verifyThreshold: verifyThreshold,
	}
}

// Resolve returns the fingerprint for an unmatched query embedding,
// creating one when no stored fingerprint scores at or above the verify
// threshold. On a hit, the representative vector is refreshed as a running
// centroid over the fingerprint's sightings and renormalized.
func (r *Registry) Resolve(ctx context.Context, query []float32, seenAt time.Time, snapshotKey string) (Resolution, error) {
	if len(query) != r.dim {
		return Resolution{}, &match.DimensionError{Want: r.dim, Got: len(query)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	matches, err := r.store.SearchFingerprints(ctx, query, 1)
	if err != nil {
		return Resolution{}, fmt.Errorf("search fingerprints: %w", err)
	}

	if len(matches) > 0 && matches[0].Score >= r.verifyThreshold {
		fp := matches[0].Fingerprint
		fp.Embedding = centroid(fp.Embedding, query, fp.Sightings)
		fp.Sightings++
		fp.LastSeenAt = seenAt
		var replaced string
		if snapshotKey != "" && snapshotKey != fp.SnapshotKey {
			replaced = fp.SnapshotKey
			fp.SnapshotKey = snapshotKey
		}
		if err := r.store.UpdateFingerprintSighting(ctx, &fp); err != nil {
			return Resolution{}, fmt.Errorf("update fingerprint: %w", err)
		}
		return Resolution{Fingerprint: fp, Score: matches[0].Score, ReplacedSnapshotKey: replaced}, nil
	}

	fp := models.Fingerprint{
		ID:          uuid.New(),
		Embedding:   append([]float32(nil), query...),
		SnapshotKey: snapshotKey,
		Sightings:   1,
		FirstSeenAt: seenAt,
		LastSeenAt:  seenAt,
	}
	if err := r.store.CreateFingerprint(ctx, &fp); err != nil {
		return Resolution{}, fmt.Errorf("create fingerprint: %w", err)
	}

	observability.FingerprintsCreated.Inc()
	slog.Info("registered new fingerprint", "id", fp.ID, "seen_at", seenAt)

	score := 0.0
	if len(matches) > 0 {
		score = matches[0].Score
	}
	return Resolution{Fingerprint: fp, Created: true, Score: score}, nil
}

// centroid folds a new sample into a representative vector that has
// already absorbed n samples, then renormalizes.
func centroid(rep, sample []float32, n int) []float32 {
	if n <= 0 || len(rep) != len(sample) {
		return append([]float32(nil), sample...)
	}
	out := make([]float32, len(rep))
	fn := float32(n)
	for i := range rep {
		out[i] = rep[i]*fn + sample[i]
	}
	match.Normalize(out)
	return out
}
