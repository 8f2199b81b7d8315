package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/facerec/internal/models"
	"github.com/your-org/facerec/internal/registry"
)

// SearchFingerprints returns the closest stored fingerprints to a query
// embedding, best first.
func (s *PostgresStore) SearchFingerprints(ctx context.Context, query []float32, k int) ([]registry.FingerprintMatch, error) {
	if k <= 0 {
		k = 1
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, embedding, label, snapshot_key, sightings, first_seen_at, last_seen_at,
		        1 - (embedding <=> $1) AS score
		 FROM fingerprints
		 WHERE promoted_person_id IS NULL
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("search fingerprints: %w", err)
	}
	defer rows.Close()

	var matches []registry.FingerprintMatch
	for rows.Next() {
		var m registry.FingerprintMatch
		var vec pgvector.Vector
		if err := rows.Scan(&m.Fingerprint.ID, &vec, &m.Fingerprint.Label,
			&m.Fingerprint.SnapshotKey, &m.Fingerprint.Sightings,
			&m.Fingerprint.FirstSeenAt, &m.Fingerprint.LastSeenAt, &m.Score); err != nil {
			return nil, fmt.Errorf("scan fingerprint match: %w", err)
		}
		m.Fingerprint.Embedding = vec.Slice()
		matches = append(matches, m)
	}
	return matches, nil
}

func (s *PostgresStore) CreateFingerprint(ctx context.Context, fp *models.Fingerprint) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fingerprints (id, embedding, label, snapshot_key, sightings, first_seen_at, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		fp.ID, pgvector.NewVector(fp.Embedding), fp.Label, fp.SnapshotKey,
		fp.Sightings, fp.FirstSeenAt, fp.LastSeenAt)
	if err != nil {
		return fmt.Errorf("create fingerprint: %w", err)
	}
	return nil
}

// UpdateFingerprintSighting refreshes the representative vector, counters
// and snapshot after a repeat sighting.
func (s *PostgresStore) UpdateFingerprintSighting(ctx context.Context, fp *models.Fingerprint) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE fingerprints
		 SET embedding = $2, sightings = $3, last_seen_at = $4, snapshot_key = $5
		 WHERE id = $1`,
		fp.ID, pgvector.NewVector(fp.Embedding), fp.Sightings, fp.LastSeenAt, fp.SnapshotKey)
	if err != nil {
		return fmt.Errorf("update fingerprint: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFingerprint(ctx context.Context, id uuid.UUID) (*models.Fingerprint, error) {
	fp := &models.Fingerprint{}
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT id, embedding, label, snapshot_key, sightings, first_seen_at, last_seen_at
		 FROM fingerprints WHERE id = $1`, id,
	).Scan(&fp.ID, &vec, &fp.Label, &fp.SnapshotKey, &fp.Sightings, &fp.FirstSeenAt, &fp.LastSeenAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get fingerprint: %w", err)
	}
	fp.Embedding = vec.Slice()
	return fp, nil
}

// SetFingerprintLabel records a human-assigned name for an unknown. The
// label is informational; the fingerprint stays an unknown identity until
// promoted.
func (s *PostgresStore) SetFingerprintLabel(ctx context.Context, id uuid.UUID, label string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fingerprints SET label = $2 WHERE id = $1`, id, label)
	if err != nil {
		return fmt.Errorf("set fingerprint label: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fingerprint not found")
	}
	return nil
}

// PromoteFingerprint ties a fingerprint to an enrolled person and retires
// it from unknown matching. History stays attached to the fingerprint.
func (s *PostgresStore) PromoteFingerprint(ctx context.Context, id, personID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fingerprints SET promoted_person_id = $2
		 WHERE id = $1 AND promoted_person_id IS NULL`, id, personID)
	if err != nil {
		return fmt.Errorf("promote fingerprint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fingerprint not found or already promoted")
	}
	return nil
}

var _ registry.Store = (*PostgresStore)(nil)
