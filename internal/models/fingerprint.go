package models

import (
	"time"

	"github.com/google/uuid"
)

// Fingerprint is a provisional identity for an unenrolled face, so that
// the same unrecognized person does not spawn a new row every frame.
// Embedding is the representative vector, refreshed as a running centroid
// over the fingerprint's sightings.
type Fingerprint struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Embedding   []float32 `json:"-" db:"embedding"`
	Label       *string   `json:"label,omitempty" db:"label"`
	SnapshotKey string    `json:"snapshot_key,omitempty" db:"snapshot_key"`
	Sightings   int       `json:"sightings" db:"sightings"`
	FirstSeenAt time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at" db:"last_seen_at"`
}
