package dto

import "github.com/google/uuid"

type EnrollPersonRequest struct {
	ExternalID string `json:"external_id" binding:"required"`
	Name       string `json:"name" binding:"required"`
	// Embedding may be supplied directly by a capture device that runs its
	// own encoder; enrollment photos use the multipart form instead.
	Embedding []float32 `json:"embedding,omitempty"`
}

type PersonResponse struct {
	ID             uuid.UUID `json:"id"`
	ExternalID     string    `json:"external_id"`
	Name           string    `json:"name"`
	EmbeddingCount int       `json:"embedding_count"`
	CreatedAt      string    `json:"created_at"`
}

type AddEmbeddingRequest struct {
	Embedding []float32 `json:"embedding" binding:"required"`
	Quality   float32   `json:"quality"`
}

type EmbeddingResponse struct {
	ID        uuid.UUID `json:"id"`
	PersonID  uuid.UUID `json:"person_id"`
	Quality   float32   `json:"quality"`
	SourceKey string    `json:"source_key,omitempty"`
	CreatedAt string    `json:"created_at"`
}

type LabelFingerprintRequest struct {
	Label string `json:"label" binding:"required"`
}

// PromoteFingerprintRequest enrolls a fingerprint's accumulated identity as
// a real person.
type PromoteFingerprintRequest struct {
	ExternalID string `json:"external_id" binding:"required"`
	Name       string `json:"name" binding:"required"`
}

type FingerprintResponse struct {
	ID          uuid.UUID `json:"id"`
	Label       string    `json:"label,omitempty"`
	Sightings   int       `json:"sightings"`
	FirstSeenAt string    `json:"first_seen_at"`
	LastSeenAt  string    `json:"last_seen_at"`
	SnapshotKey string    `json:"snapshot_key,omitempty"`
}
