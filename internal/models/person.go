package models

import (
	"time"

	"github.com/google/uuid"
)

// Person is an enrolled identity. ExternalID is the stable human-facing
// code (badge number, student id). Immutable after creation except for
// name corrections.
type Person struct {
	ID         uuid.UUID `json:"id" db:"id"`
	ExternalID string    `json:"external_id" db:"external_id"`
	Name       string    `json:"name" db:"name"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// FaceEmbedding is one reference vector for a person. Append-only; never
// mutated. All embeddings in a deployment share one dimension.
type FaceEmbedding struct {
	ID        uuid.UUID `json:"id" db:"id"`
	PersonID  uuid.UUID `json:"person_id" db:"person_id"`
	Embedding []float32 `json:"-" db:"embedding"`
	Quality   float32   `json:"quality" db:"quality"`
	SourceKey string    `json:"source_key" db:"source_key"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
