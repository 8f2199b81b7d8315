package dto

import (
	"time"

	"github.com/google/uuid"
)

type SightingRequest struct {
	Source      string    `json:"source"`
	Embedding   []float32 `json:"embedding" binding:"required"`
	Timestamp   time.Time `json:"timestamp"`
	Confidence  float32   `json:"confidence"`
	// Snapshot carries an optional base64-encoded crop of the face.
	Snapshot    []byte `json:"snapshot,omitempty"`
	SnapshotRef string `json:"snapshot_ref,omitempty"`
}

type SightingResponse struct {
	SightingID  uuid.UUID                 `json:"sighting_id"`
	SubjectKind string                    `json:"subject_kind"`
	SubjectID   *uuid.UUID                `json:"subject_id,omitempty"`
	PersonName  string                    `json:"person_name,omitempty"`
	Score       float64                   `json:"score"`
	Outcome     string                    `json:"outcome,omitempty"`
	Record      *AttendanceRecordResponse `json:"record,omitempty"`
}
