package models

import (
	"time"

	"github.com/google/uuid"
)

// SightingTask is the message published to NATS for worker processing:
// one embedding seen by a camera at one instant.
type SightingTask struct {
	SightingID uuid.UUID `json:"sighting_id"`
	Source     string    `json:"source"`
	Embedding  []float32 `json:"embedding"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float32   `json:"confidence"`
	// SnapshotRef is a MinIO object key for an already-uploaded face crop;
	// used when the sighting resolves to an unknown.
	SnapshotRef string `json:"snapshot_ref,omitempty"`
}

// AttendanceEvent is the outcome published after a sighting has been run
// through matcher, registry and ledger. Consumed by the API for WebSocket
// broadcast.
type AttendanceEvent struct {
	SightingID  uuid.UUID         `json:"sighting_id"`
	Subject     SubjectRef        `json:"subject"`
	SubjectKind string            `json:"subject_kind"` // enrolled | unknown_known | unknown_new | rejected
	PersonName  string            `json:"person_name,omitempty"`
	Score       float32           `json:"score,omitempty"`
	Outcome     string            `json:"outcome,omitempty"`
	Record      *AttendanceRecord `json:"record,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}
