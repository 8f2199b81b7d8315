package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SubjectKind discriminates the two closed identity variants an attendance
// record can belong to.
type SubjectKind string

const (
	SubjectPerson      SubjectKind = "person"
	SubjectFingerprint SubjectKind = "fingerprint"
)

// SubjectRef is a tagged reference to either an enrolled Person or a
// Fingerprint. The reference on a record never changes after creation.
type SubjectRef struct {
	Kind SubjectKind `json:"kind"`
	ID   uuid.UUID   `json:"id"`
}

func PersonRef(id uuid.UUID) SubjectRef {
	return SubjectRef{Kind: SubjectPerson, ID: id}
}

func FingerprintRef(id uuid.UUID) SubjectRef {
	return SubjectRef{Kind: SubjectFingerprint, ID: id}
}

func (s SubjectRef) Valid() bool {
	return (s.Kind == SubjectPerson || s.Kind == SubjectFingerprint) && s.ID != uuid.Nil
}

func (s SubjectRef) String() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.ID)
}

// AttendanceStatus is a pure function of which timestamps are populated.
type AttendanceStatus string

const (
	StatusCheckedIn  AttendanceStatus = "checked-in"
	StatusCheckedOut AttendanceStatus = "checked-out"
)

// AttendanceRecord is the single row per (subject, date). Date is the
// calendar day in the deployment's timezone, held at midnight UTC for
// storage as a SQL date.
type AttendanceRecord struct {
	ID            uuid.UUID        `json:"id" db:"id"`
	Subject       SubjectRef       `json:"subject"`
	Date          time.Time        `json:"date" db:"date"`
	CheckInAt     time.Time        `json:"check_in_at" db:"check_in_at"`
	CheckOutAt    *time.Time       `json:"check_out_at,omitempty" db:"check_out_at"`
	LastSeenAt    time.Time        `json:"last_seen_at" db:"last_seen_at"`
	Visits        int              `json:"visits" db:"visits"`
	Status        AttendanceStatus `json:"status" db:"status"`
	ConfidenceIn  float32          `json:"confidence_in" db:"confidence_in"`
	ConfidenceOut float32          `json:"confidence_out,omitempty" db:"confidence_out"`
}

// DurationMinutes is derived, never independently settable: whole minutes
// between check-in and check-out, floored at zero. Zero while checked in.
func (r *AttendanceRecord) DurationMinutes() int {
	if r.CheckOutAt == nil {
		return 0
	}
	d := r.CheckOutAt.Sub(r.CheckInAt)
	if d < 0 {
		return 0
	}
	return int(d.Minutes())
}

// ComputeStatus derives the status from the populated timestamps.
func (r *AttendanceRecord) ComputeStatus() AttendanceStatus {
	if r.CheckOutAt != nil {
		return StatusCheckedOut
	}
	return StatusCheckedIn
}

// DateKey formats the record date for lock keys and queries.
func (r *AttendanceRecord) DateKey() string {
	return r.Date.Format("2006-01-02")
}
