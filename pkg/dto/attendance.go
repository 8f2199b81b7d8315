package dto

import (
	"github.com/google/uuid"

	"github.com/your-org/facerec/internal/models"
)

type AttendanceRecordResponse struct {
	ID              uuid.UUID `json:"id"`
	SubjectKind     string    `json:"subject_kind"`
	SubjectID       uuid.UUID `json:"subject_id"`
	Date            string    `json:"date"`
	Status          string    `json:"status"`
	CheckInAt       string    `json:"check_in_at"`
	CheckOutAt      string    `json:"check_out_at,omitempty"`
	LastSeenAt      string    `json:"last_seen_at"`
	Visits          int       `json:"visits"`
	DurationMinutes int       `json:"duration_minutes"`
	ConfidenceIn    float32   `json:"confidence_in"`
	ConfidenceOut   float32   `json:"confidence_out,omitempty"`
}

// NewAttendanceRecordResponse flattens a record for the wire. Duration is
// derived here so clients never see a stale stored value.
func NewAttendanceRecordResponse(r *models.AttendanceRecord) *AttendanceRecordResponse {
	if r == nil {
		return nil
	}
	resp := &AttendanceRecordResponse{
		ID:              r.ID,
		SubjectKind:     string(r.Subject.Kind),
		SubjectID:       r.Subject.ID,
		Date:            r.Date.Format("2006-01-02"),
		Status:          string(r.ComputeStatus()),
		CheckInAt:       r.CheckInAt.UTC().Format(timeLayout),
		LastSeenAt:      r.LastSeenAt.UTC().Format(timeLayout),
		Visits:          r.Visits,
		DurationMinutes: r.DurationMinutes(),
		ConfidenceIn:    r.ConfidenceIn,
		ConfidenceOut:   r.ConfidenceOut,
	}
	if r.CheckOutAt != nil {
		resp.CheckOutAt = r.CheckOutAt.UTC().Format(timeLayout)
	}
	return resp
}

const timeLayout = "2006-01-02T15:04:05Z"

type DailyAttendanceRow struct {
	Name       string                    `json:"name"`
	ExternalID string                    `json:"external_id,omitempty"`
	Record     *AttendanceRecordResponse `json:"record"`
}

type DailyAttendanceResponse struct {
	Date  string               `json:"date"`
	Rows  []DailyAttendanceRow `json:"rows"`
	Total int                  `json:"total"`
}

type UnknownRow struct {
	Fingerprint FingerprintResponse       `json:"fingerprint"`
	Record      *AttendanceRecordResponse `json:"record,omitempty"`
}

type ToggleRequest struct {
	SubjectKind string    `json:"subject_kind" binding:"required,oneof=person fingerprint"`
	SubjectID   uuid.UUID `json:"subject_id" binding:"required"`
}

type ToggleResponse struct {
	Outcome string                    `json:"outcome"`
	Record  *AttendanceRecordResponse `json:"record"`
}
