package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/your-org/facerec/internal/attendance"
	"github.com/your-org/facerec/internal/models"
)

const uniqueViolation = "23505"

const attendanceColumns = `id, person_id, fingerprint_id, date, check_in_at, check_out_at,
	last_seen_at, visits, status, confidence_in, confidence_out`

func subjectColumns(subject models.SubjectRef) (personID, fingerprintID *uuid.UUID) {
	switch subject.Kind {
	case models.SubjectPerson:
		personID = &subject.ID
	case models.SubjectFingerprint:
		fingerprintID = &subject.ID
	}
	return
}

func scanRecord(row pgx.Row) (*models.AttendanceRecord, error) {
	rec := &models.AttendanceRecord{}
	var personID, fingerprintID *uuid.UUID
	err := row.Scan(&rec.ID, &personID, &fingerprintID, &rec.Date,
		&rec.CheckInAt, &rec.CheckOutAt, &rec.LastSeenAt,
		&rec.Visits, &rec.Status, &rec.ConfidenceIn, &rec.ConfidenceOut)
	if err != nil {
		return nil, err
	}
	switch {
	case personID != nil:
		rec.Subject = models.PersonRef(*personID)
	case fingerprintID != nil:
		rec.Subject = models.FingerprintRef(*fingerprintID)
	}
	return rec, nil
}

// GetRecord returns the single record for a subject-date, or nil when the
// subject has not been seen that day.
func (s *PostgresStore) GetRecord(ctx context.Context, subject models.SubjectRef, date time.Time) (*models.AttendanceRecord, error) {
	personID, fingerprintID := subjectColumns(subject)
	row := s.pool.QueryRow(ctx,
		`SELECT `+attendanceColumns+` FROM attendance
		 WHERE date = $1
		   AND (($2::uuid IS NOT NULL AND person_id = $2) OR ($3::uuid IS NOT NULL AND fingerprint_id = $3))`,
		date, personID, fingerprintID)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get attendance record: %w", err)
	}
	return rec, nil
}

// InsertRecord creates the day's record. The partial unique indexes on
// (person_id, date) and (fingerprint_id, date) turn races into
// attendance.ErrDuplicateRecord for the ledger to retry.
func (s *PostgresStore) InsertRecord(ctx context.Context, rec *models.AttendanceRecord) error {
	personID, fingerprintID := subjectColumns(rec.Subject)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO attendance (id, person_id, fingerprint_id, date, check_in_at, check_out_at,
		                         last_seen_at, visits, status, confidence_in, confidence_out)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, personID, fingerprintID, rec.Date, rec.CheckInAt, rec.CheckOutAt,
		rec.LastSeenAt, rec.Visits, rec.Status, rec.ConfidenceIn, rec.ConfidenceOut)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return attendance.ErrDuplicateRecord
		}
		return fmt.Errorf("insert attendance record: %w", err)
	}
	return nil
}

// UpdateRecord writes the record back guarded by the visits count it was
// read with; a stale write reports attendance.ErrUpdateConflict.
func (s *PostgresStore) UpdateRecord(ctx context.Context, rec *models.AttendanceRecord, expectedVisits int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE attendance
		 SET check_in_at = $2, check_out_at = $3, last_seen_at = $4, visits = $5,
		     status = $6, confidence_in = $7, confidence_out = $8
		 WHERE id = $1 AND visits = $9`,
		rec.ID, rec.CheckInAt, rec.CheckOutAt, rec.LastSeenAt, rec.Visits,
		rec.Status, rec.ConfidenceIn, rec.ConfidenceOut, expectedVisits)
	if err != nil {
		return fmt.Errorf("update attendance record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return attendance.ErrUpdateConflict
	}
	return nil
}

// DailySummary is one attendance row joined with its subject for the
// dashboard read path.
type DailySummary struct {
	Record     models.AttendanceRecord
	Name       string
	ExternalID string
}

func (s *PostgresStore) ListDaily(ctx context.Context, date time.Time) ([]DailySummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.id, a.person_id, a.fingerprint_id, a.date, a.check_in_at, a.check_out_at,
		        a.last_seen_at, a.visits, a.status, a.confidence_in, a.confidence_out,
		        COALESCE(p.name, f.label, ''), COALESCE(p.external_id, '')
		 FROM attendance a
		 LEFT JOIN persons p ON p.id = a.person_id
		 LEFT JOIN fingerprints f ON f.id = a.fingerprint_id
		 WHERE a.date = $1
		 ORDER BY a.check_in_at`,
		date)
	if err != nil {
		return nil, fmt.Errorf("list daily attendance: %w", err)
	}
	defer rows.Close()

	var out []DailySummary
	for rows.Next() {
		var d DailySummary
		var personID, fingerprintID *uuid.UUID
		if err := rows.Scan(&d.Record.ID, &personID, &fingerprintID, &d.Record.Date,
			&d.Record.CheckInAt, &d.Record.CheckOutAt, &d.Record.LastSeenAt,
			&d.Record.Visits, &d.Record.Status, &d.Record.ConfidenceIn, &d.Record.ConfidenceOut,
			&d.Name, &d.ExternalID); err != nil {
			return nil, fmt.Errorf("scan daily attendance: %w", err)
		}
		switch {
		case personID != nil:
			d.Record.Subject = models.PersonRef(*personID)
		case fingerprintID != nil:
			d.Record.Subject = models.FingerprintRef(*fingerprintID)
		}
		out = append(out, d)
	}
	return out, nil
}

// UnknownDay pairs a fingerprint with its attendance record for one date.
type UnknownDay struct {
	Fingerprint models.Fingerprint
	Record      models.AttendanceRecord
}

func (s *PostgresStore) ListUnknowns(ctx context.Context, date time.Time) ([]UnknownDay, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT f.id, f.label, f.snapshot_key, f.sightings, f.first_seen_at, f.last_seen_at,
		        a.id, a.date, a.check_in_at, a.check_out_at, a.last_seen_at, a.visits,
		        a.status, a.confidence_in, a.confidence_out
		 FROM attendance a
		 JOIN fingerprints f ON f.id = a.fingerprint_id
		 WHERE a.date = $1 AND f.promoted_person_id IS NULL
		 ORDER BY a.check_in_at`,
		date)
	if err != nil {
		return nil, fmt.Errorf("list unknowns: %w", err)
	}
	defer rows.Close()

	var out []UnknownDay
	for rows.Next() {
		var u UnknownDay
		if err := rows.Scan(&u.Fingerprint.ID, &u.Fingerprint.Label, &u.Fingerprint.SnapshotKey,
			&u.Fingerprint.Sightings, &u.Fingerprint.FirstSeenAt, &u.Fingerprint.LastSeenAt,
			&u.Record.ID, &u.Record.Date, &u.Record.CheckInAt, &u.Record.CheckOutAt,
			&u.Record.LastSeenAt, &u.Record.Visits, &u.Record.Status,
			&u.Record.ConfidenceIn, &u.Record.ConfidenceOut); err != nil {
			return nil, fmt.Errorf("scan unknown: %w", err)
		}
		u.Record.Subject = models.FingerprintRef(u.Fingerprint.ID)
		out = append(out, u)
	}
	return out, nil
}

var _ attendance.Store = (*PostgresStore)(nil)
