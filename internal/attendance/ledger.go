// Package attendance converts a stream of possibly-repeated sightings of
// one subject into exactly one check-in and one check-out per calendar
// day, race-free under concurrent arrivals.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facerec/internal/models"
	"github.com/your-org/facerec/internal/observability"
)

// Outcome of applying one sighting to a subject-date record.
type Outcome string

const (
	OutcomeCheckedIn         Outcome = "checked_in"
	OutcomeCheckedOut        Outcome = "checked_out"
	OutcomeReaffirmed        Outcome = "reaffirmed"
	OutcomeAlreadyCheckedOut Outcome = "already_checked_out"
)

var (
	// ErrOutOfOrderSighting rejects a timestamp behind the record's
	// last_seen_at; clock skew or replay must not corrupt duration math.
	ErrOutOfOrderSighting = errors.New("sighting timestamp earlier than last seen for subject-date")
	// ErrUpdateConflict is returned by stores when a record changed under
	// an optimistic update. The ledger retries a bounded number of times.
	ErrUpdateConflict = errors.New("concurrent attendance update conflict")
	// ErrDuplicateRecord is returned by stores when an insert hits the
	// (subject, date) uniqueness constraint.
	ErrDuplicateRecord = errors.New("attendance record already exists for subject-date")
)

// maxAttempts bounds internal retries on storage conflicts before the
// failure is surfaced as transient.
const maxAttempts = 3

// Store is the single-record read-modify-write surface the ledger runs on.
// GetRecord returns (nil, nil) when no record exists for the subject-date.
type Store interface {
	GetRecord(ctx context.Context, subject models.SubjectRef, date time.Time) (*models.AttendanceRecord, error)
	InsertRecord(ctx context.Context, rec *models.AttendanceRecord) error
	UpdateRecord(ctx context.Context, rec *models.AttendanceRecord, expectedVisits int) error
}

// Ledger is the attendance state machine: NoRecord → CheckedIn →
// CheckedOut per (subject, date), CheckedOut terminal for camera
// sightings. Transitions are evaluated under an exclusive per-key lock;
// different subjects proceed fully in parallel.
type Ledger struct {
	store    Store
	minDwell time.Duration
	loc      *time.Location
	locks    *lockRegistry
}

func NewLedger(store Store, minDwell time.Duration, loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{
		store:    store,
		minDwell: minDwell,
		loc:      loc,
		locks:    newLockRegistry(),
	}
}

// DateOf maps a sighting timestamp to its calendar day in the deployment
// zone, held at midnight UTC for storage as a SQL date.
func (l *Ledger) DateOf(ts time.Time) time.Time {
	y, m, d := ts.In(l.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func lockKey(subject models.SubjectRef, date time.Time) string {
	return subject.String() + "@" + date.Format("2006-01-02")
}

// RecordSighting applies one sighting. Rules, atomic per (subject, date):
//   - no record: create with check_in_at = ts → CheckedIn
//   - checked in, ts-check_in ≥ MinDwell: set check_out_at = ts → CheckedOut
//   - checked in, within MinDwell: refresh last_seen, visits++ → Reaffirmed
//   - checked out: refresh last_seen, visits++ → AlreadyCheckedOut
//
// A timestamp equal to last_seen_at is a redelivery and is a no-op, which
// makes retried submissions idempotent. A strictly earlier timestamp is
// rejected with ErrOutOfOrderSighting and leaves the record unchanged.
func (l *Ledger) RecordSighting(ctx context.Context, subject models.SubjectRef, ts time.Time, confidence float32) (Outcome, *models.AttendanceRecord, error) {
	if !subject.Valid() {
		return "", nil, fmt.Errorf("invalid subject ref %v", subject)
	}

	date := l.DateOf(ts)
	key := lockKey(subject, date)
	kl := l.locks.acquire(key)
	defer l.locks.release(key, kl)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		outcome, rec, err := l.applySighting(ctx, subject, date, ts, confidence)
		if err == nil {
			observability.AttendanceTransitions.WithLabelValues(string(outcome)).Inc()
			return outcome, rec, nil
		}
		if !errors.Is(err, ErrUpdateConflict) && !errors.Is(err, ErrDuplicateRecord) {
			return "", nil, err
		}
		lastErr = err
	}
	return "", nil, fmt.Errorf("attendance update contention for %s: %w", key, lastErr)
}

func (l *Ledger) applySighting(ctx context.Context, subject models.SubjectRef, date, ts time.Time, confidence float32) (Outcome, *models.AttendanceRecord, error) {
	rec, err := l.store.GetRecord(ctx, subject, date)
	if err != nil {
		return "", nil, fmt.Errorf("get attendance record: %w", err)
	}

	if rec == nil {
		rec = &models.AttendanceRecord{
			ID:           uuid.New(),
			Subject:      subject,
			Date:         date,
			CheckInAt:    ts,
			LastSeenAt:   ts,
			Visits:       1,
			Status:       models.StatusCheckedIn,
			ConfidenceIn: confidence,
		}
		if err := l.store.InsertRecord(ctx, rec); err != nil {
			return "", nil, err
		}
		return OutcomeCheckedIn, rec, nil
	}

	if ts.Before(rec.LastSeenAt) {
		observability.OutOfOrderSightings.Inc()
		return "", nil, fmt.Errorf("%w: %s < %s", ErrOutOfOrderSighting,
			ts.Format(time.RFC3339), rec.LastSeenAt.Format(time.RFC3339))
	}
	if ts.Equal(rec.LastSeenAt) {
		// Redelivery of an already-applied sighting.
		if rec.Status == models.StatusCheckedOut {
			return OutcomeAlreadyCheckedOut, rec, nil
		}
		return OutcomeReaffirmed, rec, nil
	}

	expected := rec.Visits
	var outcome Outcome

	switch {
	case rec.Status == models.StatusCheckedIn && ts.Sub(rec.CheckInAt) >= l.minDwell:
		out := ts
		rec.CheckOutAt = &out
		rec.Status = models.StatusCheckedOut
		rec.ConfidenceOut = confidence
		outcome = OutcomeCheckedOut
	case rec.Status == models.StatusCheckedIn:
		// Same pass-through still within the dwell window.
		outcome = OutcomeReaffirmed
	default:
		// Re-entry after checkout only refreshes presence; CheckedOut is
		// terminal for the date.
		outcome = OutcomeAlreadyCheckedOut
	}

	rec.LastSeenAt = ts
	rec.Visits++

	if err := l.store.UpdateRecord(ctx, rec, expected); err != nil {
		return "", nil, err
	}
	return outcome, rec, nil
}

// ManualToggle is the operator correction path: the same state machine
// with a forced transition and no MinDwell debounce. CheckedIn becomes
// CheckedOut; NoRecord or CheckedOut becomes CheckedIn (reopening clears
// check_out_at).
func (l *Ledger) ManualToggle(ctx context.Context, subject models.SubjectRef, ts time.Time) (Outcome, *models.AttendanceRecord, error) {
	if !subject.Valid() {
		return "", nil, fmt.Errorf("invalid subject ref %v", subject)
	}

	date := l.DateOf(ts)
	key := lockKey(subject, date)
	kl := l.locks.acquire(key)
	defer l.locks.release(key, kl)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		outcome, rec, err := l.applyToggle(ctx, subject, date, ts)
		if err == nil {
			observability.AttendanceTransitions.WithLabelValues(string(outcome)).Inc()
			return outcome, rec, nil
		}
		if !errors.Is(err, ErrUpdateConflict) && !errors.Is(err, ErrDuplicateRecord) {
			return "", nil, err
		}
		lastErr = err
	}
	return "", nil, fmt.Errorf("attendance update contention for %s: %w", key, lastErr)
}

func (l *Ledger) applyToggle(ctx context.Context, subject models.SubjectRef, date, ts time.Time) (Outcome, *models.AttendanceRecord, error) {
	rec, err := l.store.GetRecord(ctx, subject, date)
	if err != nil {
		return "", nil, fmt.Errorf("get attendance record: %w", err)
	}

	if rec == nil {
		rec = &models.AttendanceRecord{
			ID:         uuid.New(),
			Subject:    subject,
			Date:       date,
			CheckInAt:  ts,
			LastSeenAt: ts,
			Visits:     1,
			Status:     models.StatusCheckedIn,
		}
		if err := l.store.InsertRecord(ctx, rec); err != nil {
			return "", nil, err
		}
		return OutcomeCheckedIn, rec, nil
	}

	expected := rec.Visits
	var outcome Outcome

	if rec.Status == models.StatusCheckedIn {
		out := ts
		rec.CheckOutAt = &out
		rec.Status = models.StatusCheckedOut
		outcome = OutcomeCheckedOut
	} else {
		rec.CheckInAt = ts
		rec.CheckOutAt = nil
		rec.ConfidenceOut = 0
		rec.Status = models.StatusCheckedIn
		outcome = OutcomeCheckedIn
	}

	rec.LastSeenAt = ts
	rec.Visits++

	if err := l.store.UpdateRecord(ctx, rec, expected); err != nil {
		return "", nil, err
	}
	return outcome, rec, nil
}
