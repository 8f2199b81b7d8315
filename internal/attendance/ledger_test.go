package attendance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facerec/internal/models"
)

// memStore honors the same contracts as the Postgres store: (subject,
// date) uniqueness on insert and visits-guarded optimistic updates.
type memStore struct {
	mu   sync.Mutex
	recs map[string]models.AttendanceRecord
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]models.AttendanceRecord)}
}

func storeKey(subject models.SubjectRef, date time.Time) string {
	return subject.String() + "@" + date.Format("2006-01-02")
}

func (s *memStore) GetRecord(_ context.Context, subject models.SubjectRef, date time.Time) (*models.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[storeKey(subject, date)]
	if !ok {
		return nil, nil
	}
	cp := rec
	if rec.CheckOutAt != nil {
		out := *rec.CheckOutAt
		cp.CheckOutAt = &out
	}
	return &cp, nil
}

func (s *memStore) InsertRecord(_ context.Context, rec *models.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(rec.Subject, rec.Date)
	if _, ok := s.recs[key]; ok {
		return ErrDuplicateRecord
	}
	s.recs[key] = *rec
	return nil
}

func (s *memStore) UpdateRecord(_ context.Context, rec *models.AttendanceRecord, expectedVisits int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(rec.Subject, rec.Date)
	cur, ok := s.recs[key]
	if !ok || cur.Visits != expectedVisits {
		return ErrUpdateConflict
	}
	s.recs[key] = *rec
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

func newTestLedger(t *testing.T, minDwell time.Duration, tz string) (*Ledger, *memStore) {
	t.Helper()
	loc, err := time.LoadLocation(tz)
	require.NoError(t, err)
	store := newMemStore()
	return NewLedger(store, minDwell, loc), store
}

func TestRecordSightingTransitions(t *testing.T) {
	t.Parallel()

	ledger, _ := newTestLedger(t, 30*time.Second, "UTC")
	subject := models.PersonRef(uuid.New())
	ctx := context.Background()
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	outcome, rec, err := ledger.RecordSighting(ctx, subject, t0, 0.91)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCheckedIn, outcome)
	assert.Equal(t, models.StatusCheckedIn, rec.Status)
	assert.Equal(t, 1, rec.Visits)
	assert.Equal(t, float32(0.91), rec.ConfidenceIn)

	// 5 seconds later: still inside the dwell window.
	outcome, rec, err = ledger.RecordSighting(ctx, subject, t0.Add(5*time.Second), 0.88)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReaffirmed, outcome)
	assert.Equal(t, models.StatusCheckedIn, rec.Status)
	assert.Equal(t, 2, rec.Visits)
	assert.Nil(t, rec.CheckOutAt)

	// End of day: past the dwell window, this is the checkout.
	outcome, rec, err = ledger.RecordSighting(ctx, subject, t0.Add(8*time.Hour), 0.93)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCheckedOut, outcome)
	assert.Equal(t, models.StatusCheckedOut, rec.Status)
	assert.Equal(t, 3, rec.Visits)
	assert.Equal(t, float32(0.93), rec.ConfidenceOut)
	assert.Equal(t, 480, rec.DurationMinutes())

	// Checked out is terminal for the date.
	outcome, rec, err = ledger.RecordSighting(ctx, subject, t0.Add(9*time.Hour), 0.90)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyCheckedOut, outcome)
	assert.Equal(t, models.StatusCheckedOut, rec.Status)
	assert.Equal(t, 4, rec.Visits)
	assert.Equal(t, 480, rec.DurationMinutes(), "checkout time does not move")
}

func TestRecordSightingExactDwellBoundaryChecksOut(t *testing.T) {
	t.Parallel()

	ledger, _ := newTestLedger(t, 30*time.Second, "UTC")
	subject := models.PersonRef(uuid.New())
	ctx := context.Background()
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	_, _, err := ledger.RecordSighting(ctx, subject, t0, 0.9)
	require.NoError(t, err)

	outcome, _, err := ledger.RecordSighting(ctx, subject, t0.Add(30*time.Second), 0.9)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCheckedOut, outcome)
}

func TestRecordSightingRedeliveryIsNoOp(t *testing.T) {
	t.Parallel()

	ledger, _ := newTestLedger(t, 30*time.Second, "UTC")
	subject := models.PersonRef(uuid.New())
	ctx := context.Background()
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	_, first, err := ledger.RecordSighting(ctx, subject, t0, 0.9)
	require.NoError(t, err)

	outcome, rec, err := ledger.RecordSighting(ctx, subject, t0, 0.9)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReaffirmed, outcome)
	assert.Equal(t, first.Visits, rec.Visits, "redelivery must not count as a visit")
	assert.Equal(t, first.LastSeenAt, rec.LastSeenAt)
}

func TestRecordSightingRejectsOutOfOrder(t *testing.T) {
	t.Parallel()

	ledger, _ := newTestLedger(t, 30*time.Second, "UTC")
	subject := models.PersonRef(uuid.New())
	ctx := context.Background()
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	_, _, err := ledger.RecordSighting(ctx, subject, t0, 0.9)
	require.NoError(t, err)

	_, _, err = ledger.RecordSighting(ctx, subject, t0.Add(-time.Minute), 0.9)
	require.ErrorIs(t, err, ErrOutOfOrderSighting)

	// The record is untouched.
	rec, err := ledger.store.GetRecord(ctx, subject, ledger.DateOf(t0))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Visits)
	assert.Equal(t, t0, rec.LastSeenAt)
}

func TestDateOfUsesDeploymentTimezone(t *testing.T) {
	t.Parallel()

	ledger, _ := newTestLedger(t, 30*time.Second, "Europe/Berlin")

	// 23:30 UTC on March 2nd is already March 3rd in Berlin.
	late := time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), ledger.DateOf(late))

	noon := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), ledger.DateOf(noon))
}

func TestMidnightSpanSplitsIntoTwoRecords(t *testing.T) {
	t.Parallel()

	ledger, store := newTestLedger(t, 30*time.Second, "UTC")
	subject := models.PersonRef(uuid.New())
	ctx := context.Background()

	_, _, err := ledger.RecordSighting(ctx, subject, time.Date(2026, 3, 2, 23, 50, 0, 0, time.UTC), 0.9)
	require.NoError(t, err)

	outcome, rec, err := ledger.RecordSighting(ctx, subject, time.Date(2026, 3, 3, 0, 10, 0, 0, time.UTC), 0.9)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCheckedIn, outcome, "new day starts a new record")
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), rec.Date)
	assert.Equal(t, 2, store.count())
}

func TestManualToggleCycle(t *testing.T) {
	t.Parallel()

	ledger, _ := newTestLedger(t, time.Hour, "UTC")
	subject := models.FingerprintRef(uuid.New())
	ctx := context.Background()
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	outcome, rec, err := ledger.ManualToggle(ctx, subject, t0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCheckedIn, outcome)
	assert.Equal(t, 1, rec.Visits)

	// Toggle ignores the dwell window entirely.
	outcome, rec, err = ledger.ManualToggle(ctx, subject, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCheckedOut, outcome)
	require.NotNil(t, rec.CheckOutAt)

	// Reopening clears the checkout.
	outcome, rec, err = ledger.ManualToggle(ctx, subject, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCheckedIn, outcome)
	assert.Nil(t, rec.CheckOutAt)
	assert.Equal(t, models.StatusCheckedIn, rec.Status)
	assert.Equal(t, float32(0), rec.ConfidenceOut)
}

func TestRecordSightingRejectsInvalidSubject(t *testing.T) {
	t.Parallel()

	ledger, _ := newTestLedger(t, time.Second, "UTC")
	_, _, err := ledger.RecordSighting(context.Background(), models.SubjectRef{}, time.Now(), 0.9)
	require.Error(t, err)
}

func TestConcurrentSightingsSingleRecord(t *testing.T) {
	t.Parallel()

	ledger, store := newTestLedger(t, time.Hour, "UTC")
	subject := models.PersonRef(uuid.New())
	ctx := context.Background()
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	const n = 32
	var checkedIn atomic.Int32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			outcome, _, err := ledger.RecordSighting(ctx, subject, ts, 0.9)
			if !assert.NoError(t, err) {
				return
			}
			if outcome == OutcomeCheckedIn {
				checkedIn.Add(1)
			} else {
				assert.Equal(t, OutcomeReaffirmed, outcome)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), checkedIn.Load(), "exactly one check-in")
	assert.Equal(t, 1, store.count(), "exactly one record")

	rec, err := store.GetRecord(ctx, subject, ledger.DateOf(ts))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Visits)
}

func TestConcurrentDistinctTimestampsNoLostIncrements(t *testing.T) {
	t.Parallel()

	ledger, store := newTestLedger(t, time.Hour, "UTC")
	subject := models.PersonRef(uuid.New())
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	// Each goroutine submits a distinct timestamp. Whatever order the lock
	// grants, every applied sighting must increment visits exactly once and
	// every straggler behind last_seen_at must be rejected untouched.
	const n = 32
	var applied, rejected atomic.Int32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, _, err := ledger.RecordSighting(ctx, subject, base.Add(time.Duration(i)*time.Second), 0.9)
			switch {
			case err == nil:
				applied.Add(1)
			case errors.Is(err, ErrOutOfOrderSighting):
				rejected.Add(1)
			default:
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(n), applied.Load()+rejected.Load())
	assert.GreaterOrEqual(t, applied.Load(), int32(1))
	assert.Equal(t, 1, store.count(), "exactly one record")

	rec, err := store.GetRecord(ctx, subject, ledger.DateOf(base))
	require.NoError(t, err)
	assert.Equal(t, int(applied.Load()), rec.Visits)
}
