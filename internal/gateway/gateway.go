// Package gateway drives the sighting pipeline: identify the embedding,
// resolve unknowns to fingerprints, and feed the attendance ledger. It is
// the single entry point for camera sightings whether they arrive over
// HTTP or from the queue.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facerec/internal/attendance"
	"github.com/your-org/facerec/internal/match"
	"github.com/your-org/facerec/internal/models"
	"github.com/your-org/facerec/internal/observability"
	"github.com/your-org/facerec/internal/registry"
)

// Subject kinds reported to callers.
const (
	KindEnrolled     = "enrolled"
	KindUnknownKnown = "unknown_known"
	KindUnknownNew   = "unknown_new"
	KindRejected     = "rejected"
)

// Sighting is one observation from the capture pipeline.
type Sighting struct {
	ID         uuid.UUID
	Source     string
	Embedding  []float32
	Timestamp  time.Time
	Confidence float32
	// Snapshot holds raw JPEG bytes to upload when the sighting turns out
	// to be an unknown; SnapshotRef points at an already-stored object.
	Snapshot    []byte
	SnapshotRef string
}

// Result reports how a sighting was classified and what the ledger did.
type Result struct {
	Kind       string
	Subject    models.SubjectRef
	PersonName string
	Score      float64
	Outcome    attendance.Outcome
	Record     *models.AttendanceRecord
}

// PersonDirectory resolves enrolled person details for results.
type PersonDirectory interface {
	GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error)
}

// SnapshotSink stores face crops for unknown sightings. Optional.
type SnapshotSink interface {
	PutSnapshot(ctx context.Context, prefix string, data []byte, contentType string) (string, error)
	DeleteObject(ctx context.Context, key string) error
}

// EventPublisher fans attendance outcomes out to listeners. Optional.
type EventPublisher interface {
	PublishEvent(ctx context.Context, kind string, data interface{}) error
}

type Gateway struct {
	matcher   *match.Matcher
	registry  *registry.Registry
	ledger    *attendance.Ledger
	persons   PersonDirectory
	snapshots SnapshotSink
	events    EventPublisher
}

func New(matcher *match.Matcher, reg *registry.Registry, ledger *attendance.Ledger, persons PersonDirectory) *Gateway {
	return &Gateway{
		matcher:  matcher,
		registry: reg,
		ledger:   ledger,
		persons:  persons,
	}
}

// WithSnapshots enables snapshot upload for unknown sightings.
func (g *Gateway) WithSnapshots(sink SnapshotSink) *Gateway {
	g.snapshots = sink
	return g
}

// WithEvents enables outcome publication.
func (g *Gateway) WithEvents(pub EventPublisher) *Gateway {
	g.events = pub
	return g
}

// ProcessSighting runs one sighting through matcher → registry → ledger.
// Identification happens before any per-subject lock is taken; it only
// reads shared state. An ambiguous match is not an error: it is returned
// as a rejected result, audited, and produces no attendance event.
func (g *Gateway) ProcessSighting(ctx context.Context, s Sighting) (Result, error) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}

	start := time.Now()
	ident, err := g.matcher.Identify(ctx, s.Embedding)
	observability.PipelineDuration.WithLabelValues("identify").Observe(time.Since(start).Seconds())
	if err != nil {
		return Result{}, err
	}

	switch ident.Decision {
	case match.DecisionAmbiguous:
		observability.AmbiguousMatches.Inc()
		observability.SightingsProcessed.WithLabelValues(KindRejected).Inc()
		slog.Warn("ambiguous match rejected",
			"sighting", s.ID, "source", s.Source,
			"best", ident.Score, "runner_up", ident.RunnerUp)
		g.publish(ctx, models.AttendanceEvent{
			SightingID:  s.ID,
			SubjectKind: KindRejected,
			Score:       float32(ident.Score),
			Timestamp:   s.Timestamp,
		})
		return Result{Kind: KindRejected, Score: ident.Score}, nil

	case match.DecisionMatch:
		return g.recordEnrolled(ctx, s, ident)

	default:
		return g.recordUnknown(ctx, s, ident)
	}
}

func (g *Gateway) recordEnrolled(ctx context.Context, s Sighting, ident match.Result) (Result, error) {
	subject := models.PersonRef(ident.PersonID)

	start := time.Now()
	outcome, rec, err := g.ledger.RecordSighting(ctx, subject, s.Timestamp, float32(ident.Score))
	observability.PipelineDuration.WithLabelValues("ledger").Observe(time.Since(start).Seconds())
	if err != nil {
		return Result{}, err
	}

	name := ""
	if p, err := g.persons.GetPerson(ctx, ident.PersonID); err == nil && p != nil {
		name = p.Name
	}

	observability.SightingsProcessed.WithLabelValues(KindEnrolled).Inc()
	g.publish(ctx, models.AttendanceEvent{
		SightingID:  s.ID,
		Subject:     subject,
		SubjectKind: KindEnrolled,
		PersonName:  name,
		Score:       float32(ident.Score),
		Outcome:     string(outcome),
		Record:      rec,
		Timestamp:   s.Timestamp,
	})

	return Result{
		Kind:       KindEnrolled,
		Subject:    subject,
		PersonName: name,
		Score:      ident.Score,
		Outcome:    outcome,
		Record:     rec,
	}, nil
}

func (g *Gateway) recordUnknown(ctx context.Context, s Sighting, ident match.Result) (Result, error) {
	snapshotKey := s.SnapshotRef
	if snapshotKey == "" && len(s.Snapshot) > 0 && g.snapshots != nil {
		key, err := g.snapshots.PutSnapshot(ctx, "unknowns", s.Snapshot, "image/jpeg")
		if err != nil {
			// Snapshot loss must not drop the sighting itself.
			slog.Warn("store unknown snapshot", "error", err, "sighting", s.ID)
		} else {
			snapshotKey = key
		}
	}

	start := time.Now()
	res, err := g.registry.Resolve(ctx, s.Embedding, s.Timestamp, snapshotKey)
	observability.PipelineDuration.WithLabelValues("resolve_unknown").Observe(time.Since(start).Seconds())
	if err != nil {
		return Result{}, fmt.Errorf("resolve unknown: %w", err)
	}

	if res.ReplacedSnapshotKey != "" && g.snapshots != nil {
		// Reap the superseded crop; the row now points at the new one.
		if err := g.snapshots.DeleteObject(ctx, res.ReplacedSnapshotKey); err != nil {
			slog.Warn("delete replaced snapshot", "error", err, "key", res.ReplacedSnapshotKey)
		}
	}

	kind := KindUnknownKnown
	conf := float32(res.Score)
	if res.Created {
		kind = KindUnknownNew
		conf = s.Confidence
	}
	subject := models.FingerprintRef(res.Fingerprint.ID)

	start = time.Now()
	outcome, rec, err := g.ledger.RecordSighting(ctx, subject, s.Timestamp, conf)
	observability.PipelineDuration.WithLabelValues("ledger").Observe(time.Since(start).Seconds())
	if err != nil {
		return Result{}, err
	}

	observability.SightingsProcessed.WithLabelValues(kind).Inc()
	g.publish(ctx, models.AttendanceEvent{
		SightingID:  s.ID,
		Subject:     subject,
		SubjectKind: kind,
		Score:       float32(res.Score),
		Outcome:     string(outcome),
		Record:      rec,
		Timestamp:   s.Timestamp,
	})

	return Result{
		Kind:    kind,
		Subject: subject,
		Score:   res.Score,
		Outcome: outcome,
		Record:  rec,
	}, nil
}

// ManualToggle is the operator correction path, published like any other
// outcome so dashboards stay live.
func (g *Gateway) ManualToggle(ctx context.Context, subject models.SubjectRef) (attendance.Outcome, *models.AttendanceRecord, error) {
	now := time.Now().UTC()
	outcome, rec, err := g.ledger.ManualToggle(ctx, subject, now)
	if err != nil {
		return "", nil, err
	}

	kind := KindEnrolled
	name := ""
	if subject.Kind == models.SubjectFingerprint {
		kind = KindUnknownKnown
	} else if p, perr := g.persons.GetPerson(ctx, subject.ID); perr == nil && p != nil {
		name = p.Name
	}

	g.publish(ctx, models.AttendanceEvent{
		SightingID:  uuid.New(),
		Subject:     subject,
		SubjectKind: kind,
		PersonName:  name,
		Outcome:     string(outcome),
		Record:      rec,
		Timestamp:   now,
	})
	return outcome, rec, nil
}

func (g *Gateway) publish(ctx context.Context, ev models.AttendanceEvent) {
	if g.events == nil {
		return
	}
	if err := g.events.PublishEvent(ctx, ev.SubjectKind, ev); err != nil {
		slog.Error("publish attendance event", "error", err, "sighting", ev.SightingID)
	}
}
