package match

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Decision classifies an identification attempt. Ambiguous is a distinct
// outcome from both a confident match and no match: two enrolled identities
// scored too close to call, so the sighting is surfaced for audit instead
// of being silently attributed to either.
type Decision string

const (
	DecisionMatch     Decision = "match"
	DecisionAmbiguous Decision = "ambiguous"
	DecisionNoMatch   Decision = "no_match"
)

// Result is the outcome of open-set identification.
type Result struct {
	Decision Decision
	PersonID uuid.UUID
	// Score is the best per-person similarity (max over that person's
	// embeddings). RunnerUp is the second-best person's score, 0 when only
	// one candidate exists.
	Score    float64
	RunnerUp float64
}

// candidateK is the initial window of raw embedding hits per query. One
// person with many near-duplicate enrollment shots can fill it and hide
// the true runner-up, so Identify widens the search until a second person
// is represented or the store is exhausted.
const candidateK = 16

// Matcher implements threshold-plus-margin open-set identification over an
// Index. A bare top-1 threshold is not enough: a wrong-but-above-threshold
// match can coexist with the true match, so near-ties are rejected.
type Matcher struct {
	index           Index
	verifyThreshold float64
	identifyMargin  float64
}

func distinctPersons(hits []Hit) int {
	seen := make(map[uuid.UUID]struct{}, len(hits))
	for _, h := range hits {
		seen[h.PersonID] = struct{}{}
	}
	return len(seen)
}

func NewMatcher(index Index, verifyThreshold, identifyMargin float64) *Matcher {
	return &Matcher{
		index:           index,
		verifyThreshold: verifyThreshold,
		identifyMargin:  identifyMargin,
	}
}

// Identify classifies a query embedding against the enrolled population.
// An empty index always yields DecisionNoMatch. A dimension mismatch is a
// *DimensionError and must not be retried.
func (m *Matcher) Identify(ctx context.Context, query []float32) (Result, error) {
	if len(query) != m.index.Dimension() {
		return Result{}, &DimensionError{Want: m.index.Dimension(), Got: len(query)}
	}

	// Widen the candidate window until at least two distinct persons are
	// in it or the whole store has been scanned. Append-only enrollment
	// means one person's shots can crowd out the runner-up the margin rule
	// needs to see.
	var hits []Hit
	for k := candidateK; ; k *= 4 {
		var err error
		hits, err = m.index.Search(ctx, query, k)
		if err != nil {
			return Result{}, fmt.Errorf("search embeddings: %w", err)
		}
		if len(hits) < k || distinctPersons(hits) > 1 {
			break
		}
	}
	if len(hits) == 0 {
		return Result{Decision: DecisionNoMatch}, nil
	}

	// Aggregate per person: score = max similarity over the person's
	// embeddings (multi-shot enrollment tolerance).
	byPerson := make(map[uuid.UUID]float64, len(hits))
	for _, h := range hits {
		if s, ok := byPerson[h.PersonID]; !ok || h.Score > s {
			byPerson[h.PersonID] = h.Score
		}
	}

	type ranked struct {
		id    uuid.UUID
		score float64
	}
	persons := make([]ranked, 0, len(byPerson))
	for id, s := range byPerson {
		persons = append(persons, ranked{id, s})
	}
	sort.Slice(persons, func(i, j int) bool { return persons[i].score > persons[j].score })

	best := persons[0]
	second := 0.0
	if len(persons) > 1 {
		second = persons[1].score
	}

	switch {
	case best.score < m.verifyThreshold:
		return Result{Decision: DecisionNoMatch, Score: best.score, RunnerUp: second}, nil
	case len(persons) > 1 && best.score-second < m.identifyMargin:
		return Result{Decision: DecisionAmbiguous, Score: best.score, RunnerUp: second}, nil
	default:
		return Result{Decision: DecisionMatch, PersonID: best.id, Score: best.score, RunnerUp: second}, nil
	}
}
