package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/facerec/internal/match"
	"github.com/your-org/facerec/internal/models"
)

// UpsertPerson creates a person or, when the external id is already
// enrolled, refreshes the name. Enrollment is idempotent per external id.
func (s *PostgresStore) UpsertPerson(ctx context.Context, externalID, name string) (*models.Person, error) {
	p := &models.Person{ExternalID: externalID, Name: name}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO persons (id, external_id, name) VALUES ($1, $2, $3)
		 ON CONFLICT (external_id) DO UPDATE SET name = EXCLUDED.name, updated_at = now()
		 RETURNING id, created_at, updated_at`,
		uuid.New(), externalID, name,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	p := &models.Person{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, external_id, name, created_at, updated_at FROM persons WHERE id = $1`, id,
	).Scan(&p.ID, &p.ExternalID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetPersonByExternalID(ctx context.Context, externalID string) (*models.Person, error) {
	p := &models.Person{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, external_id, name, created_at, updated_at FROM persons WHERE external_id = $1`, externalID,
	).Scan(&p.ID, &p.ExternalID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get person by external id: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPersons(ctx context.Context) ([]models.Person, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, external_id, name, created_at, updated_at FROM persons ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var persons []models.Person
	for rows.Next() {
		var p models.Person
		if err := rows.Scan(&p.ID, &p.ExternalID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, p)
	}
	return persons, nil
}

func (s *PostgresStore) CountEmbeddings(ctx context.Context, personID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM face_embeddings WHERE person_id = $1`, personID,
	).Scan(&count)
	return count, err
}

// AddEmbedding appends one reference embedding for a person. Embeddings
// are never mutated afterwards.
func (s *PostgresStore) AddEmbedding(ctx context.Context, personID uuid.UUID, embedding []float32, quality float32, sourceKey string) (*models.FaceEmbedding, error) {
	fe := &models.FaceEmbedding{
		ID:        uuid.New(),
		PersonID:  personID,
		Embedding: embedding,
		Quality:   quality,
		SourceKey: sourceKey,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO face_embeddings (id, person_id, embedding, quality, source_key)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		fe.ID, fe.PersonID, pgvector.NewVector(embedding), fe.Quality, fe.SourceKey,
	).Scan(&fe.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("add embedding: %w", err)
	}
	return fe, nil
}

// ListAllEmbeddings loads every reference embedding, used to (re)build the
// in-memory index.
func (s *PostgresStore) ListAllEmbeddings(ctx context.Context) ([]match.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, person_id, embedding FROM face_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer rows.Close()

	var entries []match.Entry
	for rows.Next() {
		var e match.Entry
		var vec pgvector.Vector
		if err := rows.Scan(&e.EmbeddingID, &e.PersonID, &vec); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		e.Embedding = vec.Slice()
		entries = append(entries, e)
	}
	return entries, nil
}

// PgIndex adapts pgvector cosine search to the match.Index capability, so
// exact database search and the in-memory approximate index are
// interchangeable without changing matcher logic.
type PgIndex struct {
	store *PostgresStore
	dim   int
}

func (s *PostgresStore) VectorIndex(dim int) *PgIndex {
	return &PgIndex{store: s, dim: dim}
}

func (i *PgIndex) Dimension() int {
	return i.dim
}

func (i *PgIndex) Search(ctx context.Context, query []float32, k int) ([]match.Hit, error) {
	if len(query) != i.dim {
		return nil, &match.DimensionError{Want: i.dim, Got: len(query)}
	}
	if k <= 0 {
		k = 5
	}

	rows, err := i.store.pool.Query(ctx,
		`SELECT id, person_id, 1 - (embedding <=> $1) AS score
		 FROM face_embeddings
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("search embeddings: %w", err)
	}
	defer rows.Close()

	var hits []match.Hit
	for rows.Next() {
		var h match.Hit
		if err := rows.Scan(&h.EmbeddingID, &h.PersonID, &h.Score); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, nil
}

var _ match.Index = (*PgIndex)(nil)
