package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/facerec/internal/config"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates tables and indexes if missing. The embedding
// dimension is baked into the column type; changing it is a redeploy, not
// a migration.
func (s *PostgresStore) EnsureSchema(ctx context.Context, dim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS persons (
			id UUID PRIMARY KEY,
			external_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS face_embeddings (
			id UUID PRIMARY KEY,
			person_id UUID NOT NULL REFERENCES persons(id) ON DELETE CASCADE,
			embedding vector(%d) NOT NULL,
			quality REAL NOT NULL DEFAULT 0,
			source_key TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dim),
		`CREATE INDEX IF NOT EXISTS face_embeddings_embedding_idx
			ON face_embeddings USING hnsw (embedding vector_cosine_ops)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS fingerprints (
			id UUID PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			label TEXT,
			snapshot_key TEXT NOT NULL DEFAULT '',
			sightings INT NOT NULL DEFAULT 1,
			first_seen_at TIMESTAMPTZ NOT NULL,
			last_seen_at TIMESTAMPTZ NOT NULL,
			promoted_person_id UUID REFERENCES persons(id)
		)`, dim),
		`CREATE INDEX IF NOT EXISTS fingerprints_embedding_idx
			ON fingerprints USING hnsw (embedding vector_cosine_ops)`,
		`CREATE TABLE IF NOT EXISTS attendance (
			id UUID PRIMARY KEY,
			person_id UUID REFERENCES persons(id),
			fingerprint_id UUID REFERENCES fingerprints(id),
			date DATE NOT NULL,
			check_in_at TIMESTAMPTZ NOT NULL,
			check_out_at TIMESTAMPTZ,
			last_seen_at TIMESTAMPTZ NOT NULL,
			visits INT NOT NULL DEFAULT 1,
			status TEXT NOT NULL,
			confidence_in REAL NOT NULL DEFAULT 0,
			confidence_out REAL NOT NULL DEFAULT 0,
			CHECK ((person_id IS NULL) <> (fingerprint_id IS NULL))
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS attendance_person_date_idx
			ON attendance (person_id, date) WHERE person_id IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS attendance_fingerprint_date_idx
			ON attendance (fingerprint_id, date) WHERE fingerprint_id IS NOT NULL`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
