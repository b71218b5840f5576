package persistence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore stores documents as JSONB rows (see pkg/database/migrations).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed document store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Upsert replaces the document (collection, id).
func (s *PostgresStore) Upsert(ctx context.Context, collection, id string, doc []byte) error {
	const q = `INSERT INTO documents (collection, id, body, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (collection, id) DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()`
	_, err := s.pool.Exec(ctx, q, collection, id, doc)
	return err
}

// Append inserts an immutable history row.
func (s *PostgresStore) Append(ctx context.Context, collection, id string, doc []byte) error {
	const q = `INSERT INTO document_history (collection, doc_id, body, created_at) VALUES ($1, $2, $3, NOW())`
	_, err := s.pool.Exec(ctx, q, collection, id, doc)
	return err
}

// Get returns the current document body or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, collection, id string) ([]byte, error) {
	const q = `SELECT body FROM documents WHERE collection = $1 AND id = $2`
	var body []byte
	err := s.pool.QueryRow(ctx, q, collection, id).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return body, nil
}
