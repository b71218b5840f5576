package profiles

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-remote/backend/internal/models"
)

var ErrProfileNotFound = errors.New("profile not found")

// Repository reads user profiles from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a profile repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByUserID returns the stored profile of a user.
func (r *Repository) GetByUserID(ctx context.Context, userID string) (models.Profile, error) {
	const q = `SELECT full_name, email, COALESCE(avatar_url, '') FROM user_profiles WHERE user_id = $1`
	var p models.Profile
	err := r.pool.QueryRow(ctx, q, userID).Scan(&p.Name, &p.Email, &p.Avatar)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Profile{}, ErrProfileNotFound
		}
		return models.Profile{}, err
	}
	return p, nil
}
