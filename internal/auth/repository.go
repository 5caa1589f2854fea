package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oratify/backend/internal/models"
)

// ErrNotFound is returned when no speaker matches the lookup.
var ErrNotFound = errors.New("speaker not found")

// Repository handles speaker persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a speaker repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new speaker.
func (r *Repository) Create(ctx context.Context, s *models.Speaker) error {
	const q = `INSERT INTO speakers (email, password_hash, full_name)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, s.Email, s.PasswordHash, s.FullName).Scan(&s.ID, &s.CreatedAt)
}

// GetByEmail returns a speaker by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Speaker, error) {
	const q = `SELECT id, email, password_hash, full_name, created_at FROM speakers WHERE email = $1`
	return r.scan(r.pool.QueryRow(ctx, q, email))
}

// GetByID returns a speaker by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Speaker, error) {
	const q = `SELECT id, email, password_hash, full_name, created_at FROM speakers WHERE id = $1`
	return r.scan(r.pool.QueryRow(ctx, q, id))
}

func (r *Repository) scan(row pgx.Row) (*models.Speaker, error) {
	var s models.Speaker
	err := row.Scan(&s.ID, &s.Email, &s.PasswordHash, &s.FullName, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
