package slides

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oratify/backend/internal/models"
)

// ErrNotFound is returned when no slide matches the lookup.
var ErrNotFound = errors.New("slide not found")

// Repository handles slide persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a slide repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a slide at the end of the presentation.
func (r *Repository) Create(ctx context.Context, s *models.Slide) error {
	const q = `INSERT INTO slides (presentation_id, slide_type, order_index, content)
		VALUES ($1, $2, COALESCE((SELECT MAX(order_index) + 1 FROM slides WHERE presentation_id = $1), 0), $3)
		RETURNING id, order_index, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, s.PresentationID, s.Type, s.Content).
		Scan(&s.ID, &s.OrderIndex, &s.CreatedAt, &s.UpdatedAt)
}

// GetByID returns a slide by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Slide, error) {
	const q = `SELECT id, presentation_id, slide_type, order_index, content, created_at, updated_at
		FROM slides WHERE id = $1`
	var s models.Slide
	err := r.pool.QueryRow(ctx, q, id).
		Scan(&s.ID, &s.PresentationID, &s.Type, &s.OrderIndex, &s.Content, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListByPresentation returns a presentation's slides in order.
func (r *Repository) ListByPresentation(ctx context.Context, presentationID uuid.UUID) ([]models.Slide, error) {
	const q = `SELECT id, presentation_id, slide_type, order_index, content, created_at, updated_at
		FROM slides WHERE presentation_id = $1 ORDER BY order_index ASC`
	rows, err := r.pool.Query(ctx, q, presentationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Slide
	for rows.Next() {
		var s models.Slide
		if err := rows.Scan(&s.ID, &s.PresentationID, &s.Type, &s.OrderIndex, &s.Content, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// Update replaces a slide's type and content.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, slideType string, content json.RawMessage) error {
	const q = `UPDATE slides SET slide_type = $1, content = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, slideType, content, id)
	return err
}

// Reorder applies a new slide ordering in one transaction. ids must be a
// permutation of the presentation's slides.
func (r *Repository) Reorder(ctx context.Context, presentationID uuid.UUID, ids []uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i, id := range ids {
		tag, err := tx.Exec(ctx,
			`UPDATE slides SET order_index = $1, updated_at = NOW() WHERE id = $2 AND presentation_id = $3`,
			i, id, presentationID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
	}
	return tx.Commit(ctx)
}

// Delete removes a slide and compacts the remaining order indexes.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var presentationID uuid.UUID
	var orderIndex int
	err = tx.QueryRow(ctx,
		`DELETE FROM slides WHERE id = $1 RETURNING presentation_id, order_index`, id).
		Scan(&presentationID, &orderIndex)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE slides SET order_index = order_index - 1 WHERE presentation_id = $1 AND order_index > $2`,
		presentationID, orderIndex); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
