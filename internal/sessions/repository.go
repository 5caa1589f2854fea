package sessions

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oratify/backend/internal/models"
	"github.com/oratify/backend/internal/realtime"
)

// Join codes skip ambiguous characters (I, L, O, 0, 1) so they survive being
// read aloud or copied from a projected screen.
const (
	joinCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	joinCodeLength   = 6
	joinCodeAttempts = 10
)

// Repository handles session, participant, and response persistence. It
// implements the store interface the realtime engine consumes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new pending session with a freshly generated join code.
// Code collisions with other live sessions are retried.
func (r *Repository) Create(ctx context.Context, presentationID uuid.UUID) (*models.Session, error) {
	const q = `INSERT INTO sessions (presentation_id, join_code, status)
		VALUES ($1, $2, 'pending')
		RETURNING id, created_at`
	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		code, err := generateJoinCode()
		if err != nil {
			return nil, err
		}
		s := &models.Session{
			PresentationID: presentationID,
			JoinCode:       code,
			Status:         models.StatusPending,
		}
		err = r.pool.QueryRow(ctx, q, presentationID, code).Scan(&s.ID, &s.CreatedAt)
		if err == nil {
			return s, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("could not allocate a unique join code after %d attempts", joinCodeAttempts)
}

// GetSession returns a session by ID.
func (r *Repository) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	const q = `SELECT id, presentation_id, join_code, status, current_slide_id, started_at, ended_at, created_at
		FROM sessions WHERE id = $1`
	return r.scanSession(r.pool.QueryRow(ctx, q, sessionID))
}

// GetSessionByJoinCode returns the session holding a join code. Ended
// sessions release their codes for reuse, so a live session wins over an
// ended one that carried the same code; with no live match the most recent
// ended session is returned, letting callers tell "this session has ended"
// apart from "no such code".
func (r *Repository) GetSessionByJoinCode(ctx context.Context, joinCode string) (*models.Session, error) {
	const q = `SELECT id, presentation_id, join_code, status, current_slide_id, started_at, ended_at, created_at
		FROM sessions WHERE join_code = $1
		ORDER BY (status = 'ended'), created_at DESC
		LIMIT 1`
	return r.scanSession(r.pool.QueryRow(ctx, q, joinCode))
}

// ListFilter narrows and pages a session listing.
type ListFilter struct {
	Status models.SessionStatus // empty means all statuses
	Limit  int
	Offset int
}

// ListByPresentation returns a presentation's sessions, newest first,
// optionally filtered by status.
func (r *Repository) ListByPresentation(ctx context.Context, presentationID uuid.UUID, filter ListFilter) ([]models.Session, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	q := `SELECT id, presentation_id, join_code, status, current_slide_id, started_at, ended_at, created_at
		FROM sessions WHERE presentation_id = $1`
	args := []any{presentationID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, filter.Limit, filter.Offset)
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Session
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(&s.ID, &s.PresentationID, &s.JoinCode, &s.Status, &s.CurrentSlideID, &s.StartedAt, &s.EndedAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// UpdateSessionStatus persists a session's lifecycle fields.
func (r *Repository) UpdateSessionStatus(ctx context.Context, session *models.Session) error {
	const q = `UPDATE sessions
		SET status = $1, current_slide_id = $2, started_at = $3, ended_at = $4
		WHERE id = $5`
	_, err := r.pool.Exec(ctx, q, session.Status, session.CurrentSlideID, session.StartedAt, session.EndedAt, session.ID)
	return err
}

// UpdateCurrentSlide moves the session's slide pointer.
func (r *Repository) UpdateCurrentSlide(ctx context.Context, sessionID, slideID uuid.UUID) error {
	const q = `UPDATE sessions SET current_slide_id = $1 WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, slideID, sessionID)
	return err
}

// GetPresentation returns a presentation by ID.
func (r *Repository) GetPresentation(ctx context.Context, presentationID uuid.UUID) (*models.Presentation, error) {
	const q = `SELECT id, speaker_id, title, slug, description, created_at, updated_at
		FROM presentations WHERE id = $1`
	var p models.Presentation
	err := r.pool.QueryRow(ctx, q, presentationID).
		Scan(&p.ID, &p.SpeakerID, &p.Title, &p.Slug, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, realtime.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetSlide returns a slide by ID.
func (r *Repository) GetSlide(ctx context.Context, slideID uuid.UUID) (*models.Slide, error) {
	const q = `SELECT id, presentation_id, slide_type, order_index, content, created_at, updated_at
		FROM slides WHERE id = $1`
	return r.scanSlide(r.pool.QueryRow(ctx, q, slideID))
}

// GetFirstSlide returns the lowest-indexed slide of a presentation.
func (r *Repository) GetFirstSlide(ctx context.Context, presentationID uuid.UUID) (*models.Slide, error) {
	const q = `SELECT id, presentation_id, slide_type, order_index, content, created_at, updated_at
		FROM slides WHERE presentation_id = $1 ORDER BY order_index ASC LIMIT 1`
	return r.scanSlide(r.pool.QueryRow(ctx, q, presentationID))
}

// CountSlides returns the number of slides in a presentation.
func (r *Repository) CountSlides(ctx context.Context, presentationID uuid.UUID) (int, error) {
	const q = `SELECT COUNT(*) FROM slides WHERE presentation_id = $1`
	var n int
	err := r.pool.QueryRow(ctx, q, presentationID).Scan(&n)
	return n, err
}

// CreateParticipant inserts a participant row for a new audience connection.
func (r *Repository) CreateParticipant(ctx context.Context, p *models.Participant) error {
	const q = `INSERT INTO participants (session_id, display_name, connection_id, is_anonymous)
		VALUES ($1, $2, $3, $4)
		RETURNING id, joined_at`
	return r.pool.QueryRow(ctx, q, p.SessionID, p.DisplayName, p.ConnectionID, p.IsAnonymous).
		Scan(&p.ID, &p.JoinedAt)
}

// MarkParticipantLeft stamps left_at for a disconnected participant.
func (r *Repository) MarkParticipantLeft(ctx context.Context, participantID uuid.UUID) error {
	const q = `UPDATE participants SET left_at = NOW() WHERE id = $1 AND left_at IS NULL`
	_, err := r.pool.Exec(ctx, q, participantID)
	return err
}

// CreateResponse inserts a response row. A second answer for the same
// (session, slide, participant) hits the partial unique index and surfaces
// as a duplicate, never as a second row.
func (r *Repository) CreateResponse(ctx context.Context, resp *models.Response) error {
	const q = `INSERT INTO responses (session_id, slide_id, participant_id, content, is_ai_response)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, q, resp.SessionID, resp.SlideID, resp.ParticipantID, resp.Content, resp.IsAIResponse).
		Scan(&resp.ID, &resp.CreatedAt)
	if isUniqueViolation(err) {
		return realtime.ErrDuplicateResponse
	}
	return err
}

// ListResponses returns a session's responses for a slide, oldest first.
func (r *Repository) ListResponses(ctx context.Context, sessionID, slideID uuid.UUID) ([]models.Response, error) {
	const q = `SELECT id, session_id, slide_id, participant_id, content, is_ai_response, created_at
		FROM responses WHERE session_id = $1 AND slide_id = $2 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, q, sessionID, slideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Response
	for rows.Next() {
		var resp models.Response
		if err := rows.Scan(&resp.ID, &resp.SessionID, &resp.SlideID, &resp.ParticipantID, &resp.Content, &resp.IsAIResponse, &resp.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, resp)
	}
	return list, rows.Err()
}

// LoadVoteCounts recounts a choice slide's tally from the stored responses.
// Used to rebuild the in-memory aggregate after a restart.
func (r *Repository) LoadVoteCounts(ctx context.Context, sessionID, slideID uuid.UUID) (map[string]int, int, error) {
	const q = `SELECT opt, COUNT(*)
		FROM responses, jsonb_array_elements_text(content->'selected_ids') AS opt
		WHERE session_id = $1 AND slide_id = $2 AND content->>'type' = 'choice'
		GROUP BY opt`
	rows, err := r.pool.Query(ctx, q, sessionID, slideID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var opt string
		var n int
		if err := rows.Scan(&opt, &n); err != nil {
			return nil, 0, err
		}
		counts[opt] = n
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	const qt = `SELECT COUNT(*) FROM responses
		WHERE session_id = $1 AND slide_id = $2 AND content->>'type' = 'choice'`
	var total int
	if err := r.pool.QueryRow(ctx, qt, sessionID, slideID).Scan(&total); err != nil {
		return nil, 0, err
	}
	return counts, total, nil
}

// Statistics summarizes a session for the speaker dashboard.
type Statistics struct {
	SessionID        uuid.UUID `json:"session_id"`
	ParticipantCount int       `json:"participant_count"`
	ResponseCount    int       `json:"response_count"`
	QuestionCount    int       `json:"question_count"`
}

// GetStatistics returns participation totals for a session.
func (r *Repository) GetStatistics(ctx context.Context, sessionID uuid.UUID) (*Statistics, error) {
	const q = `SELECT
		(SELECT COUNT(*) FROM participants WHERE session_id = $1),
		(SELECT COUNT(*) FROM responses WHERE session_id = $1 AND content->>'type' IN ('text', 'choice')),
		(SELECT COUNT(*) FROM responses WHERE session_id = $1 AND content->>'type' = 'question')`
	stats := &Statistics{SessionID: sessionID}
	err := r.pool.QueryRow(ctx, q, sessionID).
		Scan(&stats.ParticipantCount, &stats.ResponseCount, &stats.QuestionCount)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// CleanupExpired ends sessions that have been live longer than maxAge. Run
// periodically by the background worker.
func (r *Repository) CleanupExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	const q = `UPDATE sessions
		SET status = 'ended', ended_at = NOW(), current_slide_id = NULL
		WHERE status IN ('active', 'paused') AND started_at < NOW() - $1::interval`
	tag, err := r.pool.Exec(ctx, q, fmt.Sprintf("%d seconds", int(maxAge.Seconds())))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repository) scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.PresentationID, &s.JoinCode, &s.Status, &s.CurrentSlideID, &s.StartedAt, &s.EndedAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, realtime.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) scanSlide(row pgx.Row) (*models.Slide, error) {
	var s models.Slide
	err := row.Scan(&s.ID, &s.PresentationID, &s.Type, &s.OrderIndex, &s.Content, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, realtime.ErrSlideNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func generateJoinCode() (string, error) {
	code := make([]byte, joinCodeLength)
	max := big.NewInt(int64(len(joinCodeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = joinCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
