package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a session.
// Flow: pending -> active -> paused -> ended; ended is terminal.
type SessionStatus string

const (
	StatusPending SessionStatus = "pending"
	StatusActive  SessionStatus = "active"
	StatusPaused  SessionStatus = "paused"
	StatusEnded   SessionStatus = "ended"
)

// Session is one live delivery of a presentation, joined via a 6-character
// code. CurrentSlideID is non-null only while the session is active or paused.
type Session struct {
	ID             uuid.UUID     `json:"id"`
	PresentationID uuid.UUID     `json:"presentation_id"`
	JoinCode       string        `json:"join_code"`
	CurrentSlideID *uuid.UUID    `json:"current_slide_id"`
	Status         SessionStatus `json:"status"`
	StartedAt      *time.Time    `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Terminal reports whether the session can no longer change state.
func (s *Session) Terminal() bool { return s.Status == StatusEnded }
