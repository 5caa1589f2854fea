package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant is a durable audience identity within a session. It outlives
// any single connection: a reconnecting audience member gets a fresh
// connection but keeps the participant row.
type Participant struct {
	ID           uuid.UUID  `json:"id"`
	SessionID    uuid.UUID  `json:"session_id"`
	DisplayName  *string    `json:"display_name"`
	ConnectionID *string    `json:"-"`
	IsAnonymous  bool       `json:"is_anonymous"`
	JoinedAt     time.Time  `json:"joined_at"`
	LeftAt       *time.Time `json:"left_at"`
}

// Name returns the display name, or "Anonymous" when none was given.
func (p *Participant) Name() string {
	if p.DisplayName == nil || *p.DisplayName == "" {
		return "Anonymous"
	}
	return *p.DisplayName
}
