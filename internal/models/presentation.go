package models

import (
	"time"

	"github.com/google/uuid"
)

// Presentation is a deck owned by a speaker. A presentation can be delivered
// any number of times; each delivery is a Session.
type Presentation struct {
	ID          uuid.UUID `json:"id"`
	SpeakerID   uuid.UUID `json:"speaker_id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
