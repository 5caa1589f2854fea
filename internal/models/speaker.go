package models

import (
	"time"

	"github.com/google/uuid"
)

// Speaker is a registered presenter account.
type Speaker struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name"`
	CreatedAt    time.Time `json:"created_at"`
}

// SpeakerPublic is the speaker representation safe to return to clients.
type SpeakerPublic struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
}

// ToPublic strips credentials from a speaker.
func (s *Speaker) ToPublic() SpeakerPublic {
	return SpeakerPublic{ID: s.ID, Email: s.Email, FullName: s.FullName}
}
