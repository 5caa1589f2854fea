package realtime

import (
	"fmt"

	"github.com/oratify/backend/internal/models"
)

// InvalidTransitionError reports a rejected session lifecycle transition.
// The rejection is local to the triggering call; other participants are
// unaffected.
type InvalidTransitionError struct {
	From models.SessionStatus
	To   models.SessionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid session transition from %s to %s", e.From, e.To)
}

// transitions is the complete lifecycle table. ended is terminal.
var transitions = map[models.SessionStatus][]models.SessionStatus{
	models.StatusPending: {models.StatusActive},
	models.StatusActive:  {models.StatusPaused, models.StatusEnded},
	models.StatusPaused:  {models.StatusActive, models.StatusEnded},
	models.StatusEnded:   {},
}

// ValidateTransition checks that from -> to is a legal lifecycle move.
func ValidateTransition(from, to models.SessionStatus) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &InvalidTransitionError{From: from, To: to}
}

// CanAcceptResponses reports whether audience input is allowed in the given
// state. Submissions while pending, paused, or ended are rejected.
func CanAcceptResponses(status models.SessionStatus) bool {
	return status == models.StatusActive
}

// SlideVisible reports whether a current slide must be set in this state.
// current_slide_id is non-null iff the session is active or paused.
func SlideVisible(status models.SessionStatus) bool {
	return status == models.StatusActive || status == models.StatusPaused
}
