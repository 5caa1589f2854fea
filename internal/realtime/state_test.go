package realtime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oratify/backend/internal/models"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name string
		from models.SessionStatus
		to   models.SessionStatus
		ok   bool
	}{
		{"start", models.StatusPending, models.StatusActive, true},
		{"pause", models.StatusActive, models.StatusPaused, true},
		{"resume", models.StatusPaused, models.StatusActive, true},
		{"end from active", models.StatusActive, models.StatusEnded, true},
		{"end from paused", models.StatusPaused, models.StatusEnded, true},
		{"pause while pending", models.StatusPending, models.StatusPaused, false},
		{"end while pending", models.StatusPending, models.StatusEnded, false},
		{"restart ended", models.StatusEnded, models.StatusActive, false},
		{"pause ended", models.StatusEnded, models.StatusPaused, false},
		{"self transition", models.StatusActive, models.StatusActive, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var te *InvalidTransitionError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.from, te.From)
			assert.Equal(t, tt.to, te.To)
		})
	}
}

func TestCanAcceptResponses(t *testing.T) {
	assert.True(t, CanAcceptResponses(models.StatusActive))
	assert.False(t, CanAcceptResponses(models.StatusPending))
	assert.False(t, CanAcceptResponses(models.StatusPaused))
	assert.False(t, CanAcceptResponses(models.StatusEnded))
}

func TestSlideVisible(t *testing.T) {
	assert.True(t, SlideVisible(models.StatusActive))
	assert.True(t, SlideVisible(models.StatusPaused))
	assert.False(t, SlideVisible(models.StatusPending))
	assert.False(t, SlideVisible(models.StatusEnded))
}

func TestEnvelopeForError_Unrecognized(t *testing.T) {
	env := EnvelopeForError(errors.New("connection reset by peer"))
	payload := decodeErrorPayload(t, env)
	assert.Equal(t, CodeInternal, payload.Code)
	assert.NotContains(t, payload.Message, "connection reset")
}
