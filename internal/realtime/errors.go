package realtime

import "errors"

// State errors reported to the single requester only; they never affect
// other connections.
var (
	ErrSessionNotFound         = errors.New("session not found")
	ErrSessionEnded            = errors.New("session has ended")
	ErrSessionNotActive        = errors.New("session is not active")
	ErrSlideNotFound           = errors.New("slide not found")
	ErrSlideNotInPresentation  = errors.New("slide does not belong to this presentation")
	ErrSlideNotInteractive     = errors.New("slide does not accept responses")
	ErrDuplicateResponse       = errors.New("response already submitted for this slide")
	ErrNotAudienceConnection   = errors.New("only audience connections can submit")
	ErrPresentationHasNoSlides = errors.New("presentation has no slides")
)

// EnvelopeForError maps an orchestrator error to its wire form. Unrecognized
// errors become a generic INTERNAL_ERROR with a user-safe message; full
// detail stays in the server logs.
func EnvelopeForError(err error) Envelope {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Envelope()
	}
	var te *InvalidTransitionError
	if errors.As(err, &te) {
		return ErrorEnvelope(CodeInvalidTransition, te.Error())
	}
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return ErrorEnvelope(CodeSessionNotFound, "Session not found")
	case errors.Is(err, ErrSessionEnded):
		return ErrorEnvelope(CodeSessionEnded, "This session has ended")
	case errors.Is(err, ErrSessionNotActive):
		return ErrorEnvelope(CodeSessionNotActive, "Session is not active")
	case errors.Is(err, ErrSlideNotFound), errors.Is(err, ErrSlideNotInPresentation):
		return ErrorEnvelope(CodeSlideNotInPresentation, "Slide does not belong to this presentation")
	case errors.Is(err, ErrSlideNotInteractive):
		return ErrorEnvelope(CodeSlideNotInteractive, "This slide does not accept responses")
	case errors.Is(err, ErrDuplicateResponse):
		return ErrorEnvelope(CodeDuplicateResponse, "You have already responded to this slide")
	case errors.Is(err, ErrNotAudienceConnection):
		return ErrorEnvelope(CodeForbidden, "Only audience members can submit responses")
	default:
		return ErrorEnvelope(CodeInternal, "Something went wrong, please try again")
	}
}
