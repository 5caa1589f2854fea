package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oratify/backend/internal/models"
)

// MessageType identifies a protocol message.
type MessageType string

// Server -> client message types.
const (
	TypeSessionState      MessageType = "session_state"
	TypeSlideChanged      MessageType = "slide_changed"
	TypeParticipantJoined MessageType = "participant_joined"
	TypeParticipantLeft   MessageType = "participant_left"
	TypeParticipantCount  MessageType = "participant_count"
	TypeSessionStarted    MessageType = "session_started"
	TypeSessionPaused     MessageType = "session_paused"
	TypeSessionResumed    MessageType = "session_resumed"
	TypeSessionEnded      MessageType = "session_ended"
	TypeResponseSubmitted MessageType = "response_submitted"
	TypeVoteUpdate        MessageType = "vote_update"
	TypeQuestionAsked     MessageType = "question_asked"
	TypeAIResponse        MessageType = "ai_response"
	TypeError             MessageType = "error"
	TypePong              MessageType = "pong"
)

// Client -> server message types.
const (
	TypeAuthenticate   MessageType = "authenticate"
	TypeJoin           MessageType = "join"
	TypeSubmitResponse MessageType = "submit_response"
	TypeAskQuestion    MessageType = "ask_question"
	TypePing           MessageType = "ping"
)

// Error codes carried in error envelopes.
const (
	CodeParseError              = "PARSE_ERROR"
	CodeUnknownType             = "UNKNOWN_TYPE"
	CodeValidationError         = "VALIDATION_ERROR"
	CodeInvalidTransition       = "INVALID_TRANSITION"
	CodeSessionNotActive        = "SESSION_NOT_ACTIVE"
	CodeSessionNotFound         = "SESSION_NOT_FOUND"
	CodeSessionEnded            = "SESSION_ENDED"
	CodeSlideNotInPresentation  = "SLIDE_NOT_IN_PRESENTATION"
	CodeSlideNotInteractive     = "SLIDE_NOT_INTERACTIVE"
	CodeDuplicateResponse       = "DUPLICATE_RESPONSE"
	CodeAuthRequired            = "AUTH_REQUIRED"
	CodeInvalidToken            = "INVALID_TOKEN"
	CodeForbidden               = "FORBIDDEN"
	CodeSpeakerAlreadyConnected = "SPEAKER_ALREADY_CONNECTED"
	CodeInternal                = "INTERNAL_ERROR"
)

// WebSocket close codes. Clients suppress reconnection on the terminal ones
// (session not found, session ended) since retrying cannot succeed.
const (
	CloseAuthFailed              = 4001
	CloseSpeakerAlreadyConnected = 4002
	CloseSessionEnded            = 4003
	CloseSessionNotFound         = 4004
)

// Envelope is the unit of wire communication in both directions. The server
// stamps Timestamp on dispatch; timestamps on incoming messages are ignored.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// NewEnvelope builds an outgoing envelope, marshaling the payload and
// stamping the current time. A nil payload yields an envelope with no body.
func NewEnvelope(t MessageType, payload any) Envelope {
	env := Envelope{Type: t, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			env.Payload = data
		}
	}
	return env
}

// ErrorEnvelope builds an error envelope with the given code and message.
func ErrorEnvelope(code, message string) Envelope {
	return NewEnvelope(TypeError, ErrorPayload{Code: code, Message: message})
}

// SlideInfo is the slide representation embedded in protocol messages.
type SlideInfo struct {
	ID         string          `json:"id"`
	OrderIndex int             `json:"order_index"`
	Type       string          `json:"type"`
	Content    json.RawMessage `json:"content"`
}

// NewSlideInfo converts a slide model into its wire representation.
func NewSlideInfo(s *models.Slide) *SlideInfo {
	if s == nil {
		return nil
	}
	content := s.Content
	if len(content) == 0 {
		content = json.RawMessage("{}")
	}
	return &SlideInfo{
		ID:         s.ID.String(),
		OrderIndex: s.OrderIndex,
		Type:       s.Type,
		Content:    content,
	}
}

// SessionStatePayload is the full snapshot sent on join and on reconnect
// resync. Clients replace local state wholesale with it.
type SessionStatePayload struct {
	SessionID         string     `json:"session_id"`
	JoinCode          string     `json:"join_code"`
	Status            string     `json:"status"`
	PresentationTitle string     `json:"presentation_title"`
	CurrentSlide      *SlideInfo `json:"current_slide"`
	TotalSlides       int        `json:"total_slides"`
	ParticipantCount  int        `json:"participant_count"`
}

// SlideChangedPayload announces the new current slide.
type SlideChangedPayload struct {
	Slide      *SlideInfo `json:"slide"`
	SlideIndex int        `json:"slide_index"`
}

// ParticipantJoinedPayload is sent to the speaker when an audience member joins.
type ParticipantJoinedPayload struct {
	ParticipantID    string  `json:"participant_id"`
	DisplayName      *string `json:"display_name"`
	IsAnonymous      bool    `json:"is_anonymous"`
	ParticipantCount int     `json:"participant_count"`
}

// ParticipantLeftPayload is sent to the speaker when an audience member leaves.
type ParticipantLeftPayload struct {
	ParticipantID    string `json:"participant_id"`
	ParticipantCount int    `json:"participant_count"`
}

// ParticipantCountPayload carries the debounced audience counter.
type ParticipantCountPayload struct {
	ParticipantCount int `json:"participant_count"`
}

// SessionStartedPayload announces the transition to active.
type SessionStartedPayload struct {
	StartedAt    string     `json:"started_at"`
	CurrentSlide *SlideInfo `json:"current_slide"`
}

// SessionEndedPayload announces the terminal transition.
type SessionEndedPayload struct {
	EndedAt string `json:"ended_at"`
}

// ResponseSubmittedPayload notifies the speaker of a new audience response.
type ResponseSubmittedPayload struct {
	ResponseID    string          `json:"response_id"`
	SlideID       string          `json:"slide_id"`
	ParticipantID *string         `json:"participant_id"`
	DisplayName   *string         `json:"display_name"`
	Content       json.RawMessage `json:"content"`
	CreatedAt     string          `json:"created_at"`
}

// VoteOption is one option's running tally inside a vote_update.
type VoteOption struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// VoteUpdatePayload carries the coalesced tally for a choice slide.
type VoteUpdatePayload struct {
	SlideID    string       `json:"slide_id"`
	Options    []VoteOption `json:"options"`
	TotalVotes int          `json:"total_votes"`
}

// QuestionAskedPayload notifies the speaker of an audience question.
type QuestionAskedPayload struct {
	QuestionID    string  `json:"question_id"`
	SlideID       string  `json:"slide_id"`
	ParticipantID *string `json:"participant_id"`
	DisplayName   *string `json:"display_name"`
	QuestionText  string  `json:"question_text"`
	CreatedAt     string  `json:"created_at"`
}

// AIResponsePayload delivers an AI answer to the participant who asked.
type AIResponsePayload struct {
	QuestionID   string `json:"question_id"`
	SlideID      string `json:"slide_id"`
	QuestionText string `json:"question_text"`
	ResponseText string `json:"response_text"`
}

// ErrorPayload is the body of an error envelope. Field holds the offending
// payload field path for validation errors.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// PongPayload answers a protocol-level ping.
type PongPayload struct {
	Timestamp string `json:"timestamp"`
}

// AuthenticatePayload is the speaker's first message: a bearer token.
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// JoinPayload is the audience's first message.
type JoinPayload struct {
	DisplayName *string `json:"display_name"`
}

// SubmitResponsePayload carries an answer to the current slide.
type SubmitResponsePayload struct {
	SlideID string          `json:"slide_id"`
	Content json.RawMessage `json:"content"`
}

// AskQuestionPayload carries an audience question about a slide.
type AskQuestionPayload struct {
	SlideID      string `json:"slide_id"`
	QuestionText string `json:"question_text"`
}

// ProtocolError is a boundary validation failure, answered with an error
// envelope; it never closes the connection.
type ProtocolError struct {
	Code    string
	Message string
	Field   string
}

func (e *ProtocolError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Envelope converts the error into its wire form.
func (e *ProtocolError) Envelope() Envelope {
	return NewEnvelope(TypeError, ErrorPayload{Code: e.Code, Message: e.Message, Field: e.Field})
}

func validationError(field, message string) *ProtocolError {
	return &ProtocolError{Code: CodeValidationError, Message: message, Field: field}
}

// DecodeEnvelope parses raw bytes into an envelope. Malformed JSON yields a
// PARSE_ERROR protocol error.
func DecodeEnvelope(data []byte) (Envelope, *ProtocolError) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &ProtocolError{Code: CodeParseError, Message: "invalid JSON message"}
	}
	if env.Type == "" {
		return Envelope{}, validationError("type", "type is required")
	}
	return env, nil
}

// DecodeClientPayload validates an incoming envelope and returns its typed
// payload. Unknown types yield UNKNOWN_TYPE; schema violations yield
// VALIDATION_ERROR with a field path. Handlers downstream never re-check
// payload shape.
func DecodeClientPayload(env Envelope) (any, *ProtocolError) {
	switch env.Type {
	case TypeAuthenticate:
		var p AuthenticatePayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.Token == "" {
			return nil, validationError("payload.token", "token is required")
		}
		return p, nil

	case TypeJoin:
		var p JoinPayload
		if len(env.Payload) > 0 {
			if err := unmarshalPayload(env, &p); err != nil {
				return nil, err
			}
		}
		return p, nil

	case TypeSubmitResponse:
		var p SubmitResponsePayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if _, err := uuid.Parse(p.SlideID); err != nil {
			return nil, validationError("payload.slide_id", "slide_id must be a valid UUID")
		}
		if len(p.Content) == 0 {
			return nil, validationError("payload.content", "content is required")
		}
		return p, nil

	case TypeAskQuestion:
		var p AskQuestionPayload
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if _, err := uuid.Parse(p.SlideID); err != nil {
			return nil, validationError("payload.slide_id", "slide_id must be a valid UUID")
		}
		if p.QuestionText == "" {
			return nil, validationError("payload.question_text", "question_text is required")
		}
		return p, nil

	case TypePing:
		return nil, nil

	default:
		return nil, &ProtocolError{
			Code:    CodeUnknownType,
			Message: fmt.Sprintf("unknown message type %q", env.Type),
		}
	}
}

func unmarshalPayload(env Envelope, dst any) *ProtocolError {
	if len(env.Payload) == 0 {
		return validationError("payload", "payload is required")
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return validationError("payload", "payload does not match the expected schema")
	}
	return nil
}
