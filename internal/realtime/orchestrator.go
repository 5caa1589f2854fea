package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oratify/backend/internal/models"
)

// Store is the narrow persistence interface the engine consumes. The
// relational schema behind it is owned by the sessions repository.
type Store interface {
	GetSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)
	GetSessionByJoinCode(ctx context.Context, joinCode string) (*models.Session, error)
	GetPresentation(ctx context.Context, presentationID uuid.UUID) (*models.Presentation, error)
	GetSlide(ctx context.Context, slideID uuid.UUID) (*models.Slide, error)
	GetFirstSlide(ctx context.Context, presentationID uuid.UUID) (*models.Slide, error)
	CountSlides(ctx context.Context, presentationID uuid.UUID) (int, error)
	UpdateSessionStatus(ctx context.Context, session *models.Session) error
	UpdateCurrentSlide(ctx context.Context, sessionID, slideID uuid.UUID) error
	CreateParticipant(ctx context.Context, p *models.Participant) error
	MarkParticipantLeft(ctx context.Context, participantID uuid.UUID) error
	CreateResponse(ctx context.Context, r *models.Response) error
	LoadVoteCounts(ctx context.Context, sessionID, slideID uuid.UUID) (map[string]int, int, error)
}

// AnswerRequest is a question handed to the AI answering pipeline. The
// answer comes back as a personal ai_response to ConnectionID.
type AnswerRequest struct {
	SessionID    uuid.UUID `json:"session_id"`
	QuestionID   uuid.UUID `json:"question_id"`
	SlideID      uuid.UUID `json:"slide_id"`
	ConnectionID string    `json:"connection_id"`
	Question     string    `json:"question"`
}

// QuestionDispatcher hands a question to the AI answering pipeline,
// fire-and-forget. Implementations bound the answer wall-clock time.
type QuestionDispatcher interface {
	Dispatch(ctx context.Context, req AnswerRequest) error
}

// Orchestrator ties the state machine to the registry and broadcaster. Both
// the REST handlers and the WebSocket message router call into it, so slide
// changes and lifecycle transitions triggered over HTTP and over the socket
// take one path and produce the same broadcasts.
type Orchestrator struct {
	store       Store
	registry    *Registry
	broadcaster *Broadcaster
	votes       *VoteAggregator
	dispatcher  QuestionDispatcher
	logger      *zap.Logger
}

// NewOrchestrator wires the session engine together. dispatcher may be nil
// when AI answering is disabled.
func NewOrchestrator(store Store, registry *Registry, broadcaster *Broadcaster, votes *VoteAggregator, dispatcher QuestionDispatcher, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:       store,
		registry:    registry,
		broadcaster: broadcaster,
		votes:       votes,
		dispatcher:  dispatcher,
		logger:      logger,
	}
}

// Registry exposes the connection registry for liveness accounting.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// StartSession transitions pending -> active, sets the current slide to the
// presentation's first slide, stamps started_at, and broadcasts
// session_started with the slide content to the whole room.
func (o *Orchestrator) StartSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(session.Status, models.StatusActive); err != nil {
		return nil, err
	}

	first, err := o.store.GetFirstSlide(ctx, session.PresentationID)
	if err != nil {
		return nil, ErrPresentationHasNoSlides
	}

	now := time.Now().UTC()
	session.Status = models.StatusActive
	session.StartedAt = &now
	session.CurrentSlideID = &first.ID
	if err := o.store.UpdateSessionStatus(ctx, session); err != nil {
		return nil, err
	}

	o.broadcaster.Broadcast(session.ID, TypeSessionStarted, SessionStartedPayload{
		StartedAt:    now.Format(time.RFC3339),
		CurrentSlide: NewSlideInfo(first),
	})
	o.logger.Info("session started",
		zap.String("session_id", session.ID.String()),
		zap.String("join_code", session.JoinCode))
	return session, nil
}

// PauseSession transitions active -> paused. The current slide is preserved.
func (o *Orchestrator) PauseSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	return o.transition(ctx, sessionID, models.StatusPaused, TypeSessionPaused, nil)
}

// ResumeSession transitions paused -> active.
func (o *Orchestrator) ResumeSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	return o.transition(ctx, sessionID, models.StatusActive, TypeSessionResumed, nil)
}

// EndSession transitions to the terminal ended state, stamps ended_at,
// broadcasts session_ended, and closes every socket in the room after the
// broadcast is flushed.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	now := time.Now().UTC()
	session, err := o.transition(ctx, sessionID, models.StatusEnded, TypeSessionEnded, func(s *models.Session) any {
		s.EndedAt = &now
		s.CurrentSlideID = nil
		return SessionEndedPayload{EndedAt: now.Format(time.RFC3339)}
	})
	if err != nil {
		return nil, err
	}

	o.registry.CloseRoom(session.ID, CloseSessionEnded, "session ended")
	o.broadcaster.DropSubscription(session.ID)
	o.votes.Forget(session.ID)
	o.logger.Info("session ended", zap.String("session_id", session.ID.String()))
	return session, nil
}

// transition performs a persisted lifecycle change and its broadcast.
// mutate, when set, adjusts the session before persisting and returns the
// broadcast payload. Pending debounced updates are flushed first so the
// lifecycle event never overtakes a coalesced one on the wire.
func (o *Orchestrator) transition(ctx context.Context, sessionID uuid.UUID, to models.SessionStatus, event MessageType, mutate func(*models.Session) any) (*models.Session, error) {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(session.Status, to); err != nil {
		return nil, err
	}

	session.Status = to
	var payload any
	if mutate != nil {
		payload = mutate(session)
	}
	if err := o.store.UpdateSessionStatus(ctx, session); err != nil {
		return nil, err
	}

	o.broadcaster.Flush(session.ID)
	o.broadcaster.Broadcast(session.ID, event, payload)
	return session, nil
}

// ChangeSlide validates the slide belongs to the session's presentation and
// broadcasts slide_changed. Rejected while the session is pending or ended.
func (o *Orchestrator) ChangeSlide(ctx context.Context, sessionID, slideID uuid.UUID) (*models.Session, error) {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !SlideVisible(session.Status) {
		return nil, ErrSessionNotActive
	}
	slide, err := o.store.GetSlide(ctx, slideID)
	if err != nil {
		return nil, ErrSlideNotInPresentation
	}
	if slide.PresentationID != session.PresentationID {
		return nil, ErrSlideNotInPresentation
	}

	if err := o.store.UpdateCurrentSlide(ctx, sessionID, slideID); err != nil {
		return nil, err
	}
	session.CurrentSlideID = &slideID

	o.broadcaster.Broadcast(session.ID, TypeSlideChanged, SlideChangedPayload{
		Slide:      NewSlideInfo(slide),
		SlideIndex: slide.OrderIndex,
	})
	return session, nil
}

// SessionState builds the full snapshot for a session, used on initial join
// and on every reconnect resync.
func (o *Orchestrator) SessionState(ctx context.Context, session *models.Session) (*SessionStatePayload, error) {
	presentation, err := o.store.GetPresentation(ctx, session.PresentationID)
	if err != nil {
		return nil, err
	}
	totalSlides, err := o.store.CountSlides(ctx, session.PresentationID)
	if err != nil {
		return nil, err
	}
	var current *SlideInfo
	if session.CurrentSlideID != nil {
		slide, err := o.store.GetSlide(ctx, *session.CurrentSlideID)
		if err == nil {
			current = NewSlideInfo(slide)
		}
	}
	return &SessionStatePayload{
		SessionID:         session.ID.String(),
		JoinCode:          session.JoinCode,
		Status:            string(session.Status),
		PresentationTitle: presentation.Title,
		CurrentSlide:      current,
		TotalSlides:       totalSlides,
		ParticipantCount:  o.registry.AudienceCount(session.ID),
	}, nil
}

// AudienceConnected creates the participant record, registers the
// connection, notifies the speaker, and returns the join snapshot.
func (o *Orchestrator) AudienceConnected(ctx context.Context, session *models.Session, conn *Connection, displayName *string) (*SessionStatePayload, error) {
	if session.Terminal() {
		return nil, ErrSessionEnded
	}

	anonymous := displayName == nil || *displayName == ""
	participant := &models.Participant{
		SessionID:    session.ID,
		DisplayName:  displayName,
		ConnectionID: &conn.ID,
		IsAnonymous:  anonymous,
	}
	if anonymous {
		participant.DisplayName = nil
	}
	if err := o.store.CreateParticipant(ctx, participant); err != nil {
		return nil, err
	}
	conn.ParticipantID = &participant.ID
	conn.DisplayName = participant.DisplayName

	if err := o.registry.Register(conn); err != nil {
		return nil, err
	}
	o.broadcaster.EnsureSubscription(session.ID)

	state, err := o.SessionState(ctx, session)
	if err != nil {
		return nil, err
	}

	count := o.registry.AudienceCount(session.ID)
	o.broadcaster.BroadcastRole(session.ID, RoleSpeaker, TypeParticipantJoined, ParticipantJoinedPayload{
		ParticipantID:    participant.ID.String(),
		DisplayName:      participant.DisplayName,
		IsAnonymous:      participant.IsAnonymous,
		ParticipantCount: count,
	})
	sessionID := session.ID
	o.broadcaster.BroadcastDebounced(sessionID, TypeParticipantCount, func() any {
		return ParticipantCountPayload{ParticipantCount: o.registry.AudienceCount(sessionID)}
	})
	return state, nil
}

// SpeakerConnected registers the speaker connection, enforcing the single
// speaker rule, and returns the join snapshot.
func (o *Orchestrator) SpeakerConnected(ctx context.Context, session *models.Session, conn *Connection) (*SessionStatePayload, error) {
	if session.Terminal() {
		return nil, ErrSessionEnded
	}
	if err := o.registry.Register(conn); err != nil {
		return nil, err
	}
	o.broadcaster.EnsureSubscription(session.ID)
	return o.SessionState(ctx, session)
}

// ParticipantDisconnected unregisters a connection, on normal disconnect and
// on heartbeat eviction alike. Audience departures surface to the speaker as
// participant_left plus a debounced count update.
func (o *Orchestrator) ParticipantDisconnected(ctx context.Context, sessionID uuid.UUID, connectionID string) {
	removed := o.registry.Unregister(sessionID, connectionID)
	if removed == nil {
		return
	}

	if removed.Role == RoleAudience && removed.ParticipantID != nil {
		if err := o.store.MarkParticipantLeft(ctx, *removed.ParticipantID); err != nil {
			o.logger.Warn("mark participant left failed",
				zap.String("participant_id", removed.ParticipantID.String()),
				zap.Error(err))
		}
		o.broadcaster.BroadcastRole(sessionID, RoleSpeaker, TypeParticipantLeft, ParticipantLeftPayload{
			ParticipantID:    removed.ParticipantID.String(),
			ParticipantCount: o.registry.AudienceCount(sessionID),
		})
		o.broadcaster.BroadcastDebounced(sessionID, TypeParticipantCount, func() any {
			return ParticipantCountPayload{ParticipantCount: o.registry.AudienceCount(sessionID)}
		})
	}

	if o.registry.RoomEmpty(sessionID) {
		o.broadcaster.DropSubscription(sessionID)
	}
}

// SubmitResponse validates and persists an audience response, updates the
// vote tally for choice slides, and notifies the speaker. Duplicate
// submissions per (session, slide, participant) are rejected, not
// double-counted.
func (o *Orchestrator) SubmitResponse(ctx context.Context, sessionID uuid.UUID, connectionID string, payload SubmitResponsePayload) error {
	conn := o.registry.Get(sessionID, connectionID)
	if conn == nil || conn.Role != RoleAudience {
		return ErrNotAudienceConnection
	}

	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !CanAcceptResponses(session.Status) {
		return ErrSessionNotActive
	}

	slideID := uuid.MustParse(payload.SlideID) // validated at the protocol boundary
	slide, err := o.store.GetSlide(ctx, slideID)
	if err != nil {
		return ErrSlideNotInPresentation
	}
	if slide.PresentationID != session.PresentationID {
		return ErrSlideNotInPresentation
	}
	if !slide.AcceptsResponses() {
		return ErrSlideNotInteractive
	}

	content, choice, selected, err := o.validateResponseContent(slide, payload.Content)
	if err != nil {
		return err
	}

	response := &models.Response{
		SessionID:     sessionID,
		SlideID:       slideID,
		ParticipantID: conn.ParticipantID,
		Content:       content,
	}
	if err := o.store.CreateResponse(ctx, response); err != nil {
		return err
	}

	if choice != nil {
		o.votes.RecordVote(ctx, sessionID, slide, choice, selected)
	}

	var participantID *string
	if conn.ParticipantID != nil {
		id := conn.ParticipantID.String()
		participantID = &id
	}
	o.broadcaster.BroadcastRole(sessionID, RoleSpeaker, TypeResponseSubmitted, ResponseSubmittedPayload{
		ResponseID:    response.ID.String(),
		SlideID:       slideID.String(),
		ParticipantID: participantID,
		DisplayName:   conn.DisplayName,
		Content:       content,
		CreatedAt:     response.CreatedAt.Format(time.RFC3339),
	})
	return nil
}

// SubmitQuestion persists an audience question, notifies the speaker, and
// hands the question to the AI answering pipeline. The eventual answer
// arrives as a personal ai_response to the asking connection.
func (o *Orchestrator) SubmitQuestion(ctx context.Context, sessionID uuid.UUID, connectionID string, payload AskQuestionPayload) error {
	conn := o.registry.Get(sessionID, connectionID)
	if conn == nil || conn.Role != RoleAudience {
		return ErrNotAudienceConnection
	}

	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !CanAcceptResponses(session.Status) {
		return ErrSessionNotActive
	}

	slideID := uuid.MustParse(payload.SlideID)
	slide, err := o.store.GetSlide(ctx, slideID)
	if err != nil || slide.PresentationID != session.PresentationID {
		return ErrSlideNotInPresentation
	}

	content, _ := json.Marshal(models.QuestionResponseContent{
		Type:     models.ResponseKindQuestion,
		Question: payload.QuestionText,
	})
	question := &models.Response{
		SessionID:     sessionID,
		SlideID:       slideID,
		ParticipantID: conn.ParticipantID,
		Content:       content,
	}
	if err := o.store.CreateResponse(ctx, question); err != nil {
		return err
	}

	var participantID *string
	if conn.ParticipantID != nil {
		id := conn.ParticipantID.String()
		participantID = &id
	}
	o.broadcaster.BroadcastRole(sessionID, RoleSpeaker, TypeQuestionAsked, QuestionAskedPayload{
		QuestionID:    question.ID.String(),
		SlideID:       slideID.String(),
		ParticipantID: participantID,
		DisplayName:   conn.DisplayName,
		QuestionText:  payload.QuestionText,
		CreatedAt:     question.CreatedAt.Format(time.RFC3339),
	})

	if o.dispatcher != nil {
		req := AnswerRequest{
			SessionID:    sessionID,
			QuestionID:   question.ID,
			SlideID:      slideID,
			ConnectionID: connectionID,
			Question:     payload.QuestionText,
		}
		if err := o.dispatcher.Dispatch(ctx, req); err != nil {
			// The question reached the speaker; losing the AI answer is
			// reported to the requester but never tears down the room.
			o.logger.Error("AI dispatch failed",
				zap.String("question_id", question.ID.String()),
				zap.Error(err))
		}
	}
	return nil
}

// validateResponseContent checks the submitted content against the slide's
// schema. For choice slides it returns the parsed content and the selected
// option ids for the tally.
func (o *Orchestrator) validateResponseContent(slide *models.Slide, raw json.RawMessage) (json.RawMessage, *models.ChoiceContent, []string, error) {
	switch slide.Type {
	case models.SlideTypeChoice:
		var answer models.ChoiceResponseContent
		if err := json.Unmarshal(raw, &answer); err != nil || answer.Type != models.ResponseKindChoice {
			return nil, nil, nil, validationError("payload.content", "expected a choice answer")
		}
		if len(answer.SelectedIDs) == 0 {
			return nil, nil, nil, validationError("payload.content.selected_ids", "at least one option must be selected")
		}
		choice, err := slide.ChoiceContent()
		if err != nil {
			return nil, nil, nil, validationError("payload.content", "slide options are unavailable")
		}
		if len(answer.SelectedIDs) > 1 && !choice.AllowMultiple {
			return nil, nil, nil, validationError("payload.content.selected_ids", "this question allows a single selection")
		}
		valid := make(map[string]struct{}, len(choice.Options))
		for _, opt := range choice.Options {
			valid[opt.ID] = struct{}{}
		}
		for _, id := range answer.SelectedIDs {
			if _, ok := valid[id]; !ok {
				return nil, nil, nil, validationError("payload.content.selected_ids", "selected option does not exist on this slide")
			}
		}
		return raw, choice, answer.SelectedIDs, nil

	case models.SlideTypeText:
		var answer models.TextResponseContent
		if err := json.Unmarshal(raw, &answer); err != nil || answer.Type != models.ResponseKindText {
			return nil, nil, nil, validationError("payload.content", "expected a text answer")
		}
		if answer.Text == "" {
			return nil, nil, nil, validationError("payload.content.text", "text is required")
		}
		return raw, nil, nil, nil

	default:
		return nil, nil, nil, ErrSlideNotInteractive
	}
}
