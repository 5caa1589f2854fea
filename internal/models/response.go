package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Response content kinds stored in the JSONB content column.
const (
	ResponseKindText     = "text"
	ResponseKindChoice   = "choice"
	ResponseKindQuestion = "question"
	ResponseKindAIAnswer = "ai_answer"
)

// Response is an audience answer, an audience question, or an AI answer.
// ParticipantID is null for AI responses. At most one response per
// (session, slide, participant) is allowed; the database enforces it.
type Response struct {
	ID            uuid.UUID       `json:"id"`
	SessionID     uuid.UUID       `json:"session_id"`
	SlideID       uuid.UUID       `json:"slide_id"`
	ParticipantID *uuid.UUID      `json:"participant_id"`
	Content       json.RawMessage `json:"content"`
	IsAIResponse  bool            `json:"is_ai_response"`
	CreatedAt     time.Time       `json:"created_at"`
}

// TextResponseContent is the content schema for free-text answers.
type TextResponseContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ChoiceResponseContent is the content schema for multiple-choice answers.
type ChoiceResponseContent struct {
	Type        string   `json:"type"`
	SelectedIDs []string `json:"selected_ids"`
}

// QuestionResponseContent is the content schema for audience questions.
type QuestionResponseContent struct {
	Type     string `json:"type"`
	Question string `json:"question"`
}

// AIAnswerContent is the content schema for AI-generated answers.
type AIAnswerContent struct {
	Type     string `json:"type"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}
