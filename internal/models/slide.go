package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Slide types. Content is stored as JSONB with a type-specific schema.
const (
	SlideTypeContent    = "content"
	SlideTypeText       = "question_text"
	SlideTypeChoice     = "question_choice"
	SlideTypeSummary    = "summary"
	SlideTypeConclusion = "conclusion"
)

// Slide is one slide within a presentation. OrderIndex is 0-based.
type Slide struct {
	ID             uuid.UUID       `json:"id"`
	PresentationID uuid.UUID       `json:"presentation_id"`
	OrderIndex     int             `json:"order_index"`
	Type           string          `json:"type"`
	Content        json.RawMessage `json:"content"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ChoiceOption is one selectable option of a question_choice slide.
type ChoiceOption struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Order int    `json:"order"`
}

// ChoiceContent is the content schema for question_choice slides.
type ChoiceContent struct {
	Question      string         `json:"question"`
	Options       []ChoiceOption `json:"options"`
	AllowMultiple bool           `json:"allow_multiple"`
	ShowResults   bool           `json:"show_results"`
}

// TextContent is the content schema for question_text slides.
type TextContent struct {
	Question    string `json:"question"`
	Placeholder string `json:"placeholder,omitempty"`
	MaxLength   int    `json:"max_length,omitempty"`
	Required    bool   `json:"required"`
}

// AcceptsResponses reports whether audience members can answer this slide.
func (s *Slide) AcceptsResponses() bool {
	return s.Type == SlideTypeText || s.Type == SlideTypeChoice
}

// ChoiceContent parses the slide content as a question_choice schema.
func (s *Slide) ChoiceContent() (*ChoiceContent, error) {
	var c ChoiceContent
	if err := json.Unmarshal(s.Content, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
