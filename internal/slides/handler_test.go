package slides

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oratify/backend/internal/models"
)

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name      string
		slideType string
		content   string
		wantErr   string
	}{
		{"content slide", models.SlideTypeContent, `{"title":"Welcome"}`, ""},
		{"summary slide", models.SlideTypeSummary, `{"points":[]}`, ""},
		{"content slide bad json", models.SlideTypeContent, `{broken`, "content must be a JSON object"},
		{"text question", models.SlideTypeText, `{"question":"Thoughts?"}`, ""},
		{"text question missing question", models.SlideTypeText, `{"placeholder":"..."}`, "content.question is required"},
		{"text question bad schema", models.SlideTypeText, `[1,2]`, "content does not match the text question schema"},
		{
			"choice question",
			models.SlideTypeChoice,
			`{"question":"Ship it?","options":[{"id":"yes","text":"Yes"},{"id":"no","text":"No"}]}`,
			"",
		},
		{
			"choice question one option",
			models.SlideTypeChoice,
			`{"question":"Ship it?","options":[{"id":"yes","text":"Yes"}]}`,
			"content.options requires at least two options",
		},
		{
			"choice question missing question",
			models.SlideTypeChoice,
			`{"options":[{"id":"a","text":"A"},{"id":"b","text":"B"}]}`,
			"content.question is required",
		},
		{
			"choice question blank option",
			models.SlideTypeChoice,
			`{"question":"Q","options":[{"id":"a","text":"A"},{"id":"","text":"B"}]}`,
			"every option needs an id and text",
		},
		{
			"choice question duplicate option id",
			models.SlideTypeChoice,
			`{"question":"Q","options":[{"id":"a","text":"A"},{"id":"a","text":"B"}]}`,
			`duplicate option id "a"`,
		},
		{"unknown type", "video", `{}`, `unknown slide type "video"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContent(tt.slideType, json.RawMessage(tt.content))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}
