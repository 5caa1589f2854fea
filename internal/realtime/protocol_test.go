package realtime

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oratify/backend/internal/models"
)

func decodeErrorPayload(t *testing.T, env Envelope) ErrorPayload {
	t.Helper()
	require.Equal(t, TypeError, env.Type)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p
}

func TestDecodeEnvelope(t *testing.T) {
	env, perr := DecodeEnvelope([]byte(`{"type":"ping"}`))
	require.Nil(t, perr)
	assert.Equal(t, TypePing, env.Type)

	_, perr = DecodeEnvelope([]byte(`{not json`))
	require.NotNil(t, perr)
	assert.Equal(t, CodeParseError, perr.Code)

	_, perr = DecodeEnvelope([]byte(`{"payload":{}}`))
	require.NotNil(t, perr)
	assert.Equal(t, CodeValidationError, perr.Code)
	assert.Equal(t, "type", perr.Field)
}

func TestDecodeEnvelope_IncomingTimestampIgnored(t *testing.T) {
	env, perr := DecodeEnvelope([]byte(`{"type":"ping","timestamp":"not-a-time"}`))
	require.Nil(t, perr)
	_, perr = DecodeClientPayload(env)
	assert.Nil(t, perr)
}

func TestDecodeClientPayload_UnknownType(t *testing.T) {
	_, perr := DecodeClientPayload(Envelope{Type: "telemetry"})
	require.NotNil(t, perr)
	assert.Equal(t, CodeUnknownType, perr.Code)
}

func TestDecodeClientPayload_Authenticate(t *testing.T) {
	env := Envelope{Type: TypeAuthenticate, Payload: json.RawMessage(`{"token":"abc"}`)}
	payload, perr := DecodeClientPayload(env)
	require.Nil(t, perr)
	assert.Equal(t, AuthenticatePayload{Token: "abc"}, payload)

	env.Payload = json.RawMessage(`{"token":""}`)
	_, perr = DecodeClientPayload(env)
	require.NotNil(t, perr)
	assert.Equal(t, CodeValidationError, perr.Code)
	assert.Equal(t, "payload.token", perr.Field)
}

func TestDecodeClientPayload_JoinAllowsEmptyPayload(t *testing.T) {
	payload, perr := DecodeClientPayload(Envelope{Type: TypeJoin})
	require.Nil(t, perr)
	assert.Equal(t, JoinPayload{}, payload)

	name := "Ada"
	env := Envelope{Type: TypeJoin, Payload: json.RawMessage(`{"display_name":"Ada"}`)}
	payload, perr = DecodeClientPayload(env)
	require.Nil(t, perr)
	assert.Equal(t, JoinPayload{DisplayName: &name}, payload)
}

func TestDecodeClientPayload_SubmitResponse(t *testing.T) {
	slideID := uuid.New().String()

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"valid", `{"slide_id":"` + slideID + `","content":{"type":"text","text":"hi"}}`, ""},
		{"bad slide id", `{"slide_id":"nope","content":{"type":"text"}}`, "payload.slide_id"},
		{"missing content", `{"slide_id":"` + slideID + `"}`, "payload.content"},
		{"missing payload", ``, "payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Envelope{Type: TypeSubmitResponse}
			if tt.body != "" {
				env.Payload = json.RawMessage(tt.body)
			}
			payload, perr := DecodeClientPayload(env)
			if tt.field == "" {
				require.Nil(t, perr)
				assert.Equal(t, slideID, payload.(SubmitResponsePayload).SlideID)
				return
			}
			require.NotNil(t, perr)
			assert.Equal(t, CodeValidationError, perr.Code)
			assert.Equal(t, tt.field, perr.Field)
		})
	}
}

func TestDecodeClientPayload_AskQuestion(t *testing.T) {
	slideID := uuid.New().String()
	env := Envelope{Type: TypeAskQuestion, Payload: json.RawMessage(`{"slide_id":"` + slideID + `","question_text":""}`)}
	_, perr := DecodeClientPayload(env)
	require.NotNil(t, perr)
	assert.Equal(t, "payload.question_text", perr.Field)
}

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope(TypePong, PongPayload{Timestamp: "x"})
	assert.Equal(t, TypePong, env.Type)
	assert.NotEmpty(t, env.Timestamp)
	assert.JSONEq(t, `{"timestamp":"x"}`, string(env.Payload))

	empty := NewEnvelope(TypeSessionEnded, nil)
	assert.Empty(t, empty.Payload)
}

func TestNewSlideInfo_EmptyContent(t *testing.T) {
	assert.Nil(t, NewSlideInfo(nil))

	info := NewSlideInfo(&models.Slide{ID: uuid.New(), Type: models.SlideTypeContent})
	require.NotNil(t, info)
	assert.JSONEq(t, `{}`, string(info.Content))
}
