package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Answer(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "  Forty-two.  "}},
			},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, "test-key", "gpt-4o-mini", 5*time.Second, nil)
	answer, err := c.Answer(context.Background(), "What is the answer?", "Slide about deep thought")
	require.NoError(t, err)
	assert.Equal(t, "Forty-two.", answer)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[1].Content, "Slide about deep thought")
	assert.Contains(t, got.Messages[1].Content, "What is the answer?")
}

func TestClient_AnswerAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "rate limit exceeded"},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, "test-key", "gpt-4o-mini", 5*time.Second, nil)
	_, err := c.Answer(context.Background(), "hello", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestClient_AnswerNotConfigured(t *testing.T) {
	c := NewClient("https://api.openai.com/v1", "", "gpt-4o-mini", time.Second, nil)
	assert.False(t, c.Configured())

	_, err := c.Answer(context.Background(), "hello", "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
