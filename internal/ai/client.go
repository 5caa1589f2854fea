package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const systemPrompt = "You are a helpful assistant answering audience questions during a live presentation. " +
	"Answer concisely in a few sentences. If the question cannot be answered from general knowledge, say so briefly."

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("ai client is not configured")

// Client calls an OpenAI-compatible chat completions endpoint to answer
// audience questions.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates an AI client. timeout bounds a single completion call.
func NewClient(baseURL, apiKey, model string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Configured reports whether the client has credentials to make calls.
func (c *Client) Configured() bool { return c.apiKey != "" }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Answer generates an answer for an audience question. slideContext, when
// non-empty, is prepended so the model can ground the answer in the current
// slide.
func (c *Client) Answer(ctx context.Context, question, slideContext string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	user := question
	if slideContext != "" {
		user = "Current slide:\n" + slideContext + "\n\nQuestion: " + question
	}
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", fmt.Errorf("completion failed: %s", msg)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
