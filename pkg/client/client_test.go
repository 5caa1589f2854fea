package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oratify/backend/internal/realtime"
)

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	assert.Equal(t, 1*time.Second, backoffDelay(base, max, 1))
	assert.Equal(t, 2*time.Second, backoffDelay(base, max, 2))
	assert.Equal(t, 4*time.Second, backoffDelay(base, max, 3))
	assert.Equal(t, 16*time.Second, backoffDelay(base, max, 5))

	// Capped at max from attempt 6 onward.
	assert.Equal(t, max, backoffDelay(base, max, 6))
	assert.Equal(t, max, backoffDelay(base, max, 20))
}

func TestTerminalClose(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		terminal bool
	}{
		{"normal closure", &websocket.CloseError{Code: websocket.CloseNormalClosure}, true},
		{"auth failed", &websocket.CloseError{Code: realtime.CloseAuthFailed}, true},
		{"speaker already connected", &websocket.CloseError{Code: realtime.CloseSpeakerAlreadyConnected}, true},
		{"session ended", &websocket.CloseError{Code: realtime.CloseSessionEnded}, true},
		{"session not found", &websocket.CloseError{Code: realtime.CloseSessionNotFound}, true},
		{"abnormal closure", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, false},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, false},
		{"plain network error", errors.New("read tcp: connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.terminal, terminalClose(tt.err))
		})
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1/ws"})
	assert.ErrorIs(t, c.Send(realtime.TypePing, nil), ErrDisconnected)
}

func TestSendQueuesUntilSynced(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1/ws"})
	c.mu.Lock()
	c.state = StateReconnecting
	c.mu.Unlock()

	require.NoError(t, c.Send(realtime.TypeSubmitResponse, realtime.SubmitResponsePayload{SlideID: "x"}))

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.queue, 1)
	assert.Equal(t, realtime.TypeSubmitResponse, c.queue[0].Type)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestRun_ResyncGate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var join realtime.Envelope
		require.NoError(t, conn.ReadJSON(&join))
		assert.Equal(t, realtime.TypeJoin, join.Type)

		// An event arriving before the snapshot is pre-gap state and must
		// not reach the handlers.
		require.NoError(t, conn.WriteJSON(realtime.NewEnvelope(realtime.TypeSlideChanged, realtime.SlideChangedPayload{SlideIndex: 1})))
		require.NoError(t, conn.WriteJSON(realtime.NewEnvelope(realtime.TypeSessionState, realtime.SessionStatePayload{Status: "active"})))
		require.NoError(t, conn.WriteJSON(realtime.NewEnvelope(realtime.TypeSlideChanged, realtime.SlideChangedPayload{SlideIndex: 2})))

		// Hold the connection open until the client disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	c := New(Options{URL: wsURL(server), PingInterval: time.Hour})

	var mu sync.Mutex
	var got []realtime.MessageType
	record := func(env realtime.Envelope) {
		mu.Lock()
		got = append(got, env.Type)
		mu.Unlock()
	}
	c.On(realtime.TypeSessionState, record)
	c.On(realtime.TypeSlideChanged, record)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(context.Background())
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []realtime.MessageType{realtime.TypeSessionState, realtime.TypeSlideChanged}, got)
	mu.Unlock()

	c.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.Equal(t, StateDisconnected, c.State())
}

func TestRun_SpeakerHandshake(t *testing.T) {
	got := make(chan realtime.Envelope, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var first realtime.Envelope
		require.NoError(t, conn.ReadJSON(&first))
		got <- first

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
	}))
	defer server.Close()

	c := New(Options{URL: wsURL(server), Token: "jwt-token", PingInterval: time.Hour})
	_ = c.Run(context.Background())

	select {
	case first := <-got:
		assert.Equal(t, realtime.TypeAuthenticate, first.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake never arrived")
	}
}

func TestRun_TerminalCloseSuppressesReconnect(t *testing.T) {
	var dials atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var first realtime.Envelope
		require.NoError(t, conn.ReadJSON(&first))

		msg := websocket.FormatCloseMessage(realtime.CloseSessionEnded, "session ended")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
	}))
	defer server.Close()

	c := New(Options{
		URL:          wsURL(server),
		BackoffBase:  time.Millisecond,
		MaxAttempts:  3,
		PingInterval: time.Hour,
	})
	err := c.Run(context.Background())

	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, realtime.CloseSessionEnded, ce.Code)
	assert.Equal(t, int32(1), dials.Load(), "no reconnect after a terminal close")
	assert.Equal(t, StateDisconnected, c.State())
}

func TestRun_ResyncResetsAttemptBudget(t *testing.T) {
	var dials atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if dials.Add(1) > 5 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		var join realtime.Envelope
		require.NoError(t, conn.ReadJSON(&join))
		require.NoError(t, conn.WriteJSON(realtime.NewEnvelope(realtime.TypeSessionState, realtime.SessionStatePayload{Status: "active"})))

		// Drop the TCP connection without a close frame: an abnormal,
		// non-terminal closure the client should ride out.
		conn.Close()
	}))
	defer server.Close()

	c := New(Options{
		URL:          wsURL(server),
		BackoffBase:  time.Millisecond,
		BackoffMax:   5 * time.Millisecond,
		MaxAttempts:  2,
		PingInterval: time.Hour,
	})

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, c.State())

	// Every connection that resyncs restores the full retry budget, so the
	// client survives five consecutive outages before the final one spends
	// its two reconnect attempts against a dead server.
	assert.Equal(t, int32(7), dials.Load())
}

func TestRun_GivesUpAfterMaxAttempts(t *testing.T) {
	var dials atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := New(Options{
		URL:         wsURL(server),
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
		MaxAttempts: 2,
	})

	var states []State
	c.OnStateChange(func(s State) { states = append(states, s) })

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(3), dials.Load(), "initial attempt plus two retries")
	assert.Equal(t, StateDisconnected, c.State())
	assert.Contains(t, states, StateReconnecting)
	assert.Equal(t, ErrDisconnected, c.Send(realtime.TypePing, nil))
}

func TestRun_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(Options{URL: "ws://127.0.0.1:1/ws"})
	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateDisconnected, c.State())
}
