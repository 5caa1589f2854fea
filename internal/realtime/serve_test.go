package realtime

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oratify/backend/internal/models"
)

// newSocketServer mounts ServeWS on a test router the way cmd/server does.
func newSocketServer(t *testing.T, e *engine, validate TokenValidator, opts SocketOptions) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws/session/:code", ServeWS(e.orch, e.store, validate, zap.NewNop(), opts))
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func dialSession(t *testing.T, server *httptest.Server, code string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/session/" + code
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readError(t *testing.T, conn *websocket.Conn) ErrorPayload {
	t.Helper()
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, TypeError, env.Type)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p
}

func readCloseCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	return ce.Code
}

func readSessionState(t *testing.T, conn *websocket.Conn) SessionStatePayload {
	t.Helper()
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, TypeSessionState, env.Type)
	var state SessionStatePayload
	require.NoError(t, json.Unmarshal(env.Payload, &state))
	return state
}

func TestServeWS_UnknownJoinCode(t *testing.T) {
	e := newEngine(t, nil)
	server := newSocketServer(t, e, nil, SocketOptions{})

	conn := dialSession(t, server, "ZZZZZZ")

	// The error envelope is flushed before the close frame.
	p := readError(t, conn)
	assert.Equal(t, CodeSessionNotFound, p.Code)
	assert.Equal(t, CloseSessionNotFound, readCloseCode(t, conn))
}

func TestServeWS_EndedSessionJoinCode(t *testing.T) {
	e := newEngine(t, nil)
	session, _, _ := e.seedSession(models.StatusEnded)
	server := newSocketServer(t, e, nil, SocketOptions{})

	conn := dialSession(t, server, session.JoinCode)

	// An ended session is distinguishable from an unknown code, so the
	// client can show the right screen and skip reconnecting.
	p := readError(t, conn)
	assert.Equal(t, CodeSessionEnded, p.Code)
	assert.Equal(t, CloseSessionEnded, readCloseCode(t, conn))
}

func TestServeWS_RecycledJoinCodePrefersLiveSession(t *testing.T) {
	e := newEngine(t, nil)
	ended, _, _ := e.seedSession(models.StatusEnded)
	live, _, _ := e.seedSession(models.StatusActive)
	require.Equal(t, ended.JoinCode, live.JoinCode)
	server := newSocketServer(t, e, nil, SocketOptions{})

	conn := dialSession(t, server, live.JoinCode)
	require.NoError(t, conn.WriteJSON(NewEnvelope(TypeJoin, JoinPayload{})))

	state := readSessionState(t, conn)
	assert.Equal(t, live.ID.String(), state.SessionID)
}

func TestServeWS_AudienceJoin(t *testing.T) {
	e := newEngine(t, nil)
	session, _, _ := e.seedSession(models.StatusActive)
	server := newSocketServer(t, e, nil, SocketOptions{})

	// Join codes are case-insensitive on the wire.
	conn := dialSession(t, server, strings.ToLower(session.JoinCode))
	name := "Ada"
	require.NoError(t, conn.WriteJSON(NewEnvelope(TypeJoin, JoinPayload{DisplayName: &name})))

	state := readSessionState(t, conn)
	assert.Equal(t, session.JoinCode, state.JoinCode)
	assert.Equal(t, "Roadmap", state.PresentationTitle)
	assert.Equal(t, 2, state.TotalSlides)
}

func TestServeWS_InvalidTokenRejected(t *testing.T) {
	e := newEngine(t, nil)
	session, _, _ := e.seedSession(models.StatusActive)
	validate := func(token string) (uuid.UUID, error) { return uuid.Nil, errors.New("token expired") }
	server := newSocketServer(t, e, validate, SocketOptions{})

	conn := dialSession(t, server, session.JoinCode)
	require.NoError(t, conn.WriteJSON(NewEnvelope(TypeAuthenticate, AuthenticatePayload{Token: "stale"})))

	p := readError(t, conn)
	assert.Equal(t, CodeInvalidToken, p.Code)
	assert.Equal(t, CloseAuthFailed, readCloseCode(t, conn))
}

func TestServeWS_SecondSpeakerRejected(t *testing.T) {
	e := newEngine(t, nil)
	session, _, _ := e.seedSession(models.StatusActive)
	require.NoError(t, e.reg.Register(NewConnection(session.ID, RoleSpeaker, &fakeSender{})))
	// The seeded presentation carries the zero speaker id, so a validator
	// returning uuid.Nil passes the ownership check.
	validate := func(token string) (uuid.UUID, error) { return uuid.Nil, nil }
	server := newSocketServer(t, e, validate, SocketOptions{})

	conn := dialSession(t, server, session.JoinCode)
	require.NoError(t, conn.WriteJSON(NewEnvelope(TypeAuthenticate, AuthenticatePayload{Token: "jwt"})))

	p := readError(t, conn)
	assert.Equal(t, CodeSpeakerAlreadyConnected, p.Code)
	assert.Equal(t, CloseSpeakerAlreadyConnected, readCloseCode(t, conn))
}

func TestServeWS_MalformedFirstMessage(t *testing.T) {
	e := newEngine(t, nil)
	session, _, _ := e.seedSession(models.StatusActive)
	server := newSocketServer(t, e, nil, SocketOptions{})

	conn := dialSession(t, server, session.JoinCode)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	p := readError(t, conn)
	assert.Equal(t, CodeParseError, p.Code)
	assert.Equal(t, websocket.CloseUnsupportedData, readCloseCode(t, conn))
}

func TestServeWS_HeartbeatEviction(t *testing.T) {
	e := newEngine(t, nil)
	session, _, _ := e.seedSession(models.StatusActive)
	speaker := &fakeSender{}
	require.NoError(t, e.reg.Register(NewConnection(session.ID, RoleSpeaker, speaker)))

	opts := SocketOptions{
		PingInterval:   20 * time.Millisecond,
		WriteTimeout:   time.Second,
		MaxMissedPongs: 2,
	}
	server := newSocketServer(t, e, nil, opts)

	conn := dialSession(t, server, session.JoinCode)
	// Swallow server pings instead of answering them, like a client whose
	// uplink went silent.
	conn.SetPingHandler(func(string) error { return nil })

	require.NoError(t, conn.WriteJSON(NewEnvelope(TypeJoin, JoinPayload{})))
	state := readSessionState(t, conn)
	require.Equal(t, session.ID.String(), state.SessionID)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ce *websocket.CloseError
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			require.ErrorAs(t, err, &ce)
			break
		}
	}
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)

	// The read loop unregisters the evicted connection and the speaker is
	// told the participant left.
	require.Eventually(t, func() bool {
		return e.reg.AudienceCount(session.ID) == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, typ := range speaker.types() {
			if typ == TypeParticipantLeft {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
