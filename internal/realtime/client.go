package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/oratify/backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

const (
	sendBufferSize   = 256
	maxMessageSize   = 65536
	firstMessageWait = 30 * time.Second
)

// SocketOptions tunes the per-connection heartbeat and write behavior.
type SocketOptions struct {
	PingInterval   time.Duration // interval between server pings
	WriteTimeout   time.Duration // per-write deadline
	MaxMissedPongs int           // consecutive missed pongs before eviction
}

func (o SocketOptions) withDefaults() SocketOptions {
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxMissedPongs <= 0 {
		o.MaxMissedPongs = 3
	}
	return o
}

// TokenValidator validates a speaker token and returns the speaker id.
type TokenValidator func(token string) (uuid.UUID, error)

type outbound struct {
	env       *Envelope
	closeCode int
	closeText string
}

// wsSender adapts a gorilla connection to the registry's Sender. All writes
// go through one channel so envelopes and the close frame stay FIFO.
type wsSender struct {
	conn      *websocket.Conn
	send      chan outbound
	closeOnce sync.Once
}

func newWSSender(conn *websocket.Conn) *wsSender {
	return &wsSender{conn: conn, send: make(chan outbound, sendBufferSize)}
}

var errSendBufferFull = errors.New("send buffer full")

// Send enqueues an envelope without blocking. A full buffer means the client
// cannot keep up; the caller logs and moves on to the next connection.
func (s *wsSender) Send(env Envelope) error {
	e := env
	select {
	case s.send <- outbound{env: &e}:
		return nil
	default:
		return errSendBufferFull
	}
}

// CloseWithCode enqueues a close frame behind any pending envelopes, so a
// final broadcast (session_ended) is flushed before the socket closes.
func (s *wsSender) CloseWithCode(code int, reason string) {
	s.closeOnce.Do(func() {
		select {
		case s.send <- outbound{closeCode: code, closeText: reason}:
		default:
			// Buffer full: drop pending output and close immediately.
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
			_ = s.conn.Close()
		}
	})
}

// writePump owns all writes on the socket: queued envelopes, the heartbeat
// ping, and the final close frame. A connection that misses MaxMissedPongs
// consecutive pongs is evicted here.
func (s *wsSender) writePump(opts SocketOptions, missedPongs *int32) {
	ticker := time.NewTicker(opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case item, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
			if item.env != nil {
				if err := s.conn.WriteJSON(item.env); err != nil {
					return
				}
				continue
			}
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(item.closeCode, item.closeText))
			return

		case <-ticker.C:
			if atomic.LoadInt32(missedPongs) >= int32(opts.MaxMissedPongs) {
				// Silently-dropped client: close the socket; the read loop
				// unblocks and unregisters exactly as on a normal disconnect.
				_ = s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "heartbeat timeout"),
					time.Now().Add(time.Second))
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			atomic.AddInt32(missedPongs, 1)
		}
	}
}

// ServeWS handles the WebSocket endpoint /ws/session/:code. The first client
// message must be authenticate (speaker) or join (audience); afterwards the
// connection settles into the message loop until disconnect.
func ServeWS(o *Orchestrator, store Store, validate TokenValidator, logger *zap.Logger, opts SocketOptions) gin.HandlerFunc {
	opts = opts.withDefaults()
	return func(c *gin.Context) {
		joinCode := strings.ToUpper(c.Param("code"))
		ctx := context.Background()

		session, err := store.GetSessionByJoinCode(ctx, joinCode)

		conn, upErr := upgrader.Upgrade(c.Writer, c.Request, nil)
		if upErr != nil {
			logger.Warn("websocket upgrade failed", zap.Error(upErr))
			return
		}
		sender := newWSSender(conn)
		var missedPongs int32
		go sender.writePump(opts, &missedPongs)

		// Distinct close codes for "no such session" and "already ended" so
		// the client can show the right screen and skip reconnecting.
		if err != nil || session == nil {
			_ = sender.Send(ErrorEnvelope(CodeSessionNotFound, "Session not found"))
			sender.CloseWithCode(CloseSessionNotFound, "session not found")
			return
		}
		if session.Terminal() {
			_ = sender.Send(ErrorEnvelope(CodeSessionEnded, "This session has ended"))
			sender.CloseWithCode(CloseSessionEnded, "session ended")
			return
		}

		client := &wsClient{
			orchestrator: o,
			store:        store,
			validate:     validate,
			logger:       logger,
			opts:         opts,
			conn:         conn,
			sender:       sender,
			missedPongs:  &missedPongs,
			session:      session,
		}
		client.run(ctx)
	}
}

// wsClient is the server side of one socket: join handshake, message
// routing, heartbeat accounting, and cleanup.
type wsClient struct {
	orchestrator *Orchestrator
	store        Store
	validate     TokenValidator
	logger       *zap.Logger
	opts         SocketOptions
	conn         *websocket.Conn
	sender       *wsSender
	missedPongs  *int32
	session      *models.Session
	registered   *Connection
}

func (c *wsClient) run(ctx context.Context) {
	defer c.cleanup(ctx)

	c.conn.SetReadLimit(maxMessageSize)
	readWait := c.opts.PingInterval*time.Duration(c.opts.MaxMissedPongs+1) + c.opts.WriteTimeout
	_ = c.conn.SetReadDeadline(time.Now().Add(firstMessageWait))
	c.conn.SetPongHandler(func(string) error {
		atomic.StoreInt32(c.missedPongs, 0)
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	if !c.handshake(ctx) {
		return
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
		c.handleMessage(ctx, data)
	}
}

// handshake reads and applies the first message: authenticate or join.
// Returns false when the connection was rejected and closed.
func (c *wsClient) handshake(ctx context.Context) bool {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return false
	}
	env, perr := DecodeEnvelope(data)
	if perr != nil {
		_ = c.sender.Send(perr.Envelope())
		c.sender.CloseWithCode(websocket.CloseUnsupportedData, "invalid first message")
		return false
	}
	payload, perr := DecodeClientPayload(env)
	if perr != nil {
		_ = c.sender.Send(perr.Envelope())
		c.sender.CloseWithCode(websocket.CloseUnsupportedData, "invalid first message")
		return false
	}

	switch p := payload.(type) {
	case AuthenticatePayload:
		return c.joinSpeaker(ctx, p)
	case JoinPayload:
		return c.joinAudience(ctx, p)
	default:
		_ = c.sender.Send(ErrorEnvelope(CodeValidationError, "first message must be 'authenticate' or 'join'"))
		c.sender.CloseWithCode(websocket.CloseUnsupportedData, "invalid first message")
		return false
	}
}

func (c *wsClient) joinSpeaker(ctx context.Context, p AuthenticatePayload) bool {
	speakerID, err := c.validate(p.Token)
	if err != nil {
		_ = c.sender.Send(ErrorEnvelope(CodeInvalidToken, "Invalid or expired token"))
		c.sender.CloseWithCode(CloseAuthFailed, "invalid token")
		return false
	}
	presentation, err := c.store.GetPresentation(ctx, c.session.PresentationID)
	if err != nil || presentation.SpeakerID != speakerID {
		_ = c.sender.Send(ErrorEnvelope(CodeForbidden, "You do not own this session"))
		c.sender.CloseWithCode(CloseAuthFailed, "forbidden")
		return false
	}

	conn := NewConnection(c.session.ID, RoleSpeaker, c.sender)
	state, err := c.orchestrator.SpeakerConnected(ctx, c.session, conn)
	if err != nil {
		if errors.Is(err, ErrSpeakerAlreadyConnected) {
			_ = c.sender.Send(ErrorEnvelope(CodeSpeakerAlreadyConnected, "Speaker is already connected"))
			c.sender.CloseWithCode(CloseSpeakerAlreadyConnected, "speaker already connected")
		} else {
			_ = c.sender.Send(EnvelopeForError(err))
			c.sender.CloseWithCode(websocket.CloseInternalServerErr, "join failed")
		}
		return false
	}
	c.registered = conn
	_ = c.sender.Send(NewEnvelope(TypeSessionState, state))
	return true
}

func (c *wsClient) joinAudience(ctx context.Context, p JoinPayload) bool {
	conn := NewConnection(c.session.ID, RoleAudience, c.sender)
	state, err := c.orchestrator.AudienceConnected(ctx, c.session, conn, p.DisplayName)
	if err != nil {
		if errors.Is(err, ErrSessionEnded) {
			_ = c.sender.Send(ErrorEnvelope(CodeSessionEnded, "This session has ended"))
			c.sender.CloseWithCode(CloseSessionEnded, "session ended")
		} else {
			c.logger.Error("audience join failed", zap.Error(err))
			_ = c.sender.Send(EnvelopeForError(err))
			c.sender.CloseWithCode(websocket.CloseInternalServerErr, "join failed")
		}
		return false
	}
	c.registered = conn
	_ = c.sender.Send(NewEnvelope(TypeSessionState, state))
	return true
}

// handleMessage routes one incoming frame. Protocol errors are answered
// with an error envelope and never close the connection.
func (c *wsClient) handleMessage(ctx context.Context, data []byte) {
	env, perr := DecodeEnvelope(data)
	if perr != nil {
		_ = c.sender.Send(perr.Envelope())
		return
	}
	payload, perr := DecodeClientPayload(env)
	if perr != nil {
		_ = c.sender.Send(perr.Envelope())
		return
	}

	switch p := payload.(type) {
	case SubmitResponsePayload:
		if err := c.orchestrator.SubmitResponse(ctx, c.session.ID, c.registered.ID, p); err != nil {
			c.logger.Debug("submit_response rejected",
				zap.String("connection_id", c.registered.ID), zap.Error(err))
			_ = c.sender.Send(EnvelopeForError(err))
		}
	case AskQuestionPayload:
		if err := c.orchestrator.SubmitQuestion(ctx, c.session.ID, c.registered.ID, p); err != nil {
			c.logger.Debug("ask_question rejected",
				zap.String("connection_id", c.registered.ID), zap.Error(err))
			_ = c.sender.Send(EnvelopeForError(err))
		}
	case AuthenticatePayload, JoinPayload:
		_ = c.sender.Send(ErrorEnvelope(CodeValidationError, "already joined"))
	default:
		if env.Type == TypePing {
			_ = c.sender.Send(NewEnvelope(TypePong, PongPayload{
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			}))
		}
	}
}

func (c *wsClient) cleanup(ctx context.Context) {
	if c.registered != nil {
		c.orchestrator.ParticipantDisconnected(ctx, c.session.ID, c.registered.ID)
	}
	c.sender.CloseWithCode(websocket.CloseNormalClosure, "")
	_ = c.conn.Close()
}
