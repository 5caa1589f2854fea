// Package client implements the session sync client: one logical connection
// that survives network drops by reconnecting with exponential backoff and
// resynchronizing from a full session_state snapshot instead of trusting any
// state buffered across the gap.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/oratify/backend/internal/realtime"
)

// State is the connection state exposed to the caller.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
)

// Default reconnect and liveness tuning.
const (
	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffMax  = 30 * time.Second
	DefaultMaxAttempts = 5
	DefaultPingEvery   = 25 * time.Second
	defaultWriteWait   = 10 * time.Second
)

// ErrDisconnected is returned by Send after the controller has given up.
var ErrDisconnected = errors.New("client is disconnected")

// Options configures a Controller.
type Options struct {
	// URL is the full WebSocket URL including the session join code,
	// e.g. ws://host/ws/sessions/ABC234.
	URL string
	// Token authenticates a speaker. Leave empty to join as audience.
	Token string
	// DisplayName is the optional audience display name.
	DisplayName *string

	BackoffBase  time.Duration
	BackoffMax   time.Duration
	MaxAttempts  int
	PingInterval time.Duration

	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = DefaultBackoffMax
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingEvery
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Controller owns one logical session connection. Event handlers run on the
// read loop goroutine; they must not block.
type Controller struct {
	opts Options

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	synced   bool
	queue    []realtime.Envelope
	handlers map[realtime.MessageType][]func(realtime.Envelope)
	onState  []func(State)
	done     chan struct{}
	closed   bool
}

// New creates a sync controller. Call Run to connect.
func New(opts Options) *Controller {
	return &Controller{
		opts:     opts.withDefaults(),
		state:    StateDisconnected,
		handlers: make(map[realtime.MessageType][]func(realtime.Envelope)),
		done:     make(chan struct{}),
	}
}

// On registers a handler for one protocol message type. Must be called
// before Run.
func (c *Controller) On(t realtime.MessageType, fn func(realtime.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = append(c.handlers[t], fn)
}

// OnStateChange registers a connection state observer. Must be called before
// Run.
func (c *Controller) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, fn)
}

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send transmits an envelope, or queues it for replay after the next resync
// when the connection is down. Returns ErrDisconnected once the controller
// has given up reconnecting.
func (c *Controller) Send(t realtime.MessageType, payload any) error {
	env := realtime.NewEnvelope(t, payload)

	c.mu.Lock()
	if c.closed || c.state == StateDisconnected {
		c.mu.Unlock()
		return ErrDisconnected
	}
	if c.state != StateConnected || !c.synced || c.conn == nil {
		c.queue = append(c.queue, env)
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.mu.Unlock()

	return c.write(conn, env)
}

// Close tears the connection down and stops reconnecting.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(defaultWriteWait))
		_ = conn.Close()
	}
	close(c.done)
	c.setState(StateDisconnected)
}

// Run connects and services the connection until ctx is cancelled, Close is
// called, the server closes with a terminal code, or reconnection attempts
// are exhausted.
func (c *Controller) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			c.setState(StateDisconnected)
			return err
		}
		if attempt == 0 {
			c.setState(StateConnecting)
		} else {
			c.setState(StateReconnecting)
			delay := backoffDelay(c.opts.BackoffBase, c.opts.BackoffMax, attempt)
			c.opts.Logger.Info("reconnecting",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				c.setState(StateDisconnected)
				return ctx.Err()
			case <-c.done:
				return nil
			}
		}

		terminal, synced, err := c.session(ctx)
		if terminal {
			c.setState(StateDisconnected)
			return err
		}
		if synced {
			// The connection resynced before dropping, so this is a fresh
			// outage: the attempt budget and backoff start over.
			attempt = 0
		}
		attempt++
		if attempt > c.opts.MaxAttempts {
			c.opts.Logger.Warn("reconnect attempts exhausted")
			c.setState(StateDisconnected)
			return err
		}
	}
}

// session runs one connection lifetime: dial, handshake, read until close.
// Returns terminal=true when no reconnect should follow, and synced=true when
// the session_state snapshot arrived before the connection dropped.
func (c *Controller) session(ctx context.Context) (terminal, synced bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return false, false, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return true, false, nil
	}
	c.conn = conn
	// Everything received before the snapshot is pre-gap state.
	c.synced = false
	c.mu.Unlock()

	if err := c.handshake(conn); err != nil {
		conn.Close()
		return false, false, err
	}
	c.setState(StateConnected)

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go c.pingLoop(pingCtx, conn)

	for {
		var env realtime.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			c.conn = nil
			synced = c.synced
			c.mu.Unlock()
			conn.Close()
			if c.isClosed() {
				return true, synced, nil
			}
			return terminalClose(err), synced, err
		}
		c.dispatch(env)
	}
}

// handshake sends authenticate (speaker) or join (audience).
func (c *Controller) handshake(conn *websocket.Conn) error {
	if c.opts.Token != "" {
		return c.write(conn, realtime.NewEnvelope(realtime.TypeAuthenticate,
			realtime.AuthenticatePayload{Token: c.opts.Token}))
	}
	return c.write(conn, realtime.NewEnvelope(realtime.TypeJoin,
		realtime.JoinPayload{DisplayName: c.opts.DisplayName}))
}

// dispatch gates events on the resync snapshot: until session_state arrives,
// nothing else is delivered, so the caller never renders state from before a
// reconnect gap.
func (c *Controller) dispatch(env realtime.Envelope) {
	c.mu.Lock()
	if env.Type == realtime.TypeSessionState {
		c.synced = true
		replay := c.queue
		c.queue = nil
		conn := c.conn
		c.mu.Unlock()
		c.deliver(env)
		for _, queued := range replay {
			if conn == nil || c.write(conn, queued) != nil {
				break
			}
		}
		return
	}
	if !c.synced {
		c.mu.Unlock()
		c.opts.Logger.Debug("event before resync dropped", zap.String("type", string(env.Type)))
		return
	}
	c.mu.Unlock()
	c.deliver(env)
}

func (c *Controller) deliver(env realtime.Envelope) {
	c.mu.Lock()
	fns := c.handlers[env.Type]
	c.mu.Unlock()
	for _, fn := range fns {
		fn(env)
	}
}

// pingLoop emits the application-level ping as an extra liveness signal. The
// WebSocket-level server pings are answered by the transport automatically.
func (c *Controller) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(conn, realtime.NewEnvelope(realtime.TypePing, struct{}{})); err != nil {
				return
			}
		}
	}
}

func (c *Controller) write(conn *websocket.Conn, env realtime.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteWait))
	return conn.WriteMessage(websocket.TextMessage, body)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	observers := c.onState
	c.mu.Unlock()
	for _, fn := range observers {
		fn(s)
	}
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// terminalClose reports whether a read error carries a close code that makes
// reconnecting pointless: normal closure, failed auth, a second speaker
// connection, session ended, or session not found.
func terminalClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Code {
	case websocket.CloseNormalClosure,
		realtime.CloseAuthFailed,
		realtime.CloseSpeakerAlreadyConnected,
		realtime.CloseSessionEnded,
		realtime.CloseSessionNotFound:
		return true
	}
	return false
}

// backoffDelay returns the capped exponential delay for the given attempt
// (attempt 1 waits base, attempt 2 waits 2*base, ...).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
