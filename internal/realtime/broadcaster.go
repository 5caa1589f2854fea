package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultDebounceWindow coalesces high-frequency events (vote_update,
// participant_count) so bursts collapse into one recomputed broadcast.
const DefaultDebounceWindow = 100 * time.Millisecond

// Publisher publishes a session event for other instances. Target is a
// connection id for personal delivery, or empty for a room broadcast.
type Publisher interface {
	PublishSessionEvent(sessionID uuid.UUID, env Envelope, target string) error
}

// Subscriber subscribes to a session's event channel. The handler receives
// events published by other instances.
type Subscriber interface {
	SubscribeSession(sessionID uuid.UUID, handler func(env Envelope, target string)) (cancel func(), err error)
}

// Broadcaster resolves a target set via the Registry and fans an envelope
// out to it. Delivery is best-effort, at-least-once per live connection; a
// failed send on one connection never blocks the rest. When a Publisher is
// configured, room events are also published for other instances.
type Broadcaster struct {
	registry *Registry
	logger   *zap.Logger
	pub      Publisher
	sub      Subscriber
	window   time.Duration

	mu      sync.Mutex
	pending map[debounceKey]*pendingBroadcast
	subs    map[uuid.UUID]func()
}

type debounceKey struct {
	sessionID uuid.UUID
	msgType   MessageType
}

type pendingBroadcast struct {
	timer *time.Timer
	build func() any
}

// NewBroadcaster creates an event broadcaster. pub and sub may be nil for a
// single-process deployment; window <= 0 selects the default debounce window.
func NewBroadcaster(registry *Registry, logger *zap.Logger, pub Publisher, sub Subscriber, window time.Duration) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Broadcaster{
		registry: registry,
		logger:   logger,
		pub:      pub,
		sub:      sub,
		window:   window,
		pending:  make(map[debounceKey]*pendingBroadcast),
		subs:     make(map[uuid.UUID]func()),
	}
}

// Broadcast sends an envelope to every connection in the room, and publishes
// it for other instances when a Publisher is configured.
func (b *Broadcaster) Broadcast(sessionID uuid.UUID, t MessageType, payload any) {
	env := NewEnvelope(t, payload)
	b.deliverLocal(sessionID, env, nil)
	if b.pub != nil {
		if err := b.pub.PublishSessionEvent(sessionID, env, ""); err != nil {
			b.logger.Warn("publish session event failed",
				zap.String("session_id", sessionID.String()),
				zap.String("type", string(t)),
				zap.Error(err))
		}
	}
}

// BroadcastRole sends an envelope only to connections with the given role.
// Role-targeted events are not published cross-instance: the speaker holds a
// single connection on one instance, and audience-only events follow the
// same rule as broadcasts when needed.
func (b *Broadcaster) BroadcastRole(sessionID uuid.UUID, role Role, t MessageType, payload any) {
	env := NewEnvelope(t, payload)
	role2 := role
	b.deliverLocal(sessionID, env, &role2)
}

// Personal sends an envelope to exactly one connection. If the connection
// has since disconnected this is a no-op with a logged warning; the message
// is also persisted upstream, so the participant can re-request it.
func (b *Broadcaster) Personal(sessionID uuid.UUID, connectionID string, t MessageType, payload any) {
	env := NewEnvelope(t, payload)
	conn := b.registry.Get(sessionID, connectionID)
	if conn == nil {
		if b.pub != nil {
			// The connection may live on another instance.
			if err := b.pub.PublishSessionEvent(sessionID, env, connectionID); err == nil {
				return
			}
		}
		b.logger.Warn("personal message dropped, connection gone",
			zap.String("session_id", sessionID.String()),
			zap.String("connection_id", connectionID),
			zap.String("type", string(t)))
		return
	}
	if err := conn.Send(env); err != nil {
		b.logger.Warn("personal send failed",
			zap.String("connection_id", connectionID),
			zap.Error(err))
	}
}

// BroadcastDebounced schedules a coalesced broadcast. Multiple calls for the
// same (session, type) within the window collapse into a single broadcast,
// built from current state at fire time rather than at schedule time.
func (b *Broadcaster) BroadcastDebounced(sessionID uuid.UUID, t MessageType, build func() any) {
	key := debounceKey{sessionID: sessionID, msgType: t}

	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.pending[key]; ok {
		p.build = build
		return
	}
	p := &pendingBroadcast{build: build}
	p.timer = time.AfterFunc(b.window, func() {
		b.mu.Lock()
		current, ok := b.pending[key]
		delete(b.pending, key)
		b.mu.Unlock()
		if !ok {
			return
		}
		b.Broadcast(sessionID, t, current.build())
	})
	b.pending[key] = p
}

// Flush forces any pending debounced broadcast for the session out now.
// Used before closing a room so coalesced updates are not lost.
func (b *Broadcaster) Flush(sessionID uuid.UUID) {
	b.mu.Lock()
	var due []struct {
		t     MessageType
		build func() any
	}
	for key, p := range b.pending {
		if key.sessionID != sessionID {
			continue
		}
		p.timer.Stop()
		due = append(due, struct {
			t     MessageType
			build func() any
		}{key.msgType, p.build})
		delete(b.pending, key)
	}
	b.mu.Unlock()

	for _, d := range due {
		b.Broadcast(sessionID, d.t, d.build())
	}
}

// EnsureSubscription starts the cross-instance subscription for a session.
// Called when the first connection joins a room. No-op without a Subscriber.
func (b *Broadcaster) EnsureSubscription(sessionID uuid.UUID) {
	if b.sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sessionID]; ok {
		return
	}
	cancel, err := b.sub.SubscribeSession(sessionID, func(env Envelope, target string) {
		if target != "" {
			if conn := b.registry.Get(sessionID, target); conn != nil {
				_ = conn.Send(env)
			}
			return
		}
		b.deliverLocal(sessionID, env, nil)
	})
	if err != nil {
		b.logger.Warn("session subscription failed",
			zap.String("session_id", sessionID.String()), zap.Error(err))
		return
	}
	b.subs[sessionID] = cancel
}

// DropSubscription cancels the cross-instance subscription, called when the
// last connection leaves a room.
func (b *Broadcaster) DropSubscription(sessionID uuid.UUID) {
	b.mu.Lock()
	cancel, ok := b.subs[sessionID]
	delete(b.subs, sessionID)
	b.mu.Unlock()
	if ok {
		cancel()
	}
}

// deliverLocal fans an envelope out to local connections only. Errors are
// caught per connection during fan-out.
func (b *Broadcaster) deliverLocal(sessionID uuid.UUID, env Envelope, role *Role) {
	var conns []*Connection
	if role != nil {
		conns = b.registry.Listeners(sessionID, *role)
	} else {
		conns = b.registry.Listeners(sessionID)
	}
	for _, conn := range conns {
		if err := conn.Send(env); err != nil {
			b.logger.Warn("broadcast send failed",
				zap.String("connection_id", conn.ID),
				zap.String("type", string(env.Type)),
				zap.Error(err))
		}
	}
}
