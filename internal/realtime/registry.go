package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Role of a registered connection.
type Role string

const (
	RoleSpeaker  Role = "speaker"
	RoleAudience Role = "audience"
)

// ErrSpeakerAlreadyConnected is returned when a second speaker connection is
// attempted for a session. The existing connection wins.
var ErrSpeakerAlreadyConnected = errors.New("speaker already connected for this session")

// Sender is the transport half of a connection: a non-blocking enqueue plus
// an ordered close. CloseWithCode must flush previously enqueued envelopes
// before the close frame (FIFO per socket).
type Sender interface {
	Send(env Envelope) error
	CloseWithCode(code int, reason string)
}

// Connection is one live socket in a room. Owned by the Registry from
// Register until Unregister; never persisted.
type Connection struct {
	ID            string
	SessionID     uuid.UUID
	Role          Role
	ParticipantID *uuid.UUID
	DisplayName   *string
	ConnectedAt   time.Time

	sender Sender
}

// NewConnection builds a registry entry around a transport.
func NewConnection(sessionID uuid.UUID, role Role, sender Sender) *Connection {
	return &Connection{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Role:        role,
		ConnectedAt: time.Now(),
		sender:      sender,
	}
}

// Send enqueues an envelope on the connection's socket.
func (c *Connection) Send(env Envelope) error { return c.sender.Send(env) }

// Close flushes pending envelopes and closes the socket with the given code.
func (c *Connection) Close(code int, reason string) { c.sender.CloseWithCode(code, reason) }

// Registry is the single source of truth for which sockets belong to which
// session, partitioned by role. It is an explicitly constructed instance
// owned by the application; all mutation goes through the Orchestrator path,
// serialized by the internal mutex.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[uuid.UUID]map[string]*Connection
	logger *zap.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		rooms:  make(map[uuid.UUID]map[string]*Connection),
		logger: logger,
	}
}

// Register adds a connection to its session's room, creating the room lazily.
// A second speaker connection is rejected to avoid split-brain slide control.
func (r *Registry) Register(conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[conn.SessionID]
	if conn.Role == RoleSpeaker {
		for _, c := range room {
			if c.Role == RoleSpeaker {
				return ErrSpeakerAlreadyConnected
			}
		}
	}
	if room == nil {
		room = make(map[string]*Connection)
		r.rooms[conn.SessionID] = room
	}
	room[conn.ID] = conn

	r.logger.Debug("connection registered",
		zap.String("connection_id", conn.ID),
		zap.String("session_id", conn.SessionID.String()),
		zap.String("role", string(conn.Role)))
	return nil
}

// Unregister removes a connection and deletes the room when it becomes empty.
// Returns the removed connection, or nil if it was not registered.
func (r *Registry) Unregister(sessionID uuid.UUID, connectionID string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[sessionID]
	if !ok {
		return nil
	}
	conn, ok := room[connectionID]
	if !ok {
		return nil
	}
	delete(room, connectionID)
	if len(room) == 0 {
		delete(r.rooms, sessionID)
	}

	r.logger.Debug("connection unregistered",
		zap.String("connection_id", connectionID),
		zap.String("session_id", sessionID.String()),
		zap.String("role", string(conn.Role)))
	return conn
}

// Listeners returns the room's connections, optionally filtered to one role.
func (r *Registry) Listeners(sessionID uuid.UUID, roleFilter ...Role) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[sessionID]
	out := make([]*Connection, 0, len(room))
	for _, c := range room {
		if len(roleFilter) > 0 && c.Role != roleFilter[0] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Get returns one connection by id, or nil.
func (r *Registry) Get(sessionID uuid.UUID, connectionID string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[sessionID][connectionID]
}

// Speaker returns the session's speaker connection, if connected.
func (r *Registry) Speaker(sessionID uuid.UUID) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.rooms[sessionID] {
		if c.Role == RoleSpeaker {
			return c
		}
	}
	return nil
}

// RoleCounts returns the number of speaker and audience connections.
func (r *Registry) RoleCounts(sessionID uuid.UUID) (speakers, audience int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.rooms[sessionID] {
		if c.Role == RoleSpeaker {
			speakers++
		} else {
			audience++
		}
	}
	return speakers, audience
}

// AudienceCount returns the number of audience connections in a session.
func (r *Registry) AudienceCount(sessionID uuid.UUID) int {
	_, audience := r.RoleCounts(sessionID)
	return audience
}

// RoomEmpty reports whether no connections remain for the session.
func (r *Registry) RoomEmpty(sessionID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[sessionID]) == 0
}

// CloseRoom removes every connection for a session and closes the sockets
// with the given code. Returns the removed connections.
func (r *Registry) CloseRoom(sessionID uuid.UUID, code int, reason string) []*Connection {
	r.mu.Lock()
	room := r.rooms[sessionID]
	delete(r.rooms, sessionID)
	r.mu.Unlock()

	removed := make([]*Connection, 0, len(room))
	for _, c := range room {
		c.Close(code, reason)
		removed = append(removed, c)
	}
	r.logger.Info("room closed",
		zap.String("session_id", sessionID.String()),
		zap.Int("connections", len(removed)))
	return removed
}
