package realtime

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWindow = 30 * time.Millisecond

// fakePubSub records published events and exposes its subscription handler
// so a test can inject remote events.
type fakePubSub struct {
	mu        sync.Mutex
	published []publishedEvent
	handlers  map[uuid.UUID]func(env Envelope, target string)
	cancelled int
}

type publishedEvent struct {
	sessionID uuid.UUID
	env       Envelope
	target    string
}

func newFakePubSub() *fakePubSub {
	return &fakePubSub{handlers: make(map[uuid.UUID]func(env Envelope, target string))}
}

func (f *fakePubSub) PublishSessionEvent(sessionID uuid.UUID, env Envelope, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedEvent{sessionID: sessionID, env: env, target: target})
	return nil
}

func (f *fakePubSub) SubscribeSession(sessionID uuid.UUID, handler func(env Envelope, target string)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[sessionID] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cancelled++
	}, nil
}

func (f *fakePubSub) publishedEvents() []publishedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishedEvent, len(f.published))
	copy(out, f.published)
	return out
}

func roomWith(t *testing.T, r *Registry, sessionID uuid.UUID, roles ...Role) []*fakeSender {
	t.Helper()
	senders := make([]*fakeSender, len(roles))
	for i, role := range roles {
		senders[i] = &fakeSender{}
		require.NoError(t, r.Register(NewConnection(sessionID, role, senders[i])))
	}
	return senders
}

func TestBroadcaster_Broadcast(t *testing.T) {
	registry := NewRegistry(nil)
	sessionID := uuid.New()
	senders := roomWith(t, registry, sessionID, RoleSpeaker, RoleAudience, RoleAudience)

	b := NewBroadcaster(registry, nil, nil, nil, testWindow)
	b.Broadcast(sessionID, TypeSlideChanged, SlideChangedPayload{SlideIndex: 2})

	for _, s := range senders {
		require.Len(t, s.sent(), 1)
		assert.Equal(t, TypeSlideChanged, s.sent()[0].Type)
	}
}

func TestBroadcaster_BroadcastRole(t *testing.T) {
	registry := NewRegistry(nil)
	sessionID := uuid.New()
	senders := roomWith(t, registry, sessionID, RoleSpeaker, RoleAudience)

	b := NewBroadcaster(registry, nil, nil, nil, testWindow)
	b.BroadcastRole(sessionID, RoleSpeaker, TypeQuestionAsked, QuestionAskedPayload{QuestionText: "why"})

	assert.Len(t, senders[0].sent(), 1)
	assert.Empty(t, senders[1].sent())
}

func TestBroadcaster_SendErrorDoesNotBlockOthers(t *testing.T) {
	registry := NewRegistry(nil)
	sessionID := uuid.New()

	broken := &fakeSender{sendErr: errSendBufferFull}
	require.NoError(t, registry.Register(NewConnection(sessionID, RoleAudience, broken)))
	healthy := &fakeSender{}
	require.NoError(t, registry.Register(NewConnection(sessionID, RoleAudience, healthy)))

	b := NewBroadcaster(registry, nil, nil, nil, testWindow)
	b.Broadcast(sessionID, TypeParticipantCount, ParticipantCountPayload{ParticipantCount: 2})

	assert.Len(t, healthy.sent(), 1)
}

func TestBroadcaster_Personal(t *testing.T) {
	registry := NewRegistry(nil)
	sessionID := uuid.New()
	target := &fakeSender{}
	conn := NewConnection(sessionID, RoleAudience, target)
	require.NoError(t, registry.Register(conn))
	other := roomWith(t, registry, sessionID, RoleAudience)[0]

	b := NewBroadcaster(registry, nil, nil, nil, testWindow)
	b.Personal(sessionID, conn.ID, TypeAIResponse, AIResponsePayload{ResponseText: "42"})

	require.Len(t, target.sent(), 1)
	assert.Equal(t, TypeAIResponse, target.sent()[0].Type)
	assert.Empty(t, other.sent())
}

func TestBroadcaster_PersonalFallsBackToPublish(t *testing.T) {
	registry := NewRegistry(nil)
	sessionID := uuid.New()
	pubsub := newFakePubSub()

	b := NewBroadcaster(registry, nil, pubsub, pubsub, testWindow)
	b.Personal(sessionID, "remote-connection", TypeAIResponse, AIResponsePayload{ResponseText: "42"})

	events := pubsub.publishedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "remote-connection", events[0].target)
}

func TestBroadcaster_DebounceCoalesces(t *testing.T) {
	registry := NewRegistry(nil)
	sessionID := uuid.New()
	sender := roomWith(t, registry, sessionID, RoleAudience)[0]

	b := NewBroadcaster(registry, nil, nil, nil, testWindow)
	for i := 1; i <= 5; i++ {
		count := i
		b.BroadcastDebounced(sessionID, TypeParticipantCount, func() any {
			return ParticipantCountPayload{ParticipantCount: count}
		})
	}

	assert.Empty(t, sender.sent(), "nothing delivered inside the window")
	time.Sleep(3 * testWindow)

	sent := sender.sent()
	require.Len(t, sent, 1, "burst collapses into one broadcast")
	var p ParticipantCountPayload
	require.NoError(t, json.Unmarshal(sent[0].Payload, &p))
	assert.Equal(t, 5, p.ParticipantCount, "payload built from latest state")
}

func TestBroadcaster_DebounceIndependentPerType(t *testing.T) {
	registry := NewRegistry(nil)
	sessionID := uuid.New()
	sender := roomWith(t, registry, sessionID, RoleAudience)[0]

	b := NewBroadcaster(registry, nil, nil, nil, testWindow)
	b.BroadcastDebounced(sessionID, TypeParticipantCount, func() any {
		return ParticipantCountPayload{ParticipantCount: 1}
	})
	b.BroadcastDebounced(sessionID, TypeVoteUpdate, func() any {
		return VoteUpdatePayload{TotalVotes: 1}
	})

	time.Sleep(3 * testWindow)
	assert.Len(t, sender.sent(), 2)
}

func TestBroadcaster_Flush(t *testing.T) {
	registry := NewRegistry(nil)
	sessionID := uuid.New()
	sender := roomWith(t, registry, sessionID, RoleAudience)[0]

	b := NewBroadcaster(registry, nil, nil, nil, time.Minute)
	b.BroadcastDebounced(sessionID, TypeVoteUpdate, func() any {
		return VoteUpdatePayload{TotalVotes: 7}
	})
	assert.Empty(t, sender.sent())

	b.Flush(sessionID)
	require.Len(t, sender.sent(), 1)
	assert.Equal(t, TypeVoteUpdate, sender.sent()[0].Type)

	// Nothing pending anymore; a second flush is a no-op.
	b.Flush(sessionID)
	assert.Len(t, sender.sent(), 1)
}

func TestBroadcaster_SubscriptionDeliversRemoteEvents(t *testing.T) {
	registry := NewRegistry(nil)
	sessionID := uuid.New()
	pubsub := newFakePubSub()
	sender := roomWith(t, registry, sessionID, RoleAudience)[0]

	b := NewBroadcaster(registry, nil, pubsub, pubsub, testWindow)
	b.EnsureSubscription(sessionID)
	b.EnsureSubscription(sessionID) // idempotent

	handler := pubsub.handlers[sessionID]
	require.NotNil(t, handler)

	handler(NewEnvelope(TypeSlideChanged, SlideChangedPayload{SlideIndex: 3}), "")
	require.Len(t, sender.sent(), 1)

	// Targeted remote event reaches only the named connection.
	conn := registry.Listeners(sessionID)[0]
	handler(NewEnvelope(TypeAIResponse, AIResponsePayload{ResponseText: "hi"}), conn.ID)
	assert.Len(t, sender.sent(), 2)
	handler(NewEnvelope(TypeAIResponse, AIResponsePayload{ResponseText: "hi"}), "someone-else")
	assert.Len(t, sender.sent(), 2)

	b.DropSubscription(sessionID)
	assert.Equal(t, 1, pubsub.cancelled)
}
