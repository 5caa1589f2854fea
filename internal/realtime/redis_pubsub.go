package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "session:"
	publishTimeout = 5 * time.Second
)

// redisPayload is the message published to Redis for cross-instance fan-out.
// Origin lets subscribers skip their own publishes; Target carries a
// connection id for personal delivery on whichever instance holds it.
type redisPayload struct {
	Origin   string   `json:"origin"`
	Target   string   `json:"target,omitempty"`
	Envelope Envelope `json:"envelope"`
	At       int64    `json:"at"`
}

// RedisPubSub implements Publisher and Subscriber over Redis pub/sub,
// turning the in-memory room fan-out into a publish when the deployment
// spans more than one process. The Registry/Broadcaster contract is
// unchanged; only "send to room" becomes a publish.
type RedisPubSub struct {
	client   *redis.Client
	instance string
	logger   *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for session events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{
		client:   client,
		instance: uuid.New().String(),
		logger:   logger,
	}
}

// PublishSessionEvent publishes an envelope to the session's channel.
func (r *RedisPubSub) PublishSessionEvent(sessionID uuid.UUID, env Envelope, target string) error {
	channel := channelPrefix + sessionID.String()
	body, err := json.Marshal(redisPayload{
		Origin:   r.instance,
		Target:   target,
		Envelope: env,
		At:       time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, channel, body).Err()
}

// SubscribeSession subscribes to a session's channel and invokes handler for
// events published by other instances. Returns a cancel function.
func (r *RedisPubSub) SubscribeSession(sessionID uuid.UUID, handler func(env Envelope, target string)) (cancel func(), err error) {
	channel := channelPrefix + sessionID.String()
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p redisPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					r.logger.Warn("invalid pubsub payload", zap.Error(err))
					continue
				}
				if p.Origin == r.instance {
					continue // already delivered locally
				}
				handler(p.Envelope, p.Target)
			}
		}
	}()
	return func() { cancelCtx() }, nil
}
