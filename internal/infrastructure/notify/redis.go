package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	appErrors "calendar/internal/pkg/errors"
	"calendar/internal/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// envelope is the wire format on the Redis channel.
type envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// RedisChannel publishes through Redis pub/sub so every replica's local Hub
// sees each message. Subscriptions stay local to the replica.
type RedisChannel struct {
	rc      *redis.Client
	channel string
	hub     *Hub
	log     logger.Logger
}

// NewRedisChannel wraps hub with a Redis pub/sub bridge on channel.
func NewRedisChannel(rc *redis.Client, channel string, hub *Hub, log logger.Logger) *RedisChannel {
	return &RedisChannel{rc: rc, channel: channel, hub: hub, log: log}
}

// Subscribe registers sub on the local hub.
func (r *RedisChannel) Subscribe(topic string, sub Subscriber) {
	r.hub.Subscribe(topic, sub)
}

// Publish sends payload for topic to all replicas.
func (r *RedisChannel) Publish(ctx context.Context, topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload for topic %s: %v", appErrors.ErrInternalServer, topic, err)
	}
	data, err := json.Marshal(envelope{Topic: topic, Payload: raw})
	if err != nil {
		return fmt.Errorf("%w: encode envelope for topic %s: %v", appErrors.ErrInternalServer, topic, err)
	}
	if err := r.rc.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("%w: redis publish on %s: %v", appErrors.ErrChannelUnavailable, r.channel, err)
	}
	return nil
}

// Run consumes the Redis channel and hands messages to the local hub until
// ctx is cancelled, resubscribing if the subscription drops.
func (r *RedisChannel) Run(ctx context.Context) {
	for {
		sub := r.rc.Subscribe(ctx, r.channel)
		r.consume(ctx, sub.Channel())
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		r.log.Warn(fmt.Sprintf("Redis subscription on %s closed, reconnecting", r.channel))
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (r *RedisChannel) consume(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Error(fmt.Sprintf("Unable to parse notification envelope on %s", r.channel), err)
				continue
			}
			if env.Topic == "" {
				r.log.Warn(fmt.Sprintf("Ignoring notification envelope without topic on %s", r.channel))
				continue
			}
			r.hub.Deliver(ctx, env.Topic, env.Payload)
		}
	}
}
