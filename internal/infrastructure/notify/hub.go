package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	appErrors "calendar/internal/pkg/errors"
	"calendar/internal/pkg/logger"
)

// Subscriber receives messages published to the topics it joined.
type Subscriber interface {
	// Key identifies the subscriber; subscribing the same key twice to a
	// topic has no additional effect.
	Key() string
	// Send delivers one encoded message. An error wrapping
	// ErrSubscriberGone means the subscriber disconnected and the hub drops
	// it; any other error is a failed delivery and the subscription stays.
	Send(ctx context.Context, msg []byte) error
}

// Hub is an in-process topic registry. It is safe for concurrent use.
type Hub struct {
	log logger.Logger

	mu     sync.RWMutex
	topics map[string]map[string]Subscriber // topic -> key -> subscriber
}

// NewHub creates an empty hub.
func NewHub(log logger.Logger) *Hub {
	return &Hub{
		log:    log,
		topics: make(map[string]map[string]Subscriber),
	}
}

// Subscribe associates sub with topic.
func (h *Hub) Subscribe(topic string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[string]Subscriber)
		h.topics[topic] = subs
	}
	subs[sub.Key()] = sub
}

// Unsubscribe removes the subscriber with key from topic.
func (h *Hub) Unsubscribe(topic, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(topic, key)
}

// UnsubscribeAll removes the subscriber with key from every topic.
func (h *Hub) UnsubscribeAll(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic := range h.topics {
		h.removeLocked(topic, key)
	}
}

func (h *Hub) removeLocked(topic, key string) {
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(subs, key)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

// SubscriberCount returns the number of subscribers currently on topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Publish encodes payload as JSON and delivers it to the current subscribers
// of topic. Only an encoding failure is returned; disconnected subscribers
// are dropped.
func (h *Hub) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload for topic %s: %v", appErrors.ErrInternalServer, topic, err)
	}
	h.Deliver(ctx, topic, data)
	return nil
}

// Deliver fans an already encoded message out to the topic's subscribers and
// returns how many accepted it.
func (h *Hub) Deliver(ctx context.Context, topic string, data []byte) int {
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.topics[topic]))
	for _, s := range h.topics[topic] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range subs {
		if err := s.Send(ctx, data); err != nil {
			if errors.Is(err, appErrors.ErrSubscriberGone) {
				h.log.Warn(fmt.Sprintf("Dropping subscriber %s from all topics, gone during delivery on %s: %v", s.Key(), topic, err))
				h.UnsubscribeAll(s.Key())
				continue
			}
			h.log.Error(fmt.Sprintf("Failed to deliver message on topic %s to subscriber %s", topic, s.Key()), err)
			continue
		}
		delivered++
	}
	if len(subs) > 0 {
		h.log.Debug(fmt.Sprintf("Delivered message on topic %s to %d/%d subscribers", topic, delivered, len(subs)))
	}
	return delivered
}
