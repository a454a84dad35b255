package handler

import "calendar/internal/infrastructure/notify"

// Subscriptions is the subscriber registry handlers join clients to.
type Subscriptions interface {
	Subscribe(topic string, sub notify.Subscriber)
	Unsubscribe(topic, key string)
	UnsubscribeAll(key string)
}
