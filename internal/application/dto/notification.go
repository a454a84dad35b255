package dto

import (
	"calendar/internal/domain/entity"
	"time"
)

// ReminderNotificationEvent is the event name clients listen for.
const ReminderNotificationEvent = "ReceiveNotification"

// ReminderNotification is the payload pushed to a note's subscribers when its
// reminder is due.
type ReminderNotification struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	ReminderAt time.Time `json:"reminderAt"`
}

// ToReminderNotification builds the payload for a due note.
func ToReminderNotification(n *entity.Note) ReminderNotification {
	return ReminderNotification{
		ID:         n.ID,
		Title:      n.Title,
		ReminderAt: n.ReminderAt.UTC(),
	}
}

// JoinTopicRequest asks for a stream connection to join a note's topic.
type JoinTopicRequest struct {
	Topic string `json:"topic"`
}
