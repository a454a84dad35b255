package entity

import "time"

// Delivery records that a reminder occurrence was published. The key is the
// note ID plus the reminder instant, so moving a note's reminder produces a
// new occurrence.
type Delivery struct {
	NoteID      string    `gorm:"column:note_id;primaryKey;type:varchar(36)"`
	ReminderAt  time.Time `gorm:"column:reminder_at;primaryKey"`
	DeliveredAt time.Time `gorm:"column:delivered_at;index"`
}

// TableName specifies the table name for the Delivery entity.
func (Delivery) TableName() string {
	return "reminder_deliveries"
}

// Watermark is the last instant a named scanner fully processed.
type Watermark struct {
	Name      string    `gorm:"column:name;primaryKey;type:varchar(64)"`
	ScannedAt time.Time `gorm:"column:scanned_at"`
}

// TableName specifies the table name for the Watermark entity.
func (Watermark) TableName() string {
	return "reminder_watermarks"
}
