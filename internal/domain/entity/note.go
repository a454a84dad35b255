package entity

import "time"

// Note is a calendar note with a reminder instant.
type Note struct {
	ID         string    `gorm:"column:id;primaryKey;type:varchar(36)"`
	Title      string    `gorm:"column:title;not null"`
	Text       *string   `gorm:"column:text;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime:false"`
	ReminderAt time.Time `gorm:"column:reminder_at;index;not null"`
}

// TableName specifies the table name for the Note entity.
func (Note) TableName() string {
	return "notes"
}

// NormalizeTimes converts both instants to UTC. ReminderAt is always stored
// and compared in UTC.
func (n *Note) NormalizeTimes() {
	n.CreatedAt = n.CreatedAt.UTC()
	n.ReminderAt = n.ReminderAt.UTC()
}
