package models

import "time"

// TicketMapping binds a chat thread to its helpdesk ticket. At most one row
// exists per (chat_id, topic_id); rows are updated in place and never
// deleted, so a thread keeps its history after the ticket closes.
type TicketMapping struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	ChatID       string `gorm:"size:64;not null;uniqueIndex:ux_thread,priority:1"`
	TopicID      string `gorm:"size:64;not null;default:'';uniqueIndex:ux_thread,priority:2"`
	TicketID     string `gorm:"size:64;not null;index"`
	TicketNumber string `gorm:"size:32"`

	// Status is the canonical state ("open", "pending", "closed");
	// StatusID is the helpdesk's own identifier for it.
	Status   string `gorm:"size:16;not null;index"`
	StatusID int    `gorm:"not null"`

	// NotifiedStatusID records which status the thread was already nudged
	// about, so a redelivered webhook does not repeat the nudge.
	NotifiedStatusID *int
	ReminderSentAt   *time.Time

	LastComment     string `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StatusChangedAt time.Time
}
