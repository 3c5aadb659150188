package models

import "time"

// UserComment records the normalized text of a requester comment so that
// webhook deliveries echoing it back are not re-posted into the chat.
// Rows are cleared when the ticket reaches a closed state.
type UserComment struct {
	TicketID   string `gorm:"primaryKey;size:64"`
	Normalized string `gorm:"primaryKey;size:512"`
	CreatedAt  time.Time
}
