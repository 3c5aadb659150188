package models

import "time"

// StatusChange is an append-only audit row for every observed ticket status
// transition, including transitions for tickets created outside the bridge
// (those have no TicketMapping row).
type StatusChange struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	TicketID    string `gorm:"size:64;not null;index"`
	OldStatusID int
	NewStatusID int
	Source      string `gorm:"size:16"` // "chat", "webhook", "supersede"
	CreatedAt   time.Time
}
