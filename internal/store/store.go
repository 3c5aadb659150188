// Package store owns the durable thread ↔ ticket mapping. Its transactions
// are the single serialization point for concurrent work on the same
// thread; everything above it may race freely.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/JKgeneral1/IT-tgBot/internal/chat"
	"github.com/JKgeneral1/IT-tgBot/internal/models"
	"github.com/JKgeneral1/IT-tgBot/internal/status"
	"gorm.io/gorm"
)

// ErrConflict is returned when an operation would violate a mapping
// invariant: overwriting an active mapping's ticket, or superseding a
// mapping that is not closed. Callers must never retry it automatically.
var ErrConflict = errors.New("mapping conflict")

// Store wraps the relational backing for ticket mappings.
type Store struct {
	db *gorm.DB
}

// New creates a Store.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	return &Store{db: db}, nil
}

// Lookup returns the mapping for a thread, or nil when the thread has no
// ticket yet. Lookup has no side effects.
func (s *Store) Lookup(key chat.ThreadKey) (*models.TicketMapping, error) {
	var m models.TicketMapping
	err := s.db.Where("chat_id = ? AND topic_id = ?", key.ChatID, key.TopicID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup %s: %w", key, err)
	}
	return &m, nil
}

// ByTicket returns the mapping that currently points at a ticket, or nil.
// Superseded tickets have no current mapping.
func (s *Store) ByTicket(ticketID string) (*models.TicketMapping, error) {
	var m models.TicketMapping
	err := s.db.Where("ticket_id = ?", ticketID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: by ticket %s: %w", ticketID, err)
	}
	return &m, nil
}

// UpsertOpts carries the remote result being recorded.
type UpsertOpts struct {
	TicketID     string
	TicketNumber string
	Status       status.Status
	StatusID     int
	LastComment  string
	Source       string // audit tag: "chat" or "webhook"
}

// Upsert creates the mapping for a thread or updates its status fields
// atomically. The ticket identity is write-once: an upsert naming a
// different ticket than the stored one fails with ErrConflict (Supersede
// is the only way to replace it). Last writer wins on status.
func (s *Store) Upsert(key chat.ThreadKey, opts UpsertOpts) (*models.TicketMapping, error) {
	if opts.TicketID == "" {
		return nil, fmt.Errorf("store: upsert %s: ticket id is required", key)
	}

	var out *models.TicketMapping
	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		var existing models.TicketMapping
		res := tx.Where("chat_id = ? AND topic_id = ?", key.ChatID, key.TopicID).First(&existing)
		if res.Error != nil && !errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("lookup: %w", res.Error)
		}

		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			m := models.TicketMapping{
				ChatID:          key.ChatID,
				TopicID:         key.TopicID,
				TicketID:        opts.TicketID,
				TicketNumber:    opts.TicketNumber,
				Status:          string(opts.Status),
				StatusID:        opts.StatusID,
				LastComment:     opts.LastComment,
				StatusChangedAt: now,
			}
			if err := tx.Create(&m).Error; err != nil {
				return fmt.Errorf("create: %w", err)
			}
			if err := auditStatus(tx, opts.TicketID, 0, opts.StatusID, opts.Source); err != nil {
				return err
			}
			out = &m
			return nil
		}

		if existing.TicketID != opts.TicketID {
			return fmt.Errorf("thread %s maps ticket %s, refusing %s: %w",
				key, existing.TicketID, opts.TicketID, ErrConflict)
		}

		updates := map[string]interface{}{
			"status":    string(opts.Status),
			"status_id": opts.StatusID,
		}
		if opts.TicketNumber != "" {
			updates["ticket_number"] = opts.TicketNumber
		}
		if opts.LastComment != "" {
			updates["last_comment"] = opts.LastComment
		}
		if existing.StatusID != opts.StatusID {
			updates["status_changed_at"] = now
			// A new status episode resets the one-shot notification marks.
			updates["notified_status_id"] = nil
			updates["reminder_sent_at"] = nil
			if err := auditStatus(tx, opts.TicketID, existing.StatusID, opts.StatusID, opts.Source); err != nil {
				return err
			}
		}
		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return fmt.Errorf("update: %w", err)
		}
		out = &existing
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("store: upsert %s: %w", key, err)
	}
	return out, nil
}

// UpsertByTicket records an externally observed status for a ticket. When
// the ticket has a mapping the row is updated and returned; when it does
// not (created out of band), only an audit row is written and the returned
// mapping is nil — that case is not an error. The changed result reports
// whether the stored status actually moved.
func (s *Store) UpsertByTicket(ticketID string, st status.Status, statusID int) (*models.TicketMapping, bool, error) {
	var out *models.TicketMapping
	changed := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.TicketMapping
		res := tx.Where("ticket_id = ?", ticketID).First(&existing)
		if res.Error != nil && !errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("lookup: %w", res.Error)
		}

		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			changed = true
			return auditStatus(tx, ticketID, 0, statusID, "webhook")
		}

		if existing.StatusID == statusID {
			out = &existing
			return nil
		}
		changed = true
		if err := auditStatus(tx, ticketID, existing.StatusID, statusID, "webhook"); err != nil {
			return err
		}
		updates := map[string]interface{}{
			"status":             string(st),
			"status_id":          statusID,
			"status_changed_at":  time.Now(),
			"notified_status_id": nil,
			"reminder_sent_at":   nil,
		}
		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return fmt.Errorf("update: %w", err)
		}
		existing.Status = string(st)
		existing.StatusID = statusID
		existing.NotifiedStatusID = nil
		existing.ReminderSentAt = nil
		out = &existing
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("store: upsert ticket %s: %w", ticketID, err)
	}
	return out, changed, nil
}

// Supersede replaces a closed mapping's ticket with a newly created one.
// It fails with ErrConflict if the mapping is missing or still active, so
// an active ticket can never be forked by accident.
func (s *Store) Supersede(key chat.ThreadKey, opts UpsertOpts) (*models.TicketMapping, error) {
	if opts.TicketID == "" {
		return nil, fmt.Errorf("store: supersede %s: ticket id is required", key)
	}

	var out *models.TicketMapping
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.TicketMapping
		res := tx.Where("chat_id = ? AND topic_id = ?", key.ChatID, key.TopicID).First(&existing)
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("no mapping to supersede: %w", ErrConflict)
		}
		if res.Error != nil {
			return fmt.Errorf("lookup: %w", res.Error)
		}
		if status.Status(existing.Status).Active() {
			return fmt.Errorf("mapping for %s still active (ticket %s, %s): %w",
				key, existing.TicketID, existing.Status, ErrConflict)
		}

		now := time.Now()
		updates := map[string]interface{}{
			"ticket_id":          opts.TicketID,
			"ticket_number":      opts.TicketNumber,
			"status":             string(opts.Status),
			"status_id":          opts.StatusID,
			"last_comment":       opts.LastComment,
			"status_changed_at":  now,
			"notified_status_id": nil,
			"reminder_sent_at":   nil,
		}
		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return fmt.Errorf("update: %w", err)
		}
		if err := auditStatus(tx, opts.TicketID, 0, opts.StatusID, "supersede"); err != nil {
			return err
		}
		out = &existing
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("store: supersede %s: %w", key, err)
	}
	return out, nil
}

// MarkNotified records that the thread was nudged about the given status,
// so redelivered webhooks do not repeat the nudge.
func (s *Store) MarkNotified(mappingID uint, statusID int) error {
	result := s.db.Model(&models.TicketMapping{}).
		Where("id = ?", mappingID).
		Update("notified_status_id", statusID)
	if result.Error != nil {
		return fmt.Errorf("store: mark notified %d: %w", mappingID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("store: mark notified: mapping %d not found", mappingID)
	}
	return nil
}

// PendingSince returns mappings that have been pending since before the
// cutoff and have not had a reminder sent for this status episode.
func (s *Store) PendingSince(cutoff time.Time) ([]models.TicketMapping, error) {
	var out []models.TicketMapping
	err := s.db.
		Where("status = ? AND status_changed_at < ? AND reminder_sent_at IS NULL",
			string(status.Pending), cutoff).
		Order("status_changed_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("store: pending since: %w", err)
	}
	return out, nil
}

// MarkReminderSent stamps the mapping's reminder time.
func (s *Store) MarkReminderSent(mappingID uint) error {
	result := s.db.Model(&models.TicketMapping{}).
		Where("id = ?", mappingID).
		Update("reminder_sent_at", time.Now())
	if result.Error != nil {
		return fmt.Errorf("store: mark reminder %d: %w", mappingID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("store: mark reminder: mapping %d not found", mappingID)
	}
	return nil
}

func auditStatus(tx *gorm.DB, ticketID string, oldID, newID int, source string) error {
	rec := models.StatusChange{
		TicketID:    ticketID,
		OldStatusID: oldID,
		NewStatusID: newID,
		Source:      source,
	}
	if err := tx.Create(&rec).Error; err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return nil
}
