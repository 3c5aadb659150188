package bridge

import (
	"context"
	"fmt"

	"github.com/JKgeneral1/IT-tgBot/internal/chat"
	"github.com/JKgeneral1/IT-tgBot/internal/models"
	"github.com/JKgeneral1/IT-tgBot/internal/status"
)

// LifecycleEvent is a parsed helpdesk push: a status move, engineer
// comments, or both. StatusID zero means the event carried no status.
type LifecycleEvent struct {
	TicketID string
	StatusID int
	EventID  string
	Comments []string
}

// HandleLifecycle applies one helpdesk event to the mapped thread. Events
// for unmapped tickets are audited and otherwise ignored; a status equal
// to the one already known produces no notification.
func (e *Engine) HandleLifecycle(ctx context.Context, ev LifecycleEvent) error {
	if ev.TicketID == "" {
		return fmt.Errorf("%w: lifecycle event has no ticket id", ErrValidation)
	}
	var evtFP string
	if ev.EventID != "" {
		evtFP = "evt:" + ev.EventID
		if !e.guard.Remember(evtFP) {
			e.logf("bridge: duplicate lifecycle event %s for %s, dropped", ev.EventID, ev.TicketID)
			return nil
		}
	}

	mapping, err := e.store.ByTicket(ev.TicketID)
	if err != nil {
		// Storage is down; release the fingerprint so the helpdesk's
		// redelivery can retry this event.
		e.guard.Forget(evtFP)
		return fmt.Errorf("bridge: lookup ticket %s: %w", ev.TicketID, err)
	}

	if mapping != nil {
		e.relayComments(ctx, mapping.TicketID, threadOf(mapping), ev.Comments)
	}

	if ev.StatusID == 0 {
		return nil
	}

	canon := e.taxonomy.Classify(ev.StatusID)
	if canon == status.Unknown {
		e.logf("bridge: ticket %s pushed unmapped status %d, ignored", ev.TicketID, ev.StatusID)
		return nil
	}

	if current, ok := e.cacheGet(ev.TicketID); ok && current == ev.StatusID {
		e.cachePut(ev.TicketID, ev.StatusID)
		return nil
	}

	updated, changed, err := e.store.UpsertByTicket(ev.TicketID, canon, ev.StatusID)
	if err != nil {
		e.guard.Forget(evtFP)
		return fmt.Errorf("bridge: record status of %s: %w", ev.TicketID, err)
	}
	e.cachePut(ev.TicketID, ev.StatusID)
	if !changed || updated == nil {
		return nil
	}

	thread := threadOf(updated)
	switch canon {
	case status.Pending:
		// One nudge per pending episode.
		if updated.NotifiedStatusID != nil && *updated.NotifiedStatusID == ev.StatusID {
			return nil
		}
		e.notify(ctx, thread, "",
			fmt.Sprintf("Ticket #%s is waiting for your reply. Answer in this thread to continue.", ticketRef(updated)))
		if merr := e.store.MarkNotified(updated.ID, ev.StatusID); merr != nil {
			e.logf("bridge: mark notified %s: %v", ev.TicketID, merr)
		}
	case status.Closed:
		e.notify(ctx, thread, "",
			fmt.Sprintf("Ticket #%s has been closed. A new message in this thread opens a fresh ticket.", ticketRef(updated)))
		if cerr := e.store.ClearUserComments(ev.TicketID); cerr != nil {
			e.logf("bridge: clear comments for %s: %v", ev.TicketID, cerr)
		}
	default:
		e.notify(ctx, thread, "",
			fmt.Sprintf("Ticket #%s status changed to %s.", ticketRef(updated), e.taxonomy.Label(ev.StatusID)))
	}
	return nil
}

// relayComments forwards the engineer comment carried by one event.
// Helpdesk pushes include older history entries alongside the new
// comment; the longest candidate is the actual one. Comments that echo
// the user's own recent text are dropped.
func (e *Engine) relayComments(ctx context.Context, ticketID string, thread chat.ThreadKey, comments []string) {
	var body string
	for _, c := range comments {
		if len(c) > len(body) {
			body = c
		}
	}
	if body == "" {
		return
	}
	echo, err := e.store.IsEcho(ticketID, body)
	if err != nil {
		e.logf("bridge: echo check for %s: %v", ticketID, err)
	}
	if echo {
		return
	}
	e.notify(ctx, thread, "", body)
}

func (e *Engine) cacheGet(ticketID string) (int, bool) {
	if e.cache == nil {
		return 0, false
	}
	return e.cache.Get(ticketID)
}

func (e *Engine) cachePut(ticketID string, statusID int) {
	if e.cache != nil {
		e.cache.Invalidate(ticketID)
		e.cache.Put(ticketID, statusID)
	}
}

func threadOf(m *models.TicketMapping) chat.ThreadKey {
	return chat.ThreadKey{ChatID: m.ChatID, TopicID: m.TopicID}
}
