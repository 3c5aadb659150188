// Package bridge drives the chat/helpdesk synchronization: inbound chat
// messages become ticket operations, helpdesk lifecycle events become
// chat notifications.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/JKgeneral1/IT-tgBot/internal/chat"
	"github.com/JKgeneral1/IT-tgBot/internal/dedupe"
	"github.com/JKgeneral1/IT-tgBot/internal/helpdesk"
	"github.com/JKgeneral1/IT-tgBot/internal/models"
	"github.com/JKgeneral1/IT-tgBot/internal/relay"
	"github.com/JKgeneral1/IT-tgBot/internal/status"
	"github.com/JKgeneral1/IT-tgBot/internal/statuscache"
	"github.com/JKgeneral1/IT-tgBot/internal/store"
)

// ErrValidation marks inbound events that are malformed and must be
// dropped without retry.
var ErrValidation = errors.New("bridge: invalid event")

// Engine owns the per-thread state machine. One Engine serves all
// threads; handlers for the same thread serialize on a key lock while
// unrelated threads run concurrently.
type Engine struct {
	store    *store.Store
	cache    *statuscache.Cache
	guard    *dedupe.Guard
	desk     helpdesk.Client
	adapter  chat.Adapter
	relay    *relay.Relay
	taxonomy *status.Taxonomy

	backoff    Backoff
	chunkLimit int
	locks      *keyLocks
	out        io.Writer
}

// Opts configures a new Engine. Store, Guard, Desk, Adapter and Taxonomy
// are required; Cache and Relay are optional (no caching, no attachment
// support).
type Opts struct {
	Store    *store.Store
	Cache    *statuscache.Cache
	Guard    *dedupe.Guard
	Desk     helpdesk.Client
	Adapter  chat.Adapter
	Relay    *relay.Relay
	Taxonomy *status.Taxonomy

	Backoff    Backoff
	ChunkLimit int
	Out        io.Writer
}

func NewEngine(opts Opts) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("bridge: store is required")
	}
	if opts.Guard == nil {
		return nil, fmt.Errorf("bridge: guard is required")
	}
	if opts.Desk == nil {
		return nil, fmt.Errorf("bridge: helpdesk client is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bridge: chat adapter is required")
	}
	if opts.Taxonomy == nil {
		return nil, fmt.Errorf("bridge: status taxonomy is required")
	}
	e := &Engine{
		store:      opts.Store,
		cache:      opts.Cache,
		guard:      opts.Guard,
		desk:       opts.Desk,
		adapter:    opts.Adapter,
		relay:      opts.Relay,
		taxonomy:   opts.Taxonomy,
		backoff:    opts.Backoff,
		chunkLimit: opts.ChunkLimit,
		locks:      newKeyLocks(),
		out:        opts.Out,
	}
	if e.backoff.Attempts == 0 {
		e.backoff = DefaultBackoff()
	}
	if e.chunkLimit <= 0 {
		e.chunkLimit = chat.DefaultChunkLimit
	}
	if e.out == nil {
		e.out = os.Stdout
	}
	return e, nil
}

func (e *Engine) logf(format string, args ...interface{}) {
	log.New(e.out, "", log.LstdFlags).Printf(format, args...)
}

// HandleMessage runs one inbound chat message through the thread state
// machine. Duplicate message ids are dropped. The returned error is for
// logging; user-facing failures have already been reported to the thread.
func (e *Engine) HandleMessage(ctx context.Context, msg chat.InboundMessage) error {
	if msg.Thread.ChatID == "" {
		return fmt.Errorf("%w: message %q has no chat id", ErrValidation, msg.MessageID)
	}
	if strings.TrimSpace(msg.Text) == "" && len(msg.Attachments) == 0 {
		return fmt.Errorf("%w: message %q is empty", ErrValidation, msg.MessageID)
	}

	fp := fingerprintMessage(msg)
	if !e.guard.Remember(fp) {
		e.logf("bridge: duplicate message %s on %s, dropped", msg.MessageID, msg.Thread)
		return nil
	}

	unlock := e.locks.lock(msg.Thread.String())
	defer unlock()

	mapping, err := e.store.Lookup(msg.Thread)
	if err != nil {
		// Storage is down; release the fingerprint so the platform's
		// redelivery can retry this message.
		e.guard.Forget(fp)
		return fmt.Errorf("bridge: lookup %s: %w", msg.Thread, err)
	}

	uploads, err := e.prepareUploads(ctx, msg)
	if err != nil {
		e.notify(ctx, msg.Thread, msg.MessageID, attachmentFailureText(err))
		return fmt.Errorf("bridge: attachments for message %s: %w", msg.MessageID, err)
	}

	switch {
	case mapping == nil:
		return e.openTicket(ctx, msg, uploads, fp, false)
	case status.Status(mapping.Status).Active():
		return e.appendToTicket(ctx, msg, mapping, uploads, fp)
	default:
		return e.openTicket(ctx, msg, uploads, fp, true)
	}
}

// openTicket creates a fresh ticket for the thread. With supersede set
// the thread's previous (closed) ticket is replaced instead of created.
func (e *Engine) openTicket(ctx context.Context, msg chat.InboundMessage, uploads []helpdesk.Upload, fp string, supersede bool) error {
	req := helpdesk.CreateTicketRequest{
		Subject:     deriveSubject(msg),
		Description: deriveDescription(msg),
		Author:      msg.UserName,
		Attachments: uploads,
	}

	var ticket *helpdesk.Ticket
	err := e.backoff.Do(ctx, func() error {
		t, cerr := e.desk.CreateTicket(ctx, req)
		if cerr != nil {
			return cerr
		}
		ticket = t
		return nil
	})
	if err != nil {
		e.guard.Forget(fp)
		e.notify(ctx, msg.Thread, msg.MessageID, "Could not create a ticket for your message. Please try again later.")
		return fmt.Errorf("bridge: create ticket for %s: %w", msg.Thread, err)
	}

	statusID := ticket.StatusID
	if statusID == 0 {
		statusID = e.taxonomy.ReopenTo()
	}
	canon := e.taxonomy.Classify(statusID)
	if canon == status.Unknown {
		canon = status.Open
	}

	opts := store.UpsertOpts{
		TicketID:     ticket.ID,
		TicketNumber: ticket.Number,
		Status:       canon,
		StatusID:     statusID,
		LastComment:  msg.Text,
		Source:       "chat",
	}
	if supersede {
		opts.Source = "supersede"
		_, err = e.store.Supersede(msg.Thread, opts)
	} else {
		_, err = e.store.Upsert(msg.Thread, opts)
	}
	if err != nil {
		// The remote ticket exists but the mapping write failed. The
		// fingerprint stays remembered; a redelivery must not open a
		// second remote ticket for the same message.
		e.logf("bridge: ticket %s created but mapping %s failed: %v", ticket.ID, msg.Thread, err)
		ref := ticket.Number
		if ref == "" {
			ref = ticket.ID
		}
		e.notify(ctx, msg.Thread, msg.MessageID,
			fmt.Sprintf("Ticket #%s was created but could not be linked to this thread. Mention the ticket number if you need to follow up.", ref))
		return fmt.Errorf("bridge: record ticket %s for %s: %w", ticket.ID, msg.Thread, err)
	}

	if serr := e.store.SaveUserComment(ticket.ID, msg.Text); serr != nil {
		e.logf("bridge: save user comment for %s: %v", ticket.ID, serr)
	}
	if e.cache != nil {
		e.cache.Put(ticket.ID, statusID)
	}

	e.notify(ctx, msg.Thread, msg.MessageID, createdText(ticket))
	return nil
}

// appendToTicket relays the message as a comment on the thread's live
// ticket. A pending ticket is additionally reopened after the comment;
// the comment is never re-sent when only the status call fails.
func (e *Engine) appendToTicket(ctx context.Context, msg chat.InboundMessage, mapping *models.TicketMapping, uploads []helpdesk.Upload, fp string) error {
	err := e.backoff.Do(ctx, func() error {
		_, cerr := e.desk.AddComment(ctx, mapping.TicketID, commentBody(msg), uploads)
		return cerr
	})
	if err != nil {
		e.guard.Forget(fp)
		e.notify(ctx, msg.Thread, msg.MessageID,
			fmt.Sprintf("Could not add your message to ticket #%s. Please try again later.", ticketRef(mapping)))
		return fmt.Errorf("bridge: comment on %s: %w", mapping.TicketID, err)
	}

	if serr := e.store.SaveUserComment(mapping.TicketID, msg.Text); serr != nil {
		e.logf("bridge: save user comment for %s: %v", mapping.TicketID, serr)
	}

	if status.Status(mapping.Status) != status.Pending {
		if _, uerr := e.store.Upsert(msg.Thread, store.UpsertOpts{
			TicketID:    mapping.TicketID,
			Status:      status.Status(mapping.Status),
			StatusID:    mapping.StatusID,
			LastComment: msg.Text,
			Source:      "chat",
		}); uerr != nil {
			e.logf("bridge: record comment on %s: %v", mapping.TicketID, uerr)
		}
		return nil
	}

	// User replied to a pending ticket: hand it back to the engineers.
	reopenID := e.taxonomy.ReopenTo()
	err = e.backoff.Do(ctx, func() error {
		return e.desk.SetStatus(ctx, mapping.TicketID, reopenID)
	})
	if err != nil {
		// The comment went through; keep the fingerprint so a redelivery
		// does not duplicate it. The reminder job will not fire again for
		// this episode and the next webhook push corrects the status.
		e.logf("bridge: reopen %s after comment: %v", mapping.TicketID, err)
		return fmt.Errorf("bridge: reopen %s: %w", mapping.TicketID, err)
	}

	if _, uerr := e.store.Upsert(msg.Thread, store.UpsertOpts{
		TicketID:    mapping.TicketID,
		Status:      e.taxonomy.Classify(reopenID),
		StatusID:    reopenID,
		LastComment: msg.Text,
		Source:      "chat",
	}); uerr != nil {
		e.logf("bridge: record reopen of %s: %v", mapping.TicketID, uerr)
	}
	if e.cache != nil {
		e.cache.Invalidate(mapping.TicketID)
		e.cache.Put(mapping.TicketID, reopenID)
	}
	return nil
}

func (e *Engine) prepareUploads(ctx context.Context, msg chat.InboundMessage) ([]helpdesk.Upload, error) {
	if len(msg.Attachments) == 0 {
		return nil, nil
	}
	if e.relay == nil {
		return nil, fmt.Errorf("attachments are not supported")
	}
	uploads := make([]helpdesk.Upload, 0, len(msg.Attachments))
	for _, ref := range msg.Attachments {
		up, err := e.relay.Prepare(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ref.Name, err)
		}
		uploads = append(uploads, up)
	}
	return uploads, nil
}

// notify sends a failure or confirmation reply; its own failure is only
// logged, never propagated.
func (e *Engine) notify(ctx context.Context, thread chat.ThreadKey, replyTo, text string) {
	err := chat.SendChunked(ctx, e.adapter, chat.OutboundMessage{
		Thread:  thread,
		Text:    text,
		ReplyTo: replyTo,
	}, e.chunkLimit)
	if err != nil {
		e.logf("bridge: notify %s: %v", thread, err)
	}
}

func fingerprintMessage(msg chat.InboundMessage) string {
	if msg.MessageID == "" {
		return ""
	}
	return "msg:" + msg.Platform + ":" + msg.Thread.String() + ":" + msg.MessageID
}

const maxSubjectLen = 120

// deriveSubject takes the first line of the message, truncated on a
// rune boundary.
func deriveSubject(msg chat.InboundMessage) string {
	line := strings.TrimSpace(msg.Text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" {
		line = "Attachment from " + displayName(msg)
	}
	runes := []rune(line)
	if len(runes) > maxSubjectLen {
		line = string(runes[:maxSubjectLen-1]) + "\u2026"
	}
	return line
}

func deriveDescription(msg chat.InboundMessage) string {
	body := strings.TrimSpace(msg.Text)
	if body == "" {
		body = "(attachment only)"
	}
	return fmt.Sprintf("%s\n\nReported by %s via %s.", body, displayName(msg), msg.Platform)
}

func commentBody(msg chat.InboundMessage) string {
	body := strings.TrimSpace(msg.Text)
	if body == "" {
		body = "(attachment)"
	}
	return fmt.Sprintf("%s:\n%s", displayName(msg), body)
}

func displayName(msg chat.InboundMessage) string {
	if msg.UserName != "" {
		return msg.UserName
	}
	if msg.UserID != "" {
		return msg.UserID
	}
	return "unknown user"
}

func ticketRef(m *models.TicketMapping) string {
	if m.TicketNumber != "" {
		return m.TicketNumber
	}
	return m.TicketID
}

func createdText(t *helpdesk.Ticket) string {
	ref := t.Number
	if ref == "" {
		ref = t.ID
	}
	return fmt.Sprintf("Ticket #%s created. Replies in this thread are forwarded to the engineers.", ref)
}

func attachmentFailureText(err error) string {
	switch {
	case errors.Is(err, relay.ErrTooLarge):
		return fmt.Sprintf("Attachment rejected: %v. Your message was not forwarded.", err)
	case errors.Is(err, relay.ErrUnavailable):
		return fmt.Sprintf("Attachment could not be fetched: %v. Your message was not forwarded.", err)
	default:
		return "Attachment could not be processed. Your message was not forwarded."
	}
}
