package bridge

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/JKgeneral1/IT-tgBot/internal/chat"
	"github.com/JKgeneral1/IT-tgBot/internal/store"
)

const defaultReminderAge = 24 * time.Hour

// Reminder nags threads whose ticket has been waiting on the requester
// for too long. Each pending episode is reminded at most once; a status
// change resets the mark.
type Reminder struct {
	store      *store.Store
	adapter    chat.Adapter
	cronExpr   string
	age        time.Duration
	chunkLimit int
	out        io.Writer

	now func() time.Time
}

// ReminderOpts configures a Reminder. Cron is a 5-field expression for
// when sweeps run; Age is how long a ticket may sit pending before the
// thread is nudged.
type ReminderOpts struct {
	Store      *store.Store
	Adapter    chat.Adapter
	Cron       string
	Age        time.Duration
	ChunkLimit int
	Out        io.Writer
}

func NewReminder(opts ReminderOpts) (*Reminder, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("bridge: reminder store is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bridge: reminder adapter is required")
	}
	if opts.Cron == "" {
		return nil, fmt.Errorf("bridge: reminder cron expression is required")
	}
	if _, err := cronParser.Parse(opts.Cron); err != nil {
		return nil, fmt.Errorf("bridge: reminder cron %q: %w", opts.Cron, err)
	}
	r := &Reminder{
		store:      opts.Store,
		adapter:    opts.Adapter,
		cronExpr:   opts.Cron,
		age:        opts.Age,
		chunkLimit: opts.ChunkLimit,
		out:        opts.Out,
		now:        time.Now,
	}
	if r.age <= 0 {
		r.age = defaultReminderAge
	}
	if r.chunkLimit <= 0 {
		r.chunkLimit = chat.DefaultChunkLimit
	}
	if r.out == nil {
		r.out = os.Stdout
	}
	return r, nil
}

// Run fires sweeps on the cron schedule until the context is cancelled.
func (r *Reminder) Run(ctx context.Context) {
	for {
		d := nextCronDuration(r.cronExpr)
		if d <= 0 {
			d = time.Minute
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.sweep(ctx)
		}
	}
}

// sweep nudges every mapped thread whose ticket has sat pending past the
// age threshold and has not been reminded this episode.
func (r *Reminder) sweep(ctx context.Context) {
	cutoff := r.now().Add(-r.age)
	due, err := r.store.PendingSince(cutoff)
	if err != nil {
		log.Printf("bridge: reminder sweep: %v", err)
		return
	}
	for i := range due {
		m := &due[i]
		text := fmt.Sprintf("Reminder: ticket #%s is still waiting for your reply.", ticketRef(m))
		err := chat.SendChunked(ctx, r.adapter, chat.OutboundMessage{
			Thread: threadOf(m),
			Text:   text,
		}, r.chunkLimit)
		if err != nil {
			log.Printf("bridge: remind %s: %v", m.TicketID, err)
			continue
		}
		if err := r.store.MarkReminderSent(m.ID); err != nil {
			log.Printf("bridge: mark reminder for %s: %v", m.TicketID, err)
		}
	}
}
