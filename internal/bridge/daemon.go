package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/JKgeneral1/IT-tgBot/internal/chat"
)

// Daemon is the long-running bridge process. It connects the chat
// adapter, pumps inbound messages through the engine, and runs the
// pending reminder when one is configured.
type Daemon struct {
	engine   *Engine
	adapter  chat.Adapter
	reminder *Reminder
	out      io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Engine   *Engine
	Adapter  chat.Adapter
	Reminder *Reminder // optional
	Out      io.Writer // defaults to os.Stdout
}

func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("bridge: engine is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bridge: adapter is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		engine:   opts.Engine,
		adapter:  opts.Adapter,
		reminder: opts.Reminder,
		out:      out,
	}, nil
}

// Run connects the adapter and blocks until the context is cancelled or
// the adapter stops delivering. Each inbound message is handled in its
// own goroutine; the per-thread locks inside the engine keep same-thread
// messages ordered relative to state.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Bridge connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("bridge: connect: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bridge: listen: %w", err)
	}

	if d.reminder != nil {
		go d.reminder.Run(ctx)
	}

	fmt.Fprintf(d.out, "Bridge online\n")

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Bridge shutting down...\n")
			if err := d.adapter.Close(); err != nil {
				log.Printf("bridge: close adapter: %v", err)
			}
			fmt.Fprintf(d.out, "Bridge stopped\n")
			return nil

		case msg, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "Bridge inbound channel closed\n")
				return nil
			}
			wg.Add(1)
			go func(m chat.InboundMessage) {
				defer wg.Done()
				if err := d.engine.HandleMessage(ctx, m); err != nil {
					if errors.Is(err, ErrValidation) {
						log.Printf("bridge: dropped message %s: %v", m.MessageID, err)
						return
					}
					log.Printf("bridge: handle message %s: %v", m.MessageID, err)
				}
			}(msg)
		}
	}
}
