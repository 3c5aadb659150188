package bridge

import (
	"context"
	"time"

	"github.com/JKgeneral1/IT-tgBot/internal/helpdesk"
)

const (
	// defaultBackoffBase is the initial wait between retries of a
	// retryable remote call.
	defaultBackoffBase = 2 * time.Second
	// defaultBackoffMax caps the exponential backoff.
	defaultBackoffMax = 30 * time.Second
	// defaultAttempts is the total call budget including the first try.
	defaultAttempts = 3
)

// Backoff is the centralized retry policy for helpdesk calls. Only errors
// the client marks retryable are retried; everything else returns
// immediately.
type Backoff struct {
	Base     time.Duration
	Max      time.Duration
	Attempts int

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultBackoff returns the standard policy.
func DefaultBackoff() Backoff {
	return Backoff{Base: defaultBackoffBase, Max: defaultBackoffMax, Attempts: defaultAttempts}
}

// Do runs fn, retrying retryable failures with exponential backoff until
// the attempt budget is spent or the context ends.
func (b Backoff) Do(ctx context.Context, fn func() error) error {
	if b.Base <= 0 {
		b.Base = defaultBackoffBase
	}
	if b.Max <= 0 {
		b.Max = defaultBackoffMax
	}
	if b.Attempts <= 0 {
		b.Attempts = defaultAttempts
	}
	sleep := b.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	wait := b.Base
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !helpdesk.IsRetryable(err) || attempt >= b.Attempts {
			return err
		}
		if serr := sleep(ctx, wait); serr != nil {
			return err
		}
		wait *= 2
		if wait > b.Max {
			wait = b.Max
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
