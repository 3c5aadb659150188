// Package relay turns a chat-platform file reference into an upload stream
// for the helpdesk, enforcing size limits and retrying transient download
// failures.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"time"

	"github.com/JKgeneral1/IT-tgBot/internal/chat"
	"github.com/JKgeneral1/IT-tgBot/internal/helpdesk"
)

var (
	// ErrTooLarge means the file exceeds the configured byte limit. The
	// file is rejected whole, never truncated.
	ErrTooLarge = errors.New("attachment too large")
	// ErrUnavailable means the platform download kept failing after the
	// retry budget; the comment must not be posted without it.
	ErrUnavailable = errors.New("attachment unavailable")
)

const (
	// DefaultMaxBytes caps attachment size.
	DefaultMaxBytes = 20 << 20
	// DefaultAttempts is the download retry budget.
	DefaultAttempts = 3
	// DefaultBackoff is the initial wait between download attempts,
	// doubled each retry.
	DefaultBackoff = 2 * time.Second
)

// Downloader is the slice of chat.Adapter the relay needs.
type Downloader interface {
	Download(ctx context.Context, ref chat.FileRef) (io.ReadCloser, error)
}

// Relay prepares chat attachments for helpdesk upload.
type Relay struct {
	dl       Downloader
	maxBytes int64
	attempts int
	backoff  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// Opts holds parameters for creating a Relay.
type Opts struct {
	Downloader Downloader
	MaxBytes   int64
	Attempts   int
	Backoff    time.Duration
}

// New creates a Relay.
func New(opts Opts) (*Relay, error) {
	if opts.Downloader == nil {
		return nil, fmt.Errorf("relay: downloader is required")
	}
	r := &Relay{
		dl:       opts.Downloader,
		maxBytes: opts.MaxBytes,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		sleep:    sleepCtx,
	}
	if r.maxBytes <= 0 {
		r.maxBytes = DefaultMaxBytes
	}
	if r.attempts <= 0 {
		r.attempts = DefaultAttempts
	}
	if r.backoff <= 0 {
		r.backoff = DefaultBackoff
	}
	return r, nil
}

// Prepare opens the file for streaming upload. Oversized files are
// rejected up front when the platform declares a size, and mid-stream
// otherwise; transient download failures are retried with backoff before
// the whole message handling fails.
func (r *Relay) Prepare(ctx context.Context, ref chat.FileRef) (helpdesk.Upload, error) {
	if ref.Size > r.maxBytes {
		return helpdesk.Upload{}, fmt.Errorf("relay: %s is %d bytes (limit %d): %w",
			ref.Name, ref.Size, r.maxBytes, ErrTooLarge)
	}

	var rc io.ReadCloser
	var lastErr error
	wait := r.backoff
	for attempt := 1; attempt <= r.attempts; attempt++ {
		var err error
		rc, err = r.dl.Download(ctx, ref)
		if err == nil {
			break
		}
		lastErr = err
		if attempt < r.attempts {
			if err := r.sleep(ctx, wait); err != nil {
				return helpdesk.Upload{}, fmt.Errorf("relay: %s: %w", ref.Name, err)
			}
			wait *= 2
		}
	}
	if rc == nil {
		return helpdesk.Upload{}, fmt.Errorf("relay: download %s after %d attempts: %v: %w",
			ref.Name, r.attempts, lastErr, ErrUnavailable)
	}

	name := ref.Name
	if name == "" {
		name = "file.bin"
	}
	return helpdesk.Upload{
		Name:    name,
		MIME:    resolveMIME(ref),
		Size:    ref.Size,
		Content: &cappedReader{rc: rc, remaining: r.maxBytes},
	}, nil
}

// resolveMIME prefers the platform's declared type, then the filename
// extension, then a generic fallback.
func resolveMIME(ref chat.FileRef) string {
	if ref.MIME != "" {
		return ref.MIME
	}
	if ext := filepath.Ext(ref.Name); ext != "" {
		if mt := mime.TypeByExtension(ext); mt != "" {
			return mt
		}
	}
	return "application/octet-stream"
}

// cappedReader streams from the download while enforcing the byte limit
// for files whose size the platform did not declare. Exceeding the limit
// fails the read with ErrTooLarge rather than truncating.
type cappedReader struct {
	rc        io.ReadCloser
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		return 0, ErrTooLarge
	}
	n, err := c.rc.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return 0, ErrTooLarge
	}
	return n, err
}

func (c *cappedReader) Close() error { return c.rc.Close() }

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
