// Package helpdesk defines the typed surface to the remote ticketing API
// and its HTTP implementation.
package helpdesk

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Ticket is the remote identity of a created ticket.
type Ticket struct {
	ID       string
	Number   string
	StatusID int
}

// Upload is a prepared attachment stream for a comment or description.
type Upload struct {
	Name    string
	MIME    string
	Size    int64 // 0 when unknown
	Content io.Reader
}

// CreateTicketRequest carries the fields for a new ticket.
type CreateTicketRequest struct {
	Subject     string
	Description string
	Author      string
	Attachments []Upload
}

// Client is the typed RPC surface to the helpdesk. All calls respect the
// context deadline; failures are RemoteError values whose Retryable flag
// drives the engine's retry policy.
type Client interface {
	CreateTicket(ctx context.Context, req CreateTicketRequest) (*Ticket, error)
	AddComment(ctx context.Context, ticketID, body string, attachments []Upload) (string, error)
	SetStatus(ctx context.Context, ticketID string, statusID int) error
	GetStatus(ctx context.Context, ticketID string) (int, error)
}

// RemoteError describes a failed helpdesk call. Retryable errors (network
// faults, 5xx, 429) may be retried with backoff; others surface to the
// requester immediately.
type RemoteError struct {
	Op         string
	StatusCode int // 0 for transport-level failures
	Retryable  bool
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("helpdesk: %s: http %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("helpdesk: %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a RemoteError marked retryable.
func IsRetryable(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Retryable
}
