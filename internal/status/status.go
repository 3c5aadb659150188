// Package status maps helpdesk-specific status identifiers onto the three
// canonical lifecycle states the bridge reasons about.
package status

import "fmt"

// Status is the canonical lifecycle state of a ticket.
type Status string

const (
	// Open means the ticket is being worked; new messages append comments.
	Open Status = "open"
	// Pending means the ticket waits on the requester; a new requester
	// comment auto-reopens it.
	Pending Status = "pending"
	// Closed means the ticket is finished; new messages start a fresh ticket.
	Closed Status = "closed"
	// Unknown is returned for identifiers outside the configured taxonomy.
	Unknown Status = "unknown"
)

// Active reports whether a ticket in this state still accepts comments.
func (s Status) Active() bool {
	return s == Open || s == Pending
}

// Taxonomy classifies the helpdesk's integer status identifiers into
// canonical states. It is built once at startup from configuration; the
// engine never compares raw identifiers itself.
type Taxonomy struct {
	open     map[int]struct{}
	pending  map[int]struct{}
	closed   map[int]struct{}
	labels   map[int]string
	reopenTo int
}

// TaxonomyOpts holds the configured identifier sets.
type TaxonomyOpts struct {
	OpenIDs    []int
	PendingIDs []int
	ClosedIDs  []int
	ReopenTo   int            // status ID set when auto-reopening; must be an open ID
	Labels     map[int]string // optional human-readable names for notifications
}

// NewTaxonomy validates the identifier sets and builds a Taxonomy.
func NewTaxonomy(opts TaxonomyOpts) (*Taxonomy, error) {
	if len(opts.OpenIDs) == 0 {
		return nil, fmt.Errorf("status: at least one open status id is required")
	}
	if len(opts.ClosedIDs) == 0 {
		return nil, fmt.Errorf("status: at least one closed status id is required")
	}

	t := &Taxonomy{
		open:    make(map[int]struct{}, len(opts.OpenIDs)),
		pending: make(map[int]struct{}, len(opts.PendingIDs)),
		closed:  make(map[int]struct{}, len(opts.ClosedIDs)),
		labels:  make(map[int]string, len(opts.Labels)),
	}
	for _, id := range opts.OpenIDs {
		t.open[id] = struct{}{}
	}
	for _, id := range opts.PendingIDs {
		if _, dup := t.open[id]; dup {
			return nil, fmt.Errorf("status: id %d is both open and pending", id)
		}
		t.pending[id] = struct{}{}
	}
	for _, id := range opts.ClosedIDs {
		if _, dup := t.open[id]; dup {
			return nil, fmt.Errorf("status: id %d is both open and closed", id)
		}
		if _, dup := t.pending[id]; dup {
			return nil, fmt.Errorf("status: id %d is both pending and closed", id)
		}
		t.closed[id] = struct{}{}
	}
	for id, name := range opts.Labels {
		t.labels[id] = name
	}

	t.reopenTo = opts.ReopenTo
	if t.reopenTo == 0 {
		t.reopenTo = opts.OpenIDs[0]
	}
	if _, ok := t.open[t.reopenTo]; !ok {
		return nil, fmt.Errorf("status: reopen target %d is not an open status id", t.reopenTo)
	}
	return t, nil
}

// Classify returns the canonical state for a helpdesk status identifier.
func (t *Taxonomy) Classify(id int) Status {
	if _, ok := t.open[id]; ok {
		return Open
	}
	if _, ok := t.pending[id]; ok {
		return Pending
	}
	if _, ok := t.closed[id]; ok {
		return Closed
	}
	return Unknown
}

// ReopenTo returns the status identifier used when auto-reopening a
// pending ticket.
func (t *Taxonomy) ReopenTo() int {
	return t.reopenTo
}

// Label returns the configured display name for a status identifier, or a
// numeric fallback when none is configured.
func (t *Taxonomy) Label(id int) string {
	if name, ok := t.labels[id]; ok {
		return name
	}
	return fmt.Sprintf("status %d", id)
}
