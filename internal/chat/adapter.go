// Package chat defines the platform-neutral surface the bridge uses to
// talk to a chat platform (Telegram, Slack, ...).
package chat

import (
	"context"
	"io"
	"time"
)

// ThreadKey identifies a conversation scope: a chat plus an optional
// sub-thread (a forum topic in Telegram, a thread in Slack). A direct chat
// has an empty TopicID and is itself a valid scope.
type ThreadKey struct {
	ChatID  string
	TopicID string
}

// String renders the key for logs and map keys.
func (k ThreadKey) String() string {
	if k.TopicID == "" {
		return k.ChatID
	}
	return k.ChatID + ":" + k.TopicID
}

// FileRef points at a platform-hosted file attached to a message. Size and
// MIME are best-effort hints from the platform; Size is 0 when unknown.
type FileRef struct {
	ID   string
	Name string
	MIME string
	Size int64
}

// InboundMessage is a message received from the chat platform.
type InboundMessage struct {
	Platform    string // "telegram", "slack"
	Thread      ThreadKey
	MessageID   string // platform-unique; the deduplication key
	UserID      string
	UserName    string
	Text        string
	Attachments []FileRef
	Timestamp   time.Time
}

// OutboundMessage is a message for the bridge to post into a thread.
type OutboundMessage struct {
	Thread  ThreadKey
	Text    string
	ReplyTo string // message ID to reply to (group chats); empty for none
}

// Adapter is implemented once per chat platform. Adapters own connection
// management; the bridge owns everything above the wire.
type Adapter interface {
	// Connect establishes the platform connection.
	Connect(ctx context.Context) error

	// Listen returns the inbound message channel. The channel is closed
	// when the context is cancelled or the adapter is closed. Must only
	// be called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send posts an outbound message.
	Send(ctx context.Context, msg OutboundMessage) error

	// Download opens the content of a file reference for streaming.
	// The caller closes the returned reader.
	Download(ctx context.Context, ref FileRef) (io.ReadCloser, error)

	// Close shuts the connection down gracefully.
	Close() error
}
