// Package telegram implements the chat Adapter over the Telegram Bot API
// using long polling.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/JKgeneral1/IT-tgBot/internal/chat"
)

const pollTimeoutSec = 30

// botClient abstracts the Bot API methods we use, enabling test mocks.
type botClient interface {
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Adapter implements chat.Adapter for Telegram. Each Telegram chat is one
// thread; topics are not distinguished.
type Adapter struct {
	token string
	http  *http.Client

	mu        sync.Mutex
	bot       botClient
	connected bool
	closed    bool
	inbound   chan chat.InboundMessage
	cancel    context.CancelFunc
}

// Opts holds parameters for creating a Telegram Adapter.
type Opts struct {
	Token string
	// For testing: inject a mock client instead of the real Bot API.
	Bot        botClient
	HTTPClient *http.Client
}

// New creates a Telegram Adapter.
func New(opts Opts) (*Adapter, error) {
	if opts.Bot == nil && opts.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Adapter{
		token:   opts.Token,
		http:    hc,
		bot:     opts.Bot,
		inbound: make(chan chat.InboundMessage, 100),
	}, nil
}

// Connect authorizes the bot against the Telegram API.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("telegram: adapter already closed")
	}
	if a.connected {
		return nil
	}
	if a.bot == nil {
		bot, err := tgbotapi.NewBotAPI(a.token)
		if err != nil {
			return fmt.Errorf("telegram: init bot: %w", err)
		}
		a.bot = bot
	}
	a.connected = true
	return nil
}

// Listen starts long polling and returns the inbound message channel.
// Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan chat.InboundMessage, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("telegram: not connected")
	}
	listenCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	bot := a.bot
	a.mu.Unlock()

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeoutSec
	updates := bot.GetUpdatesChan(cfg)

	go a.pumpUpdates(listenCtx, updates)
	return a.inbound, nil
}

// Send delivers a message to a Telegram chat.
func (a *Adapter) Send(ctx context.Context, msg chat.OutboundMessage) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("telegram: not connected")
	}
	bot := a.bot
	a.mu.Unlock()

	chatID, err := strconv.ParseInt(msg.Thread.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", msg.Thread.ChatID, err)
	}

	out := tgbotapi.NewMessage(chatID, msg.Text)
	out.DisableWebPagePreview = true
	if msg.ReplyTo != "" {
		if replyID, err := strconv.Atoi(msg.ReplyTo); err == nil {
			out.ReplyToMessageID = replyID
		}
	}
	if _, err := bot.Send(out); err != nil {
		return fmt.Errorf("telegram: send to %d: %w", chatID, err)
	}
	return nil
}

// Download streams a file the bot received, via its direct URL.
func (a *Adapter) Download(ctx context.Context, ref chat.FileRef) (io.ReadCloser, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("telegram: not connected")
	}
	bot := a.bot
	a.mu.Unlock()

	url, err := bot.GetFileDirectURL(ref.ID)
	if err != nil {
		return nil, fmt.Errorf("telegram: resolve file %s: %w", ref.ID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: file request: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: fetch file %s: %w", ref.ID, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("telegram: fetch file %s: http %d", ref.ID, resp.StatusCode)
	}
	return resp.Body, nil
}

// Close shuts down the adapter and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancel != nil {
		a.cancel()
	}
	if a.bot != nil {
		a.bot.StopReceivingUpdates()
	}
	close(a.inbound)
	return nil
}

// pumpUpdates converts Bot API updates to InboundMessages.
func (a *Adapter) pumpUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			msg := upd.Message
			if msg == nil || msg.From == nil || msg.From.IsBot {
				continue
			}
			im, ok := convertMessage(msg)
			if !ok {
				continue
			}
			select {
			case a.inbound <- im:
			case <-ctx.Done():
				return
			}
		}
	}
}

func convertMessage(msg *tgbotapi.Message) (chat.InboundMessage, bool) {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	attachments := extractAttachments(msg)
	if text == "" && len(attachments) == 0 {
		return chat.InboundMessage{}, false
	}

	return chat.InboundMessage{
		Platform:    "telegram",
		Thread:      chat.ThreadKey{ChatID: strconv.FormatInt(msg.Chat.ID, 10)},
		MessageID:   strconv.Itoa(msg.MessageID),
		UserID:      strconv.FormatInt(msg.From.ID, 10),
		UserName:    userName(msg.From),
		Text:        text,
		Attachments: attachments,
		Timestamp:   time.Unix(int64(msg.Date), 0),
	}, true
}

func extractAttachments(msg *tgbotapi.Message) []chat.FileRef {
	var refs []chat.FileRef
	if msg.Document != nil {
		refs = append(refs, chat.FileRef{
			ID:   msg.Document.FileID,
			Name: msg.Document.FileName,
			MIME: msg.Document.MimeType,
			Size: int64(msg.Document.FileSize),
		})
	}
	if len(msg.Photo) > 0 {
		// Telegram sends several sizes; the last is the largest.
		best := msg.Photo[len(msg.Photo)-1]
		refs = append(refs, chat.FileRef{
			ID:   best.FileID,
			Name: "photo.jpg",
			MIME: "image/jpeg",
			Size: int64(best.FileSize),
		})
	}
	if msg.Voice != nil {
		refs = append(refs, chat.FileRef{
			ID:   msg.Voice.FileID,
			Name: "voice.ogg",
			MIME: msg.Voice.MimeType,
			Size: int64(msg.Voice.FileSize),
		})
	}
	if msg.Video != nil {
		refs = append(refs, chat.FileRef{
			ID:   msg.Video.FileID,
			Name: "video.mp4",
			MIME: msg.Video.MimeType,
			Size: int64(msg.Video.FileSize),
		})
	}
	return refs
}

func userName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	return name
}
